package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const Version = "0.3.0"

var (
	configFlag string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "termbot",
	Short: "Drive tmux panes from Telegram",
	Long: `termbot bridges tmux panes to Telegram chats.

Each authorized chat binds to one pane: text sent in the chat is typed
into the pane and the pane's screen is mirrored back, either as a single
message edited in place (window mode) or as new output lines (stream mode).

Without a subcommand termbot runs the bot.`,
	SilenceUsage: true,
	RunE:         runBot,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (default ~/.termbot/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "debug logging, also to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
