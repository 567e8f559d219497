package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/asheshgoplani/termbot/internal/config"
	"github.com/asheshgoplani/termbot/internal/termfmt"
	"github.com/asheshgoplani/termbot/internal/tmux"
	"github.com/asheshgoplani/termbot/internal/ui"
)

var previewCmd = &cobra.Command{
	Use:   "preview [PANE]",
	Short: "Show live what a chat would see for a pane",
	Long: `Open a terminal preview of the window message termbot would send for a
pane, using the configured line count and width. Without PANE a picker
lists every pane.

Keys: i type into the pane, ctrl+x send C-c, r refresh, p back to the
picker, q quit.

Colors follow TERMBOT_COLOR (truecolor, 256, 16, none) and [ui] theme.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}

	ui.InitColorProfile(os.Getenv)
	ui.InitTheme(string(ui.ResolveTheme(cfg.UI.Theme)))

	client := tmux.NewClient()
	opts := ui.Options{
		Interval: cfg.PollInterval(),
		Format: termfmt.Options{
			MaxLines:     cfg.Bridge.TerminalLines,
			MaxLineWidth: cfg.Bridge.MaxLineWidth,
		},
	}
	if len(args) == 1 {
		if !client.PaneExists(args[0]) {
			return fmt.Errorf("pane %s not found (see termbot panes)", args[0])
		}
		opts.Pane = args[0]
	}

	p := tea.NewProgram(ui.New(client, opts), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
