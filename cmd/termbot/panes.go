package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/asheshgoplani/termbot/internal/tmux"
)

// Table column widths for panes output
const (
	tableColPane = 24
	tableColName = 20
	tableColID   = 6
)

var panesJSON bool

var panesCmd = &cobra.Command{
	Use:   "panes",
	Short: "List tmux panes a chat can connect to",
	Long: `List every tmux pane with the identifier /connect accepts.

Examples:
  termbot panes
  termbot panes --json`,
	Args: cobra.NoArgs,
	RunE: runPanes,
}

func init() {
	panesCmd.Flags().BoolVar(&panesJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(panesCmd)
}

func runPanes(cmd *cobra.Command, args []string) error {
	panes, err := tmux.NewClient().ListPanes()
	if err != nil {
		return fmt.Errorf("list panes: %w", err)
	}

	out := cmd.OutOrStdout()
	if panesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(panes)
	}

	styled := false
	if f, ok := out.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	renderPanes(out, panes, styled)
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func renderPanes(w io.Writer, panes []tmux.PaneInfo, styled bool) {
	if len(panes) == 0 {
		fmt.Fprintln(w, "No tmux panes found.")
		return
	}

	header := fmt.Sprintf("%-*s %-*s %-*s", tableColPane, "PANE", tableColName, "WINDOW", tableColID, "ID")
	rule := strings.Repeat("-", tableColPane+tableColName+tableColID+2)
	if styled {
		header = headerStyle.Render(header)
		rule = dimStyle.Render(rule)
	}
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, rule)

	for _, p := range panes {
		fmt.Fprintf(w, "%-*s %-*s %-*s\n",
			tableColPane, truncate(p.Identifier(), tableColPane),
			tableColName, truncate(p.WindowName, tableColName),
			tableColID, p.PaneID)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
