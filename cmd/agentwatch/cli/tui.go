package cli

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/tui"
)

func newTuiCmd() *cobra.Command {
	var daemonFlag string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Watch agents, repos, ports and sessions in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("tui needs a terminal; use 'agentwatch web' or the HTTP API instead")
			}

			base := daemonURL(daemonFlag)
			if err := probeDaemon(cmd.Context(), base); err != nil {
				if !daemonAlive() {
					return fmt.Errorf("the daemon is not running; start it with 'agentwatch daemon'")
				}
				return fmt.Errorf("daemon at %s is not answering: %w", base, err)
			}

			model := tui.New(cmd.Context(), tui.NewClient(base), Version)
			_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
			return err
		},
	}

	cmd.Flags().StringVar(&daemonFlag, "daemon-url", "", "daemon base URL (default from config)")
	return cmd
}
