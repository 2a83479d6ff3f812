package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"
)

func newWebCmd() *cobra.Command {
	var daemonFlag string
	var noOpen bool

	cmd := &cobra.Command{
		Use:   "web",
		Short: "Open the dashboard in a browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base := daemonURL(daemonFlag)
			url := base + "/ui/"

			if err := probeDaemon(cmd.Context(), base); err != nil {
				if !daemonAlive() {
					return fmt.Errorf("the daemon is not running; start it with 'agentwatch daemon'")
				}
				return fmt.Errorf("daemon at %s is not answering: %w", base, err)
			}

			cmd.Printf("Dashboard: %s\n", url)
			if noOpen {
				return nil
			}
			if err := openBrowser(url); err != nil {
				cmd.Printf("Could not open a browser (%v); use the URL above.\n", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&daemonFlag, "daemon-url", "", "daemon base URL (default from config)")
	cmd.Flags().BoolVar(&noOpen, "no-open", false, "print the URL without opening a browser")
	return cmd
}

func probeDaemon(ctx context.Context, base string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned status %d", resp.StatusCode)
	}
	return nil
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "linux":
		return exec.Command("xdg-open", url).Start()
	default:
		return fmt.Errorf("no browser opener for %s", runtime.GOOS)
	}
}
