// Package cli wires the agentwatch commands: the daemon itself plus the
// client-side commands that talk to it (run, tui, web, share, setup).
package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/config"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/telemetry"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/versioncheck"
)

const gettingStarted = `

Getting Started:
  Run 'agentwatch setup' once to pick your repository roots, then start
  the daemon with 'agentwatch daemon'. The dashboard lives at
  http://127.0.0.1:8765 ('agentwatch web' opens it).

`

// Version information (set at build time).
var (
	Version = "dev"
	Commit  = "unknown"
)

// SilentError marks an error whose message was already printed by the
// command itself; main exits non-zero without printing it again.
type SilentError struct {
	err error
}

func NewSilentError(err error) *SilentError {
	return &SilentError{err: err}
}

func (e *SilentError) Error() string { return e.err.Error() }

func (e *SilentError) Unwrap() error { return e.err }

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentwatch",
		Short: "Local observability for AI coding agents",
		Long:  "AgentWatch watches the coding agents, repositories and ports on this machine\nand correlates agent tool calls into session records." + gettingStarted,
		// main.go prints errors; avoid printing twice.
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			var telemetryEnabled *bool
			if cfg, err := loadConfigBestEffort(); err == nil {
				telemetryEnabled = cfg.Telemetry
			}

			client := telemetry.NewClient(Version, telemetryEnabled)
			defer client.Close()
			client.TrackCommand(cmd, agentFlagValue(cmd), daemonAlive())

			versioncheck.CheckAndNotify(cmd, Version)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newTuiCmd())
	cmd.AddCommand(newWebCmd())
	cmd.AddCommand(newSetupCmd())
	cmd.AddCommand(newShareCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("AgentWatch %s (%s)\n", Version, Commit)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// loadConfigBestEffort reads the user config for ancillary concerns
// (telemetry preference, daemon address). Daemon startup does its own
// load and does not tolerate errors the way this one does.
func loadConfigBestEffort() (*config.Config, error) {
	path, err := config.DefaultPath()
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// agentFlagValue picks up the --agent flag when the executed command has
// one, for the analytics label.
func agentFlagValue(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("agent"); f != nil {
		return f.Value.String()
	}
	return ""
}
