package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/wrapper"
)

// ExitCodeError carries the wrapped agent's exit code up to main so the
// wrapper is transparent to shell scripting around the agent.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func newRunCmd() *cobra.Command {
	var agent string
	var sessionID string
	var daemonFlag string

	cmd := &cobra.Command{
		Use:   "run -- <command> [args...]",
		Short: "Run an agent under AgentWatch supervision",
		Long: "Launches the given command in a pseudo-terminal, mirrors its input and\n" +
			"output, and reports a WORKING/WAITING overlay to the daemon while it runs.\n" +
			"The agent behaves exactly as if launched directly; without a daemon the\n" +
			"command still runs, just unobserved.",
		Example: "  agentwatch run -- claude --continue\n" +
			"  agentwatch run --agent codex -- codex exec \"fix the tests\"",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := wrapper.NewRunner(wrapper.RunOptions{
				Agent:     agent,
				Argv:      args,
				DaemonURL: daemonURL(daemonFlag),
				SessionID: sessionID,
			})
			if err != nil {
				return err
			}

			code, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			if code != 0 {
				return &ExitCodeError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "agent label for the overlay (default: command basename)")
	cmd.Flags().StringVar(&sessionID, "session", "", "bind the overlay to a known session id")
	cmd.Flags().StringVar(&daemonFlag, "daemon-url", "", "daemon base URL (default from config)")
	// Flags after the command belong to the agent, not to us.
	cmd.Flags().SetInterspersed(false)

	return cmd
}

// ExitCode extracts the process exit code main should use: the wrapped
// agent's own code when present, 1 for ordinary errors, 0 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}
