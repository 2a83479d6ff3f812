package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/config"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/share"
)

// NewAccessibleForm builds a huh form that honours the ACCESSIBLE
// environment variable for screen-reader friendly prompts.
func NewAccessibleForm(groups ...*huh.Group) *huh.Form {
	return huh.NewForm(groups...).WithAccessible(os.Getenv("ACCESSIBLE") != "")
}

func newSetupCmd() *cobra.Command {
	var rootsFlag []string
	var telemetryFlag bool
	var handleFlag string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Configure AgentWatch",
		Long: "Write the AgentWatch config: which directories to scan for repositories,\n" +
			"whether to share anonymous usage data, and the handle credited on\n" +
			"exported session bundles.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Flags switch to non-interactive mode for scripts and tests.
			if cmd.Flags().Changed("roots") || cmd.Flags().Changed("telemetry") {
				return runSetup(cmd.OutOrStdout(), rootsFlag, telemetryFlag, handleFlag)
			}
			return runSetupInteractive(cmd.OutOrStdout(), handleFlag)
		},
	}

	cmd.Flags().StringSliceVar(&rootsFlag, "roots", nil, "Repository roots to scan (enables non-interactive mode)")
	cmd.Flags().BoolVar(&telemetryFlag, "telemetry", false, "Enable anonymous usage telemetry (enables non-interactive mode)")
	cmd.Flags().StringVar(&handleFlag, "handle", "", "Contributor handle for shared bundles")
	return cmd
}

func runSetupInteractive(w io.Writer, handle string) error {
	cfgPath, err := config.DefaultPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		// A malformed file should not block setup; it is about to be rewritten.
		cfg = config.Default()
	}

	roots := strings.Join(cfg.Repos.Roots, ", ")
	telemetry := cfg.TelemetryEnabled()
	if handle == "" {
		if dataDir, dirErr := paths.DataDir(); dirErr == nil {
			if settings, loadErr := share.LoadSettings(dataDir); loadErr == nil {
				handle = settings.Handle
			}
		}
	}

	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Which directories should be scanned for git repositories?").
				Description("Comma separated. ~ expands to your home directory.").
				Value(&roots),
			huh.NewInput().
				Title("Handle credited on shared session bundles (optional)").
				Value(&handle),
			huh.NewConfirm().
				Title("Share anonymous usage data to help improve AgentWatch?").
				Value(&telemetry),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	return applySetup(w, cfg, cfgPath, splitRoots(roots), telemetry, handle)
}

func runSetup(w io.Writer, roots []string, telemetry bool, handle string) error {
	cfgPath, err := config.DefaultPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Default()
	}
	return applySetup(w, cfg, cfgPath, roots, telemetry, handle)
}

func applySetup(w io.Writer, cfg *config.Config, cfgPath string, roots []string, telemetry bool, handle string) error {
	if len(roots) > 0 {
		cfg.Repos.Roots = roots
	}
	cfg.Telemetry = &telemetry

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(w, "✓ Config written (%s)\n", cfgPath)

	if handle != "" {
		dataDir, err := paths.DataDir()
		if err != nil {
			return err
		}
		settings, err := share.LoadSettings(dataDir)
		if err != nil {
			return fmt.Errorf("failed to load contributor settings: %w", err)
		}
		settings.Handle = handle
		if _, err := share.SaveSettings(dataDir, settings); err != nil {
			return fmt.Errorf("failed to save contributor settings: %w", err)
		}
		fmt.Fprintln(w, "✓ Contributor settings saved")
	}

	fmt.Fprintln(w, "\nNext: run 'agentwatch daemon', then 'agentwatch web' to open the dashboard.")
	return nil
}

// splitRoots parses the comma-separated roots answer from the prompt.
func splitRoots(s string) []string {
	var roots []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			roots = append(roots, trimmed)
		}
	}
	return roots
}
