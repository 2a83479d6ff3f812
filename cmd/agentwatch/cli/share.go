package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/config"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/enrich"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/share"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/timeline"
)

func newShareCmd() *cobra.Command {
	var handleFlag string
	var includePaths bool
	var includeTranscript bool
	var outDir string
	var saveDefaults bool

	cmd := &cobra.Command{
		Use:   "share <session-id>",
		Short: "Export a sanitised session bundle",
		Long: "Assemble one session (metadata, tool usages, commits, enrichment) into\n" +
			"a redacted JSON bundle under the shares directory. Free text passes\n" +
			"through the redaction rules; local paths are dropped unless\n" +
			"--include-paths is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := paths.DataDir()
			if err != nil {
				return err
			}

			settings, err := share.LoadSettings(dataDir)
			if err != nil {
				return fmt.Errorf("failed to load contributor settings: %w", err)
			}

			opts := share.Options{
				Contributor:       settings.Handle,
				IncludeLocalPaths: settings.IncludeLocalPaths,
				IncludeTranscript: settings.IncludeTranscript,
				OutDir:            outDir,
			}
			if cmd.Flags().Changed("handle") {
				opts.Contributor = handleFlag
			}
			if cmd.Flags().Changed("include-paths") {
				opts.IncludeLocalPaths = includePaths
			}
			if cmd.Flags().Changed("include-transcript") {
				opts.IncludeTranscript = includeTranscript
			}

			writer, err := newShareWriter(dataDir)
			if err != nil {
				return err
			}
			outPath, err := writer.Write(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			cmd.Printf("✓ Bundle written (%s)\n", outPath)
			cmd.Println("Review the bundle before sharing; redaction is best effort.")

			if saveDefaults {
				settings.Handle = opts.Contributor
				settings.IncludeLocalPaths = opts.IncludeLocalPaths
				settings.IncludeTranscript = opts.IncludeTranscript
				if _, err := share.SaveSettings(dataDir, settings); err != nil {
					return fmt.Errorf("failed to save contributor settings: %w", err)
				}
				cmd.Println("✓ Saved as defaults")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&handleFlag, "handle", "", "Contributor handle embedded in the bundle")
	cmd.Flags().BoolVar(&includePaths, "include-paths", false, "Keep machine-local paths in the bundle")
	cmd.Flags().BoolVar(&includeTranscript, "include-transcript", false, "Export the redacted transcript alongside the bundle")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default: shares/ in the data dir)")
	cmd.Flags().BoolVar(&saveDefaults, "save-defaults", false, "Remember these choices for future exports")
	return cmd
}

// newShareWriter builds a bundle writer over the on-disk stores. The hook
// store replays the full retention window so sessions older than the
// daemon's live view stay exportable.
func newShareWriter(dataDir string) (*share.Writer, error) {
	cfg, err := loadConfigBestEffort()
	if err != nil {
		cfg = config.Default()
	}

	hooks, err := hookstore.New(hookstore.Options{
		Dir:           filepath.Join(dataDir, paths.HooksDirName),
		MaxDays:       cfg.Hooks.MaxDays,
		MaxToolUsages: cfg.Hooks.MaxToolUsages,
		StaleAfter:    cfg.Hooks.StaleAfter(),
		LoadWindow:    time.Duration(cfg.Hooks.MaxDays) * 24 * time.Hour,
	})
	if err != nil {
		return nil, err
	}

	return share.NewWriter(
		dataDir,
		hooks,
		enrich.NewStore(dataDir),
		enrich.NewAnnotationStore(dataDir),
		timeline.New(dataDir),
	), nil
}
