package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/config"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/enrich"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/livestore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/portscan"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/pricing"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/procscan"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/recordlog"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/reposcan"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/server"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/timeline"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/transcript"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/wrapper"
)

// housekeepingInterval paces retention sweeps, stats flushes and
// transcript index refreshes.
const housekeepingInterval = time.Hour

// configDebounce coalesces the editor write bursts fsnotify reports for
// a single save.
const configDebounce = 500 * time.Millisecond

func newDaemonCmd() *cobra.Command {
	var configPath string
	var port int

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the observability daemon",
		Long: "Starts the scanners (processes, repositories, ports), the hook ingest\n" +
			"endpoints and the HTTP/WebSocket API, then runs until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file (default ~/.agentwatch/config.yaml)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port override")
	return cmd
}

func runDaemon(cmd *cobra.Command, configPath string, portOverride int) error {
	ctx := cmd.Context()

	dataDir, err := paths.DataDir()
	if err != nil {
		return fmt.Errorf("resolving data directory: %w", err)
	}
	if configPath == "" {
		if configPath, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if portOverride > 0 {
		cfg.Web.Port = portOverride
	}

	logPath := filepath.Join(dataDir, paths.LogsDirName, "daemon.log")
	if err := logging.Init(logPath, cfg.LogLevel); err != nil {
		return fmt.Errorf("initialising logging: %w", err)
	}
	defer logging.Close()

	release, err := acquirePidFile(dataDir)
	if err != nil {
		return err
	}
	defer release()

	// Stores.
	live := livestore.New()
	hooks, err := hookstore.New(hookstore.Options{
		Dir:           filepath.Join(dataDir, paths.HooksDirName),
		MaxDays:       cfg.Hooks.MaxDays,
		MaxToolUsages: cfg.Hooks.MaxToolUsages,
		StaleAfter:    cfg.Hooks.StaleAfter(),
	})
	if err != nil {
		return err
	}
	audit := timeline.New(dataDir)
	enrichments := enrich.NewStore(dataDir)
	pipeline := enrich.NewPipeline(enrichments, enrich.NewDiffTracker())
	pipeline.OnComputed(func(e enrich.Enrichment) {
		audit.Record(ctx, timeline.CategoryEnrichment, timeline.ActionComputed, e.Ref,
			map[string]any{"score": e.Score, "classification": e.Classification})
	})

	table := pricing.NewTable()
	for model, p := range cfg.Costs.ModelOverrides {
		table.Override(model, pricing.Pricing{
			InputPerMillion:  p.InputPerMillion,
			OutputPerMillion: p.OutputPerMillion,
		})
	}

	// Scanners.
	procs, err := procscan.New(cfg.Process, live, hooks, filepath.Join(dataDir, paths.ProcessesDirName))
	if err != nil {
		return err
	}
	repos := reposcan.New(cfg.Repos, live)
	ports := portscan.New(cfg.Ports, live)
	procs.OnTick = func(start time.Time) { server.ObserveScan("process", start) }
	repos.OnTick = func(start time.Time) { server.ObserveScan("repos", start) }
	ports.OnTick = func(start time.Time) { server.ObserveScan("ports", start) }

	srv := server.New(cfg.Web, server.Deps{
		Live:        live,
		Hooks:       hooks,
		Audit:       audit,
		Enrichments: enrichments,
		Annotations: enrich.NewAnnotationStore(dataDir),
		AgentMeta:   enrich.NewAgentMetadataStore(dataDir),
		ConvMeta:    enrich.NewConversationMetadataStore(dataDir),
		Managed:     wrapper.NewRegistry(dataDir),
		Pipeline:    pipeline,
		Pricing:     table,
		Version:     Version,

		ShowCleanRepos: cfg.Repos.ShowClean,
		Costs:          cfg.Costs,
	})

	logging.Info(ctx, "daemon starting", "version", Version, "dataDir", dataDir, "addr", srv.Addr())
	cmd.Printf("AgentWatch daemon %s listening on http://%s\n", Version, srv.Addr())

	procs.Start(ctx)
	repos.Start(ctx)
	ports.Start(ctx)
	defer func() {
		procs.Stop()
		repos.Stop()
		ports.Stop()
		hooks.SaveStats()
		logging.Info(context.Background(), "daemon stopped")
	}()

	indexer := transcript.NewIndexer(dataDir, table)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { housekeeping(gctx, dataDir, cfg, hooks, indexer); return nil })
	g.Go(func() error { watchConfig(gctx, configPath, logPath, audit); return nil })

	return g.Wait()
}

// housekeeping runs the hourly retention pass: trims in-memory hook
// state, flushes stats, rotates JSONL partitions and refreshes the
// transcript index. The first pass runs shortly after boot so a daemon
// that restarts daily still rotates.
func housekeeping(ctx context.Context, dataDir string, cfg *config.Config, hooks *hookstore.Store, indexer *transcript.Indexer) {
	pass := func() {
		sessions, usages := hooks.CleanupOldData(cfg.Hooks.MaxDays, cfg.Hooks.MaxToolUsages)
		if sessions+usages > 0 {
			logging.Info(ctx, "retention pass trimmed hook state", "sessions", sessions, "usages", usages)
		}
		hooks.SaveStats()

		rotate := recordlog.RotateOptions{MaxAgeDays: cfg.Hooks.MaxDays, MaxFiles: 2 * cfg.Hooks.MaxDays}
		hooksDir := filepath.Join(dataDir, paths.HooksDirName)
		procDir := filepath.Join(dataDir, paths.ProcessesDirName)
		for _, pattern := range []string{
			filepath.Join(hooksDir, paths.SessionsPattern),
			filepath.Join(hooksDir, paths.ToolUsagesPattern),
			filepath.Join(hooksDir, paths.CommitsPattern),
			filepath.Join(procDir, paths.ProcessSnapshotsPattern),
			filepath.Join(procDir, paths.ProcessEventsPattern),
		} {
			if removed, err := recordlog.Rotate(pattern, rotate); err != nil {
				logging.Warn(ctx, "partition rotation failed", "pattern", pattern, "error", err)
			} else if removed > 0 {
				logging.Info(ctx, "rotated partitions", "pattern", filepath.Base(pattern), "removed", removed)
			}
		}

		if n, err := indexer.Refresh(ctx); err != nil {
			logging.Debug(ctx, "transcript index refresh failed", "error", err)
		} else if n > 0 {
			logging.Info(ctx, "transcript index refreshed", "analysed", n)
		}
	}

	// Initial pass off the start edge, then hourly.
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Minute):
		pass()
	}
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass()
		}
	}
}

// watchConfig watches the config file's parent directory (editors and
// atomic writers replace the file, which drops a direct watch), records
// an audit event per change and applies what can change live: today
// that is the log level. Everything else needs a restart.
func watchConfig(ctx context.Context, configPath, logPath string, audit *timeline.Log) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn(ctx, "config watcher unavailable", "error", err)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		logging.Warn(ctx, "cannot watch config directory", "error", err)
		return
	}
	base := filepath.Base(configPath)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(configDebounce, func() {
				audit.Record(ctx, timeline.CategoryConfig, timeline.ActionModified, paths.ConfigFileName, nil)
				cfg, err := config.Load(configPath)
				if err != nil {
					logging.Warn(ctx, "config changed but does not parse", "error", err)
					return
				}
				if err := logging.Init(logPath, cfg.LogLevel); err != nil {
					logging.Warn(ctx, "failed to apply new log level", "error", err)
				}
				logging.Info(ctx, "config changed on disk", "note", "scanner and server settings apply on restart")
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Warn(ctx, "config watcher error", "error", err)
		}
	}
}

// acquirePidFile writes watcher.pid and fails when another live daemon
// already owns it. Stale files from crashed daemons are taken over.
func acquirePidFile(dataDir string) (func(), error) {
	path := filepath.Join(dataDir, paths.PidFileName)
	if pid, err := readPidFile(path); err == nil && processAlive(pid) {
		return nil, fmt.Errorf("another daemon is already running (pid %d)", pid)
	}
	if err := paths.WriteFileAtomic(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("writing pid file: %w", err)
	}
	return func() { _ = os.Remove(path) }, nil
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // our own data dir
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// daemonAlive reports whether a daemon holds a live pid file. Used for
// analytics and for client commands that want a better error message.
func daemonAlive() bool {
	dataDir, err := paths.DataDir()
	if err != nil {
		return false
	}
	pid, err := readPidFile(filepath.Join(dataDir, paths.PidFileName))
	if err != nil {
		return false
	}
	return processAlive(pid)
}

// daemonURL resolves the daemon base URL: an explicit flag wins, then
// the configured listen address.
func daemonURL(flagValue string) string {
	if flagValue != "" {
		return strings.TrimRight(flagValue, "/")
	}
	host, port := "127.0.0.1", 8765
	if cfg, err := loadConfigBestEffort(); err == nil {
		port = cfg.Web.Port
		if cfg.Web.Host != "" && cfg.Web.Host != "0.0.0.0" {
			host = cfg.Web.Host
		}
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}
