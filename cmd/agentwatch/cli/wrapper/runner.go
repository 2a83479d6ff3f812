package wrapper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/livestore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
)

const (
	// defaultQuietAfter is how long the pty must stay silent before the
	// overlay flips from WORKING to WAITING.
	defaultQuietAfter = 3 * time.Second
	// defaultHeartbeat is the overlay refresh period.
	defaultHeartbeat = 2 * time.Second
)

// RunOptions configures one wrapped agent run.
type RunOptions struct {
	// Agent is the label reported in the overlay ("claude", "codex", ...).
	// Defaults to the basename of the command.
	Agent string
	// Argv is the full command line to execute.
	Argv []string
	// DaemonURL is the daemon base URL, e.g. "http://127.0.0.1:8765".
	DaemonURL string
	// SessionID optionally binds the overlay to a hook session.
	SessionID string
	// QuietAfter overrides defaultQuietAfter when positive.
	QuietAfter time.Duration
	// Heartbeat overrides defaultHeartbeat when positive.
	Heartbeat time.Duration
}

// Runner launches one agent command under a pty, mirrors its stdio, and
// reports overlay state to the daemon for as long as the process runs.
// A dead daemon never disturbs the wrapped agent: every report is
// fire-and-forget.
type Runner struct {
	opts     RunOptions
	runID    string
	reporter *Reporter
	activity *activityTracker
}

// NewRunner validates opts, fills defaults and mints the run id.
func NewRunner(opts RunOptions) (*Runner, error) {
	if len(opts.Argv) == 0 || opts.Argv[0] == "" {
		return nil, errors.New("no command to run")
	}
	if opts.DaemonURL == "" {
		return nil, errors.New("daemon URL is required")
	}
	if opts.Agent == "" {
		opts.Agent = filepath.Base(opts.Argv[0])
	}
	if opts.QuietAfter <= 0 {
		opts.QuietAfter = defaultQuietAfter
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	return &Runner{
		opts:     opts,
		runID:    "run-" + uuid.NewString()[:8],
		reporter: NewReporter(opts.DaemonURL),
		activity: newActivityTracker(time.Now()),
	}, nil
}

// RunID returns the identity this run registers under.
func (r *Runner) RunID() string { return r.runID }

// Run executes the command and blocks until it exits. The int is the
// child's exit code, shell-style; err is reserved for launch failures.
func (r *Runner) Run(ctx context.Context) (int, error) {
	cmd := exec.Command(r.opts.Argv[0], r.opts.Argv[1:]...) //nolint:gosec // the user asked to run exactly this

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return 1, fmt.Errorf("starting %s under pty: %w", r.opts.Argv[0], err)
	}
	defer func() { _ = ptmx.Close() }()

	// Keep the child's window size in sync with ours.
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer func() {
		signal.Stop(winch)
		close(winch)
	}()
	go func() {
		for range winch {
			if err := pty.InheritSize(os.Stdin, ptmx); err != nil {
				logging.Debug(ctx, "pty resize failed", "error", err)
			}
		}
	}()
	winch <- syscall.SIGWINCH

	// Raw mode so keystrokes reach the child unmangled. Restore runs
	// after the output copier has drained, never mid-stream.
	if term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, rawErr := term.MakeRaw(int(os.Stdin.Fd()))
		if rawErr != nil {
			logging.Warn(ctx, "failed to enter raw mode", "error", rawErr)
		} else {
			defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()
		}
	}

	pid := int32(cmd.Process.Pid) //nolint:gosec // PIDs fit in int32 on supported platforms
	command := strings.Join(r.opts.Argv, " ")
	if err := r.report(ctx, pid, command, livestore.StateWorking); err != nil {
		logging.Warn(ctx, "daemon not reachable, agent runs unobserved", "daemon", r.opts.DaemonURL, "error", err)
	}

	// Keystrokes in; child output out through the activity tracker.
	// The stdin copier stays blocked on the terminal read after exit,
	// which is fine: the whole process is about to go away.
	go func() { _, _ = io.Copy(ptmx, os.Stdin) }()
	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		// The copy returns EIO on Linux once the child side closes.
		_, _ = io.Copy(&trackingWriter{w: os.Stdout, tracker: r.activity}, ptmx)
	}()

	// Forward cancellation so the wrapped agent shuts down with us.
	go func() {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Signal(syscall.SIGTERM)
		case <-outputDone:
		}
	}()

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go r.heartbeat(heartbeatCtx, pid, command)

	waitErr := cmd.Wait()
	<-outputDone
	stopHeartbeat()

	code := exitCode(waitErr)
	r.deregister(pid, code)
	return code, nil
}

// heartbeat re-registers the overlay on a fixed period. The daemon
// treats repeated registrations for a known PID as status updates.
func (r *Runner) heartbeat(ctx context.Context, pid int32, command string) {
	ticker := time.NewTicker(r.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			status := r.activity.Status(now, r.opts.QuietAfter)
			if err := r.report(ctx, pid, command, status); err != nil {
				logging.Debug(ctx, "wrapper heartbeat failed", "pid", pid, "error", err)
			}
		}
	}
}

func (r *Runner) report(ctx context.Context, pid int32, command string, status livestore.AgentState) error {
	return r.reporter.Register(ctx, Registration{
		RunID:     r.runID,
		PID:       pid,
		Agent:     r.opts.Agent,
		Status:    string(status),
		SessionID: r.opts.SessionID,
		Command:   command,
	})
}

// deregister uses a fresh context: the run context is usually already
// canceled when the child exits on a signal.
func (r *Runner) deregister(pid int32, code int) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if err := r.reporter.Deregister(ctx, pid, r.runID, code); err != nil {
		logging.Debug(ctx, "wrapper deregistration failed", "pid", pid, "error", err)
	}
}

// exitCode maps Wait's error to a shell-style exit code: 0 on success,
// the child's own code on plain exits, 128+signum when signaled.
func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}

// activityTracker records when the wrapped process last wrote to its
// pty. The output copier and the heartbeat loop share it.
type activityTracker struct {
	mu   sync.Mutex
	last time.Time
}

func newActivityTracker(now time.Time) *activityTracker {
	return &activityTracker{last: now}
}

func (t *activityTracker) Touch(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.After(t.last) {
		t.last = now
	}
}

// Status derives the overlay state: WORKING while output flowed within
// quietAfter, WAITING once the pty has gone silent longer than that.
func (t *activityTracker) Status(now time.Time, quietAfter time.Duration) livestore.AgentState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Sub(t.last) >= quietAfter {
		return livestore.StateWaiting
	}
	return livestore.StateWorking
}

// trackingWriter forwards writes and stamps the tracker on each one.
type trackingWriter struct {
	w       io.Writer
	tracker *activityTracker
}

func (tw *trackingWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		tw.tracker.Touch(time.Now())
	}
	return tw.w.Write(p)
}
