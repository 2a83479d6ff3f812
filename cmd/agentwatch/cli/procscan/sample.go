package procscan

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/config"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
)

// procSample is one matched process as read from the OS, before heuristic
// classification.
type procSample struct {
	PID       int32
	Label     string
	Name      string
	Exe       string
	Cmdline   string
	CPUTotal  float64 // cumulative user+system CPU seconds
	MemoryKB  uint64
	Threads   int32
	TTY       string
	Cwd       string
	StartedAt time.Time
}

// enumerateOS lists processes and keeps those accepted by a matcher.
// Detail lookups run only for matches; processes that vanish mid-scan are
// skipped.
func (s *Scanner) enumerateOS(ctx context.Context) ([]procSample, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var samples []procSample
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cmdline, _ := p.CmdlineWithContext(ctx)
		label := matchLabel(s.matchers, name, cmdline)
		if label == "" {
			continue
		}

		sample := procSample{PID: p.Pid, Label: label, Name: name, Cmdline: cmdline}
		if exe, err := p.ExeWithContext(ctx); err == nil {
			sample.Exe = exe
		}
		if times, err := p.TimesWithContext(ctx); err == nil {
			sample.CPUTotal = times.User + times.System
		}
		if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			sample.MemoryKB = mem.RSS / 1024
		}
		if threads, err := p.NumThreadsWithContext(ctx); err == nil {
			sample.Threads = threads
		}
		if tty, err := p.TerminalWithContext(ctx); err == nil {
			sample.TTY = tty
		}
		if created, err := p.CreateTimeWithContext(ctx); err == nil {
			sample.StartedAt = time.UnixMilli(created)
		}
		sample.Cwd = s.resolveCwd(ctx, p)

		samples = append(samples, sample)
	}
	return samples, nil
}

// resolveCwd honours the configured resolution mode. Failures yield an
// empty cwd; "on" mode surfaces them in the debug log.
func (s *Scanner) resolveCwd(ctx context.Context, p *process.Process) string {
	if s.cfg.CwdMode == config.CwdModeOff {
		return ""
	}
	cwd, err := p.CwdWithContext(ctx)
	if err != nil {
		if s.cfg.CwdMode == config.CwdModeOn {
			logging.Debug(ctx, "cwd resolution failed", "pid", p.Pid, "error", err)
		}
		return ""
	}
	return cwd
}
