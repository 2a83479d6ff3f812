// Package config loads the declarative AgentWatch configuration from
// ~/.agentwatch/config.yaml. User values merge over the defaults; unknown
// keys are ignored so older daemons tolerate newer config files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
)

// Matcher classifies a process as a monitored agent. Matchers are evaluated
// in declared order; the first match wins.
type Matcher struct {
	Label   string `yaml:"label"`
	Type    string `yaml:"type"`
	Pattern string `yaml:"pattern"`
}

// Matcher types.
const (
	MatchExeBasename  = "exe_basename"
	MatchCmdRegex     = "cmd_regex"
	MatchCmdSubstring = "cmd_substring"
)

// WebConfig is the HTTP/WebSocket listen address.
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ReposConfig controls the repository scanner.
type ReposConfig struct {
	Roots            []string `yaml:"roots"`
	Ignore           []string `yaml:"ignore"`
	MaxDepth         int      `yaml:"max_depth"`
	FastIntervalSecs int      `yaml:"fast_interval_secs"`
	SlowIntervalSecs int      `yaml:"slow_interval_secs"`
	ShowClean        bool     `yaml:"show_clean"`
	Fetch            string   `yaml:"fetch"`
}

// FastInterval returns the fast-pass period.
func (r ReposConfig) FastInterval() time.Duration {
	return time.Duration(r.FastIntervalSecs) * time.Second
}

// SlowInterval returns the slow-pass period.
func (r ReposConfig) SlowInterval() time.Duration {
	return time.Duration(r.SlowIntervalSecs) * time.Second
}

// ProcessConfig controls the process scanner.
type ProcessConfig struct {
	IntervalSecs     int       `yaml:"interval_secs"`
	Matchers         []Matcher `yaml:"matchers"`
	ActiveCPUPercent float64   `yaml:"active_cpu_percent"`
	StalledQuietSecs int       `yaml:"stalled_quiet_secs"`
	CwdMode          string    `yaml:"cwd_mode"`
}

// Interval returns the scan period.
func (p ProcessConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSecs) * time.Second
}

// Cwd resolution modes.
const (
	CwdModeOn         = "on"
	CwdModeOff        = "off"
	CwdModeBestEffort = "best-effort"
)

// PortsConfig controls the port scanner. Ports below MinPort form the
// guard band and are never reported.
type PortsConfig struct {
	IntervalSecs int `yaml:"interval_secs"`
	MinPort      int `yaml:"min_port"`
	MaxPort      int `yaml:"max_port"`
}

// Interval returns the scan period.
func (p PortsConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSecs) * time.Second
}

// HooksConfig controls hook-store retention and staleness.
type HooksConfig struct {
	MaxDays        int `yaml:"max_days"`
	MaxToolUsages  int `yaml:"max_tool_usages"`
	StaleAfterSecs int `yaml:"stale_after_secs"`
}

// StaleAfter returns the session staleness threshold.
func (h HooksConfig) StaleAfter() time.Duration {
	return time.Duration(h.StaleAfterSecs) * time.Second
}

// ModelPrice overrides one model's pricing (USD per million tokens).
type ModelPrice struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// CostsConfig carries soft spend limits and pricing overrides. A zero
// limit disables the corresponding warning.
type CostsConfig struct {
	DailyLimitUSD   float64               `yaml:"daily_limit_usd"`
	SessionLimitUSD float64               `yaml:"session_limit_usd"`
	ModelOverrides  map[string]ModelPrice `yaml:"model_overrides"`
}

// Config is the root configuration document.
type Config struct {
	Web       WebConfig     `yaml:"web"`
	Repos     ReposConfig   `yaml:"repos"`
	Process   ProcessConfig `yaml:"process"`
	Ports     PortsConfig   `yaml:"ports"`
	Hooks     HooksConfig   `yaml:"hooks"`
	Costs     CostsConfig   `yaml:"costs"`
	Telemetry *bool         `yaml:"telemetry"`
	LogLevel  string        `yaml:"log_level"`
}

// Default returns the built-in configuration. Every default lives here so
// the whole table is readable in one place.
func Default() *Config {
	return &Config{
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		Repos: ReposConfig{
			Roots:            []string{"~"},
			Ignore:           []string{"node_modules", ".git", "vendor", "dist", "build", ".cache", "Library", ".Trash"},
			MaxDepth:         4,
			FastIntervalSecs: 5,
			SlowIntervalSecs: 60,
			ShowClean:        false,
			Fetch:            "off",
		},
		Process: ProcessConfig{
			IntervalSecs: 5,
			Matchers: []Matcher{
				{Label: "claude", Type: MatchExeBasename, Pattern: "claude"},
				{Label: "codex", Type: MatchExeBasename, Pattern: "codex"},
				{Label: "gemini", Type: MatchExeBasename, Pattern: "gemini"},
				{Label: "aider", Type: MatchExeBasename, Pattern: "aider"},
				{Label: "cursor-agent", Type: MatchExeBasename, Pattern: "cursor-agent"},
				{Label: "claude", Type: MatchCmdSubstring, Pattern: "claude --dangerously-skip-permissions"},
			},
			ActiveCPUPercent: 5.0,
			StalledQuietSecs: 120,
			CwdMode:          CwdModeBestEffort,
		},
		Ports: PortsConfig{
			IntervalSecs: 10,
			MinPort:      1024,
			MaxPort:      65535,
		},
		Hooks: HooksConfig{
			MaxDays:        30,
			MaxToolUsages:  10000,
			StaleAfterSecs: 300,
		},
		Costs:    CostsConfig{},
		LogLevel: "info",
	}
}

// Load reads the config file at path, merging user values over defaults.
// A missing file yields the defaults; a malformed file is an error (the
// user asked for something and we could not honour it).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // path comes from our own data dir or a flag
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	// Unmarshalling over the populated default struct merges section by
	// section: absent keys keep their defaults, lists replace wholesale.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML through an atomic rename.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return paths.WriteFileAtomic(path, data, 0o600)
}

// DefaultPath returns the standard config file location.
func DefaultPath() (string, error) {
	dataDir, err := paths.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, paths.ConfigFileName), nil
}

// SetDefaults fills any zero values a partial user config left behind.
func (c *Config) SetDefaults() {
	def := Default()

	if c.Web.Host == "" {
		c.Web.Host = def.Web.Host
	}
	if c.Web.Port == 0 {
		c.Web.Port = def.Web.Port
	}
	if len(c.Repos.Roots) == 0 {
		c.Repos.Roots = def.Repos.Roots
	}
	if c.Repos.MaxDepth == 0 {
		c.Repos.MaxDepth = def.Repos.MaxDepth
	}
	if c.Repos.FastIntervalSecs == 0 {
		c.Repos.FastIntervalSecs = def.Repos.FastIntervalSecs
	}
	if c.Repos.SlowIntervalSecs == 0 {
		c.Repos.SlowIntervalSecs = def.Repos.SlowIntervalSecs
	}
	if c.Repos.Fetch == "" {
		c.Repos.Fetch = def.Repos.Fetch
	}
	if c.Process.IntervalSecs == 0 {
		c.Process.IntervalSecs = def.Process.IntervalSecs
	}
	if len(c.Process.Matchers) == 0 {
		c.Process.Matchers = def.Process.Matchers
	}
	if c.Process.ActiveCPUPercent == 0 {
		c.Process.ActiveCPUPercent = def.Process.ActiveCPUPercent
	}
	if c.Process.StalledQuietSecs == 0 {
		c.Process.StalledQuietSecs = def.Process.StalledQuietSecs
	}
	if c.Process.CwdMode == "" {
		c.Process.CwdMode = def.Process.CwdMode
	}
	if c.Ports.IntervalSecs == 0 {
		c.Ports.IntervalSecs = def.Ports.IntervalSecs
	}
	if c.Ports.MinPort == 0 {
		c.Ports.MinPort = def.Ports.MinPort
	}
	if c.Ports.MaxPort == 0 {
		c.Ports.MaxPort = def.Ports.MaxPort
	}
	if c.Hooks.MaxDays == 0 {
		c.Hooks.MaxDays = def.Hooks.MaxDays
	}
	if c.Hooks.MaxToolUsages == 0 {
		c.Hooks.MaxToolUsages = def.Hooks.MaxToolUsages
	}
	if c.Hooks.StaleAfterSecs == 0 {
		c.Hooks.StaleAfterSecs = def.Hooks.StaleAfterSecs
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Validate checks cross-field constraints. It is called after SetDefaults,
// so zero values have already been filled.
func (c *Config) Validate() error {
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port %d out of range", c.Web.Port)
	}
	if c.Ports.MinPort > c.Ports.MaxPort {
		return fmt.Errorf("ports.min_port %d exceeds ports.max_port %d", c.Ports.MinPort, c.Ports.MaxPort)
	}
	if c.Repos.Fetch != "off" && c.Repos.Fetch != "auto" {
		return fmt.Errorf("repos.fetch %q: must be off or auto", c.Repos.Fetch)
	}
	switch c.Process.CwdMode {
	case CwdModeOn, CwdModeOff, CwdModeBestEffort:
	default:
		return fmt.Errorf("process.cwd_mode %q: must be on, off, or best-effort", c.Process.CwdMode)
	}
	for i, m := range c.Process.Matchers {
		if m.Label == "" {
			return fmt.Errorf("process.matchers[%d]: label is required", i)
		}
		switch m.Type {
		case MatchExeBasename, MatchCmdSubstring:
			if m.Pattern == "" {
				return fmt.Errorf("process.matchers[%d] (%s): pattern is required", i, m.Label)
			}
		case MatchCmdRegex:
			if _, err := regexp.Compile(m.Pattern); err != nil {
				return fmt.Errorf("process.matchers[%d] (%s): invalid regex: %w", i, m.Label, err)
			}
		default:
			return fmt.Errorf("process.matchers[%d] (%s): unknown type %q", i, m.Label, m.Type)
		}
	}
	return nil
}

// TelemetryEnabled reports the opt-in telemetry preference. Absent means
// disabled.
func (c *Config) TelemetryEnabled() bool {
	return c.Telemetry != nil && *c.Telemetry
}
