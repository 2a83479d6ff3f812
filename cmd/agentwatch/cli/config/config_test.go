package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Web.Host)
	assert.Equal(t, 8765, cfg.Web.Port)
	assert.Equal(t, 5, cfg.Process.IntervalSecs)
	assert.Equal(t, 30, cfg.Hooks.MaxDays)
	assert.Equal(t, 10000, cfg.Hooks.MaxToolUsages)
	assert.False(t, cfg.TelemetryEnabled())
	assert.NotEmpty(t, cfg.Process.Matchers)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
web:
  port: 9000
repos:
  roots:
    - ~/work
  fetch: auto
process:
  interval_secs: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Overridden values.
	assert.Equal(t, 9000, cfg.Web.Port)
	assert.Equal(t, []string{"~/work"}, cfg.Repos.Roots)
	assert.Equal(t, "auto", cfg.Repos.Fetch)
	assert.Equal(t, 2, cfg.Process.IntervalSecs)

	// Untouched sections keep defaults.
	assert.Equal(t, "127.0.0.1", cfg.Web.Host)
	assert.Equal(t, 60, cfg.Repos.SlowIntervalSecs)
	assert.Equal(t, 300, cfg.Hooks.StaleAfterSecs)
}

func TestLoad_UnknownKeysIgnored(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
future_section:
  something: true
web:
  port: 9001
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Web.Port)
}

func TestLoad_MalformedIsError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("web: ["), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "defaults_are_valid",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "port_out_of_range",
			mutate:  func(c *Config) { c.Web.Port = 70000 },
			wantErr: "out of range",
		},
		{
			name:    "inverted_port_band",
			mutate:  func(c *Config) { c.Ports.MinPort = 9000; c.Ports.MaxPort = 80 },
			wantErr: "exceeds",
		},
		{
			name:    "bad_fetch_policy",
			mutate:  func(c *Config) { c.Repos.Fetch = "always" },
			wantErr: "must be off or auto",
		},
		{
			name:    "bad_cwd_mode",
			mutate:  func(c *Config) { c.Process.CwdMode = "sometimes" },
			wantErr: "cwd_mode",
		},
		{
			name: "bad_matcher_regex",
			mutate: func(c *Config) {
				c.Process.Matchers = []Matcher{{Label: "x", Type: MatchCmdRegex, Pattern: "("}}
			},
			wantErr: "invalid regex",
		},
		{
			name: "unknown_matcher_type",
			mutate: func(c *Config) {
				c.Process.Matchers = []Matcher{{Label: "x", Type: "glob", Pattern: "*"}}
			},
			wantErr: "unknown type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTelemetryEnabled(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.False(t, cfg.TelemetryEnabled())

	enabled := true
	cfg.Telemetry = &enabled
	assert.True(t, cfg.TelemetryEnabled())
}
