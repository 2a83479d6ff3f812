package telemetry

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestNewClientOptOut(t *testing.T) {
	t.Setenv("AGENTWATCH_DISABLE_TELEMETRY", "1")

	client := NewClient("1.0.0", nil)

	if _, ok := client.(*NoOpClient); !ok {
		t.Error("AGENTWATCH_DISABLE_TELEMETRY=1 should return NoOpClient")
	}
}

func TestNewClientOptOutWithAnyValue(t *testing.T) {
	t.Setenv("AGENTWATCH_DISABLE_TELEMETRY", "yes")

	client := NewClient("1.0.0", nil)

	if _, ok := client.(*NoOpClient); !ok {
		t.Error("AGENTWATCH_DISABLE_TELEMETRY with any value should return NoOpClient")
	}
}

func TestNewClientTelemetryDisabledInConfig(t *testing.T) {
	disabled := false
	client := NewClient("1.0.0", &disabled)

	if _, ok := client.(*NoOpClient); !ok {
		t.Error("enabled=false should return NoOpClient")
	}
}

func TestNewClientNilDefaultsToDisabled(t *testing.T) {
	// Ensure no opt-out env var is set
	t.Setenv("AGENTWATCH_DISABLE_TELEMETRY", "")

	client := NewClient("1.0.0", nil)

	if _, ok := client.(*NoOpClient); !ok {
		t.Error("enabled=nil should return NoOpClient (disabled by default)")
	}
}

func TestNoOpClientMethods(_ *testing.T) {
	client := &NoOpClient{}

	// Should not panic
	client.TrackCommand(nil, "", false)
	client.TrackCommand(&cobra.Command{Use: "test"}, "claude", true)
	client.Close()
}

func TestPostHogClientSkipsHiddenCommands(_ *testing.T) {
	client := &PostHogClient{
		machineID: "test-id",
	}

	hiddenCmd := &cobra.Command{
		Use:    "hidden",
		Hidden: true,
	}

	// Should not panic and should skip hidden commands
	client.TrackCommand(hiddenCmd, "claude", true)
}

func TestPostHogClientSkipsNilCommand(_ *testing.T) {
	client := &PostHogClient{
		machineID: "test-id",
	}

	// Should not panic with nil command
	client.TrackCommand(nil, "", false)
}

func TestPostHogClientClose(_ *testing.T) {
	client := &PostHogClient{
		machineID: "test-id",
		// client is nil, should not panic
	}

	// Should not panic when internal client is nil
	client.Close()
}

func TestTrackCommandUsesCommandPath(t *testing.T) {
	client := &PostHogClient{
		machineID: "test-id",
	}

	cmd := &cobra.Command{
		Use: "tui",
	}
	rootCmd := &cobra.Command{
		Use: "agentwatch",
	}
	rootCmd.AddCommand(cmd)

	// Should not panic - just verify the command path is accessible
	if cmd.CommandPath() != "agentwatch tui" {
		t.Errorf("CommandPath() = %q, want %q", cmd.CommandPath(), "agentwatch tui")
	}

	// TrackCommand should not panic with nil internal client
	client.TrackCommand(cmd, "claude", true)
}
