package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
)

// deadPID is far beyond any kernel's pid_max, so a liveness probe on it
// always fails.
const deadPID = 1 << 30

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", errors.New("boom"), 1},
		{"exit code error", &ExitCodeError{Code: 7}, 7},
		{"wrapped exit code error", fmt.Errorf("running agent: %w", &ExitCodeError{Code: 130}), 130},
		{"silent error around exit code", NewSilentError(&ExitCodeError{Code: 3}), 3},
		{"silent plain error", NewSilentError(errors.New("already printed")), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestSilentError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("details")
	silent := NewSilentError(inner)

	assert.Equal(t, "details", silent.Error())
	assert.ErrorIs(t, silent, inner)
}

func TestDaemonURL_FlagWins(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "http://localhost:9999", daemonURL("http://localhost:9999"))
	assert.Equal(t, "http://localhost:9999", daemonURL("http://localhost:9999/"))
}

func TestDaemonURL_DefaultsWithoutConfig(t *testing.T) {
	t.Setenv(paths.DataDirEnv, t.TempDir())

	assert.Equal(t, "http://127.0.0.1:8765", daemonURL(""))
}

func TestDaemonURL_ReadsConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(paths.DataDirEnv, dir)

	writeConfigFile(t, dir, "web:\n  host: 0.0.0.0\n  port: 9000\n")
	// A wildcard bind address is not dialable; clients stay on loopback.
	assert.Equal(t, "http://127.0.0.1:9000", daemonURL(""))

	writeConfigFile(t, dir, "web:\n  host: 192.168.7.2\n  port: 8080\n")
	assert.Equal(t, "http://192.168.7.2:8080", daemonURL(""))
}

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, paths.ConfigFileName), []byte(content), 0o600))
}

func TestAgentFlagValue(t *testing.T) {
	t.Parallel()

	withFlag := &cobra.Command{Use: "run"}
	withFlag.Flags().String("agent", "", "")
	require.NoError(t, withFlag.Flags().Set("agent", "codex"))
	assert.Equal(t, "codex", agentFlagValue(withFlag))

	withoutFlag := &cobra.Command{Use: "version"}
	assert.Empty(t, agentFlagValue(withoutFlag))
}

func TestProcessAlive(t *testing.T) {
	t.Parallel()

	assert.True(t, processAlive(os.Getpid()))
	assert.False(t, processAlive(0))
	assert.False(t, processAlive(-1))
	assert.False(t, processAlive(deadPID))
}

func TestAcquirePidFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pidPath := filepath.Join(dir, paths.PidFileName)

	release, err := acquirePidFile(dir)
	require.NoError(t, err)

	pid, err := readPidFile(pidPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// The test process holds the file, so a second daemon must refuse.
	_, err = acquirePidFile(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	release()
	_, err = os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquirePidFile_TakesOverStaleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pidPath := filepath.Join(dir, paths.PidFileName)
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(deadPID)+"\n"), 0o600))

	release, err := acquirePidFile(dir)
	require.NoError(t, err)
	defer release()

	pid, err := readPidFile(pidPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquirePidFile_TakesOverMalformedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, paths.PidFileName), []byte("not a pid"), 0o600))

	release, err := acquirePidFile(dir)
	require.NoError(t, err)
	release()
}

func TestDaemonAlive(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(paths.DataDirEnv, dir)

	assert.False(t, daemonAlive(), "no pid file")

	pidPath := filepath.Join(dir, paths.PidFileName)
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600))
	assert.True(t, daemonAlive())

	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(deadPID)+"\n"), 0o600))
	assert.False(t, daemonAlive(), "stale pid file")
}
