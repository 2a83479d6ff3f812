package tui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRepoStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		repo Repo
		want string
	}{
		{"clean", Repo{Dirty: false}, "clean"},
		{"dirty without flags", Repo{Dirty: true}, "dirty"},
		{"conflict", Repo{Dirty: true, Flags: RepoFlags{Conflict: true}}, "conflict!"},
		{"rebase and merge", Repo{Dirty: true, Flags: RepoFlags{Rebase: true, Merge: true}}, "rebase merge"},
		{"ahead behind", Repo{Dirty: true, Upstream: &Upstream{Tracking: "origin/main", Ahead: 2, Behind: 1}}, "ahead 2 behind 1"},
		{"in sync upstream is quiet", Repo{Dirty: true, Upstream: &Upstream{Tracking: "origin/main"}}, "dirty"},
		{"scan error", Repo{Dirty: true, LastError: "git status timed out"}, "scan error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, repoStatus(tt.repo))
		})
	}
}

func TestSessionStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "waiting", sessionStatus(Session{Active: true, AwaitingInput: true}))
	assert.Equal(t, "active", sessionStatus(Session{Active: true}))
	assert.Equal(t, "ended", sessionStatus(Session{}))
}

func TestFmtAgo(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, "-"},
		{now.Add(-30 * time.Second), "now"},
		{now.Add(-5 * time.Minute), "5m"},
		{now.Add(-3 * time.Hour), "3h"},
		{now.Add(-49 * time.Hour), "2d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fmtAgo(tt.at, now))
	}
}

func TestFmtMem(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "-", fmtMem(0))
	assert.Equal(t, "512K", fmtMem(512))
	assert.Equal(t, "2M", fmtMem(2048))
	assert.Equal(t, "3.0G", fmtMem(3*1024*1024))
}

func TestFmtQuiet(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "-", fmtQuiet(0))
	assert.Equal(t, "45s", fmtQuiet(45))
	assert.Equal(t, "2m0s", fmtQuiet(120))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abcdefghij", truncate("abcdefghij", 10))
	assert.Equal(t, "abc…", truncate("abcdefghij", 4))
}

func TestShortenHome(t *testing.T) {
	t.Setenv("HOME", "/home/dev")

	assert.Equal(t, "~", shortenHome("/home/dev"))
	assert.Equal(t, "~/code/api", shortenHome("/home/dev/code/api"))
	assert.Equal(t, "/srv/data", shortenHome("/srv/data"))
	assert.Equal(t, "", shortenHome(""))
}
