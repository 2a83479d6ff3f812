// Package share exports a sanitised session bundle for contribution.
// Every free-text field passes through the redact package on the way
// out; identifiers survive so the bundle stays internally consistent.
package share

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/enrich"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/hookstore"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/jsonutil"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/logging"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/timeline"
	"github.com/agentwatch/cli/redact"
)

const bundleVersion = 1

// Bundle is the exported artifact: one session with its usages, commits
// and derived data, secrets scrubbed.
type Bundle struct {
	Version        int                   `json:"version"`
	CreatedAt      time.Time             `json:"createdAt"`
	Contributor    string                `json:"contributor,omitempty"`
	Session        hookstore.Session     `json:"session"`
	Usages         []hookstore.ToolUsage `json:"usages"`
	Commits        []hookstore.Commit    `json:"commits,omitempty"`
	Enrichment     *enrich.Enrichment    `json:"enrichment,omitempty"`
	Annotation     *enrich.Annotation    `json:"annotation,omitempty"`
	TranscriptFile string                `json:"transcriptFile,omitempty"`
}

// Options resolves the contributor's settings and any per-run flags into
// one export request.
type Options struct {
	Contributor       string
	IncludeLocalPaths bool
	IncludeTranscript bool

	// OutDir overrides the default shares directory in the data dir.
	OutDir string
}

// Writer assembles bundles from the local stores.
type Writer struct {
	dataDir     string
	hooks       *hookstore.Store
	enrichments *enrich.Store
	annotations *enrich.AnnotationStore
	audit       *timeline.Log
}

func NewWriter(dataDir string, hooks *hookstore.Store, enrichments *enrich.Store, annotations *enrich.AnnotationStore, audit *timeline.Log) *Writer {
	return &Writer{
		dataDir:     dataDir,
		hooks:       hooks,
		enrichments: enrichments,
		annotations: annotations,
		audit:       audit,
	}
}

// Write exports the session as a bundle file and returns its path. The
// write is atomic; a partially assembled bundle never lands in the
// shares directory.
func (w *Writer) Write(ctx context.Context, sessionID string, opts Options) (string, error) {
	// The ID becomes part of the bundle file name.
	if err := paths.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	sess := w.hooks.Session(sessionID)
	if sess == nil {
		return "", fmt.Errorf("unknown session %q", sessionID)
	}

	outDir := opts.OutDir
	if outDir == "" {
		outDir = filepath.Join(w.dataDir, paths.SharesDirName)
	}
	if err := paths.EnsureDir(outDir); err != nil {
		return "", err
	}

	now := time.Now()
	base := fmt.Sprintf("share_%s_%s", sessionID, now.Format("2006-01-02"))

	bundle := Bundle{
		Version:     bundleVersion,
		CreatedAt:   now,
		Contributor: opts.Contributor,
		Session:     sanitizeSession(*sess, opts),
	}

	for _, u := range w.hooks.SessionToolUsages(sessionID, 0) {
		bundle.Usages = append(bundle.Usages, sanitizeUsage(u, opts))
	}
	for _, c := range w.hooks.SessionCommits(sessionID) {
		c.Message = redact.String(c.Message)
		if !opts.IncludeLocalPaths {
			c.RepoPath = ""
		}
		bundle.Commits = append(bundle.Commits, c)
	}

	ref := enrich.CanonicalRef("", sessionID, "")
	if e, ok, err := w.enrichments.Get(ref); err == nil && ok {
		bundle.Enrichment = &e
	}
	if a, ok, err := w.annotations.Get(ref); err == nil && ok {
		a.Notes = redact.String(a.Notes)
		bundle.Annotation = &a
	}

	if opts.IncludeTranscript {
		transcriptPath := sess.TranscriptPath
		if transcriptPath == "" {
			transcriptPath = conventionalTranscript(sessionID, sess.Cwd)
		}
		if transcriptPath != "" {
			name, err := w.writeTranscript(outDir, base, transcriptPath)
			if err != nil {
				logging.Warn(ctx, "transcript not included in bundle",
					"path", transcriptPath, "error", err)
			} else {
				bundle.TranscriptFile = name
			}
		}
	}

	data, err := jsonutil.MarshalIndentWithNewline(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding bundle: %w", err)
	}
	outPath := filepath.Join(outDir, base+".json")
	if err := paths.WriteFileAtomic(outPath, data, 0o600); err != nil {
		return "", err
	}

	w.audit.Record(ctx, timeline.CategoryContribution, timeline.ActionExported, sessionID,
		map[string]any{"file": filepath.Base(outPath)})
	return outPath, nil
}

// conventionalTranscript locates the transcript by convention when the
// session-start hook did not record a path: Claude names transcripts
// <session-id>.jsonl inside the project directory derived from the cwd.
func conventionalTranscript(sessionID, cwd string) string {
	if cwd == "" {
		return ""
	}
	dir, err := paths.ClaudeProjectDir(cwd)
	if err != nil {
		return ""
	}
	candidate := filepath.Join(dir, sessionID+".jsonl")
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

// writeTranscript copies the session transcript next to the bundle with
// every line scrubbed. Returns the file name inside the out dir.
func (w *Writer) writeTranscript(outDir, base, transcriptPath string) (string, error) {
	raw, err := os.ReadFile(transcriptPath) //nolint:gosec // path from the session record or Claude's project layout
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}
	cleaned, err := redact.TranscriptBytes(raw)
	if err != nil {
		return "", fmt.Errorf("redacting transcript: %w", err)
	}
	name := base + ".transcript.jsonl"
	if err := paths.WriteFileAtomic(filepath.Join(outDir, name), cleaned, 0o600); err != nil {
		return "", err
	}
	return name, nil
}

func sanitizeSession(s hookstore.Session, opts Options) hookstore.Session {
	if !opts.IncludeLocalPaths {
		s.Cwd = ""
		s.TranscriptPath = ""
	} else {
		s.Cwd = redact.String(s.Cwd)
	}
	return s
}

func sanitizeUsage(u hookstore.ToolUsage, opts Options) hookstore.ToolUsage {
	u.ToolInput = redact.RawJSON(u.ToolInput)
	u.Response = redact.String(u.Response)
	u.Error = redact.String(u.Error)
	if !opts.IncludeLocalPaths {
		u.Cwd = ""
	}
	return u
}
