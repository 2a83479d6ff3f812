// Package recordlog implements the append-only JSONL record files that back
// the AgentWatch archive: one JSON object per line, date-partitioned file
// names, rotation by age and count.
//
// Appends are crash-atomic at line granularity: each record is written with
// a single Write call, so a torn write can only damage the final line of a
// file, and readers skip undecodable lines instead of failing.
package recordlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/jsonutil"
	"github.com/agentwatch/cli/cmd/agentwatch/cli/paths"
)

// maxLineBytes bounds a single record line. Tool responses can be large but
// anything beyond this is almost certainly a corrupt file.
const maxLineBytes = 8 * 1024 * 1024

// Append JSON-encodes record and appends it to path as one line.
// Parent directories are created lazily. Callers do not flush; the kernel
// handles durability.
func Append(path string, record any) error {
	line, err := jsonutil.MarshalLine(record)
	if err != nil {
		return err
	}

	if err := paths.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // paths come from our own data dir
	if err != nil {
		return fmt.Errorf("opening log %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // close error is unactionable after a successful write

	// One Write call per record keeps the line-granular atomicity story.
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending to log %s: %w", path, err)
	}
	return nil
}

// AppendPartition appends a record to the partition file derived from
// pattern and the current date.
func AppendPartition(pattern string, record any) error {
	return AppendPartitionAt(pattern, record, time.Now())
}

// AppendPartitionAt appends a record to the partition derived from pattern
// and the given date. The partition is chosen by wall-clock date, not by any
// timestamp inside the record; records written near midnight may straddle
// partitions.
func AppendPartitionAt(pattern string, record any, date time.Time) error {
	return Append(paths.PartitionPath(pattern, date), record)
}

// ReadAll streams path line by line and decodes each line into T.
// Lines that fail to decode are skipped; a corrupt line never halts
// reading. A missing file yields an empty slice and no error.
func ReadAll[T any](path string) ([]T, error) {
	var out []T
	err := forEachLine(path, func(line []byte) {
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			return
		}
		out = append(out, rec)
	})
	return out, err
}

// forEachLine invokes fn for every non-blank line of path.
func forEachLine(path string, fn func(line []byte)) error {
	f, err := os.Open(path) //nolint:gosec // paths come from our own data dir
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening log %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && len(line) <= maxLineBytes {
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				fn(trimmed)
			}
		}
		if err == io.EOF {
			// A trailing partial line was already handed to fn; if it was
			// torn mid-record the JSON decode simply fails and it is skipped.
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading log %s: %w", path, err)
		}
	}
}

// RangeOptions filters ReadRange. Zero Start/End mean unbounded; Limit <= 0
// means no cap.
type RangeOptions struct {
	Start time.Time
	End   time.Time
	Limit int
}

// ReadRange enumerates partition files matching pattern whose embedded
// YYYY-MM-DD date lies in [Start, End], reads them newest-date-first, and
// concatenates records until Limit is reached.
func ReadRange[T any](pattern string, opts RangeOptions) ([]T, error) {
	files, err := partitionFiles(pattern, opts.Start, opts.End)
	if err != nil {
		return nil, err
	}

	var out []T
	for _, file := range files {
		recs, err := ReadAll[T](file.path)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			out = append(out, rec)
			if opts.Limit > 0 && len(out) >= opts.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

type partitionFile struct {
	path string
	date time.Time
}

// partitionFiles lists files in the pattern's directory matching the
// pattern glob, keeps those whose embedded date is within [start, end], and
// sorts them descending by date.
func partitionFiles(pattern string, start, end time.Time) ([]partitionFile, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing %s: %w", pattern, err)
	}

	var files []partitionFile
	for _, match := range matches {
		date, ok := paths.PartitionDate(match)
		if !ok {
			continue
		}
		if !start.IsZero() && date.Before(truncateDay(start)) {
			continue
		}
		if !end.IsZero() && date.After(truncateDay(end)) {
			continue
		}
		files = append(files, partitionFile{path: match, date: date})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].date.After(files[j].date)
	})
	return files, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RotateOptions controls Rotate. Zero values disable the corresponding
// policy.
type RotateOptions struct {
	MaxAgeDays int
	MaxFiles   int
}

// Rotate deletes partition files matching pattern whose mtime is older than
// MaxAgeDays, then enforces a hard cap of MaxFiles by deleting oldest-first
// (by embedded date). Returns the number of files removed.
func Rotate(pattern string, opts RotateOptions) (int, error) {
	files, err := partitionFiles(pattern, time.Time{}, time.Time{})
	if err != nil {
		return 0, err
	}

	removed := 0
	if opts.MaxAgeDays > 0 {
		cutoff := time.Now().Add(-time.Duration(opts.MaxAgeDays) * 24 * time.Hour)
		var kept []partitionFile
		for _, file := range files {
			info, err := os.Stat(file.path)
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(file.path); err == nil {
					removed++
					continue
				}
			}
			kept = append(kept, file)
		}
		files = kept
	}

	if opts.MaxFiles > 0 && len(files) > opts.MaxFiles {
		// files is sorted newest-first; everything past the cap goes.
		for _, file := range files[opts.MaxFiles:] {
			if err := os.Remove(file.path); err == nil {
				removed++
			}
		}
	}

	return removed, nil
}
