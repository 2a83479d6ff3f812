// Package redact removes secrets from text and JSON before a session
// bundle leaves the machine. Detection is layered: Shannon entropy
// catches opaque tokens, gitleaks rules catch the structured formats
// (AWS keys and friends) whose entropy sits below the threshold.
package redact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// secretPattern matches high-entropy strings that may be secrets.
var secretPattern = regexp.MustCompile(`[A-Za-z0-9/+_=-]{10,}`)

// entropyThreshold is the minimum Shannon entropy for a string to be
// considered a secret. 4.5 avoids false positives on identifiers while
// catching typical API keys, which sit well above 5.0.
const entropyThreshold = 4.5

// Placeholder replaces every detected secret.
const Placeholder = "REDACTED"

var (
	detector     *detect.Detector
	detectorOnce sync.Once
)

func getDetector() *detect.Detector {
	detectorOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return
		}
		detector = d
	})
	return detector
}

// region is a byte range to redact.
type region struct{ start, end int }

// String replaces secrets in s with the placeholder. A substring is
// redacted when either the entropy layer or the gitleaks layer flags it;
// overlapping findings collapse into one placeholder.
func String(s string) string {
	var regions []region

	for _, loc := range secretPattern.FindAllStringIndex(s, -1) {
		if shannonEntropy(s[loc[0]:loc[1]]) > entropyThreshold {
			regions = append(regions, region{loc[0], loc[1]})
		}
	}

	if d := getDetector(); d != nil {
		for _, f := range d.DetectString(s) {
			if f.Secret == "" {
				continue
			}
			searchFrom := 0
			for {
				idx := strings.Index(s[searchFrom:], f.Secret)
				if idx < 0 {
					break
				}
				absIdx := searchFrom + idx
				regions = append(regions, region{absIdx, absIdx + len(f.Secret)})
				searchFrom = absIdx + len(f.Secret)
			}
		}
	}

	if len(regions) == 0 {
		return s
	}

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].start < regions[j].start
	})
	merged := []region{regions[0]}
	for _, r := range regions[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
		} else {
			merged = append(merged, r)
		}
	}

	var b strings.Builder
	prev := 0
	for _, r := range merged {
		b.WriteString(s[prev:r.start])
		b.WriteString(Placeholder)
		prev = r.end
	}
	b.WriteString(s[prev:])
	return b.String()
}

// Bytes is a convenience wrapper around String for []byte content.
func Bytes(b []byte) []byte {
	s := string(b)
	redacted := String(s)
	if redacted == s {
		return b
	}
	return []byte(redacted)
}

// Value returns a redacted deep copy of a parsed JSON value. String
// leaves are scanned; keys that name identifiers and image payloads are
// left alone so references stay resolvable after export.
func Value(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if skipObject(val) {
			return val
		}
		out := make(map[string]any, len(val))
		for k, child := range val {
			if skipKey(k) {
				out[k] = child
				continue
			}
			out[k] = Value(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = Value(child)
		}
		return out
	case string:
		return String(val)
	default:
		return v
	}
}

// RawJSON redacts the string values of a raw JSON document, as stored in
// tool inputs and responses. Content that does not parse as JSON is
// treated as plain text. Nil and empty input pass through.
func RawJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return json.RawMessage(Bytes(raw))
	}
	cleaned := Value(parsed)
	out, err := marshalNoEscape(cleaned)
	if err != nil {
		return json.RawMessage(Bytes(raw))
	}
	return out
}

// TranscriptBytes redacts a transcript file line by line. Each line is
// parsed to find which string values carry secrets, then the raw line is
// patched with targeted replacements so untouched lines keep their exact
// original bytes.
func TranscriptBytes(b []byte) ([]byte, error) {
	s := string(b)
	redacted, err := transcriptContent(s)
	if err != nil {
		return nil, err
	}
	if redacted == s {
		return b, nil
	}
	return []byte(redacted), nil
}

func transcriptContent(content string) (string, error) {
	lines := strings.Split(content, "\n")
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			b.WriteString(line)
			continue
		}
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			b.WriteString(String(line))
			continue
		}
		repls := collectReplacements(parsed)
		if len(repls) == 0 {
			b.WriteString(line)
			continue
		}
		result := line
		for _, r := range repls {
			origJSON, err := jsonEncodeString(r[0])
			if err != nil {
				return "", err
			}
			replJSON, err := jsonEncodeString(r[1])
			if err != nil {
				return "", err
			}
			result = strings.ReplaceAll(result, origJSON, replJSON)
		}
		b.WriteString(result)
	}
	return b.String(), nil
}

// collectReplacements walks a parsed JSON value and collects unique
// (original, redacted) string pairs for values that need redaction.
func collectReplacements(v any) [][2]string {
	seen := make(map[string]bool)
	var repls [][2]string
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case map[string]any:
			if skipObject(val) {
				return
			}
			for k, child := range val {
				if skipKey(k) {
					continue
				}
				walk(child)
			}
		case []any:
			for _, child := range val {
				walk(child)
			}
		case string:
			redacted := String(val)
			if redacted != val && !seen[val] {
				seen[val] = true
				repls = append(repls, [2]string{val, redacted})
			}
		}
	}
	walk(v)
	return repls
}

// skipKey reports whether a JSON key is excluded from scanning. Session,
// tool-use and commit references all end in "id"; their random suffixes
// look exactly like secrets.
func skipKey(key string) bool {
	if key == "signature" {
		return true
	}
	lower := strings.ToLower(key)
	return strings.HasSuffix(lower, "id") || strings.HasSuffix(lower, "ids")
}

// skipObject reports whether an object is an image payload. Base64 image
// data is all high entropy and carries nothing worth scanning.
func skipObject(obj map[string]any) bool {
	t, ok := obj["type"].(string)
	return ok && (strings.HasPrefix(t, "image") || t == "base64")
}

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[byte]int)
	for i := range len(s) {
		freq[s[i]]++
	}
	length := float64(len(s))
	var entropy float64
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// jsonEncodeString returns the JSON encoding of s without HTML escaping.
func jsonEncodeString(s string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", fmt.Errorf("json encode string: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// marshalNoEscape marshals without HTML escaping so shell snippets in
// tool inputs survive the round trip byte for byte.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("json encode value: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
