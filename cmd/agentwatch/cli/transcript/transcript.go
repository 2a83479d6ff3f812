// Package transcript discovers Claude-style project transcript files and
// summarises their token usage into a persistent index.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/agentwatch/cli/cmd/agentwatch/cli/pricing"
)

// Scanner buffer for long transcript lines (10MB).
const scannerBufferSize = 10 * 1024 * 1024

// Line is one JSONL row of a transcript. Only the fields the indexer
// reads are decoded; the message body stays raw.
type Line struct {
	Type      string          `json:"type"`
	UUID      string          `json:"uuid"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
}

// messageUsage mirrors the usage object of a Claude API response.
type messageUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
}

// messageWithUsage is the slice of an assistant message the token
// accounting needs.
type messageWithUsage struct {
	ID    string       `json:"id"`
	Model string       `json:"model"`
	Usage messageUsage `json:"usage"`
}

// ParseFile reads a JSONL transcript, skipping malformed lines.
func ParseFile(path string) ([]Line, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer file.Close()

	var lines []Line
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, scannerBufferSize), scannerBufferSize)
	for scanner.Scan() {
		var line Line
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning transcript: %w", err)
	}
	return lines, nil
}

// TokenUsage sums token usage across assistant messages. Streaming writes
// the same message id several times; the row with the highest
// output_tokens is the final state, so only that one counts. Returns the
// summed usage, the number of distinct API calls, and the last model
// name seen.
func TokenUsage(lines []Line) (pricing.Usage, int, string) {
	byID := make(map[string]messageUsage)
	model := ""

	for _, line := range lines {
		if line.Type != "assistant" {
			continue
		}
		var msg messageWithUsage
		if err := json.Unmarshal(line.Message, &msg); err != nil {
			continue
		}
		if msg.ID == "" {
			continue
		}
		if msg.Model != "" {
			model = msg.Model
		}
		existing, ok := byID[msg.ID]
		if !ok || msg.Usage.OutputTokens > existing.OutputTokens {
			byID[msg.ID] = msg.Usage
		}
	}

	var usage pricing.Usage
	for _, u := range byID {
		usage.InputTokens += u.InputTokens
		usage.OutputTokens += u.OutputTokens
		usage.CacheCreationTokens += u.CacheCreationInputTokens
		usage.CacheReadTokens += u.CacheReadInputTokens
	}
	return usage, len(byID), model
}

// Timespan returns the first and last parseable line timestamps.
func Timespan(lines []Line) (first, last time.Time) {
	for _, line := range lines {
		t, err := time.Parse(time.RFC3339, line.Timestamp)
		if err != nil {
			continue
		}
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
	}
	return first, last
}
