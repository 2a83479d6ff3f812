package hookstore

import (
	"encoding/json"
	"strings"
	"time"
)

const statsVersion = 1

// ToolStats aggregates all invocations of one tool.
type ToolStats struct {
	TotalCalls    int     `json:"totalCalls"`
	Successes     int     `json:"successes"`
	Failures      int     `json:"failures"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

// DailyStats aggregates one day's activity, keyed by "YYYY-MM-DD".
type DailyStats struct {
	Date         string         `json:"date"`
	Sessions     int            `json:"sessions"`
	ToolCalls    int            `json:"toolCalls"`
	Failures     int            `json:"failures"`
	ByTool       map[string]int `json:"byTool,omitempty"`
	InputTokens  int64          `json:"inputTokens,omitempty"`
	OutputTokens int64          `json:"outputTokens,omitempty"`
	CostUSD      float64        `json:"costUsd,omitempty"`
}

// statsFile is the stats.json blob.
type statsFile struct {
	Version    int                    `json:"version"`
	UpdatedAt  time.Time              `json:"updatedAt"`
	ToolStats  map[string]*ToolStats  `json:"toolStats"`
	DailyStats map[string]*DailyStats `json:"dailyStats"`
}

// Touch implements jsonstore.Touchable.
func (f *statsFile) Touch(now time.Time) {
	f.UpdatedAt = now
	if f.Version == 0 {
		f.Version = statsVersion
	}
}

func newStatsFile() *statsFile {
	return &statsFile{
		Version:    statsVersion,
		ToolStats:  make(map[string]*ToolStats),
		DailyStats: make(map[string]*DailyStats),
	}
}

// Earlier releases wrote stats.json with snake_case keys. The tolerant
// unmarshalers below accept either convention; saves always use camelCase.

func (t *ToolStats) UnmarshalJSON(data []byte) error {
	return unmarshalTolerant(data, map[string]any{
		"totalcalls":    &t.TotalCalls,
		"successes":     &t.Successes,
		"failures":      &t.Failures,
		"avgdurationms": &t.AvgDurationMs,
	})
}

func (d *DailyStats) UnmarshalJSON(data []byte) error {
	return unmarshalTolerant(data, map[string]any{
		"date":         &d.Date,
		"sessions":     &d.Sessions,
		"toolcalls":    &d.ToolCalls,
		"failures":     &d.Failures,
		"bytool":       &d.ByTool,
		"inputtokens":  &d.InputTokens,
		"outputtokens": &d.OutputTokens,
		"costusd":      &d.CostUSD,
	})
}

func (f *statsFile) UnmarshalJSON(data []byte) error {
	return unmarshalTolerant(data, map[string]any{
		"version":    &f.Version,
		"updatedat":  &f.UpdatedAt,
		"toolstats":  &f.ToolStats,
		"dailystats": &f.DailyStats,
	})
}

// unmarshalTolerant decodes an object matching keys case-insensitively and
// ignoring underscores, so "avg_duration_ms" and "avgDurationMs" both land
// on the same field.
func unmarshalTolerant(data []byte, fields map[string]any) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		normalized := strings.ReplaceAll(strings.ToLower(key), "_", "")
		dst, ok := fields[normalized]
		if !ok {
			continue
		}
		if err := json.Unmarshal(value, dst); err != nil {
			return err
		}
	}
	return nil
}
