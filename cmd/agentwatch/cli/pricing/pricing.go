// Package pricing estimates USD cost from token usage. Prices are USD per
// million tokens; cache reads and writes are charged at a quarter of the
// input rate.
package pricing

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Pricing is one model's rates in USD per million tokens.
type Pricing struct {
	InputPerMillion  float64 `json:"inputPerMillion"`
	OutputPerMillion float64 `json:"outputPerMillion"`
}

// Usage is the token breakdown of one API call or one session.
type Usage struct {
	InputTokens         int64 `json:"inputTokens"`
	OutputTokens        int64 `json:"outputTokens"`
	CacheCreationTokens int64 `json:"cacheCreationTokens"`
	CacheReadTokens     int64 `json:"cacheReadTokens"`
}

// DefaultModel is the fallback for unknown model names: mid-tier Sonnet
// pricing keeps estimates in a sane range either way.
const DefaultModel = "claude-sonnet-4"

// builtin holds the shipped pricing table. Config overrides layer on top.
var builtin = map[string]Pricing{
	"claude-3-5-haiku":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"claude-3-5-sonnet": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-7-sonnet": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-haiku-4-5":  {InputPerMillion: 1.00, OutputPerMillion: 5.00},
	"claude-sonnet-4":   {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-sonnet-4-5": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-opus-4":     {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"claude-opus-4-1":   {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"gpt-4o":            {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":       {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4.1":           {InputPerMillion: 2.00, OutputPerMillion: 8.00},
	"gpt-5":             {InputPerMillion: 1.25, OutputPerMillion: 10.00},
	"gpt-5-mini":        {InputPerMillion: 0.25, OutputPerMillion: 2.00},
	"o3":                {InputPerMillion: 2.00, OutputPerMillion: 8.00},
	"codex-mini":        {InputPerMillion: 1.50, OutputPerMillion: 6.00},
	"gemini-2.5-pro":    {InputPerMillion: 1.25, OutputPerMillion: 10.00},
	"gemini-2.5-flash":  {InputPerMillion: 0.30, OutputPerMillion: 2.50},
}

// dateSuffixRegex strips release-date suffixes like "-20250929".
var dateSuffixRegex = regexp.MustCompile(`-\d{8}$`)

// Table resolves model names to prices. Overrides from config shadow the
// builtin entries.
type Table struct {
	mu        sync.RWMutex
	overrides map[string]Pricing
}

// NewTable returns a table with no overrides.
func NewTable() *Table {
	return &Table{overrides: make(map[string]Pricing)}
}

// Override replaces the pricing for one model (normalised the same way as
// lookups).
func (t *Table) Override(model string, p Pricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.overrides[Normalize(model)] = p
}

// Lookup resolves a model name to its pricing. Unknown models fall back to
// DefaultModel's pricing.
func (t *Table) Lookup(model string) Pricing {
	key := Normalize(model)

	t.mu.RLock()
	if p, ok := t.overrides[key]; ok {
		t.mu.RUnlock()
		return p
	}
	t.mu.RUnlock()

	if p, ok := builtin[key]; ok {
		return p
	}
	// Versioned names like "claude-sonnet-4-5-preview" resolve to the
	// longest builtin key that prefixes them.
	var best string
	for candidate := range builtin {
		if strings.HasPrefix(key, candidate) && len(candidate) > len(best) {
			best = candidate
		}
	}
	if best != "" {
		return builtin[best]
	}
	return builtin[DefaultModel]
}

// Cost estimates the USD cost of usage under the given model. Cache
// creation and cache read tokens are billed at 25% of the input rate.
func (t *Table) Cost(model string, u Usage) float64 {
	p := t.Lookup(model)
	cost := float64(u.InputTokens) * p.InputPerMillion / 1e6
	cost += float64(u.OutputTokens) * p.OutputPerMillion / 1e6
	cost += float64(u.CacheCreationTokens+u.CacheReadTokens) * p.InputPerMillion / 1e6 * 0.25
	return cost
}

// Normalize lowercases a model name and strips any release-date suffix.
func Normalize(model string) string {
	return dateSuffixRegex.ReplaceAllString(strings.ToLower(strings.TrimSpace(model)), "")
}

// FormatCost renders a USD amount: four decimals below one cent, two
// otherwise.
func FormatCost(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return fmt.Sprintf("$%.2f", usd)
}

// FormatTokens condenses a token count with K/M suffixes.
func FormatTokens(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
