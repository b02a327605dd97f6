// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/orchat/internal/model"
	"github.com/jeranaias/orchat/internal/util"
)

// =============================================================================
// USAGE LEDGER
// =============================================================================

// UsageLedger accumulates estimated tokens and cost per model and per day.
// An empty path keeps the ledger in memory only.
type UsageLedger struct {
	mu     sync.RWMutex
	path   string
	logger zerolog.Logger
	now    func() time.Time

	Models map[string]*ModelUsage `json:"models"`
	Daily  map[string]*DailyUsage `json:"daily"`
}

// ModelUsage is the running total for one model.
type ModelUsage struct {
	Model        string    `json:"model"`
	Requests     int       `json:"requests"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	LastUsed     time.Time `json:"last_used"`
}

// DailyUsage is the running total for one calendar day. Models holds that
// day's cost per model.
type DailyUsage struct {
	Date     string             `json:"date"`
	Requests int                `json:"requests"`
	Tokens   int                `json:"tokens"`
	Cost     float64            `json:"cost"`
	Models   map[string]float64 `json:"models,omitempty"`
}

// UsageTrends aggregates the ledger over a number of days.
type UsageTrends struct {
	Days           int                `json:"days"`
	TotalCost      float64            `json:"total_cost"`
	TotalTokens    int                `json:"total_tokens"`
	DailyBreakdown []DailyUsage       `json:"daily_breakdown"`
	ModelBreakdown map[string]float64 `json:"model_breakdown"` // cost per model within Days
}

// NewUsageLedger opens the ledger at path, loading any existing totals.
func NewUsageLedger(path string) (*UsageLedger, error) {
	l := &UsageLedger{
		path:   path,
		logger: zerolog.Nop(),
		now:    time.Now,
		Models: make(map[string]*ModelUsage),
		Daily:  make(map[string]*DailyUsage),
	}
	if path == "" {
		return l, nil
	}

	err := util.ReadJSON(path, l)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load usage ledger: %w", err)
	}
	if l.Models == nil {
		l.Models = make(map[string]*ModelUsage)
	}
	if l.Daily == nil {
		l.Daily = make(map[string]*DailyUsage)
	}
	return l, nil
}

// WithLogger sets the logger used for persistence failures.
func (l *UsageLedger) WithLogger(logger zerolog.Logger) *UsageLedger {
	l.logger = logger
	return l
}

// =============================================================================
// RECORDING
// =============================================================================

// Record adds one finished request to the totals. Cost is taken from the
// metrics when present and re-estimated otherwise.
func (l *UsageLedger) Record(modelID string, m model.TokenMetrics) {
	modelID = model.BaseModelID(modelID)
	cost := EstimateCost(modelID, m.InputTokens, m.OutputTokens)
	if m.EstimatedCost != nil {
		cost = *m.EstimatedCost
	}

	l.mu.Lock()
	now := l.now()
	mu := l.Models[modelID]
	if mu == nil {
		mu = &ModelUsage{Model: modelID}
		l.Models[modelID] = mu
	}
	mu.Requests++
	mu.InputTokens += m.InputTokens
	mu.OutputTokens += m.OutputTokens
	mu.Cost += cost
	mu.LastUsed = now

	key := now.Format("2006-01-02")
	day := l.Daily[key]
	if day == nil {
		day = &DailyUsage{Date: key}
		l.Daily[key] = day
	}
	day.Requests++
	day.Tokens += m.InputTokens + m.OutputTokens
	day.Cost += cost
	if day.Models == nil {
		day.Models = make(map[string]float64)
	}
	day.Models[modelID] += cost
	l.mu.Unlock()

	if err := l.Save(); err != nil {
		l.logger.Warn().Err(err).Str("path", l.path).Msg("failed to persist usage ledger")
	}
}

// =============================================================================
// RETRIEVAL
// =============================================================================

// Snapshot returns copies of the per-model totals, most expensive first.
func (l *UsageLedger) Snapshot() []ModelUsage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ModelUsage, 0, len(l.Models))
	for _, mu := range l.Models {
		out = append(out, *mu)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost > out[j].Cost
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// Trends returns totals for the last days calendar days, oldest first.
func (l *UsageLedger) Trends(days int) *UsageTrends {
	l.mu.RLock()
	defer l.mu.RUnlock()

	trends := &UsageTrends{
		Days:           days,
		DailyBreakdown: make([]DailyUsage, 0),
		ModelBreakdown: make(map[string]float64),
	}

	cutoff := l.now().AddDate(0, 0, -days).Format("2006-01-02")
	for key, day := range l.Daily {
		if key <= cutoff {
			continue
		}
		d := *day
		d.Models = maps.Clone(day.Models)
		trends.DailyBreakdown = append(trends.DailyBreakdown, d)
		trends.TotalCost += day.Cost
		trends.TotalTokens += day.Tokens
		for id, cost := range day.Models {
			trends.ModelBreakdown[id] += cost
		}
	}
	sort.Slice(trends.DailyBreakdown, func(i, j int) bool {
		return trends.DailyBreakdown[i].Date < trends.DailyBreakdown[j].Date
	})
	return trends
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Save writes the ledger to disk atomically. It is a no-op for an in-memory
// ledger.
func (l *UsageLedger) Save() error {
	if l.path == "" {
		return nil
	}

	l.mu.RLock()
	data, err := json.MarshalIndent(l, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(l.path, data, 0600)
}

// Reset clears all totals and persists the empty ledger.
func (l *UsageLedger) Reset() error {
	l.mu.Lock()
	l.Models = make(map[string]*ModelUsage)
	l.Daily = make(map[string]*DailyUsage)
	l.mu.Unlock()
	return l.Save()
}
