// Package learning accumulates per-strategy success statistics from completed
// optimization cycles and persists them through a provider.PatternStore.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dwsmith1983/qualityloop/internal/provider"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// ErrCorruptStore is returned by Open when persisted patterns cannot be decoded.
var ErrCorruptStore = provider.ErrCorrupt

// Accumulator owns the learned patterns. Patterns are only changed through
// RecordCycle; confidence is always derived from the counts.
type Accumulator struct {
	store  provider.PatternStore
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	patterns map[string]types.LearningPattern
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithClock replaces time.Now (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) { a.now = now }
}

// Open loads persisted patterns. A corrupt store is fatal and wraps
// ErrCorruptStore so callers can fail start-up instead of resetting.
func Open(ctx context.Context, store provider.PatternStore, logger *slog.Logger, opts ...Option) (*Accumulator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Accumulator{
		store:    store,
		logger:   logger,
		now:      time.Now,
		patterns: make(map[string]types.LearningPattern),
	}
	for _, o := range opts {
		o(a)
	}

	loaded, err := store.LoadPatterns(ctx)
	if err != nil {
		if errors.Is(err, ErrCorruptStore) {
			return nil, err
		}
		return nil, fmt.Errorf("loading patterns: %w", err)
	}
	for _, p := range loaded {
		if p.SuccessCount < 0 || p.FailureCount < 0 {
			return nil, fmt.Errorf("%w: pattern %s has negative counts", ErrCorruptStore, p.PatternID)
		}
		p.ConfidenceScore = confidence(p.SuccessCount, p.FailureCount)
		a.patterns[p.PatternID] = p
	}
	logger.Info("learning patterns loaded", "count", len(loaded))
	return a, nil
}

// outcome is one (pattern, spectrum, delta) observation extracted from a cycle.
type outcome struct {
	patternID   string
	patternType string
	spectrum    string
	delta       float64
}

func extract(res types.CycleResults) []outcome {
	type key struct{ id, typ string }
	var keys []key
	seen := make(map[string]bool)
	for _, s := range res.StrategiesUsed {
		if s == "" || seen[string(s)] {
			continue
		}
		seen[string(s)] = true
		keys = append(keys, key{id: string(s), typ: string(s)})
	}
	for _, p := range res.IdentifiedPatterns {
		if p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		keys = append(keys, key{id: p.ID, typ: string(p.Strategy)})
	}

	spectra := make([]string, 0, len(res.Improvements))
	for s := range res.Improvements {
		spectra = append(spectra, s)
	}
	sort.Strings(spectra)

	var out []outcome
	for _, k := range keys {
		for _, s := range spectra {
			out = append(out, outcome{patternID: k.id, patternType: k.typ, spectrum: s, delta: res.Improvements[s]})
		}
	}
	return out
}

// RecordCycle folds a completed cycle into the patterns and persists every
// pattern it touched. Nothing changes in memory unless the save succeeds.
func (a *Accumulator) RecordCycle(ctx context.Context, res types.CycleResults) error {
	outcomes := extract(res)
	if len(outcomes) == 0 {
		return nil
	}
	ts := res.Timestamp
	if ts.IsZero() {
		ts = a.now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	changed := make(map[string]types.LearningPattern)
	for _, o := range outcomes {
		p, ok := changed[o.patternID]
		if !ok {
			p, ok = a.patterns[o.patternID]
			if ok {
				p = clonePattern(p)
			} else {
				p = types.LearningPattern{PatternID: o.patternID, PatternType: o.patternType}
			}
		}
		if o.delta >= 0 {
			p.SuccessCount++
			p.AverageImprovement += (o.delta - p.AverageImprovement) / float64(p.SuccessCount)
		} else {
			p.FailureCount++
		}
		p.ConfidenceScore = confidence(p.SuccessCount, p.FailureCount)
		p.AddContext(o.spectrum)
		p.LastUpdated = ts
		changed[o.patternID] = p
	}

	batch := make([]types.LearningPattern, 0, len(changed))
	for _, p := range changed {
		batch = append(batch, p)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].PatternID < batch[j].PatternID })
	if err := a.store.SavePatterns(ctx, batch); err != nil {
		return fmt.Errorf("persisting cycle %s: %w", res.CycleID, err)
	}
	for id, p := range changed {
		a.patterns[id] = p
	}
	a.logger.Debug("cycle recorded", "cycle_id", res.CycleID, "patterns", len(batch))
	return nil
}

// PatternsFor returns patterns observed for spectrum, highest confidence first.
// Ties break on success count, then pattern id.
func (a *Accumulator) PatternsFor(spectrum string) []types.LearningPattern {
	a.mu.RLock()
	var out []types.LearningPattern
	for _, p := range a.patterns {
		if p.AppliesTo(spectrum) {
			out = append(out, clonePattern(p))
		}
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfidenceScore != out[j].ConfidenceScore {
			return out[i].ConfidenceScore > out[j].ConfidenceScore
		}
		if out[i].SuccessCount != out[j].SuccessCount {
			return out[i].SuccessCount > out[j].SuccessCount
		}
		return out[i].PatternID < out[j].PatternID
	})
	return out
}

// Patterns returns every pattern ordered by id.
func (a *Accumulator) Patterns() []types.LearningPattern {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.LearningPattern, 0, len(a.patterns))
	for _, p := range a.patterns {
		out = append(out, clonePattern(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatternID < out[j].PatternID })
	return out
}

// Pattern returns one pattern by id.
func (a *Accumulator) Pattern(id string) (types.LearningPattern, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.patterns[id]
	if !ok {
		return types.LearningPattern{}, false
	}
	return clonePattern(p), true
}

func confidence(success, failure int) float64 {
	if success+failure == 0 {
		return 0
	}
	return float64(success) / float64(success+failure)
}

func clonePattern(p types.LearningPattern) types.LearningPattern {
	p.ApplicableContexts = append([]string(nil), p.ApplicableContexts...)
	return p
}
