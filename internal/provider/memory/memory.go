// Package memory implements in-process pattern and history stores.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dwsmith1983/qualityloop/internal/provider"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

var (
	_ provider.PatternStore = (*Store)(nil)
	_ provider.HistoryStore = (*Store)(nil)
)

// Store keeps patterns and history entries in memory. State is lost on restart.
type Store struct {
	mu       sync.RWMutex
	patterns map[string]types.LearningPattern
	entries  []types.ChangeHistoryEntry
}

// New creates an empty Store.
func New() *Store {
	return &Store{patterns: make(map[string]types.LearningPattern)}
}

// LoadPatterns returns all patterns ordered by id.
func (s *Store) LoadPatterns(_ context.Context) ([]types.LearningPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.LearningPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, clonePattern(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatternID < out[j].PatternID })
	return out, nil
}

// SavePatterns upserts patterns by id.
func (s *Store) SavePatterns(_ context.Context, patterns []types.LearningPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range patterns {
		s.patterns[p.PatternID] = clonePattern(p)
	}
	return nil
}

// AppendEntry appends one history entry.
func (s *Store) AppendEntry(_ context.Context, entry types.ChangeHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// ListEntries returns a copy of the log in append order.
func (s *Store) ListEntries(_ context.Context) ([]types.ChangeHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ChangeHistoryEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// ClearEntries empties the log.
func (s *Store) ClearEntries(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = nil
	return n, nil
}

func clonePattern(p types.LearningPattern) types.LearningPattern {
	p.ApplicableContexts = append([]string(nil), p.ApplicableContexts...)
	return p
}
