// Package history is the append-only governance log. It is the only input
// to rollback-target selection.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dwsmith1983/qualityloop/internal/provider"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// ErrNoRollbackTarget is returned when the log holds no usable rollback target.
var ErrNoRollbackTarget = errors.New("No valid rollback target found") //nolint:staticcheck // exact API message

// Log serializes appends through one mutex and serves reads from an
// in-memory copy of the backend.
type Log struct {
	store provider.HistoryStore

	mu      sync.RWMutex
	entries []types.ChangeHistoryEntry
}

// Open loads the existing log from store.
func Open(ctx context.Context, store provider.HistoryStore) (*Log, error) {
	entries, err := store.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return &Log{store: store, entries: entries}, nil
}

// Append durably stores entry, then makes it visible to readers.
func (l *Log) Append(ctx context.Context, entry types.ChangeHistoryEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("appending %s entry: %w", entry.Type, err)
	}
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a copy of the log in append order.
func (l *Log) Entries() []types.ChangeHistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]types.ChangeHistoryEntry(nil), l.entries...)
}

// Len is the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LastGood returns the most recent optimization_cycle that completed without
// error, was not held and has no optimization_failure recorded under the same
// cycle id. Held cycles stay reachable by explicit id through Target.
func (l *Log) LastGood() (types.ChangeHistoryEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return lastGood(l.entries)
}

func lastGood(entries []types.ChangeHistoryEntry) (types.ChangeHistoryEntry, bool) {
	failed := make(map[string]bool)
	for _, e := range entries {
		if e.Type == types.EntryOptimizationFailure {
			failed[e.CycleID] = true
		}
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if isGood(e) && !e.Held && !failed[e.CycleID] {
			return e, true
		}
	}
	return types.ChangeHistoryEntry{}, false
}

func isGood(e types.ChangeHistoryEntry) bool {
	return e.Type == types.EntryOptimizationCycle && e.Error == ""
}

// Find returns the most recent optimization_cycle entry with cycleID.
func (l *Log) Find(cycleID string) (types.ChangeHistoryEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.CycleID == cycleID && e.Type == types.EntryOptimizationCycle {
			return e, true
		}
	}
	return types.ChangeHistoryEntry{}, false
}

// Target resolves a rollback target: the explicit id when given, otherwise
// the last good state. It returns ErrNoRollbackTarget when neither exists.
func (l *Log) Target(explicitID string) (types.ChangeHistoryEntry, error) {
	if explicitID != "" {
		if e, ok := l.Find(explicitID); ok {
			return e, nil
		}
		return types.ChangeHistoryEntry{}, ErrNoRollbackTarget
	}
	if e, ok := l.LastGood(); ok {
		return e, nil
	}
	return types.ChangeHistoryEntry{}, ErrNoRollbackTarget
}

// Clear irreversibly empties the log and reports how many entries it held.
func (l *Log) Clear(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, err := l.store.ClearEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("clearing history: %w", err)
	}
	if n < len(l.entries) {
		n = len(l.entries)
	}
	l.entries = nil
	return n, nil
}

// Summary derives the governance summary from the current log.
func (l *Log) Summary() types.GovernanceSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := types.GovernanceSummary{TotalChangesTracked: len(l.entries)}
	for _, e := range l.entries {
		switch {
		case isGood(e):
			s.CyclesCompleted++
		case e.Type == types.EntryOptimizationFailure:
			s.CyclesFailed++
		}
	}
	if e, ok := lastGood(l.entries); ok {
		s.RollbackAvailable = true
		s.LastKnownGoodState = &e
	}
	return s
}
