// Package provider defines the storage backend interfaces for qualityloop.
package provider

import (
	"context"
	"errors"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// ErrCorrupt is returned when persisted state cannot be decoded. Callers treat
// it as fatal at startup rather than silently resetting learned state.
var ErrCorrupt = errors.New("persisted state is corrupt")

// PatternStore persists learning patterns across restarts.
type PatternStore interface {
	// LoadPatterns returns every stored pattern. A decode failure wraps ErrCorrupt.
	LoadPatterns(ctx context.Context) ([]types.LearningPattern, error)
	// SavePatterns upserts the given patterns by pattern id.
	SavePatterns(ctx context.Context, patterns []types.LearningPattern) error
}

// HistoryStore persists the append-only governance log.
type HistoryStore interface {
	// AppendEntry durably appends one entry.
	AppendEntry(ctx context.Context, entry types.ChangeHistoryEntry) error
	// ListEntries returns all entries in append order.
	ListEntries(ctx context.Context) ([]types.ChangeHistoryEntry, error)
	// ClearEntries removes every entry and reports how many were removed.
	ClearEntries(ctx context.Context) (int, error)
}

// Lifecycle is implemented by backends holding connections.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}
