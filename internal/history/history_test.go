package history

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/qualityloop/internal/provider/file"
	"github.com/dwsmith1983/qualityloop/internal/provider/memory"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(cycleID string, typ types.EntryType, min int) types.ChangeHistoryEntry {
	return types.ChangeHistoryEntry{Type: typ, CycleID: cycleID, Timestamp: t0.Add(time.Duration(min) * time.Minute)}
}

func openMemory(t *testing.T) *Log {
	t.Helper()
	l, err := Open(context.Background(), memory.New())
	require.NoError(t, err)
	return l
}

func TestLastGood(t *testing.T) {
	tests := []struct {
		name    string
		entries []types.ChangeHistoryEntry
		want    string
		found   bool
	}{
		{name: "empty log"},
		{
			name:    "latest successful cycle",
			entries: []types.ChangeHistoryEntry{entry("c1", types.EntryOptimizationCycle, 0), entry("c2", types.EntryOptimizationCycle, 1)},
			want:    "c2",
			found:   true,
		},
		{
			name: "skips cycle with associated failure",
			entries: []types.ChangeHistoryEntry{
				entry("c1", types.EntryOptimizationCycle, 0),
				entry("c2", types.EntryOptimizationCycle, 1),
				entry("c2", types.EntryOptimizationFailure, 2),
			},
			want:  "c1",
			found: true,
		},
		{
			name: "skips cycle with error and rollbacks",
			entries: []types.ChangeHistoryEntry{
				entry("c1", types.EntryOptimizationCycle, 0),
				func() types.ChangeHistoryEntry {
					e := entry("c2", types.EntryOptimizationCycle, 1)
					e.Error = "deploy failed"
					return e
				}(),
				entry("r1", types.EntryRollbackExecution, 2),
			},
			want:  "c1",
			found: true,
		},
		{
			name: "skips held cycle",
			entries: []types.ChangeHistoryEntry{
				entry("c1", types.EntryOptimizationCycle, 0),
				func() types.ChangeHistoryEntry {
					e := entry("c2", types.EntryOptimizationCycle, 30)
					e.Held = true
					return e
				}(),
			},
			want:  "c1",
			found: true,
		},
		{
			name: "only held cycles",
			entries: []types.ChangeHistoryEntry{func() types.ChangeHistoryEntry {
				e := entry("c1", types.EntryOptimizationCycle, 0)
				e.Held = true
				return e
			}()},
		},
		{
			name:    "only failures",
			entries: []types.ChangeHistoryEntry{entry("c1", types.EntryOptimizationFailure, 0)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := openMemory(t)
			for _, e := range tt.entries {
				require.NoError(t, l.Append(context.Background(), e))
			}
			got, ok := l.LastGood()
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got.CycleID)
		})
	}
}

func TestTarget(t *testing.T) {
	l := openMemory(t)
	_, err := l.Target("")
	require.True(t, errors.Is(err, ErrNoRollbackTarget))
	assert.Equal(t, "No valid rollback target found", err.Error())

	ctx := context.Background()
	require.NoError(t, l.Append(ctx, entry("c1", types.EntryOptimizationCycle, 0)))
	require.NoError(t, l.Append(ctx, entry("c2", types.EntryOptimizationCycle, 1)))

	got, err := l.Target("c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.CycleID)

	got, err = l.Target("")
	require.NoError(t, err)
	assert.Equal(t, "c2", got.CycleID)

	_, err = l.Target("missing")
	assert.True(t, errors.Is(err, ErrNoRollbackTarget))

	held := entry("c3", types.EntryOptimizationCycle, 2)
	held.Held = true
	require.NoError(t, l.Append(ctx, held))
	got, err = l.Target("")
	require.NoError(t, err)
	assert.Equal(t, "c2", got.CycleID, "held cycles are not implicit targets")
	got, err = l.Target("c3")
	require.NoError(t, err)
	assert.Equal(t, "c3", got.CycleID, "held cycles stay reachable by id")
}

func TestSummaryAndClear(t *testing.T) {
	ctx := context.Background()
	l := openMemory(t)
	require.NoError(t, l.Append(ctx, entry("c1", types.EntryOptimizationCycle, 0)))
	require.NoError(t, l.Append(ctx, entry("c2", types.EntryOptimizationFailure, 1)))
	require.NoError(t, l.Append(ctx, entry("r1", types.EntryRollbackExecution, 2)))

	s := l.Summary()
	assert.True(t, s.RollbackAvailable)
	require.NotNil(t, s.LastKnownGoodState)
	assert.Equal(t, "c1", s.LastKnownGoodState.CycleID)
	assert.Equal(t, 3, s.TotalChangesTracked)
	assert.Equal(t, 1, s.CyclesCompleted)
	assert.Equal(t, 1, s.CyclesFailed)

	n, err := l.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	s = l.Summary()
	assert.False(t, s.RollbackAvailable)
	assert.Nil(t, s.LastKnownGoodState)
	assert.Zero(t, s.TotalChangesTracked)
}

func TestOpen_ReloadsFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	store, err := file.NewHistoryStore(path)
	require.NoError(t, err)
	l, err := Open(ctx, store)
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, entry("c1", types.EntryOptimizationCycle, 0)))

	reopened, err := Open(ctx, store)
	require.NoError(t, err)
	got, ok := reopened.LastGood()
	require.True(t, ok)
	assert.Equal(t, "c1", got.CycleID)
}

func TestAppend_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	l := openMemory(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Append(ctx, entry("c", types.EntryOptimizationCycle, i)))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
	assert.Len(t, l.Entries(), 50)
}
