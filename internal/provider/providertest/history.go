package providertest

import (
	"context"
	"testing"
	"time"

	"github.com/dwsmith1983/qualityloop/internal/provider"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

func strPtr(s string) *string { return &s }

func sampleEntry(cycleID string, typ types.EntryType, offset time.Duration) types.ChangeHistoryEntry {
	return types.ChangeHistoryEntry{
		Type:          typ,
		CycleID:       cycleID,
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset),
		Spectrum:      "customer_profile",
		QualityBefore: 0.83,
		Improvements: []types.Improvement{{
			Component: "prompts/customer_profile",
			Before:    strPtr("v1"),
			After:     strPtr("v2"),
			Reason:    "prompt_refinement",
		}},
		ComponentsExecuted: []string{"optimizer", "governor"},
	}
}

// TestHistoryAppendList validates entries come back in append order.
func TestHistoryAppendList(t *testing.T, store provider.HistoryStore) {
	ctx := context.Background()
	entries := []types.ChangeHistoryEntry{
		sampleEntry("c1", types.EntryOptimizationCycle, 0),
		sampleEntry("c2", types.EntryOptimizationFailure, time.Minute),
		sampleEntry("c3", types.EntryOptimizationCycle, 2*time.Minute),
	}
	for _, e := range entries {
		if err := store.AppendEntry(ctx, e); err != nil {
			t.Fatalf("AppendEntry: %v", err)
		}
	}

	got, err := store.ListEntries(ctx)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		if got[i].CycleID != want {
			t.Errorf("entry %d = %s, want %s", i, got[i].CycleID, want)
		}
	}
	if got[1].Type != types.EntryOptimizationFailure {
		t.Errorf("entry 1 type = %s", got[1].Type)
	}
}

// TestHistoryNullableBefore validates that a nil before survives storage.
func TestHistoryNullableBefore(t *testing.T, store provider.HistoryStore) {
	ctx := context.Background()
	e := sampleEntry("fresh", types.EntryOptimizationCycle, 0)
	e.Improvements[0].Before = nil
	if err := store.AppendEntry(ctx, e); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}

	got, err := store.ListEntries(ctx)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(got) != 1 || len(got[0].Improvements) != 1 {
		t.Fatalf("unexpected entries: %+v", got)
	}
	if got[0].Improvements[0].Before != nil {
		t.Errorf("before = %q, want nil", *got[0].Improvements[0].Before)
	}
	if got[0].Improvements[0].After == nil || *got[0].Improvements[0].After != "v2" {
		t.Errorf("after not preserved")
	}
}

// TestHistoryClear validates that clear empties the log and reports the count.
func TestHistoryClear(t *testing.T, store provider.HistoryStore) {
	ctx := context.Background()
	for i, id := range []string{"a", "b"} {
		if err := store.AppendEntry(ctx, sampleEntry(id, types.EntryOptimizationCycle, time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("AppendEntry: %v", err)
		}
	}

	n, err := store.ClearEntries(ctx)
	if err != nil {
		t.Fatalf("ClearEntries: %v", err)
	}
	if n != 2 {
		t.Errorf("cleared = %d, want 2", n)
	}
	got, err := store.ListEntries(ctx)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty log, got %d", len(got))
	}
}
