package providertest

import (
	"context"
	"testing"
	"time"

	"github.com/dwsmith1983/qualityloop/internal/provider"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

func samplePattern(id string, success, failure int) types.LearningPattern {
	return types.LearningPattern{
		PatternID:          id,
		PatternType:        string(types.StrategyPromptRefinement),
		SuccessCount:       success,
		FailureCount:       failure,
		AverageImprovement: 0.031,
		ApplicableContexts: []string{"billing", "customer_profile"},
		ConfidenceScore:    float64(success) / float64(success+failure),
		LastUpdated:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// TestPatternEmptyLoad validates that a new store loads no patterns.
func TestPatternEmptyLoad(t *testing.T, store provider.PatternStore) {
	got, err := store.LoadPatterns(context.Background())
	if err != nil {
		t.Fatalf("LoadPatterns: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no patterns, got %d", len(got))
	}
}

// TestPatternSaveLoad validates a round trip preserves every field.
func TestPatternSaveLoad(t *testing.T, store provider.PatternStore) {
	ctx := context.Background()
	p1 := samplePattern("prompt_refinement", 3, 1)
	p2 := samplePattern("few_shot_billing", 1, 0)

	if err := store.SavePatterns(ctx, []types.LearningPattern{p1, p2}); err != nil {
		t.Fatalf("SavePatterns: %v", err)
	}

	got, err := store.LoadPatterns(ctx)
	if err != nil {
		t.Fatalf("LoadPatterns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(got))
	}
	byID := make(map[string]types.LearningPattern)
	for _, p := range got {
		byID[p.PatternID] = p
	}
	loaded, ok := byID["prompt_refinement"]
	if !ok {
		t.Fatal("prompt_refinement not loaded")
	}
	if loaded.SuccessCount != 3 || loaded.FailureCount != 1 {
		t.Errorf("counts = %d/%d, want 3/1", loaded.SuccessCount, loaded.FailureCount)
	}
	if loaded.ConfidenceScore != 0.75 {
		t.Errorf("confidence = %v, want 0.75", loaded.ConfidenceScore)
	}
	if len(loaded.ApplicableContexts) != 2 {
		t.Errorf("contexts = %v", loaded.ApplicableContexts)
	}
	if !loaded.LastUpdated.Equal(p1.LastUpdated) {
		t.Errorf("last updated = %v, want %v", loaded.LastUpdated, p1.LastUpdated)
	}
}

// TestPatternUpsert validates that saving an existing id replaces it.
func TestPatternUpsert(t *testing.T, store provider.PatternStore) {
	ctx := context.Background()
	if err := store.SavePatterns(ctx, []types.LearningPattern{samplePattern("p", 1, 1)}); err != nil {
		t.Fatalf("SavePatterns: %v", err)
	}
	if err := store.SavePatterns(ctx, []types.LearningPattern{samplePattern("p", 4, 1)}); err != nil {
		t.Fatalf("SavePatterns: %v", err)
	}

	got, err := store.LoadPatterns(ctx)
	if err != nil {
		t.Fatalf("LoadPatterns: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(got))
	}
	if got[0].SuccessCount != 4 {
		t.Errorf("success = %d, want 4", got[0].SuccessCount)
	}
}
