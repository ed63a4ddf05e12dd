package learning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/qualityloop/internal/provider"
	"github.com/dwsmith1983/qualityloop/internal/provider/memory"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

var ts = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stubStore lets tests inject load and save failures.
type stubStore struct {
	loadFn func(ctx context.Context) ([]types.LearningPattern, error)
	saveFn func(ctx context.Context, patterns []types.LearningPattern) error
}

func (s *stubStore) LoadPatterns(ctx context.Context) ([]types.LearningPattern, error) {
	if s.loadFn != nil {
		return s.loadFn(ctx)
	}
	return nil, nil
}

func (s *stubStore) SavePatterns(ctx context.Context, patterns []types.LearningPattern) error {
	if s.saveFn != nil {
		return s.saveFn(ctx, patterns)
	}
	return nil
}

func cycle(id string, strategy types.StrategyKind, improvements map[string]float64) types.CycleResults {
	return types.CycleResults{
		CycleID:        id,
		StrategiesUsed: []types.StrategyKind{strategy},
		Improvements:   improvements,
		Timestamp:      ts,
	}
}

func openMemory(t *testing.T) (*Accumulator, *memory.Store) {
	t.Helper()
	store := memory.New()
	acc, err := Open(context.Background(), store, nil)
	require.NoError(t, err)
	return acc, store
}

func TestRecordCycle_CountsAndAverages(t *testing.T) {
	acc, _ := openMemory(t)
	ctx := context.Background()

	require.NoError(t, acc.RecordCycle(ctx, cycle("c1", types.StrategyPromptRefinement, map[string]float64{"billing": 0.04})))
	require.NoError(t, acc.RecordCycle(ctx, cycle("c2", types.StrategyPromptRefinement, map[string]float64{"billing": 0.02})))
	require.NoError(t, acc.RecordCycle(ctx, cycle("c3", types.StrategyPromptRefinement, map[string]float64{"customer_profile": -0.01})))

	p, ok := acc.Pattern(string(types.StrategyPromptRefinement))
	require.True(t, ok)
	assert.Equal(t, 2, p.SuccessCount)
	assert.Equal(t, 1, p.FailureCount)
	assert.InDelta(t, 2.0/3.0, p.ConfidenceScore, 1e-12)
	assert.InDelta(t, 0.03, p.AverageImprovement, 1e-12)
	assert.Equal(t, []string{"billing", "customer_profile"}, p.ApplicableContexts)
	assert.Equal(t, ts, p.LastUpdated)
}

func TestRecordCycle_ZeroDeltaIsSuccess(t *testing.T) {
	acc, _ := openMemory(t)
	require.NoError(t, acc.RecordCycle(context.Background(), cycle("c1", types.StrategyTemperatureTuning, map[string]float64{"s": 0})))
	p, _ := acc.Pattern(string(types.StrategyTemperatureTuning))
	assert.Equal(t, 1, p.SuccessCount)
	assert.Equal(t, 1.0, p.ConfidenceScore)
}

func TestRecordCycle_IdentifiedPatterns(t *testing.T) {
	acc, _ := openMemory(t)
	res := cycle("c1", types.StrategyExampleAugmentation, map[string]float64{"billing": 0.05})
	res.IdentifiedPatterns = []types.PatternObservation{{ID: "few_shot_invoices", Strategy: types.StrategyExampleAugmentation}}
	require.NoError(t, acc.RecordCycle(context.Background(), res))

	all := acc.Patterns()
	require.Len(t, all, 2)
	assert.Equal(t, "example_augmentation", all[0].PatternID)
	assert.Equal(t, "few_shot_invoices", all[1].PatternID)
	assert.Equal(t, "example_augmentation", all[1].PatternType)
}

func TestRecordCycle_NoImprovementsIsNoop(t *testing.T) {
	acc, _ := openMemory(t)
	require.NoError(t, acc.RecordCycle(context.Background(), cycle("c1", types.StrategyPromptRefinement, nil)))
	assert.Empty(t, acc.Patterns())
}

func TestRecordCycle_PersistsEveryCall(t *testing.T) {
	acc, store := openMemory(t)
	ctx := context.Background()
	require.NoError(t, acc.RecordCycle(ctx, cycle("c1", types.StrategyPromptRefinement, map[string]float64{"billing": 0.03})))

	reopened, err := Open(ctx, store, nil)
	require.NoError(t, err)
	p, ok := reopened.Pattern(string(types.StrategyPromptRefinement))
	require.True(t, ok)
	assert.Equal(t, 1, p.SuccessCount)
}

func TestRecordCycle_SaveFailureLeavesStateUnchanged(t *testing.T) {
	store := &stubStore{saveFn: func(context.Context, []types.LearningPattern) error { return errors.New("disk full") }}
	acc, err := Open(context.Background(), store, nil)
	require.NoError(t, err)

	err = acc.RecordCycle(context.Background(), cycle("c1", types.StrategyPromptRefinement, map[string]float64{"billing": 0.03}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, acc.Patterns())
}

func TestOpen_CorruptStoreIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		store *stubStore
	}{
		{
			name: "decode failure",
			store: &stubStore{loadFn: func(context.Context) ([]types.LearningPattern, error) {
				return nil, errors.Join(provider.ErrCorrupt, errors.New("bad json"))
			}},
		},
		{
			name: "negative counts",
			store: &stubStore{loadFn: func(context.Context) ([]types.LearningPattern, error) {
				return []types.LearningPattern{{PatternID: "p", SuccessCount: -1}}, nil
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.store, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptStore))
		})
	}
}

func TestOpen_RecomputesConfidence(t *testing.T) {
	store := &stubStore{loadFn: func(context.Context) ([]types.LearningPattern, error) {
		return []types.LearningPattern{{PatternID: "p", SuccessCount: 3, FailureCount: 1, ConfidenceScore: 0.1}}, nil
	}}
	acc, err := Open(context.Background(), store, nil)
	require.NoError(t, err)
	p, _ := acc.Pattern("p")
	assert.Equal(t, 0.75, p.ConfidenceScore)
}

func TestPatternsFor_Ordering(t *testing.T) {
	acc, _ := openMemory(t)
	ctx := context.Background()
	// gradual: 1/1 success, refinement: 2/2 success, tuning: 1/2.
	require.NoError(t, acc.RecordCycle(ctx, cycle("a", types.StrategyGradualEnhancement, map[string]float64{"s": 0.01})))
	require.NoError(t, acc.RecordCycle(ctx, cycle("b", types.StrategyPromptRefinement, map[string]float64{"s": 0.02})))
	require.NoError(t, acc.RecordCycle(ctx, cycle("c", types.StrategyPromptRefinement, map[string]float64{"s": 0.03})))
	require.NoError(t, acc.RecordCycle(ctx, cycle("d", types.StrategyTemperatureTuning, map[string]float64{"s": 0.01})))
	require.NoError(t, acc.RecordCycle(ctx, cycle("e", types.StrategyTemperatureTuning, map[string]float64{"s": -0.01})))
	require.NoError(t, acc.RecordCycle(ctx, cycle("f", types.StrategyContextExpansion, map[string]float64{"other": 0.05})))

	got := acc.PatternsFor("s")
	ids := make([]string, len(got))
	for i, p := range got {
		ids[i] = p.PatternID
	}
	assert.Equal(t, []string{"prompt_refinement", "gradual_enhancement", "temperature_tuning"}, ids)
	assert.Empty(t, acc.PatternsFor("unknown"))
}

func TestConfidenceInvariantProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("confidence equals success/(success+failure) after every record", prop.ForAll(
		func(deltas []float64) bool {
			acc, err := Open(context.Background(), memory.New(), nil)
			if err != nil {
				return false
			}
			var success, failure int
			for i, d := range deltas {
				if d >= 0 {
					success++
				} else {
					failure++
				}
				res := cycle(string(rune('a'+i%26)), types.StrategyPromptRefinement, map[string]float64{"s": d})
				if err := acc.RecordCycle(context.Background(), res); err != nil {
					return false
				}
				p, ok := acc.Pattern("prompt_refinement")
				if !ok || p.SuccessCount != success || p.FailureCount != failure {
					return false
				}
				if p.ConfidenceScore != float64(p.SuccessCount)/float64(p.SuccessCount+p.FailureCount) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(30, gen.Float64Range(-0.1, 0.1)),
	))

	properties.TestingRun(t)
}
