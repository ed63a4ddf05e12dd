package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

type staticPatterns map[string][]types.LearningPattern

func (s staticPatterns) PatternsFor(spectrum string) []types.LearningPattern { return s[spectrum] }

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestOptimize_DefaultWithoutPatterns(t *testing.T) {
	o := New(staticPatterns{}, nil, WithClock(func() time.Time { return now }))

	res, err := o.Optimize(context.Background(), "billing", 0.83, Context{})
	require.NoError(t, err)
	assert.Equal(t, types.StrategyGradualEnhancement, res.Strategy)
	assert.Equal(t, 0.02, res.ExpectedImprovement)
	assert.Equal(t, 0.5, res.Confidence)
	assert.Zero(t, res.LearningApplied)
	assert.Equal(t, 0.83, res.CurrentQuality)
	assert.Equal(t, now, res.CreatedAt)
	require.NotNil(t, res.Artifact.GradualEnhancement)
	assert.NoError(t, res.Artifact.Validate())
}

func TestOptimize_UsesTopPattern(t *testing.T) {
	src := staticPatterns{"billing": {
		{PatternID: "prompt_refinement", PatternType: "prompt_refinement", ConfidenceScore: 0.9, AverageImprovement: 0.04},
		{PatternID: "temperature_tuning", PatternType: "temperature_tuning", ConfidenceScore: 0.6, AverageImprovement: 0.08},
	}}
	o := New(src, nil)

	res, err := o.Optimize(context.Background(), "billing", 0.86, Context{})
	require.NoError(t, err)
	assert.Equal(t, types.StrategyPromptRefinement, res.Strategy)
	assert.Equal(t, "prompt_refinement", res.PatternID)
	assert.Equal(t, 0.04, res.ExpectedImprovement)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, 2, res.LearningApplied)
	require.NotNil(t, res.Artifact.PromptRefinement)
	assert.Contains(t, res.Artifact.PromptRefinement.SystemPrompt, "billing")
}

func TestOptimize_UnknownStrategyFallsBackToGradualArtifact(t *testing.T) {
	src := staticPatterns{"s": {{PatternID: "chain_of_thought", PatternType: "chain_of_thought", ConfidenceScore: 0.8}}}
	o := New(src, nil)

	res, err := o.Optimize(context.Background(), "s", 0.9, Context{})
	require.NoError(t, err)
	assert.Equal(t, types.StrategyKind("chain_of_thought"), res.Strategy)
	assert.Equal(t, types.StrategyGradualEnhancement, res.Artifact.Kind)
}

func TestBuilders_AllKindsValidate(t *testing.T) {
	critical := Context{Alerts: []types.QualityAlert{
		{Type: types.AlertThresholdBreach, Severity: types.SeverityCritical},
		{Type: types.AlertHighVariance, Severity: types.SeverityLow},
		{Type: types.AlertQualityDegradation, Severity: types.SeverityMedium},
	}}
	o := New(staticPatterns{}, nil)
	for kind := range builders {
		for _, octx := range []Context{{}, critical} {
			t.Run(string(kind), func(t *testing.T) {
				a, err := o.build(kind, "customer_profile", 0.7, octx)
				require.NoError(t, err)
				assert.Equal(t, kind, a.Kind)
				assert.NoError(t, a.Validate())
			})
		}
	}
}

func TestBuildTemperatureTuning_VarianceLowersTemperature(t *testing.T) {
	a, err := buildTemperatureTuning("s", 0, Context{Alerts: []types.QualityAlert{{Type: types.AlertHighVariance}}})
	require.NoError(t, err)
	assert.Equal(t, 0.2, a.TemperatureTuning.Temperature)
}

func TestSuccessRate_RollingWindow(t *testing.T) {
	o := New(staticPatterns{}, nil, WithHistorySize(4))
	assert.Zero(t, o.SuccessRate("s"))

	for _, ok := range []bool{false, false, true, true, true, false} {
		o.RecordAttempt("s", types.StrategyGradualEnhancement, ok)
	}
	// Only the last four (true, true, true, false) are kept.
	assert.Len(t, o.Attempts("s"), 4)
	assert.Equal(t, 0.75, o.SuccessRate("s"))
	assert.Zero(t, o.SuccessRate("other"))
}
