package monitor

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func samples(spectrum string, scores ...float64) []types.QualitySample {
	out := make([]types.QualitySample, len(scores))
	for i, s := range scores {
		out[i] = types.QualitySample{
			Spectrum:  spectrum,
			Model:     "gpt-x",
			Score:     s,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func alertTypes(alerts []types.QualityAlert) map[types.AlertType]types.Severity {
	out := make(map[types.AlertType]types.Severity)
	for _, a := range alerts {
		out[a.Type] = a.Severity
	}
	return out
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   map[types.AlertType]types.Severity
	}{
		{
			name:   "healthy window",
			scores: []float64{0.96, 0.97, 0.96, 0.97, 0.96},
			want:   map[types.AlertType]types.Severity{},
		},
		{
			name:   "critical breach",
			scores: []float64{0.80, 0.82, 0.81, 0.83, 0.80},
			want:   map[types.AlertType]types.Severity{types.AlertThresholdBreach: types.SeverityCritical},
		},
		{
			name:   "warning breach",
			scores: []float64{0.87, 0.88, 0.87, 0.88, 0.87},
			want:   map[types.AlertType]types.Severity{types.AlertThresholdBreach: types.SeverityHigh},
		},
		{
			name:   "steady decline",
			scores: []float64{0.99, 0.97, 0.95, 0.93},
			want:   map[types.AlertType]types.Severity{types.AlertQualityDegradation: types.SeverityMedium},
		},
		{
			name:   "high variance above warning",
			scores: []float64{1.0, 0.85, 1.0, 0.85, 1.0, 0.85},
			want:   map[types.AlertType]types.Severity{types.AlertHighVariance: types.SeverityLow},
		},
		{
			name:   "decline with one flat step",
			scores: []float64{0.99, 0.97, 0.97, 0.95},
			want:   map[types.AlertType]types.Severity{},
		},
		{
			name:   "two samples never count as a trend",
			scores: []float64{0.99, 0.96},
			want:   map[types.AlertType]types.Severity{},
		},
		{
			name:   "critical decline with variance",
			scores: []float64{0.95, 0.85, 0.75, 0.65},
			want: map[types.AlertType]types.Severity{
				types.AlertThresholdBreach:    types.SeverityCritical,
				types.AlertQualityDegradation: types.SeverityMedium,
				types.AlertHighVariance:       types.SeverityLow,
			},
		},
	}

	m := New(types.DefaultThresholds())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := m.Check("customer_profile", samples("customer_profile", tt.scores...))
			assert.Equal(t, tt.want, alertTypes(alerts))
			for _, a := range alerts {
				assert.Equal(t, "customer_profile", a.Spectrum)
				assert.Equal(t, "gpt-x", a.Model)
				assert.NotEmpty(t, a.ID)
				assert.NotEmpty(t, a.Message)
			}
		})
	}
}

func TestCheck_EmptyWindow(t *testing.T) {
	m := New(types.Thresholds{})
	assert.Empty(t, m.Check("s", nil))
}

func TestCheck_UsesMostRecentWindow(t *testing.T) {
	th := types.DefaultThresholds()
	th.WindowSize = 5
	m := New(th)

	old := samples("s", 0.5, 0.5, 0.5, 0.5, 0.5)
	recent := samples("s", 0.96, 0.97, 0.96, 0.97, 0.96)
	for i := range recent {
		recent[i].Timestamp = recent[i].Timestamp.Add(time.Hour)
	}
	// Out-of-order delivery must not matter.
	window := append(recent, old...)

	assert.Empty(t, m.Check("s", window))
}

func TestCheck_SortsByTimestamp(t *testing.T) {
	m := New(types.DefaultThresholds())
	w := samples("s", 0.99, 0.97, 0.95, 0.93)
	w[0], w[3] = w[3], w[0]
	w[1], w[2] = w[2], w[1]

	alerts := m.Check("s", w)
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertQualityDegradation, alerts[0].Type)
	assert.InDelta(t, 0.93, alerts[0].CurrentQuality, 1e-9)
	assert.Equal(t, base.Add(3*time.Minute), alerts[0].Timestamp)
}

func TestCheck_MixedModelsClearsModel(t *testing.T) {
	m := New(types.DefaultThresholds())
	w := samples("s", 0.80, 0.81, 0.80)
	w[1].Model = "other"

	alerts := m.Check("s", w)
	require.NotEmpty(t, alerts)
	assert.Empty(t, alerts[0].Model)
}

func TestClassify(t *testing.T) {
	m := New(types.DefaultThresholds())
	assert.Equal(t, types.BandCritical, m.Classify(0.80))
	assert.Equal(t, types.BandWarning, m.Classify(0.86))
	assert.Equal(t, types.BandAcceptable, m.Classify(0.92))
	assert.Equal(t, types.BandTarget, m.Classify(0.96))
	assert.Equal(t, types.BandExcellent, m.Classify(0.99))
}

func TestStats(t *testing.T) {
	mean, sd := Stats([]float64{1.0, 0.8})
	assert.InDelta(t, 0.9, mean, 1e-9)
	assert.InDelta(t, 0.1, sd, 1e-9)

	mean, sd = Stats(nil)
	assert.Zero(t, mean)
	assert.Zero(t, sd)
}

func TestCriticalWindowProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	m := New(types.DefaultThresholds())

	properties.Property("mean below critical emits exactly one critical breach", prop.ForAll(
		func(scores []float64) bool {
			if len(scores) == 0 {
				return true
			}
			var breaches int
			for _, a := range m.Check("s", samples("s", scores...)) {
				if a.Type == types.AlertThresholdBreach {
					breaches++
					if a.Severity != types.SeverityCritical {
						return false
					}
				}
			}
			return breaches == 1
		},
		gen.SliceOfN(10, gen.Float64Range(0, 0.84)),
	))

	properties.Property("high variance always alerts regardless of mean", prop.ForAll(
		func(lo float64, pairs int) bool {
			var scores []float64
			for i := 0; i < pairs; i++ {
				scores = append(scores, lo, lo+0.2)
			}
			for _, a := range m.Check("s", samples("s", scores...)) {
				if a.Type == types.AlertHighVariance && a.Severity == types.SeverityLow {
					return true
				}
			}
			return false
		},
		gen.Float64Range(0, 0.8),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
