// Package monitor evaluates windows of quality samples against thresholds.
package monitor

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"gonum.org/v1/gonum/stat"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// window is the sorted, trimmed view of one spectrum's samples.
type window struct {
	spectrum string
	model    string
	scores   []float64
	mean     float64
	stddev   float64
	last     time.Time
}

// rule inspects a window and returns an alert, or nil when it does not fire.
type rule func(th types.Thresholds, w window) *types.QualityAlert

// rules are evaluated independently; more than one may fire per check.
var rules = []rule{
	checkThresholdBreach,
	checkDecline,
	checkVariance,
}

// Monitor is a stateless threshold checker.
type Monitor struct {
	thresholds types.Thresholds
}

// New creates a Monitor. Zero-valued thresholds fall back to defaults.
func New(th types.Thresholds) *Monitor {
	def := types.DefaultThresholds()
	if th.Critical <= 0 {
		th.Critical = def.Critical
	}
	if th.Warning <= 0 {
		th.Warning = def.Warning
	}
	if th.Target <= 0 {
		th.Target = def.Target
	}
	if th.Excellent <= 0 {
		th.Excellent = def.Excellent
	}
	if th.Variance <= 0 {
		th.Variance = def.Variance
	}
	if th.DeclineEpsilon <= 0 {
		th.DeclineEpsilon = def.DeclineEpsilon
	}
	if th.WindowSize <= 0 {
		th.WindowSize = def.WindowSize
	}
	return &Monitor{thresholds: th}
}

// Thresholds returns the effective thresholds.
func (m *Monitor) Thresholds() types.Thresholds {
	return m.thresholds
}

// Check evaluates the most recent WindowSize samples for one spectrum and
// returns every alert that fires. An empty window produces no alerts.
func (m *Monitor) Check(spectrum string, samples []types.QualitySample) []types.QualityAlert {
	if len(samples) == 0 {
		return nil
	}
	w := buildWindow(spectrum, samples, m.thresholds.WindowSize)

	var alerts []types.QualityAlert
	for _, r := range rules {
		if a := r(m.thresholds, w); a != nil {
			alerts = append(alerts, *a)
		}
	}
	return alerts
}

// Classify buckets a mean quality score.
func (m *Monitor) Classify(mean float64) types.QualityBand {
	th := m.thresholds
	switch {
	case mean < th.Critical:
		return types.BandCritical
	case mean < th.Warning:
		return types.BandWarning
	case mean < th.Target:
		return types.BandAcceptable
	case mean < th.Excellent:
		return types.BandTarget
	default:
		return types.BandExcellent
	}
}

// Stats returns the mean and population standard deviation of the scores.
func Stats(scores []float64) (mean, stddev float64) {
	if len(scores) == 0 {
		return 0, 0
	}
	mean, variance := stat.PopMeanVariance(scores, nil)
	return mean, math.Sqrt(variance)
}

func buildWindow(spectrum string, samples []types.QualitySample, size int) window {
	sorted := make([]types.QualitySample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	if size > 0 && len(sorted) > size {
		sorted = sorted[len(sorted)-size:]
	}

	w := window{spectrum: spectrum, model: sorted[0].Model}
	w.scores = make([]float64, len(sorted))
	for i, s := range sorted {
		w.scores[i] = s.Score
		if s.Model != w.model {
			w.model = ""
		}
	}
	w.last = sorted[len(sorted)-1].Timestamp
	w.mean, w.stddev = Stats(w.scores)
	return w
}

func newAlert(w window, typ types.AlertType, sev types.Severity, current, threshold float64, msg string) *types.QualityAlert {
	return &types.QualityAlert{
		ID:             ulid.Make().String(),
		Type:           typ,
		Severity:       sev,
		Spectrum:       w.spectrum,
		Model:          w.model,
		CurrentQuality: current,
		Threshold:      threshold,
		Message:        msg,
		Timestamp:      w.last,
	}
}

// checkThresholdBreach fires at most once; critical takes precedence over warning.
func checkThresholdBreach(th types.Thresholds, w window) *types.QualityAlert {
	switch {
	case w.mean < th.Critical:
		return newAlert(w, types.AlertThresholdBreach, types.SeverityCritical, w.mean, th.Critical,
			fmt.Sprintf("%s quality %.4f below critical threshold %.2f", w.spectrum, w.mean, th.Critical))
	case w.mean < th.Warning:
		return newAlert(w, types.AlertThresholdBreach, types.SeverityHigh, w.mean, th.Warning,
			fmt.Sprintf("%s quality %.4f below warning threshold %.2f", w.spectrum, w.mean, th.Warning))
	}
	return nil
}

// checkDecline fires when every successive score drops by more than epsilon.
func checkDecline(th types.Thresholds, w window) *types.QualityAlert {
	if len(w.scores) < 3 {
		return nil
	}
	var trend float64
	for i := 1; i < len(w.scores); i++ {
		d := w.scores[i] - w.scores[i-1]
		if d >= -th.DeclineEpsilon {
			return nil
		}
		trend += d
	}
	if trend >= 0 {
		return nil
	}
	first := w.scores[0]
	last := w.scores[len(w.scores)-1]
	return newAlert(w, types.AlertQualityDegradation, types.SeverityMedium, last, first,
		fmt.Sprintf("%s quality declining across %d samples (%.4f -> %.4f)", w.spectrum, len(w.scores), first, last))
}

func checkVariance(th types.Thresholds, w window) *types.QualityAlert {
	if w.stddev <= th.Variance {
		return nil
	}
	return newAlert(w, types.AlertHighVariance, types.SeverityLow, w.mean, th.Variance,
		fmt.Sprintf("%s quality stddev %.4f exceeds %.2f", w.spectrum, w.stddev, th.Variance))
}
