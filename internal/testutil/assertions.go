package testutil

import (
	"testing"
	"time"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// Samples builds quality samples for spectrum one minute apart from start.
func Samples(spectrum string, start time.Time, scores ...float64) []types.QualitySample {
	out := make([]types.QualitySample, len(scores))
	for i, s := range scores {
		out[i] = types.QualitySample{
			Spectrum:  spectrum,
			Model:     "primary",
			Score:     s,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

// Repeat returns n copies of score.
func Repeat(score float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = score
	}
	return out
}
