// Package metricsource delivers scored quality samples to the orchestrator.
//
// Pull sources implement Source and are polled once per monitoring tick.
// Push sources implement Consumer and feed the orchestrator's intake queue.
package metricsource

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// Source returns samples for one spectrum recorded after since.
type Source interface {
	Collect(ctx context.Context, spectrum string, since time.Time) ([]types.QualitySample, error)
}

// Consumer pushes samples into sink until ctx is cancelled. sink returns
// false when the sample could not be accepted.
type Consumer interface {
	Run(ctx context.Context, sink func(types.QualitySample) bool) error
}

// Fake is a scripted Source. Samples are returned in timestamp order.
type Fake struct {
	mu      sync.Mutex
	samples map[string][]types.QualitySample
	errs    map[string]error
	calls   int
}

// NewFake creates an empty scripted source.
func NewFake() *Fake {
	return &Fake{
		samples: make(map[string][]types.QualitySample),
		errs:    make(map[string]error),
	}
}

// Add scripts samples; each is filed under its own spectrum.
func (f *Fake) Add(samples ...types.QualitySample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range samples {
		f.samples[s.Spectrum] = append(f.samples[s.Spectrum], s)
	}
	for k := range f.samples {
		list := f.samples[k]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	}
}

// FailWith makes Collect for spectrum return err. A nil err clears it.
func (f *Fake) FailWith(spectrum string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, spectrum)
		return
	}
	f.errs[spectrum] = err
}

// Calls reports how many times Collect has run.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Collect implements Source.
func (f *Fake) Collect(ctx context.Context, spectrum string, since time.Time) ([]types.QualitySample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.errs[spectrum]; err != nil {
		return nil, err
	}
	var out []types.QualitySample
	for _, s := range f.samples[spectrum] {
		if s.Timestamp.After(since) {
			out = append(out, s)
		}
	}
	return out, nil
}
