package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/qualityloop/internal/metrics"
	"github.com/dwsmith1983/qualityloop/internal/monitor"
	"github.com/dwsmith1983/qualityloop/internal/optimizer"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// Tick runs one monitoring pass: drain intake, poll sources, check every
// tracked spectrum, dispatch its alerts, request optimizations and evaluate
// deployments whose observation window has elapsed.
func (o *Orchestrator) Tick(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "orchestrator.Tick")
	defer span.End()

	o.drainIntake()
	o.collect(ctx)

	var means []float64
	for _, spectrum := range o.spectra() {
		if ctx.Err() != nil {
			return
		}
		window := o.window(spectrum)
		if len(window) == 0 {
			continue
		}
		scores := make([]float64, len(window))
		for i, s := range window {
			scores[i] = s.Score
		}
		mean, _ := monitor.Stats(scores)
		means = append(means, mean)

		alerts := o.c.Monitor.Check(spectrum, window)
		o.bump(func(c *types.Counters) { c.ChecksPerformed++ })
		metrics.Inc(ctx, metrics.ChecksPerformed, attribute.String("spectrum", spectrum))
		if len(alerts) == 0 {
			continue
		}
		o.dispatch(ctx, alerts)

		decision := o.RequestOptimization(spectrum, optimizer.Context{Alerts: alerts, Reason: "alert"})
		if !decision.Accepted {
			o.logger.Debug("optimization deferred", "spectrum", spectrum, "reason", decision.Reason)
		}
	}

	if len(means) > 0 {
		aggregate, _ := monitor.Stats(means)
		o.bump(func(c *types.Counters) { c.CurrentQuality = aggregate })
		metrics.CurrentQuality.Record(ctx, aggregate)
	}
	span.SetAttributes(attribute.Int("spectra", len(means)))

	o.evaluate(ctx)
}

// window returns the monitor's view of spectrum.
func (o *Orchestrator) window(spectrum string) []types.QualitySample {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.buffers[spectrum]
	if !ok {
		return nil
	}
	return b.snapshot()
}

func (o *Orchestrator) drainIntake() {
	for {
		select {
		case s := <-o.intake:
			o.accept(s)
		default:
			return
		}
	}
}

func (o *Orchestrator) accept(s types.QualitySample) {
	o.mu.Lock()
	b, ok := o.buffers[s.Spectrum]
	if !ok {
		b = newBuffer(o.bufferSize)
		o.buffers[s.Spectrum] = b
	}
	b.add(s)
	o.counters.SamplesProcessed++
	o.mu.Unlock()
	metrics.Inc(context.Background(), metrics.SamplesProcessed, attribute.String("spectrum", s.Spectrum))
}

func (o *Orchestrator) reject(reason string, err error) {
	o.bump(func(c *types.Counters) { c.SamplesRejected++ })
	metrics.Inc(context.Background(), metrics.SamplesRejected, attribute.String("reason", reason))
	if err != nil {
		o.logger.Debug("sample rejected", "reason", reason, "error", err)
	}
}

// collect polls every source for every tracked spectrum concurrently. A
// failing source is logged and excluded; the tick continues with whatever
// the others returned.
func (o *Orchestrator) collect(ctx context.Context) {
	if len(o.c.Sources) == 0 {
		return
	}
	type job struct {
		spectrum string
		since    time.Time
	}
	now := o.now()
	var jobs []job
	o.mu.Lock()
	for s := range o.buffers {
		since, ok := o.lastCollect[s]
		if !ok {
			since = now.Add(-defaultLookback)
		}
		jobs = append(jobs, job{spectrum: s, since: since})
	}
	o.mu.Unlock()

	var g errgroup.Group
	results := make([][]types.QualitySample, len(jobs)*len(o.c.Sources))
	for i, j := range jobs {
		for k, src := range o.c.Sources {
			slot := i*len(o.c.Sources) + k
			g.Go(func() error {
				cctx, cancel := context.WithTimeout(ctx, o.collectTimeout)
				defer cancel()
				samples, err := src.Collect(cctx, j.spectrum, j.since)
				if err != nil {
					o.logger.Warn("metric collection failed", "spectrum", j.spectrum, "error", err)
					return nil
				}
				results[slot] = samples
				return nil
			})
		}
	}
	_ = g.Wait()

	for i, j := range jobs {
		latest := j.since
		for k := range o.c.Sources {
			for _, s := range results[i*len(o.c.Sources)+k] {
				if s.Spectrum == "" {
					s.Spectrum = j.spectrum
				}
				if err := s.Validate(); err != nil || s.Spectrum != j.spectrum {
					o.reject("invalid", err)
					continue
				}
				o.accept(s)
				if s.Timestamp.After(latest) {
					latest = s.Timestamp
				}
			}
		}
		o.mu.Lock()
		o.lastCollect[j.spectrum] = latest
		o.mu.Unlock()
	}
}

// dispatch hands alerts to the dispatcher without letting a slow sink stall
// the tick past alertTimeout.
func (o *Orchestrator) dispatch(ctx context.Context, alerts []types.QualityAlert) {
	if o.c.Alerts == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, o.alertTimeout)
	defer cancel()
	for _, a := range alerts {
		if o.c.Alerts.Process(actx, a) {
			o.bump(func(c *types.Counters) { c.AlertsDelivered++ })
		} else {
			o.bump(func(c *types.Counters) { c.AlertsSuppressed++ })
		}
	}
}

func (o *Orchestrator) bump(fn func(c *types.Counters)) {
	o.mu.Lock()
	fn(&o.counters)
	o.mu.Unlock()
}
