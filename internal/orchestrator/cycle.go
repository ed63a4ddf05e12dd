package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dwsmith1983/qualityloop/internal/abtest"
	"github.com/dwsmith1983/qualityloop/internal/artifact"
	"github.com/dwsmith1983/qualityloop/internal/metrics"
	"github.com/dwsmith1983/qualityloop/internal/monitor"
	"github.com/dwsmith1983/qualityloop/internal/optimizer"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

const auditTimeout = 10 * time.Second

// Components each cycle runs, in order, as recorded in the audit log.
var cycleComponents = []string{"monitor", "optimizer", "governor"}

// RequestOptimization starts an optimization cycle for spectrum unless it is
// already running, the concurrency cap is reached, or the spectrum is within
// its cooldown. The check and the insert into the active set are atomic.
func (o *Orchestrator) RequestOptimization(spectrum string, octx optimizer.Context) types.TriggerDecision {
	now := o.now()

	o.mu.Lock()
	if id, ok := o.active[spectrum]; ok {
		o.mu.Unlock()
		return types.TriggerDecision{Reason: "already_active: cycle " + id}
	}
	if len(o.active) >= o.maxConcurrent {
		o.mu.Unlock()
		return types.TriggerDecision{Reason: fmt.Sprintf("capacity_reached: %d of %d optimizations running", o.maxConcurrent, o.maxConcurrent)}
	}
	if last, ok := o.lastOptimization[spectrum]; ok {
		if remaining := o.cooldown - now.Sub(last); remaining > 0 {
			o.mu.Unlock()
			return types.TriggerDecision{
				Reason:    fmt.Sprintf("cooldown_active: %s remaining", remaining.Round(time.Second)),
				Remaining: remaining,
			}
		}
	}
	cycleID := ulid.Make().String()
	o.active[spectrum] = cycleID
	o.counters.OptimizationsTriggered++
	var quality float64
	if b, ok := o.buffers[spectrum]; ok {
		quality = meanOf(b.snapshot(), o.c.Monitor.Thresholds().WindowSize)
	}
	o.cycleWG.Add(1)
	o.mu.Unlock()

	metrics.Inc(context.Background(), metrics.OptimizationsTriggered, attribute.String("spectrum", spectrum))
	o.logger.Info("optimization triggered", "spectrum", spectrum, "cycle_id", cycleID, "quality", quality, "reason", octx.Reason)

	go o.runCycle(cycleID, spectrum, quality, octx)
	return types.TriggerDecision{Accepted: true, CycleID: cycleID}
}

func (o *Orchestrator) runCycle(cycleID, spectrum string, quality float64, octx optimizer.Context) {
	defer o.cycleWG.Done()
	ctx, cancel := context.WithTimeout(o.baseCtx, o.cycleTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "orchestrator.Cycle")
	defer span.End()
	span.SetAttributes(attribute.String("spectrum", spectrum), attribute.String("cycle_id", cycleID))

	defer func() {
		o.mu.Lock()
		delete(o.active, spectrum)
		o.lastOptimization[spectrum] = o.now()
		o.mu.Unlock()
	}()

	entry := types.ChangeHistoryEntry{
		Type:          types.EntryOptimizationCycle,
		CycleID:       cycleID,
		Timestamp:     o.now(),
		Spectrum:      spectrum,
		QualityBefore: quality,
	}

	escalated, err := o.cycle(ctx, &entry, octx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry.Type = types.EntryOptimizationFailure
		entry.Error = err.Error()
		o.bump(func(c *types.Counters) { c.OptimizationsFailed++ })
		metrics.Inc(ctx, metrics.OptimizationsFailed, attribute.String("spectrum", spectrum))
		o.logger.Error("optimization cycle failed", "spectrum", spectrum, "cycle_id", cycleID, "error", err)
	}
	if escalated {
		// the A/B test records its own outcome
		return
	}
	o.audit(entry)
}

// cycle runs optimize then deploy and fills entry. A returned error marks the
// cycle as failed.
func (o *Orchestrator) cycle(ctx context.Context, entry *types.ChangeHistoryEntry, octx optimizer.Context) (escalated bool, err error) {
	spectrum := entry.Spectrum
	entry.ComponentsExecuted = append(entry.ComponentsExecuted, "monitor", "optimizer")
	result, err := o.c.Optimizer.Optimize(ctx, spectrum, entry.QualityBefore, octx)
	if err != nil {
		return false, fmt.Errorf("optimizing: %w", err)
	}

	location := o.Location(spectrum)
	before, err := o.read(ctx, location)
	if err != nil {
		return false, fmt.Errorf("reading current artifact: %w", err)
	}

	entry.ComponentsExecuted = append(entry.ComponentsExecuted, "governor")
	dep := o.c.Governor.Deploy(ctx, location, result)
	switch {
	case dep.Deployed:
		after := dep.Deployment.Artifact
		entry.Improvements = []types.Improvement{{
			Component: location,
			Before:    before,
			After:     &after,
			Reason:    string(result.Strategy),
		}}
		o.bump(func(c *types.Counters) { c.DeploymentsCompleted++ })
		o.scheduleEvaluation(pendingEvaluation{
			cycleID:      entry.CycleID,
			spectrum:     spectrum,
			deploymentID: dep.Deployment.DeploymentID,
			strategy:     result.Strategy,
			patternID:    result.PatternID,
			baseline:     entry.QualityBefore,
			deployedAt:   o.now(),
		})
		return false, nil
	case dep.Deployment != nil || !strings.HasPrefix(dep.Reason, "not_ready"):
		return false, errors.New(dep.Reason)
	}

	o.logger.Info("optimization held", "spectrum", spectrum, "cycle_id", entry.CycleID, "reason", dep.Reason)
	entry.Held = true
	if dep.Readiness != nil && strings.HasPrefix(dep.Readiness.Recommendation, "ab_test") && o.ab != nil {
		return o.escalate(ctx, entry, result, location, before), nil
	}
	return false, nil
}

func (o *Orchestrator) read(ctx context.Context, location string) (*string, error) {
	if o.c.Artifacts == nil {
		return nil, nil
	}
	content, err := o.c.Artifacts.Read(ctx, location)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &content, nil
}

// escalate starts an A/B test for a result that cleared the improvement gate
// but not the confidence gate.
func (o *Orchestrator) escalate(ctx context.Context, entry *types.ChangeHistoryEntry, result types.OptimizationResult, location string, before *string) bool {
	content, err := result.Artifact.Encode()
	if err != nil {
		o.logger.Error("cannot encode artifact for ab test", "spectrum", entry.Spectrum, "error", err)
		return false
	}
	cfg := types.ABTestConfig{
		TestID:          entry.CycleID,
		Spectrum:        entry.Spectrum,
		VariantArtifact: content,
		TrafficSplit:    o.abSettings.TrafficSplit,
		TargetScope:     location,
		Duration:        parseDuration(o.abSettings.Duration, abtest.DefaultDuration),
		MinSampleSize:   positive(o.abSettings.MinSampleSize, abtest.DefaultMinSampleSize),
	}
	if cfg.TrafficSplit <= 0 {
		cfg.TrafficSplit = abtest.DefaultTrafficSplit
	}
	if before != nil {
		cfg.ControlArtifact = *before
	}

	o.mu.Lock()
	o.abCycles[cfg.TestID] = abCycle{
		cycleID:       entry.CycleID,
		spectrum:      entry.Spectrum,
		location:      location,
		strategy:      result.Strategy,
		patternID:     result.PatternID,
		before:        before,
		after:         content,
		qualityBefore: entry.QualityBefore,
	}
	o.mu.Unlock()

	started := o.ab.Start(ctx, cfg)
	if !started.Started {
		o.mu.Lock()
		delete(o.abCycles, cfg.TestID)
		o.mu.Unlock()
		o.logger.Info("ab escalation rejected", "spectrum", entry.Spectrum, "reason", started.Reason)
		return false
	}
	o.bump(func(c *types.Counters) { c.ABTestsStarted++ })
	o.audit(types.ChangeHistoryEntry{
		Type:               types.EntryABTest,
		CycleID:            entry.CycleID,
		Timestamp:          o.now(),
		Spectrum:           entry.Spectrum,
		QualityBefore:      entry.QualityBefore,
		ComponentsExecuted: append(entry.ComponentsExecuted, "abtest"),
	})
	return true
}

// abCompleted folds a concluded escalation back into learning and the audit
// log. Tests started outside a cycle are only audited.
func (o *Orchestrator) abCompleted(res types.ABTestResult) {
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	o.mu.Lock()
	ac, ok := o.abCycles[res.TestID]
	delete(o.abCycles, res.TestID)
	o.mu.Unlock()

	entry := types.ChangeHistoryEntry{
		Type:               types.EntryABTest,
		CycleID:            res.TestID,
		Timestamp:          o.now(),
		Spectrum:           res.Spectrum,
		QualityBefore:      res.ControlMetrics.Mean,
		ComponentsExecuted: []string{"abtest"},
	}
	if res.Outcome != types.ABPromoted {
		entry.Error = "ab_test " + string(res.Outcome) + ": " + res.Reason
	}
	if ok {
		entry.QualityBefore = ac.qualityBefore
		entry.ComponentsExecuted = append(append([]string(nil), cycleComponents...), "abtest")
		if res.Outcome == types.ABPromoted {
			after := ac.after
			entry.Type = types.EntryOptimizationCycle
			entry.Improvements = []types.Improvement{{
				Component: ac.location,
				Before:    ac.before,
				After:     &after,
				Reason:    "ab_test promoted " + string(ac.strategy),
			}}
			o.bump(func(c *types.Counters) { c.DeploymentsCompleted++ })
		}
		if res.ControlMetrics.SampleSize > 0 && res.VariantMetrics.SampleSize > 0 {
			o.learn(ctx, ac.cycleID, ac.spectrum, ac.strategy, ac.patternID, res.Delta)
		}
	}
	o.audit(entry)
}

func (o *Orchestrator) scheduleEvaluation(ev pendingEvaluation) {
	ev.expiresAt = ev.deployedAt.Add(4 * o.evaluationDelay)
	o.mu.Lock()
	o.evaluations = append(o.evaluations, ev)
	o.mu.Unlock()
}

// evaluate compares post-deployment quality against the cycle's baseline once
// the evaluation delay has passed and enough new samples have arrived. The
// outcome is learned and may roll the deployment back.
func (o *Orchestrator) evaluate(ctx context.Context) {
	now := o.now()
	type due struct {
		ev   pendingEvaluation
		mean float64
	}
	var ready []due

	o.mu.Lock()
	kept := o.evaluations[:0]
	for _, ev := range o.evaluations {
		if now.Sub(ev.deployedAt) < o.evaluationDelay {
			kept = append(kept, ev)
			continue
		}
		var fresh []types.QualitySample
		if b, ok := o.buffers[ev.spectrum]; ok {
			fresh = b.since(ev.deployedAt)
		}
		if len(fresh) >= o.minEvalSamples {
			ready = append(ready, due{ev: ev, mean: meanOf(fresh, 0)})
			continue
		}
		if now.After(ev.expiresAt) {
			o.logger.Warn("evaluation expired without enough samples",
				"spectrum", ev.spectrum, "cycle_id", ev.cycleID, "samples", len(fresh))
			continue
		}
		kept = append(kept, ev)
	}
	o.evaluations = kept
	o.mu.Unlock()

	for _, d := range ready {
		ev := d.ev
		delta := d.mean - ev.baseline
		o.learn(ctx, ev.cycleID, ev.spectrum, ev.strategy, ev.patternID, delta)

		rev, err := o.c.Governor.Observe(ctx, ev.deploymentID, d.mean, ev.baseline)
		if err != nil {
			o.logger.Warn("cannot observe deployment", "deployment_id", ev.deploymentID, "error", err)
			continue
		}
		if !rev.Success {
			continue
		}
		o.bump(func(c *types.Counters) { c.RollbacksExecuted++ })
		metrics.Inc(ctx, metrics.RollbacksExecuted, attribute.String("spectrum", ev.spectrum))
		o.audit(types.ChangeHistoryEntry{
			Type:               types.EntryRollbackExecution,
			CycleID:            ulid.Make().String(),
			Timestamp:          o.now(),
			Spectrum:           ev.spectrum,
			QualityBefore:      d.mean,
			ComponentsExecuted: []string{"governor"},
			RolledBackTo:       "before:" + ev.cycleID,
		})
	}
}

func (o *Orchestrator) learn(ctx context.Context, cycleID, spectrum string, strategy types.StrategyKind, patternID string, delta float64) {
	res := types.CycleResults{
		CycleID:        cycleID,
		StrategiesUsed: []types.StrategyKind{strategy},
		Improvements:   map[string]float64{spectrum: delta},
		Timestamp:      o.now(),
	}
	if patternID != "" && patternID != string(strategy) {
		res.IdentifiedPatterns = []types.PatternObservation{{ID: patternID, Strategy: strategy}}
	}
	if err := o.c.Learning.RecordCycle(ctx, res); err != nil {
		o.logger.Error("recording cycle outcome failed", "cycle_id", cycleID, "error", err)
	}
	o.c.Optimizer.RecordAttempt(spectrum, strategy, delta >= 0)
	o.logger.Info("cycle evaluated", "spectrum", spectrum, "cycle_id", cycleID, "strategy", strategy, "delta", delta)
}

// audit appends entry; a store failure is logged and the cycle result stands.
func (o *Orchestrator) audit(entry types.ChangeHistoryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := o.c.History.Append(ctx, entry); err != nil {
		o.logger.Error("appending audit entry failed", "type", entry.Type, "cycle_id", entry.CycleID, "error", err)
	}
}

// meanOf averages the newest limit samples; limit <= 0 uses all of them.
func meanOf(samples []types.QualitySample, limit int) float64 {
	if limit > 0 && len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	scores := make([]float64, len(samples))
	for i, s := range samples {
		scores[i] = s.Score
	}
	mean, _ := monitor.Stats(scores)
	return mean
}
