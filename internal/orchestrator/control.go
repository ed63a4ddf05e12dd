package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dwsmith1983/qualityloop/internal/metrics"
	"github.com/dwsmith1983/qualityloop/internal/optimizer"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// Status is a read-only view of the loop.
func (o *Orchestrator) Status() types.StatusReport {
	th := o.c.Monitor.Thresholds()

	o.mu.Lock()
	report := types.StatusReport{
		MonitoringActive: o.running,
		Thresholds:       th,
		Counters:         o.counters,
		Spectra:          make(map[string]types.SpectrumStatus, len(o.buffers)),
		Timestamp:        o.now(),
	}
	for s := range o.active {
		report.ActiveOptimizations = append(report.ActiveOptimizations, s)
	}
	for s, b := range o.buffers {
		st := types.SpectrumStatus{Samples: len(b.samples)}
		if _, ok := o.active[s]; ok {
			st.Optimizing = true
		}
		if last, ok := b.last(); ok {
			st.LastSample = last.Timestamp
			st.Mean = meanOf(b.samples, th.WindowSize)
			st.Band = o.c.Monitor.Classify(st.Mean)
		}
		report.Spectra[s] = st
	}
	o.mu.Unlock()
	sort.Strings(report.ActiveOptimizations)

	for s, st := range report.Spectra {
		st.SuccessRate = o.c.Optimizer.SuccessRate(s)
		report.Spectra[s] = st
	}
	report.ComponentHealth = map[string]bool{
		"monitor":    o.c.Monitor != nil,
		"alerting":   o.c.Alerts == nil || o.c.Alerts.Healthy(),
		"learning":   o.c.Learning != nil,
		"optimizer":  o.c.Optimizer != nil,
		"governor":   o.c.Governor != nil && o.c.Governor.Healthy(),
		"history":    o.c.History != nil,
		"ab_testing": o.ab != nil,
	}
	return report
}

// Trigger runs a manual optimization pass for every tracked spectrum. It is
// rejected while the global manual cooldown is active. Per-spectrum gates
// still apply to each cycle it requests.
func (o *Orchestrator) Trigger(ctx context.Context, reason string) types.TriggerResponse {
	_, span := tracer.Start(ctx, "orchestrator.Trigger")
	defer span.End()

	now := o.now()
	o.mu.Lock()
	if !o.lastManual.IsZero() {
		if remaining := o.manualCooldown - now.Sub(o.lastManual); remaining > 0 {
			o.mu.Unlock()
			return types.TriggerResponse{
				Reason:    fmt.Sprintf("manual_cooldown_active: %s remaining", remaining.Round(time.Second)),
				Timestamp: now,
			}
		}
	}
	o.lastManual = now
	o.mu.Unlock()

	if reason == "" {
		reason = "manual"
	}
	o.drainIntake()
	spectra := o.spectra()
	var started int
	var deferred []string
	for _, s := range spectra {
		d := o.RequestOptimization(s, optimizer.Context{Reason: reason})
		if d.Accepted {
			started++
			continue
		}
		deferred = append(deferred, s+" "+d.Reason)
	}
	span.SetAttributes(attribute.Int("started", started))
	o.logger.Info("manual trigger", "reason", reason, "started", started, "deferred", len(deferred))

	msg := fmt.Sprintf("triggered: %d of %d spectra started", started, len(spectra))
	if len(deferred) > 0 {
		msg += " (deferred: " + strings.Join(deferred, "; ") + ")"
	}
	return types.TriggerResponse{Success: true, Reason: msg, Timestamp: now}
}

// Rollback restores every component of the target entry that recorded its
// prior content. The target is rollbackID when given, otherwise the last good
// state. A rollback_execution entry is appended even when nothing changed.
func (o *Orchestrator) Rollback(ctx context.Context, rollbackID string) types.RollbackResult {
	ctx, span := tracer.Start(ctx, "orchestrator.Rollback")
	defer span.End()

	now := o.now()
	target, err := o.c.History.Target(rollbackID)
	if err != nil {
		return types.RollbackResult{Error: err.Error(), Timestamp: now, Details: []string{}}
	}
	span.SetAttributes(attribute.String("target", target.CycleID))

	res := types.RollbackResult{RolledBackTo: target.CycleID, Timestamp: now, Details: []string{}}
	var restored []types.Improvement
	var failures []string
	for _, imp := range target.Improvements {
		if imp.Before == nil {
			res.Details = append(res.Details, fmt.Sprintf("skipped %s: no prior content recorded", imp.Component))
			continue
		}
		dep := o.c.Governor.Apply(ctx, imp.Component, *imp.Before, "rollback_to:"+target.CycleID)
		if !dep.Deployed {
			failures = append(failures, fmt.Sprintf("%s: %s", imp.Component, dep.Reason))
			res.Details = append(res.Details, fmt.Sprintf("failed %s: %s", imp.Component, dep.Reason))
			continue
		}
		res.ConfigurationsChanged++
		res.Details = append(res.Details, "restored "+imp.Component)
		restored = append(restored, types.Improvement{
			Component: imp.Component,
			Before:    imp.After,
			After:     imp.Before,
			Reason:    "rollback to " + target.CycleID,
		})
	}
	res.Success = len(failures) == 0
	if !res.Success {
		res.Error = "rollback failed for " + strings.Join(failures, "; ")
	}

	entry := types.ChangeHistoryEntry{
		Type:               types.EntryRollbackExecution,
		CycleID:            ulid.Make().String(),
		Timestamp:          now,
		Spectrum:           target.Spectrum,
		Improvements:       restored,
		ComponentsExecuted: []string{"governor"},
		Error:              res.Error,
		RolledBackTo:       target.CycleID,
	}
	if err := o.c.History.Append(ctx, entry); err != nil {
		o.logger.Error("appending rollback entry failed", "target", target.CycleID, "error", err)
		res.Details = append(res.Details, "audit append failed: "+err.Error())
	}

	o.bump(func(c *types.Counters) { c.RollbacksExecuted++ })
	metrics.Inc(ctx, metrics.RollbacksExecuted, attribute.String("target", target.CycleID))
	o.logger.Info("rolled back", "target", target.CycleID, "changed", res.ConfigurationsChanged, "success", res.Success)
	return res
}

// History returns the audit log and its derived summary.
func (o *Orchestrator) History() types.HistoryResponse {
	entries := o.c.History.Entries()
	if entries == nil {
		entries = []types.ChangeHistoryEntry{}
	}
	return types.HistoryResponse{Entries: entries, Summary: o.c.History.Summary()}
}

// ClearHistory irreversibly empties the audit log.
func (o *Orchestrator) ClearHistory(ctx context.Context) (types.ClearHistoryResponse, error) {
	n, err := o.c.History.Clear(ctx)
	if err != nil {
		return types.ClearHistoryResponse{}, err
	}
	o.logger.Warn("audit history cleared", "entries", n)
	return types.ClearHistoryResponse{Success: true, ClearedCount: n}, nil
}

// LastGoodState returns the most recent successful cycle, if any.
func (o *Orchestrator) LastGoodState() (types.ChangeHistoryEntry, bool) {
	return o.c.History.LastGood()
}

// AlertHistory returns up to limit recent alert records.
func (o *Orchestrator) AlertHistory(limit int) []types.AlertRecord {
	if o.c.Alerts == nil {
		return []types.AlertRecord{}
	}
	return o.c.Alerts.History(limit)
}

// Patterns returns learned patterns, for one spectrum when given.
func (o *Orchestrator) Patterns(spectrum string) []types.LearningPattern {
	if spectrum != "" {
		return o.c.Learning.PatternsFor(spectrum)
	}
	return o.c.Learning.Patterns()
}

// Deployments returns every deployment the governor has made, newest first.
func (o *Orchestrator) Deployments() []types.Deployment {
	return o.c.Governor.Deployments()
}

// StartABTest starts an operator-defined A/B test.
func (o *Orchestrator) StartABTest(ctx context.Context, cfg types.ABTestConfig) (types.ABStartResult, error) {
	if o.ab == nil {
		return types.ABStartResult{}, errors.New("ab testing is disabled")
	}
	res := o.ab.Start(ctx, cfg)
	if res.Started {
		o.bump(func(c *types.Counters) { c.ABTestsStarted++ })
	}
	return res, nil
}

// CancelABTest stops a running A/B test, rolling back its variant slot, and
// returns the concluded status. ok is false when no such test is running.
func (o *Orchestrator) CancelABTest(testID string) (status types.ABTestStatus, ok bool, err error) {
	if o.ab == nil {
		return types.ABTestStatus{}, false, errors.New("ab testing is disabled")
	}
	if !o.ab.Cancel(testID) {
		return types.ABTestStatus{}, false, nil
	}
	status, _ = o.ab.Status(testID)
	return status, true, nil
}

// ABTestStatuses lists known A/B tests, newest first.
func (o *Orchestrator) ABTestStatuses() []types.ABTestStatus {
	if o.ab == nil {
		return []types.ABTestStatus{}
	}
	return o.ab.List()
}
