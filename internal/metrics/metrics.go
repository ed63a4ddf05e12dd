// Package metrics exposes runtime counters as OpenTelemetry instruments.
//
// Instruments are created against the global meter provider, so they begin
// exporting as soon as telemetry.Setup installs a real provider.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/dwsmith1983/qualityloop")

var (
	SamplesProcessed       = counter("qualityloop.samples.processed", "Quality samples accepted into spectrum buffers")
	SamplesRejected        = counter("qualityloop.samples.rejected", "Quality samples dropped as invalid or over capacity")
	ChecksPerformed        = counter("qualityloop.checks.performed", "Monitor checks run")
	AlertsDelivered        = counter("qualityloop.alerts.delivered", "Alerts fanned out to sinks")
	AlertsSuppressed       = counter("qualityloop.alerts.suppressed", "Alerts suppressed by cooldown")
	AlertSinkFailures      = counter("qualityloop.alerts.sink_failures", "Per-sink delivery failures")
	OptimizationsTriggered = counter("qualityloop.optimizations.triggered", "Optimization cycles started")
	OptimizationsFailed    = counter("qualityloop.optimizations.failed", "Optimization cycles ending in failure")
	DeploymentsCompleted   = counter("qualityloop.deployments.completed", "Deployments that reached DEPLOYED")
	DeploymentsFailed      = counter("qualityloop.deployments.failed", "Deployments that reached FAILED")
	RollbacksExecuted      = counter("qualityloop.rollbacks.executed", "Rollbacks performed")
	ABTestsConcluded       = counter("qualityloop.abtests.concluded", "A/B tests concluded")
	CurrentQuality         = gauge("qualityloop.quality.current", "Aggregate mean quality across tracked spectra")
)

// Inc adds one to c with optional attributes.
func Inc(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func counter(name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		panic(err)
	}
	return c
}

func gauge(name, desc string) metric.Float64Gauge {
	g, err := meter.Float64Gauge(name, metric.WithDescription(desc))
	if err != nil {
		panic(err)
	}
	return g
}
