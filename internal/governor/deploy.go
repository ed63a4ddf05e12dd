package governor

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dwsmith1983/qualityloop/internal/metrics"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// Deploy ships result to location when it passes readiness. The current
// content is snapshotted before anything is written; a failed snapshot or
// write leaves location as it was.
func (g *Governor) Deploy(ctx context.Context, location string, result types.OptimizationResult) types.DeployResult {
	ctx, span := tracer.Start(ctx, "governor.Deploy")
	defer span.End()
	span.SetAttributes(attribute.String("spectrum", result.Spectrum), attribute.String("location", location))

	readiness := g.EvaluateReadiness(result)
	if !readiness.Ready {
		span.SetAttributes(attribute.Bool("ready", false))
		return types.DeployResult{
			Reason:    "not_ready: " + readiness.Recommendation,
			Readiness: &readiness,
		}
	}

	content, err := result.Artifact.Encode()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return types.DeployResult{Reason: fmt.Sprintf("invalid_artifact: %v", err), Readiness: &readiness}
	}

	d := g.newDeployment(location, content, result.Strategy, result.Spectrum, string(result.Strategy))
	d.ValidationResults = &readiness
	res := g.apply(ctx, d)
	if !res.Deployed {
		span.SetStatus(codes.Error, res.Reason)
	}
	return res
}

// Apply writes raw content to location with the same snapshot-first
// discipline as Deploy but without readiness gates. It is used for A/B
// promotion, A/B variant slots and rollback-to-last-good writes.
func (g *Governor) Apply(ctx context.Context, location, content, reason string) types.DeployResult {
	ctx, span := tracer.Start(ctx, "governor.Apply")
	defer span.End()
	span.SetAttributes(attribute.String("location", location), attribute.String("reason", reason))

	d := g.newDeployment(location, content, "", "", reason)
	res := g.apply(ctx, d)
	if !res.Deployed {
		span.SetStatus(codes.Error, res.Reason)
	}
	return res
}

func (g *Governor) newDeployment(location, content string, strategy types.StrategyKind, spectrum, reason string) *types.Deployment {
	d := &types.Deployment{
		DeploymentID:   ulid.Make().String(),
		Spectrum:       spectrum,
		Strategy:       strategy,
		Artifact:       content,
		TargetLocation: location,
		Status:         types.DeploymentPending,
		Reason:         reason,
		CreatedAt:      g.now(),
	}
	g.register(d)
	return d
}

func (g *Governor) apply(ctx context.Context, d *types.Deployment) types.DeployResult {
	g.advance(d, types.DeploymentValidating)

	release, err := g.locks.acquire(ctx, d.TargetLocation)
	if err != nil {
		return g.fail(ctx, d, "lock_unavailable", err)
	}
	defer release()

	g.advance(d, types.DeploymentDeploying)

	snap, err := g.store.Snapshot(ctx, d.TargetLocation)
	if err != nil {
		return g.fail(ctx, d, "snapshot_failed", err)
	}

	if err := g.store.Write(ctx, d.TargetLocation, d.Artifact); err != nil {
		res := g.fail(ctx, d, "write_failed", err)
		if rerr := g.store.Restore(ctx, snap); rerr != nil {
			g.logger.Error("restore after failed write also failed",
				"deployment_id", d.DeploymentID, "location", d.TargetLocation, "error", rerr)
			g.update(d, func(d *types.Deployment) { d.FailureReason += "; restore failed: " + rerr.Error() })
		}
		res.Deployment = ptr(g.snapshotOf(d))
		return res
	}

	now := g.now()
	g.update(d, func(d *types.Deployment) {
		d.RollbackData = &snap
		d.DeployedAt = &now
	})
	g.advance(d, types.DeploymentDeployed)

	metrics.Inc(ctx, metrics.DeploymentsCompleted, attribute.String("location", d.TargetLocation))
	g.logger.Info("deployed",
		"deployment_id", d.DeploymentID,
		"location", d.TargetLocation,
		"spectrum", d.Spectrum,
		"strategy", d.Strategy,
		"snapshot", snap.ID,
	)
	final := g.snapshotOf(d)
	return types.DeployResult{Deployed: true, Readiness: final.ValidationResults, Deployment: &final}
}

func (g *Governor) fail(ctx context.Context, d *types.Deployment, reason string, err error) types.DeployResult {
	msg := fmt.Sprintf("%s: %v", reason, err)
	g.advance(d, types.DeploymentFailed)
	g.update(d, func(d *types.Deployment) { d.FailureReason = msg })
	metrics.Inc(ctx, metrics.DeploymentsFailed, attribute.String("location", d.TargetLocation))
	g.logger.Error("deployment failed", "deployment_id", d.DeploymentID, "location", d.TargetLocation, "error", msg)
	final := g.snapshotOf(d)
	return types.DeployResult{Reason: msg, Readiness: final.ValidationResults, Deployment: &final}
}

func ptr[T any](v T) *T { return &v }
