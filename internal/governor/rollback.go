package governor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dwsmith1983/qualityloop/internal/lifecycle"
	"github.com/dwsmith1983/qualityloop/internal/metrics"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// Observe feeds post-deployment quality into a live deployment. The first
// observation moves it to Monitoring. When observed quality falls more than
// the regression tolerance below baseline the deployment is rolled back.
func (g *Governor) Observe(ctx context.Context, id string, observed, baseline float64) (types.RevertResult, error) {
	d, ok := g.lookup(id)
	if !ok {
		return types.RevertResult{}, fmt.Errorf("%w: %s", ErrUnknownDeployment, id)
	}
	cur := g.snapshotOf(d)
	if !lifecycle.IsLive(cur.Status) {
		return types.RevertResult{}, fmt.Errorf("deployment %s is %s, not live", id, cur.Status)
	}
	if err := g.transition(d, types.DeploymentMonitoring); err != nil {
		return types.RevertResult{}, err
	}

	if observed >= baseline-g.regressionTolerance {
		g.logger.Debug("deployment holding", "deployment_id", id, "observed", observed, "baseline", baseline)
		return types.RevertResult{Success: false, DeploymentID: id, Reason: "within_tolerance"}, nil
	}
	g.logger.Warn("regression detected, rolling back",
		"deployment_id", id, "observed", observed, "baseline", baseline, "tolerance", g.regressionTolerance)
	return g.Rollback(ctx, id), nil
}

// Rollback restores the snapshot taken before deployment id was written.
// Failures are reported in the result; Rollback never panics.
func (g *Governor) Rollback(ctx context.Context, id string) (res types.RevertResult) {
	ctx, span := tracer.Start(ctx, "governor.Rollback")
	defer span.End()
	span.SetAttributes(attribute.String("deployment_id", id))

	res = types.RevertResult{DeploymentID: id}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("panic during rollback", "deployment_id", id, "panic", r)
			res = types.RevertResult{DeploymentID: id, Reason: fmt.Sprintf("rollback_panic: %v", r)}
		}
		if !res.Success {
			span.SetStatus(codes.Error, res.Reason)
		}
	}()

	d, ok := g.lookup(id)
	if !ok {
		res.Reason = fmt.Sprintf("%v: %s", ErrUnknownDeployment, id)
		return res
	}
	cur := g.snapshotOf(d)
	if cur.RollbackData == nil {
		res.Reason = fmt.Sprintf("%v for deployment %s", ErrNoRollbackData, id)
		return res
	}
	if err := g.transition(d, types.DeploymentRollingBack); err != nil {
		res.Reason = err.Error()
		return res
	}

	release, err := g.locks.acquire(ctx, cur.TargetLocation)
	if err != nil {
		g.advance(d, types.DeploymentFailed)
		g.update(d, func(d *types.Deployment) { d.FailureReason = "rollback: " + err.Error() })
		res.Reason = "lock_unavailable: " + err.Error()
		return res
	}
	defer release()

	if err := g.store.Restore(ctx, *cur.RollbackData); err != nil {
		g.advance(d, types.DeploymentFailed)
		g.update(d, func(d *types.Deployment) { d.FailureReason = "rollback: " + err.Error() })
		g.logger.Error("rollback failed", "deployment_id", id, "location", cur.TargetLocation, "error", err)
		res.Reason = "restore_failed: " + err.Error()
		return res
	}

	now := g.now()
	g.update(d, func(d *types.Deployment) { d.RolledBackAt = &now })
	g.advance(d, types.DeploymentRolledBack)
	metrics.Inc(ctx, metrics.RollbacksExecuted, attribute.String("location", cur.TargetLocation))
	g.logger.Info("rolled back", "deployment_id", id, "location", cur.TargetLocation)

	res.Success = true
	res.RolledBackAt = &now
	return res
}
