// Package governor decides whether an optimization is safe to ship and
// performs snapshot-first, reversible deployments to artifact locations.
package governor

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/dwsmith1983/qualityloop/internal/artifact"
	"github.com/dwsmith1983/qualityloop/internal/lifecycle"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// Gate defaults.
const (
	DefaultImprovementThreshold = 0.02
	DefaultConfidenceThreshold  = 0.75
	DefaultRegressionTolerance  = 0.02
	defaultLockTimeout          = 30 * time.Second
)

var (
	// ErrNoRollbackData is reported when a deployment has no snapshot to restore.
	ErrNoRollbackData = errors.New("no rollback data")
	// ErrUnknownDeployment is returned for deployment ids the governor never issued.
	ErrUnknownDeployment = errors.New("unknown deployment")
)

var tracer = otel.Tracer("qualityloop/governor")

// Governor owns every deployment it creates and serializes writes per
// target location.
type Governor struct {
	store  artifact.Store
	logger *slog.Logger
	now    func() time.Time

	improvementThreshold float64
	confidenceThreshold  float64
	regressionTolerance  float64

	locks *locationLocks

	mu          sync.RWMutex
	deployments map[string]*types.Deployment
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock replaces time.Now (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// New creates a Governor writing through store.
func New(store artifact.Store, cfg types.DeploymentConfig, logger *slog.Logger, opts ...Option) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Governor{
		store:                store,
		logger:               logger,
		now:                  time.Now,
		improvementThreshold: DefaultImprovementThreshold,
		confidenceThreshold:  DefaultConfidenceThreshold,
		regressionTolerance:  DefaultRegressionTolerance,
		deployments:          make(map[string]*types.Deployment),
	}
	if cfg.ImprovementThreshold > 0 {
		g.improvementThreshold = cfg.ImprovementThreshold
	}
	if cfg.ConfidenceThreshold > 0 {
		g.confidenceThreshold = cfg.ConfidenceThreshold
	}
	if cfg.RegressionTolerance > 0 {
		g.regressionTolerance = cfg.RegressionTolerance
	}
	lockTimeout := defaultLockTimeout
	if d, err := time.ParseDuration(cfg.LockTimeout); err == nil && d > 0 {
		lockTimeout = d
	}
	g.locks = newLocationLocks(lockTimeout)
	for _, o := range opts {
		o(g)
	}
	return g
}

// EvaluateReadiness reports whether result clears both gates. Each gate is
// reported independently.
func (g *Governor) EvaluateReadiness(result types.OptimizationResult) types.Readiness {
	r := types.Readiness{
		ImprovementOK:        result.ExpectedImprovement >= g.improvementThreshold,
		ConfidenceOK:         result.Confidence >= g.confidenceThreshold,
		ExpectedImprovement:  result.ExpectedImprovement,
		Confidence:           result.Confidence,
		ImprovementThreshold: g.improvementThreshold,
		ConfidenceThreshold:  g.confidenceThreshold,
	}
	r.Ready = r.ImprovementOK && r.ConfidenceOK

	switch {
	case r.Ready:
		r.Recommendation = "deploy"
	case !r.ImprovementOK && !r.ConfidenceOK:
		r.Recommendation = fmt.Sprintf("hold: expected improvement %.4f below %.4f and confidence %.2f below %.2f",
			r.ExpectedImprovement, g.improvementThreshold, r.Confidence, g.confidenceThreshold)
	case !r.ImprovementOK:
		r.Recommendation = fmt.Sprintf("hold: expected improvement %.4f below %.4f",
			r.ExpectedImprovement, g.improvementThreshold)
	default:
		r.Recommendation = fmt.Sprintf("ab_test: confidence %.2f below %.2f",
			r.Confidence, g.confidenceThreshold)
	}
	return r
}

// Deployment returns a copy of one deployment.
func (g *Governor) Deployment(id string) (types.Deployment, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.deployments[id]
	if !ok {
		return types.Deployment{}, false
	}
	return *d, true
}

// Deployments returns copies of every deployment, newest first.
func (g *Governor) Deployments() []types.Deployment {
	g.mu.RLock()
	out := make([]types.Deployment, 0, len(g.deployments))
	for _, d := range g.deployments {
		out = append(out, *d)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].DeploymentID > out[j].DeploymentID
	})
	return out
}

// Healthy reports whether the artifact store is usable. The governor itself
// holds no external connections.
func (g *Governor) Healthy() bool { return g.store != nil }

// transition moves a deployment to a new status under the registry lock.
func (g *Governor) transition(d *types.Deployment, to types.DeploymentStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := lifecycle.Transition(d.Status, to); err != nil {
		return err
	}
	d.Status = to
	return nil
}

// advance is transition for steps the caller cannot recover from. A refused
// move leaves the status unchanged and is logged.
func (g *Governor) advance(d *types.Deployment, to types.DeploymentStatus) {
	if err := g.transition(d, to); err != nil {
		g.logger.Error("invalid deployment transition",
			"deployment_id", d.DeploymentID, "location", d.TargetLocation, "to", to, "error", err)
	}
}

// update applies fn to a deployment under the registry lock.
func (g *Governor) update(d *types.Deployment, fn func(d *types.Deployment)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(d)
}

func (g *Governor) register(d *types.Deployment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deployments[d.DeploymentID] = d
}

func (g *Governor) lookup(id string) (*types.Deployment, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.deployments[id]
	return d, ok
}

func (g *Governor) snapshotOf(d *types.Deployment) types.Deployment {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return *d
}
