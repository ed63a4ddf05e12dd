// Package abtest runs A/B tests that ship a variant artifact to a fraction of
// traffic, measure both arms and converge to promotion or rollback.
package abtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dwsmith1983/qualityloop/internal/metrics"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// Coordinator defaults.
const (
	DefaultSampleInterval       = 5 * time.Minute
	DefaultSignificanceDelta    = 0.05
	DefaultImprovementThreshold = 0.02
	DefaultMinSampleSize        = 50
	DefaultDuration             = 24 * time.Hour
	DefaultTrafficSplit         = 0.1
	DefaultFinishedRetention    = 100

	concludeTimeout = 30 * time.Second
)

// ErrInvalidConfig prefixes every config rejection reason.
var ErrInvalidConfig = errors.New("invalid_config")

var tracer = otel.Tracer("qualityloop/abtest")

// Deployer writes and reverts artifacts. *governor.Governor satisfies it.
type Deployer interface {
	Apply(ctx context.Context, location, content, reason string) types.DeployResult
	Rollback(ctx context.Context, deploymentID string) types.RevertResult
}

// ArmSampler reports per-arm quality scores observed for scope since a time.
type ArmSampler interface {
	Sample(ctx context.Context, scope string, since time.Time) (control, variant []float64, err error)
}

// test is the coordinator's private state for one A/B test.
type test struct {
	cfg        types.ABTestConfig
	startedAt  time.Time
	lastSample time.Time
	slotID     string
	control    types.ArmMetrics
	variant    types.ArmMetrics
	result     *types.ABTestResult
	cancel     context.CancelFunc
	done       chan struct{}
}

// Coordinator owns running A/B tests. Each test runs its own sampler
// goroutine; Stop cancels all of them.
type Coordinator struct {
	deployer Deployer
	router   TrafficRouter
	sampler  ArmSampler
	logger   *slog.Logger
	now      func() time.Time
	validate *validator.Validate

	interval             time.Duration
	significanceDelta    float64
	improvementThreshold float64
	onComplete           func(types.ABTestResult)

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	tests    map[string]*test
	finished []string // concluded test ids, oldest first
	retain   int
	wg       sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithSampleInterval overrides how often arms are sampled.
func WithSampleInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithFinishedRetention caps how many concluded tests stay visible to
// Status and List. Older ones are forgotten first.
func WithFinishedRetention(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.retain = n
		}
	}
}

// OnComplete registers a callback invoked once per concluded test.
func OnComplete(fn func(types.ABTestResult)) Option {
	return func(c *Coordinator) { c.onComplete = fn }
}

// New creates a Coordinator.
func New(deployer Deployer, router TrafficRouter, sampler ArmSampler, cfg types.ABTestSettings, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		deployer:             deployer,
		router:               router,
		sampler:              sampler,
		logger:               logger,
		now:                  time.Now,
		validate:             v,
		interval:             DefaultSampleInterval,
		significanceDelta:    DefaultSignificanceDelta,
		improvementThreshold: DefaultImprovementThreshold,
		baseCtx:              ctx,
		baseCancel:           cancel,
		tests:                make(map[string]*test),
		retain:               DefaultFinishedRetention,
	}
	if d, err := time.ParseDuration(cfg.SampleInterval); err == nil && d > 0 {
		c.interval = d
	}
	if cfg.SignificanceDelta > 0 {
		c.significanceDelta = cfg.SignificanceDelta
	}
	if cfg.ImprovementThreshold > 0 {
		c.improvementThreshold = cfg.ImprovementThreshold
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Validate reports why cfg cannot start, or nil.
func (c *Coordinator) Validate(cfg types.ABTestConfig) error {
	var problems []string
	if !(cfg.TrafficSplit > 0 && cfg.TrafficSplit <= 1) {
		problems = append(problems, fmt.Sprintf("traffic_split %.4f must be in (0,1]", cfg.TrafficSplit))
	}
	if cfg.Duration < time.Hour {
		problems = append(problems, fmt.Sprintf("duration %s must be at least 1h", cfg.Duration))
	}
	if cfg.MinSampleSize < 50 {
		problems = append(problems, fmt.Sprintf("min_sample_size %d must be at least 50", cfg.MinSampleSize))
	}
	if err := c.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch fe.Field() {
				case "traffic_split", "duration", "min_sample_size":
					continue // already reported above
				}
				problems = append(problems, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

// Start validates cfg, writes the variant slot, routes the traffic split to
// it and launches the sampler. Rejections are reported in the result.
func (c *Coordinator) Start(ctx context.Context, cfg types.ABTestConfig) types.ABStartResult {
	if cfg.TestID == "" {
		cfg.TestID = ulid.Make().String()
	}
	if cfg.SuccessCriteria.SignificanceDelta == 0 {
		cfg.SuccessCriteria.SignificanceDelta = c.significanceDelta
	}
	if cfg.SuccessCriteria.ImprovementThreshold == 0 {
		cfg.SuccessCriteria.ImprovementThreshold = c.improvementThreshold
	}
	if err := c.Validate(cfg); err != nil {
		return types.ABStartResult{TestID: cfg.TestID, Reason: err.Error()}
	}

	c.mu.Lock()
	for _, t := range c.tests {
		if t.result == nil && t.cfg.TargetScope == cfg.TargetScope {
			c.mu.Unlock()
			return types.ABStartResult{TestID: cfg.TestID, Reason: "scope_busy: test " + t.cfg.TestID + " is running on " + cfg.TargetScope}
		}
	}
	if _, dup := c.tests[cfg.TestID]; dup {
		c.mu.Unlock()
		return types.ABStartResult{TestID: cfg.TestID, Reason: "duplicate_test_id"}
	}
	// Reserve the scope before doing I/O.
	t := &test{cfg: cfg, startedAt: c.now(), done: make(chan struct{})}
	t.lastSample = t.startedAt
	c.tests[cfg.TestID] = t
	c.mu.Unlock()

	release := func(reason string) types.ABStartResult {
		c.mu.Lock()
		delete(c.tests, cfg.TestID)
		c.mu.Unlock()
		c.logger.Warn("ab test not started", "test_id", cfg.TestID, "scope", cfg.TargetScope, "reason", reason)
		return types.ABStartResult{TestID: cfg.TestID, Reason: reason}
	}

	dep := c.deployer.Apply(ctx, VariantSlot(cfg.TargetScope), cfg.VariantArtifact, "ab_test:"+cfg.TestID)
	if !dep.Deployed {
		return release("deploy_failed: " + dep.Reason)
	}
	slotID := dep.Deployment.DeploymentID

	if err := c.router.Route(ctx, cfg.TargetScope, cfg.TrafficSplit); err != nil {
		_ = c.router.Route(ctx, cfg.TargetScope, 0)
		c.deployer.Rollback(ctx, slotID)
		return release("routing_failed: " + err.Error())
	}

	runCtx, cancel := context.WithCancel(c.baseCtx)
	c.mu.Lock()
	t.slotID = slotID
	t.cancel = cancel
	c.mu.Unlock()
	c.wg.Add(1)
	go c.run(runCtx, t)

	c.logger.Info("ab test started",
		"test_id", cfg.TestID,
		"scope", cfg.TargetScope,
		"traffic_split", cfg.TrafficSplit,
		"duration", cfg.Duration,
		"min_sample_size", cfg.MinSampleSize,
	)
	return types.ABStartResult{Started: true, TestID: cfg.TestID}
}

func (c *Coordinator) run(ctx context.Context, t *test) {
	defer c.wg.Done()
	defer close(t.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.conclude(t, false, "cancelled")
			return
		case <-ticker.C:
			if c.sampleOnce(ctx, t) {
				return
			}
		}
	}
}

// sampleOnce folds new scores into both arms and concludes the test when the
// early-stop rule fires or the duration has elapsed.
func (c *Coordinator) sampleOnce(ctx context.Context, t *test) bool {
	now := c.now()
	sampleCtx, cancel := context.WithTimeout(ctx, c.interval)
	control, variant, err := c.sampler.Sample(sampleCtx, t.cfg.TargetScope, t.lastSample)
	cancel()
	if err != nil {
		c.logger.Warn("ab sample failed", "test_id", t.cfg.TestID, "error", err)
	} else {
		c.mu.Lock()
		for _, s := range control {
			t.control.Add(s)
		}
		for _, s := range variant {
			t.variant.Add(s)
		}
		t.lastSample = now
		c.mu.Unlock()
	}

	if c.significant(t) {
		c.conclude(t, true, "early_stop")
		return true
	}
	if now.Sub(t.startedAt) >= t.cfg.Duration {
		c.conclude(t, false, "duration_expired")
		return true
	}
	return false
}

func (c *Coordinator) significant(t *test) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	need := t.cfg.MinSampleSize
	if t.control.SampleSize < need || t.variant.SampleSize < need {
		return false
	}
	return math.Abs(t.variant.Mean-t.control.Mean) > t.cfg.SuccessCriteria.SignificanceDelta
}

// conclude applies exactly one outcome. Promotion writes the variant to the
// scope before routing drops to zero; rollback drops routing first and then
// reverts the slot, so traffic is never split across a half-applied state.
func (c *Coordinator) conclude(t *test, earlyStopped bool, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), concludeTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "abtest.Conclude")
	defer span.End()

	significant := c.significant(t)
	c.mu.Lock()
	res := types.ABTestResult{
		TestID:         t.cfg.TestID,
		Spectrum:       t.cfg.Spectrum,
		TargetScope:    t.cfg.TargetScope,
		ControlMetrics: t.control,
		VariantMetrics: t.variant,
		Delta:          t.variant.Mean - t.control.Mean,
		Significant:    significant,
		EarlyStopped:   earlyStopped,
		Reason:         reason,
		StartedAt:      t.startedAt,
		EndedAt:        c.now(),
	}
	c.mu.Unlock()

	res.Outcome = types.ABRolledBack
	if significant && res.Delta > t.cfg.SuccessCriteria.ImprovementThreshold && reason != "cancelled" {
		if c.promote(ctx, t) {
			res.Outcome = types.ABPromoted
		} else {
			res.Reason = reason + "; promotion_failed"
		}
	}
	if res.Outcome == types.ABRolledBack {
		c.rollback(ctx, t)
	}

	c.mu.Lock()
	t.result = &res
	c.finished = append(c.finished, t.cfg.TestID)
	for len(c.finished) > c.retain {
		delete(c.tests, c.finished[0])
		c.finished = c.finished[1:]
	}
	c.mu.Unlock()

	span.SetAttributes(
		attribute.String("test_id", res.TestID),
		attribute.String("outcome", string(res.Outcome)),
		attribute.Float64("delta", res.Delta),
	)
	metrics.Inc(ctx, metrics.ABTestsConcluded, attribute.String("outcome", string(res.Outcome)))
	c.logger.Info("ab test concluded",
		"test_id", res.TestID,
		"scope", res.TargetScope,
		"outcome", res.Outcome,
		"reason", res.Reason,
		"control_mean", res.ControlMetrics.Mean,
		"variant_mean", res.VariantMetrics.Mean,
		"control_n", res.ControlMetrics.SampleSize,
		"variant_n", res.VariantMetrics.SampleSize,
	)
	if c.onComplete != nil {
		c.onComplete(res)
	}
}

func (c *Coordinator) promote(ctx context.Context, t *test) bool {
	dep := c.deployer.Apply(ctx, t.cfg.TargetScope, t.cfg.VariantArtifact, "ab_promote:"+t.cfg.TestID)
	if !dep.Deployed {
		c.logger.Error("ab promotion failed", "test_id", t.cfg.TestID, "reason", dep.Reason)
		return false
	}
	if err := c.router.Route(ctx, t.cfg.TargetScope, 0); err != nil {
		c.logger.Error("ab route reset failed after promotion", "test_id", t.cfg.TestID, "error", err)
	}
	return true
}

func (c *Coordinator) rollback(ctx context.Context, t *test) {
	if err := c.router.Route(ctx, t.cfg.TargetScope, 0); err != nil {
		c.logger.Error("ab route reset failed", "test_id", t.cfg.TestID, "error", err)
	}
	c.mu.Lock()
	slotID := t.slotID
	c.mu.Unlock()
	if slotID == "" {
		return
	}
	if res := c.deployer.Rollback(ctx, slotID); !res.Success {
		c.logger.Error("ab variant slot rollback failed", "test_id", t.cfg.TestID, "reason", res.Reason)
	}
}

// Cancel concludes a running test with rollback and waits for it. It
// reports false for unknown tests, tests that already concluded and tests
// whose Start has not finished launching the sampler.
func (c *Coordinator) Cancel(testID string) bool {
	c.mu.Lock()
	t, ok := c.tests[testID]
	if !ok || t.cancel == nil || t.result != nil {
		c.mu.Unlock()
		return false
	}
	cancel, done := t.cancel, t.done
	c.mu.Unlock()

	cancel()
	<-done
	return true
}

// Stop cancels every running test and waits until they have concluded.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.baseCancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for ab tests to stop: %w", ctx.Err())
	}
}

// Status returns the view of one test.
func (c *Coordinator) Status(testID string) (types.ABTestStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tests[testID]
	if !ok {
		return types.ABTestStatus{}, false
	}
	return statusOf(t), true
}

// List returns every known test, newest first.
func (c *Coordinator) List() []types.ABTestStatus {
	c.mu.Lock()
	out := make([]types.ABTestStatus, 0, len(c.tests))
	starts := make(map[string]time.Time, len(c.tests))
	for id, t := range c.tests {
		out = append(out, statusOf(t))
		starts[id] = t.startedAt
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return starts[out[i].Config.TestID].After(starts[out[j].Config.TestID])
	})
	return out
}

// Running reports whether a test is in progress for scope.
func (c *Coordinator) Running(scope string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tests {
		if t.result == nil && t.cfg.TargetScope == scope {
			return true
		}
	}
	return false
}

func statusOf(t *test) types.ABTestStatus {
	s := types.ABTestStatus{Config: t.cfg, Running: t.result == nil, Control: t.control, Variant: t.variant}
	if t.result != nil {
		r := *t.result
		s.Result = &r
	}
	return s
}
