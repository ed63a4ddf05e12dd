// Package orchestrator drives the quality-control cycle: it buffers samples,
// runs the monitor on a fixed interval, dispatches alerts, and turns alerts
// into gated optimization cycles whose outcomes feed back into learning.
package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/dwsmith1983/qualityloop/internal/abtest"
	"github.com/dwsmith1983/qualityloop/internal/alert"
	"github.com/dwsmith1983/qualityloop/internal/artifact"
	"github.com/dwsmith1983/qualityloop/internal/governor"
	"github.com/dwsmith1983/qualityloop/internal/history"
	"github.com/dwsmith1983/qualityloop/internal/learning"
	"github.com/dwsmith1983/qualityloop/internal/metricsource"
	"github.com/dwsmith1983/qualityloop/internal/monitor"
	"github.com/dwsmith1983/qualityloop/internal/optimizer"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// Orchestrator defaults.
const (
	defaultInterval         = 30 * time.Second
	defaultBufferSize       = 1000
	defaultIntakeQueue      = 10000
	defaultMaxConcurrent    = 3
	defaultCooldown         = time.Hour
	defaultManualCooldown   = 10 * time.Minute
	defaultCycleTimeout     = 10 * time.Minute
	defaultEvaluationDelay  = 15 * time.Minute
	defaultMinEvalSamples   = 3
	defaultCollectTimeout   = 10 * time.Second
	defaultAlertTimeout     = 10 * time.Second
	defaultLookback         = time.Hour
	defaultLocationTemplate = "{spectrum}"
	spectrumPlaceholder     = "{spectrum}"
)

var tracer = otel.Tracer("qualityloop/orchestrator")

// Components are the collaborators the orchestrator drives. Router, Sampler
// and Sources are optional.
type Components struct {
	Monitor   *monitor.Monitor
	Alerts    *alert.Dispatcher
	Learning  *learning.Accumulator
	Optimizer *optimizer.Optimizer
	Governor  *governor.Governor
	History   *history.Log
	Artifacts artifact.Store

	// Router steers A/B traffic. Nil uses a StoreRouter over Artifacts.
	Router abtest.TrafficRouter
	// Sampler feeds A/B arms. Nil samples the orchestrator's own buffers.
	Sampler abtest.ArmSampler
	// Sources are polled once per tick.
	Sources []metricsource.Source
}

// Config groups the settings the orchestrator reads.
type Config struct {
	Monitor        types.MonitorConfig
	Optimization   types.OptimizationConfig
	ABTest         types.ABTestSettings
	CollectTimeout string
}

// ConfigFrom extracts the orchestrator settings from a project config.
func ConfigFrom(cfg *types.ProjectConfig) Config {
	return Config{
		Monitor:        cfg.Monitor,
		Optimization:   cfg.Optimization,
		ABTest:         cfg.ABTest,
		CollectTimeout: cfg.MetricSource.CollectTimeout,
	}
}

// pendingEvaluation is a deployed cycle waiting for post-deployment samples.
type pendingEvaluation struct {
	cycleID      string
	spectrum     string
	deploymentID string
	strategy     types.StrategyKind
	patternID    string
	baseline     float64
	deployedAt   time.Time
	expiresAt    time.Time
}

// abCycle remembers which optimization cycle escalated to an A/B test.
type abCycle struct {
	cycleID       string
	spectrum      string
	location      string
	strategy      types.StrategyKind
	patternID     string
	before        *string
	after         string
	qualityBefore float64
}

// Orchestrator is constructed once and shared by the monitoring loop and the
// boundary API.
type Orchestrator struct {
	c      Components
	ab     *abtest.Coordinator
	logger *slog.Logger
	now    func() time.Time

	interval         time.Duration
	bufferSize       int
	maxConcurrent    int
	cooldown         time.Duration
	manualCooldown   time.Duration
	cycleTimeout     time.Duration
	evaluationDelay  time.Duration
	minEvalSamples   int
	collectTimeout   time.Duration
	alertTimeout     time.Duration
	locationTemplate string
	abSettings       types.ABTestSettings

	intake chan types.QualitySample

	mu               sync.Mutex
	buffers          map[string]*buffer
	lastCollect      map[string]time.Time
	active           map[string]string
	lastOptimization map[string]time.Time
	lastManual       time.Time
	evaluations      []pendingEvaluation
	abCycles         map[string]abCycle
	counters         types.Counters
	running          bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup
	cycleWG    sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithAlertTimeout bounds how long a tick waits on alert delivery.
func WithAlertTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.alertTimeout = d
		}
	}
}

// New wires the components. Zero-valued settings fall back to defaults.
func New(c Components, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		c:                c,
		logger:           logger,
		now:              time.Now,
		interval:         parseDuration(cfg.Monitor.Interval, defaultInterval),
		bufferSize:       positive(cfg.Monitor.BufferSize, defaultBufferSize),
		maxConcurrent:    positive(cfg.Optimization.MaxConcurrent, defaultMaxConcurrent),
		cooldown:         parseDuration(cfg.Optimization.Cooldown, defaultCooldown),
		manualCooldown:   parseDuration(cfg.Optimization.ManualCooldown, defaultManualCooldown),
		cycleTimeout:     parseDuration(cfg.Optimization.CycleTimeout, defaultCycleTimeout),
		evaluationDelay:  parseDuration(cfg.Optimization.EvaluationDelay, defaultEvaluationDelay),
		minEvalSamples:   positive(cfg.Optimization.MinEvaluationSamples, defaultMinEvalSamples),
		collectTimeout:   parseDuration(cfg.CollectTimeout, defaultCollectTimeout),
		alertTimeout:     defaultAlertTimeout,
		locationTemplate: cfg.Optimization.LocationTemplate,
		abSettings:       cfg.ABTest,
		intake:           make(chan types.QualitySample, positive(cfg.Monitor.IntakeQueue, defaultIntakeQueue)),
		buffers:          make(map[string]*buffer),
		lastCollect:      make(map[string]time.Time),
		active:           make(map[string]string),
		lastOptimization: make(map[string]time.Time),
		abCycles:         make(map[string]abCycle),
	}
	if o.locationTemplate == "" {
		o.locationTemplate = defaultLocationTemplate
	}
	for _, s := range cfg.Monitor.Spectra {
		o.buffers[s] = newBuffer(o.bufferSize)
	}
	for _, opt := range opts {
		opt(o)
	}
	o.baseCtx, o.baseCancel = context.WithCancel(context.Background())

	if cfg.ABTest.Enabled && c.Governor != nil {
		router := c.Router
		if router == nil {
			router = abtest.NewStoreRouter(c.Artifacts, cfg.ABTest.RoutingPrefix)
		}
		sampler := c.Sampler
		if sampler == nil {
			sampler = metricsource.NewArmSampler(o, SpectrumForLocation(o.locationTemplate))
		}
		o.ab = abtest.New(c.Governor, router, sampler, cfg.ABTest, logger,
			abtest.WithClock(o.now), abtest.OnComplete(o.abCompleted))
	}
	return o
}

// Start begins the monitoring loop. The first tick runs immediately.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	ctx, o.loopCancel = context.WithCancel(ctx)
	o.mu.Unlock()

	o.loopWG.Add(1)
	go func() {
		defer o.loopWG.Done()
		o.logger.Info("orchestrator started", "interval", o.interval, "max_concurrent", o.maxConcurrent)

		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()

		o.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				o.logger.Info("orchestrator stopping")
				return
			case <-ticker.C:
				o.Tick(ctx)
			}
		}
	}()
}

// Stop halts the loop, cancels running cycles and A/B tests, and waits for
// them until ctx expires.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if o.loopCancel != nil {
		o.loopCancel()
	}
	o.running = false
	o.mu.Unlock()
	o.baseCancel()

	done := make(chan struct{})
	go func() {
		o.loopWG.Wait()
		o.cycleWG.Wait()
		close(done)
	}()

	if o.ab != nil {
		if err := o.ab.Stop(ctx); err != nil {
			o.logger.Warn("ab coordinator stop timed out", "error", err)
		}
	}

	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
	case <-ctx.Done():
		o.logger.Warn("orchestrator stop timed out")
	}
}

// Running reports whether the monitoring loop is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Ingest queues a pushed sample for the next tick. It returns false when the
// sample is invalid or the intake queue is full.
func (o *Orchestrator) Ingest(s types.QualitySample) bool {
	if err := s.Validate(); err != nil {
		o.reject("invalid", err)
		return false
	}
	select {
	case o.intake <- s:
		return true
	default:
		o.reject("queue_full", nil)
		return false
	}
}

// Collect serves buffered samples recorded after since, so the orchestrator
// itself can act as a metric source for A/B sampling.
func (o *Orchestrator) Collect(_ context.Context, spectrum string, since time.Time) ([]types.QualitySample, error) {
	o.drainIntake()
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.buffers[spectrum]
	if !ok {
		return nil, nil
	}
	return b.since(since), nil
}

// ABTests returns the A/B coordinator, or nil when A/B testing is disabled.
func (o *Orchestrator) ABTests() *abtest.Coordinator { return o.ab }

// Location renders the artifact location for spectrum.
func (o *Orchestrator) Location(spectrum string) string {
	return strings.ReplaceAll(o.locationTemplate, spectrumPlaceholder, spectrum)
}

// SpectrumForLocation inverts a location template. Locations that do not
// match the template are returned unchanged.
func SpectrumForLocation(template string) func(string) string {
	if template == "" {
		template = defaultLocationTemplate
	}
	prefix, suffix, ok := strings.Cut(template, spectrumPlaceholder)
	return func(location string) string {
		if !ok || len(location) < len(prefix)+len(suffix) ||
			!strings.HasPrefix(location, prefix) || !strings.HasSuffix(location, suffix) {
			return location
		}
		return location[len(prefix) : len(location)-len(suffix)]
	}
}

func (o *Orchestrator) spectra() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.buffers))
	for s := range o.buffers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}

func positive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
