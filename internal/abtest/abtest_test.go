package abtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dwsmith1983/qualityloop/internal/artifact"
	"github.com/dwsmith1983/qualityloop/internal/governor"
	"github.com/dwsmith1983/qualityloop/internal/testutil"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedSampler returns a fixed batch per arm on every call.
type scriptedSampler struct {
	control, variant float64
	perCall          int
	calls            atomic.Int32
	err              error
}

func (s *scriptedSampler) Sample(_ context.Context, _ string, _ time.Time) ([]float64, []float64, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, nil, s.err
	}
	return testutil.Repeat(s.control, s.perCall), testutil.Repeat(s.variant, s.perCall), nil
}

type harness struct {
	store   *artifact.MemoryStore
	router  *MemoryRouter
	coord   *Coordinator
	clock   *testutil.Clock
	mu      sync.Mutex
	results []types.ABTestResult
}

func newHarness(t *testing.T, sampler ArmSampler, extra ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, sampler, func(d Deployer) Deployer { return d }, extra...)
}

// newHarnessWith lets a test wrap the governor before the coordinator sees it.
func newHarnessWith(t *testing.T, sampler ArmSampler, wrap func(Deployer) Deployer, extra ...Option) *harness {
	t.Helper()
	h := &harness{
		store:  artifact.NewMemoryStore(),
		router: NewMemoryRouter(),
		clock:  testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	gov := governor.New(h.store, types.DeploymentConfig{}, nil)
	opts := []Option{
		WithClock(h.clock.Now),
		WithSampleInterval(5 * time.Millisecond),
		OnComplete(func(r types.ABTestResult) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.results = append(h.results, r)
		}),
	}
	h.coord = New(wrap(gov), h.router, sampler, types.ABTestSettings{}, nil, append(opts, extra...)...)
	t.Cleanup(func() { _ = h.coord.Stop(context.Background()) })
	return h
}

func (h *harness) resultsCopy() []types.ABTestResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.ABTestResult(nil), h.results...)
}

func validConfig() types.ABTestConfig {
	return types.ABTestConfig{
		Spectrum:        "billing",
		VariantArtifact: `{"kind":"prompt_refinement"}`,
		TrafficSplit:    0.2,
		TargetScope:     "prompts/billing",
		Duration:        2 * time.Hour,
		MinSampleSize:   100,
	}
}

func TestStart_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.ABTestConfig)
		want   string
	}{
		{"zero split", func(c *types.ABTestConfig) { c.TrafficSplit = 0 }, "traffic_split"},
		{"split above one", func(c *types.ABTestConfig) { c.TrafficSplit = 1.5 }, "traffic_split"},
		{"short duration", func(c *types.ABTestConfig) { c.Duration = 59 * time.Minute }, "duration"},
		{"small sample", func(c *types.ABTestConfig) { c.MinSampleSize = 49 }, "min_sample_size"},
		{"missing variant", func(c *types.ABTestConfig) { c.VariantArtifact = "" }, "variant_artifact"},
		{"missing scope", func(c *types.ABTestConfig) { c.TargetScope = "" }, "target_scope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &scriptedSampler{})
			cfg := validConfig()
			tt.mutate(&cfg)

			res := h.coord.Start(context.Background(), cfg)
			assert.False(t, res.Started)
			assert.Contains(t, res.Reason, "invalid_config")
			assert.Contains(t, res.Reason, tt.want)
			assert.Empty(t, h.coord.List())
			assert.Zero(t, h.router.Split(cfg.TargetScope))
		})
	}
}

func TestStart_FullSplitAccepted(t *testing.T) {
	h := newHarness(t, &scriptedSampler{})
	cfg := validConfig()
	cfg.TrafficSplit = 1
	cfg.Duration = time.Hour
	cfg.MinSampleSize = 50
	cfg.SuccessCriteria = types.ABSuccessCriteria{SignificanceDelta: 0.05, ImprovementThreshold: 0.02}
	assert.NoError(t, h.coord.Validate(cfg))
}

func TestScenario_EarlyStopPromotesVariant(t *testing.T) {
	ctx := context.Background()
	sampler := &scriptedSampler{control: 0.88, variant: 0.94, perCall: 50}
	h := newHarness(t, sampler)
	require.NoError(t, h.store.Write(ctx, "prompts/billing", "control"))

	cfg := validConfig()
	res := h.coord.Start(ctx, cfg)
	require.True(t, res.Started, res.Reason)
	assert.Equal(t, 0.2, h.router.Split("prompts/billing"))

	testutil.WaitFor(t, 2*time.Second, func() bool { return len(h.resultsCopy()) == 1 }, "test concluded")
	r := h.resultsCopy()[0]
	assert.Equal(t, types.ABPromoted, r.Outcome)
	assert.True(t, r.Significant)
	assert.True(t, r.EarlyStopped)
	assert.Equal(t, 100, r.ControlMetrics.SampleSize)
	assert.Equal(t, 100, r.VariantMetrics.SampleSize)
	assert.InDelta(t, 0.06, r.Delta, 1e-9)

	got, err := h.store.Read(ctx, "prompts/billing")
	require.NoError(t, err)
	assert.Equal(t, cfg.VariantArtifact, got)
	assert.Zero(t, h.router.Split("prompts/billing"))
	assert.False(t, h.coord.Running("prompts/billing"))
}

func TestScenario_DurationExpiryRollsBack(t *testing.T) {
	ctx := context.Background()
	sampler := &scriptedSampler{control: 0.88, variant: 0.885, perCall: 60}
	h := newHarness(t, sampler)
	require.NoError(t, h.store.Write(ctx, "prompts/billing", "control"))

	res := h.coord.Start(ctx, validConfig())
	require.True(t, res.Started, res.Reason)

	testutil.WaitFor(t, 2*time.Second, func() bool {
		st, _ := h.coord.Status(res.TestID)
		return st.Control.SampleSize >= 120
	}, "samples accumulated")
	assert.Empty(t, h.resultsCopy(), "insignificant delta must not stop early")

	h.clock.Advance(2 * time.Hour)
	testutil.WaitFor(t, 2*time.Second, func() bool { return len(h.resultsCopy()) == 1 }, "test concluded")

	r := h.resultsCopy()[0]
	assert.Equal(t, types.ABRolledBack, r.Outcome)
	assert.False(t, r.Significant)
	assert.False(t, r.EarlyStopped)
	assert.Equal(t, "duration_expired", r.Reason)

	got, _ := h.store.Read(ctx, "prompts/billing")
	assert.Equal(t, "control", got)
	_, err := h.store.Read(ctx, VariantSlot("prompts/billing"))
	assert.True(t, errors.Is(err, artifact.ErrNotFound))
	assert.Zero(t, h.router.Split("prompts/billing"))
}

func TestSignificantRegressionRollsBack(t *testing.T) {
	h := newHarness(t, &scriptedSampler{control: 0.94, variant: 0.80, perCall: 100})
	res := h.coord.Start(context.Background(), validConfig())
	require.True(t, res.Started)

	testutil.WaitFor(t, 2*time.Second, func() bool { return len(h.resultsCopy()) == 1 }, "test concluded")
	r := h.resultsCopy()[0]
	assert.True(t, r.Significant)
	assert.Equal(t, types.ABRolledBack, r.Outcome)
}

func TestStart_ScopeBusy(t *testing.T) {
	h := newHarness(t, &scriptedSampler{control: 0.9, variant: 0.9, perCall: 1})
	first := h.coord.Start(context.Background(), validConfig())
	require.True(t, first.Started)

	second := h.coord.Start(context.Background(), validConfig())
	assert.False(t, second.Started)
	assert.Contains(t, second.Reason, "scope_busy")
}

func TestCancel_RollsBackAndStopsSampler(t *testing.T) {
	ctx := context.Background()
	sampler := &scriptedSampler{control: 0.9, variant: 0.99, perCall: 1}
	h := newHarness(t, sampler)

	res := h.coord.Start(ctx, validConfig())
	require.True(t, res.Started)
	require.True(t, h.coord.Cancel(res.TestID))

	results := h.resultsCopy()
	require.Len(t, results, 1)
	assert.Equal(t, types.ABRolledBack, results[0].Outcome)
	assert.Equal(t, "cancelled", results[0].Reason)
	assert.Zero(t, h.router.Split("prompts/billing"))

	calls := sampler.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, sampler.calls.Load(), "sampler kept running after cancel")
	assert.False(t, h.coord.Cancel("unknown"))
}

// slowDeployer delays every Apply so Start stays in flight long enough for
// a concurrent Cancel to observe the half-started test.
type slowDeployer struct {
	Deployer
	delay time.Duration
}

func (d slowDeployer) Apply(ctx context.Context, location, content, reason string) types.DeployResult {
	time.Sleep(d.delay)
	return d.Deployer.Apply(ctx, location, content, reason)
}

func TestCancel_DuringStartIsSafe(t *testing.T) {
	sampler := &scriptedSampler{control: 0.9, variant: 0.9, perCall: 1}
	h := newHarnessWith(t, sampler, func(d Deployer) Deployer {
		return slowDeployer{Deployer: d, delay: 30 * time.Millisecond}
	})
	cfg := validConfig()
	cfg.TestID = "t1"

	var wg sync.WaitGroup
	var started types.ABStartResult
	wg.Add(1)
	go func() {
		defer wg.Done()
		started = h.coord.Start(context.Background(), cfg)
	}()

	// Cancel reports false until Start has launched the sampler.
	testutil.WaitFor(t, 2*time.Second, func() bool { return h.coord.Cancel("t1") }, "cancel after start")
	wg.Wait()

	require.True(t, started.Started, started.Reason)
	results := h.resultsCopy()
	require.Len(t, results, 1)
	assert.Equal(t, "cancelled", results[0].Reason)
	assert.Equal(t, types.ABRolledBack, results[0].Outcome)
	assert.Zero(t, h.router.Split(cfg.TargetScope))
}

func TestCancel_ConcludedTestReportsFalse(t *testing.T) {
	h := newHarness(t, &scriptedSampler{control: 0.9, variant: 0.9, perCall: 1})
	res := h.coord.Start(context.Background(), validConfig())
	require.True(t, res.Started)
	require.True(t, h.coord.Cancel(res.TestID))

	assert.False(t, h.coord.Cancel(res.TestID))
	assert.Len(t, h.resultsCopy(), 1)
}

func TestFinishedTestsAreBounded(t *testing.T) {
	h := newHarness(t, &scriptedSampler{control: 0.9, variant: 0.9, perCall: 1}, WithFinishedRetention(2))

	var ids []string
	for _, scope := range []string{"a", "b", "c", "d"} {
		cfg := validConfig()
		cfg.TargetScope = scope
		res := h.coord.Start(context.Background(), cfg)
		require.True(t, res.Started, res.Reason)
		require.True(t, h.coord.Cancel(res.TestID))
		ids = append(ids, res.TestID)
	}

	assert.Len(t, h.coord.List(), 2)
	for _, id := range ids[:2] {
		_, ok := h.coord.Status(id)
		assert.False(t, ok, "oldest finished test %s still retained", id)
	}
	for _, id := range ids[2:] {
		_, ok := h.coord.Status(id)
		assert.True(t, ok, id)
	}
	assert.Len(t, h.resultsCopy(), 4)
}

func TestStop_ConcludesAllTests(t *testing.T) {
	h := newHarness(t, &scriptedSampler{control: 0.9, variant: 0.9, perCall: 1})
	for _, scope := range []string{"a", "b"} {
		cfg := validConfig()
		cfg.TargetScope = scope
		require.True(t, h.coord.Start(context.Background(), cfg).Started)
	}

	require.NoError(t, h.coord.Stop(context.Background()))
	assert.Len(t, h.resultsCopy(), 2)
	for _, st := range h.coord.List() {
		assert.False(t, st.Running)
		require.NotNil(t, st.Result)
	}
}

func TestSamplerErrorsAreTolerated(t *testing.T) {
	sampler := &scriptedSampler{err: errors.New("influx down")}
	h := newHarness(t, sampler)
	res := h.coord.Start(context.Background(), validConfig())
	require.True(t, res.Started)

	testutil.WaitFor(t, time.Second, func() bool { return sampler.calls.Load() >= 3 }, "sampler retried")
	st, ok := h.coord.Status(res.TestID)
	require.True(t, ok)
	assert.True(t, st.Running)
}

func TestStoreRouter(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	r := NewStoreRouter(store, "routing/")

	require.NoError(t, r.Route(ctx, "prompts/billing", 0.25))
	got, err := store.Read(ctx, "routing/prompts/billing.routing")
	require.NoError(t, err)
	assert.Contains(t, got, `"variant_fraction":0.25`)
	assert.Contains(t, got, `"variant_location":"prompts/billing.variant"`)

	require.NoError(t, r.Route(ctx, "prompts/billing", 0))
	got, _ = store.Read(ctx, "routing/prompts/billing.routing")
	assert.NotContains(t, got, "variant_location")
}
