package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

func testAlert() types.QualityAlert {
	return types.QualityAlert{
		ID:             "01HX",
		Type:           types.AlertThresholdBreach,
		Severity:       types.SeverityCritical,
		Spectrum:       "customer_profile",
		CurrentQuality: 0.82,
		Threshold:      0.85,
		Message:        "quality below critical threshold",
		Timestamp:      time.Now(),
	}
}

func TestConsoleSink_Send(t *testing.T) {
	sink := NewConsoleSink()
	assert.Equal(t, "console", sink.Name())

	ctx := context.Background()
	for _, sev := range []types.Severity{types.SeverityCritical, types.SeverityHigh, types.SeverityMedium, types.SeverityLow} {
		a := testAlert()
		a.Severity = sev
		assert.NoError(t, sink.Send(ctx, a))
	}
}

func TestWebhookSink_Send_Success(t *testing.T) {
	var received []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewWebhookSink(ts.URL)
	alert := testAlert()

	require.NoError(t, sink.Send(context.Background(), alert))

	var got types.QualityAlert
	require.NoError(t, json.Unmarshal(received, &got))
	assert.Equal(t, alert.Message, got.Message)
	assert.Equal(t, alert.Spectrum, got.Spectrum)
}

func TestWebhookSink_Send_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	sink := NewWebhookSink(ts.URL)

	err := sink.Send(context.Background(), testAlert())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestFileSink_Send(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "alert-*.jsonl")
	require.NoError(t, err)
	_ = f.Close()

	sink, err := NewFileSink(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "file", sink.Name())

	alert := testAlert()
	require.NoError(t, sink.Send(context.Background(), alert))

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)

	lines := strings.TrimSpace(string(data))
	var got types.QualityAlert
	require.NoError(t, json.Unmarshal([]byte(lines), &got))
	assert.Equal(t, alert.Message, got.Message)
}

// errSink is a test sink that always returns an error.
type errSink struct{}

func (s *errSink) Send(_ context.Context, _ types.QualityAlert) error {
	return fmt.Errorf("sink error")
}
func (s *errSink) Name() string { return "error-sink" }

// blockSink never returns until its context is done.
type blockSink struct{}

func (s *blockSink) Send(ctx context.Context, _ types.QualityAlert) error {
	<-ctx.Done()
	return ctx.Err()
}
func (s *blockSink) Name() string { return "block-sink" }

// recordSink records all alerts sent to it.
type recordSink struct {
	mu     sync.Mutex
	alerts []types.QualityAlert
}

func (s *recordSink) Send(_ context.Context, a types.QualityAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}
func (s *recordSink) Name() string { return "record-sink" }

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDispatcher(t *testing.T, clock *fakeClock, sinks ...Sink) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(types.AlertingConfig{Cooldown: "15m"}, nil,
		WithSinks(sinks...), WithClock(clock.Now), WithDeliveryTimeout(50*time.Millisecond))
	require.NoError(t, err)
	return d
}

func TestDispatcher_MultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	d := newTestDispatcher(t, &fakeClock{now: time.Now()}, s1, s2)

	alert := testAlert()
	assert.True(t, d.Process(context.Background(), alert))

	assert.Equal(t, 1, s1.count())
	assert.Equal(t, 1, s2.count())
	assert.Equal(t, alert.Message, s1.alerts[0].Message)
}

func TestDispatcher_SinkError_ContinuesOthers(t *testing.T) {
	recording := &recordSink{}
	d := newTestDispatcher(t, &fakeClock{now: time.Now()}, &errSink{}, recording)

	assert.True(t, d.Process(context.Background(), testAlert()))

	// Even though first sink failed, second should have received the alert
	assert.Equal(t, 1, recording.count())
	hist := d.History(0)
	require.Len(t, hist, 1)
	assert.Equal(t, []string{"error-sink"}, hist[0].Failed)
}

func TestDispatcher_StuckSinkBounded(t *testing.T) {
	recording := &recordSink{}
	d := newTestDispatcher(t, &fakeClock{now: time.Now()}, &blockSink{}, recording)

	start := time.Now()
	assert.True(t, d.Process(context.Background(), testAlert()))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, recording.count())
}

func TestDispatcher_CooldownSuppression(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	recording := &recordSink{}
	d := newTestDispatcher(t, clock, recording)
	ctx := context.Background()

	assert.True(t, d.Process(ctx, testAlert()))

	clock.Advance(5 * time.Minute)
	assert.False(t, d.Process(ctx, testAlert()), "same key inside cooldown is suppressed")

	// A different type or spectrum has its own cooldown.
	variance := testAlert()
	variance.Type = types.AlertHighVariance
	assert.True(t, d.Process(ctx, variance))
	other := testAlert()
	other.Spectrum = "billing"
	assert.True(t, d.Process(ctx, other))

	clock.Advance(11 * time.Minute)
	assert.True(t, d.Process(ctx, testAlert()), "cooldown elapsed")

	assert.Equal(t, 4, recording.count())

	hist := d.History(0)
	require.Len(t, hist, 5)
	assert.True(t, hist[1].Suppressed)
	assert.False(t, hist[1].Delivered)
	assert.True(t, hist[0].Delivered)
}

func TestDispatcher_HistoryLimit(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	d := newTestDispatcher(t, clock)
	WithHistoryLimit(3)(d)

	for i := 0; i < 5; i++ {
		a := testAlert()
		a.Spectrum = fmt.Sprintf("s%d", i)
		d.Process(context.Background(), a)
	}

	hist := d.History(0)
	require.Len(t, hist, 3)
	assert.Equal(t, "s2", hist[0].Alert.Spectrum)
	assert.Equal(t, "s4", hist[2].Alert.Spectrum)
	assert.Len(t, d.History(1), 1)
}

func TestDispatcher_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	d := newTestDispatcher(t, clock, &errSink{})

	for i := 0; i < 5; i++ {
		a := testAlert()
		a.Spectrum = fmt.Sprintf("s%d", i)
		d.Process(context.Background(), a)
	}
	assert.False(t, d.Healthy())
	assert.Equal(t, []string{"error-sink"}, d.SinkNames())
}

func TestNewDispatcher_UnknownSink(t *testing.T) {
	_, err := NewDispatcher(types.AlertingConfig{
		Channels: []types.AlertConfig{{Type: "pager"}},
	}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown alert type")
}

func TestNewDispatcher_FromConfig(t *testing.T) {
	path := t.TempDir() + "/alerts.jsonl"
	d, err := NewDispatcher(types.AlertingConfig{
		Channels: []types.AlertConfig{
			{Type: types.SinkConsole},
			{Type: types.SinkFile, Path: path},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"console", "file"}, d.SinkNames())
	assert.Equal(t, defaultCooldown, d.cooldown)
}
