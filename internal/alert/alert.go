// Package alert implements cooldown-gated alert dispatching to multiple sinks.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/qualityloop/internal/metrics"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// Dispatch defaults.
const (
	defaultCooldown        = 15 * time.Minute
	defaultDeliveryTimeout = 5 * time.Second
	defaultHistoryLimit    = 1000
)

// Sink is an alert destination.
type Sink interface {
	Send(ctx context.Context, alert types.QualityAlert) error
	Name() string
}

type cooldownKey struct {
	spectrum string
	typ      types.AlertType
}

type guardedSink struct {
	sink    Sink
	breaker *gobreaker.CircuitBreaker
}

// Dispatcher suppresses repeats of the same (spectrum, type) within a cooldown
// and fans delivered alerts out to every sink concurrently.
type Dispatcher struct {
	sinks        []guardedSink
	logger       *slog.Logger
	cooldown     time.Duration
	timeout      time.Duration
	historyLimit int
	now          func() time.Time

	mu       sync.Mutex
	lastSent map[cooldownKey]time.Time
	history  []types.AlertRecord
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCooldown overrides the suppression window.
func WithCooldown(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.cooldown = d
		}
	}
}

// WithDeliveryTimeout bounds each sink's Send call.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithHistoryLimit caps the retained alert history.
func WithHistoryLimit(n int) Option {
	return func(disp *Dispatcher) {
		if n > 0 {
			disp.historyLimit = n
		}
	}
}

// WithClock replaces time.Now (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(disp *Dispatcher) { disp.now = now }
}

// WithSinks appends already-constructed sinks.
func WithSinks(sinks ...Sink) Option {
	return func(disp *Dispatcher) {
		for _, s := range sinks {
			disp.sinks = append(disp.sinks, guard(s))
		}
	}
}

// NewDispatcher creates a dispatcher from alerting config.
func NewDispatcher(cfg types.AlertingConfig, logger *slog.Logger, opts ...Option) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger:       logger,
		cooldown:     defaultCooldown,
		timeout:      defaultDeliveryTimeout,
		historyLimit: defaultHistoryLimit,
		now:          time.Now,
		lastSent:     make(map[cooldownKey]time.Time),
	}
	if v, err := time.ParseDuration(cfg.Cooldown); err == nil && v > 0 {
		d.cooldown = v
	}
	if v, err := time.ParseDuration(cfg.DeliveryTimeout); err == nil && v > 0 {
		d.timeout = v
	}
	if cfg.HistoryLimit > 0 {
		d.historyLimit = cfg.HistoryLimit
	}
	for _, c := range cfg.Channels {
		sink, err := newSink(c)
		if err != nil {
			return nil, fmt.Errorf("creating %s sink: %w", c.Type, err)
		}
		d.sinks = append(d.sinks, guard(sink))
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

func guard(s Sink) guardedSink {
	return guardedSink{
		sink: s,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        s.Name(),
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Process delivers alert unless an alert with the same spectrum and type was
// delivered within the cooldown. Suppressed alerts are still recorded in
// history. Sink failures are logged and never change the outcome.
func (d *Dispatcher) Process(ctx context.Context, alert types.QualityAlert) bool {
	key := cooldownKey{spectrum: alert.Spectrum, typ: alert.Type}
	now := d.now()

	d.mu.Lock()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.cooldown {
		d.appendLocked(types.AlertRecord{Alert: alert, Suppressed: true, RecordedAt: now})
		d.mu.Unlock()
		metrics.Inc(ctx, metrics.AlertsSuppressed, attribute.String("spectrum", alert.Spectrum))
		d.logger.Debug("alert suppressed", "spectrum", alert.Spectrum, "type", alert.Type, "since", now.Sub(last))
		return false
	}
	d.lastSent[key] = now
	d.mu.Unlock()

	failed := d.fanOut(ctx, alert)

	d.mu.Lock()
	d.appendLocked(types.AlertRecord{Alert: alert, Delivered: true, Failed: failed, RecordedAt: now})
	d.mu.Unlock()
	metrics.Inc(ctx, metrics.AlertsDelivered, attribute.String("spectrum", alert.Spectrum))
	return true
}

func (d *Dispatcher) fanOut(ctx context.Context, alert types.QualityAlert) []string {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []string
	)
	for _, gs := range d.sinks {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			_, err := gs.breaker.Execute(func() (interface{}, error) {
				return nil, gs.sink.Send(sendCtx, alert)
			})
			if err != nil {
				d.logger.Error("alert delivery failed", "sink", gs.sink.Name(), "spectrum", alert.Spectrum, "error", err)
				metrics.Inc(ctx, metrics.AlertSinkFailures, attribute.String("sink", gs.sink.Name()))
				mu.Lock()
				failed = append(failed, gs.sink.Name())
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func (d *Dispatcher) appendLocked(rec types.AlertRecord) {
	d.history = append(d.history, rec)
	if over := len(d.history) - d.historyLimit; over > 0 {
		d.history = append([]types.AlertRecord(nil), d.history[over:]...)
	}
}

// History returns up to limit of the most recent records, oldest first.
// A non-positive limit returns everything retained.
func (d *Dispatcher) History(limit int) []types.AlertRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := 0
	if limit > 0 && len(d.history) > limit {
		start = len(d.history) - limit
	}
	out := make([]types.AlertRecord, len(d.history)-start)
	copy(out, d.history[start:])
	return out
}

// SinkNames lists configured sinks in order.
func (d *Dispatcher) SinkNames() []string {
	names := make([]string, len(d.sinks))
	for i, gs := range d.sinks {
		names[i] = gs.sink.Name()
	}
	return names
}

// Healthy reports false when any sink's circuit is open.
func (d *Dispatcher) Healthy() bool {
	for _, gs := range d.sinks {
		if gs.breaker.State() == gobreaker.StateOpen {
			return false
		}
	}
	return true
}

func newSink(cfg types.AlertConfig) (Sink, error) {
	switch cfg.Type {
	case types.SinkConsole:
		return NewConsoleSink(), nil
	case types.SinkWebhook:
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook URL required")
		}
		return NewWebhookSink(cfg.URL), nil
	case types.SinkFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file path required")
		}
		return NewFileSink(cfg.Path)
	case types.SinkSNS:
		return NewSNSSink(cfg.TopicARN)
	case types.SinkS3:
		return NewS3Sink(cfg.BucketName, cfg.Prefix)
	case types.SinkEventBridge:
		return NewEventBridgeSink(cfg.EventBus, cfg.Source)
	default:
		return nil, fmt.Errorf("unknown alert type %q", cfg.Type)
	}
}
