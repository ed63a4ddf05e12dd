// Package optimizer chooses a remediation strategy for a degraded spectrum
// from learned patterns and builds the artifact that applies it.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// Conservative defaults used when nothing has been learned for a spectrum.
const (
	DefaultStrategy            = types.StrategyGradualEnhancement
	DefaultExpectedImprovement = 0.02
	DefaultConfidence          = 0.5

	defaultHistorySize = 20
)

var tracer = otel.Tracer("qualityloop/optimizer")

// PatternSource supplies learned patterns, most confident first.
type PatternSource interface {
	PatternsFor(spectrum string) []types.LearningPattern
}

// Context carries what the orchestrator knows about why an optimization was
// requested.
type Context struct {
	Alerts []types.QualityAlert
	Reason string
}

func (c Context) has(typ types.AlertType) bool {
	for _, a := range c.Alerts {
		if a.Type == typ {
			return true
		}
	}
	return false
}

func (c Context) critical() bool {
	for _, a := range c.Alerts {
		if a.Severity == types.SeverityCritical {
			return true
		}
	}
	return false
}

// Optimizer produces OptimizationResults and keeps a short attempt history.
type Optimizer struct {
	patterns    PatternSource
	logger      *slog.Logger
	now         func() time.Time
	historySize int
	target      float64

	mu       sync.Mutex
	attempts map[string][]types.AttemptRecord
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithClock replaces time.Now (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) { o.now = now }
}

// WithHistorySize caps the per-spectrum attempt history.
func WithHistorySize(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.historySize = n
		}
	}
}

// WithTarget sets the quality level artifacts aim for.
func WithTarget(target float64) Option {
	return func(o *Optimizer) {
		if target > 0 {
			o.target = target
		}
	}
}

// New creates an Optimizer reading patterns from src.
func New(src PatternSource, logger *slog.Logger, opts ...Option) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Optimizer{
		patterns:    src,
		logger:      logger,
		now:         time.Now,
		historySize: defaultHistorySize,
		target:      types.DefaultThresholds().Target,
		attempts:    make(map[string][]types.AttemptRecord),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize selects the highest-confidence learned pattern for spectrum, or
// the conservative default when none exist, and builds its artifact.
func (o *Optimizer) Optimize(ctx context.Context, spectrum string, currentQuality float64, octx Context) (types.OptimizationResult, error) {
	_, span := tracer.Start(ctx, "optimizer.Optimize")
	defer span.End()
	span.SetAttributes(attribute.String("spectrum", spectrum), attribute.Float64("quality", currentQuality))

	result := types.OptimizationResult{
		Spectrum:            spectrum,
		Strategy:            DefaultStrategy,
		ExpectedImprovement: DefaultExpectedImprovement,
		Confidence:          DefaultConfidence,
		CurrentQuality:      currentQuality,
		CreatedAt:           o.now(),
	}

	patterns := o.patterns.PatternsFor(spectrum)
	if len(patterns) > 0 {
		best := patterns[0]
		result.Strategy = types.StrategyKind(best.PatternType)
		if result.Strategy == "" {
			result.Strategy = types.StrategyKind(best.PatternID)
		}
		result.PatternID = best.PatternID
		result.ExpectedImprovement = best.AverageImprovement
		result.Confidence = best.ConfidenceScore
		result.LearningApplied = len(patterns)
	}

	kind := result.Strategy
	if !types.KnownStrategy(kind) {
		o.logger.Warn("unknown learned strategy, building gradual artifact", "spectrum", spectrum, "strategy", kind)
		kind = types.StrategyGradualEnhancement
	}
	artifact, err := o.build(kind, spectrum, currentQuality, octx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.OptimizationResult{}, fmt.Errorf("building %s artifact for %s: %w", kind, spectrum, err)
	}
	result.Artifact = artifact

	span.SetAttributes(
		attribute.String("strategy", string(result.Strategy)),
		attribute.Float64("expected_improvement", result.ExpectedImprovement),
		attribute.Float64("confidence", result.Confidence),
		attribute.Int("learning_applied", result.LearningApplied),
	)
	o.logger.Info("optimization proposed",
		"spectrum", spectrum,
		"strategy", result.Strategy,
		"expected_improvement", result.ExpectedImprovement,
		"confidence", result.Confidence,
		"learning_applied", result.LearningApplied,
	)
	return result, nil
}

// RecordAttempt appends an outcome to the rolling history for spectrum.
func (o *Optimizer) RecordAttempt(spectrum string, strategy types.StrategyKind, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := append(o.attempts[spectrum], types.AttemptRecord{Strategy: strategy, Success: success, Timestamp: o.now()})
	if over := len(h) - o.historySize; over > 0 {
		h = append([]types.AttemptRecord(nil), h[over:]...)
	}
	o.attempts[spectrum] = h
}

// SuccessRate is successful attempts over total attempts in the rolling
// history. It is diagnostic only and never gates deployment.
func (o *Optimizer) SuccessRate(spectrum string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := o.attempts[spectrum]
	if len(h) == 0 {
		return 0
	}
	var ok int
	for _, a := range h {
		if a.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(h))
}

// Attempts returns a copy of the rolling history for spectrum.
func (o *Optimizer) Attempts(spectrum string) []types.AttemptRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]types.AttemptRecord(nil), o.attempts[spectrum]...)
}
