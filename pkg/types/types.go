package types

import (
	"fmt"
	"sort"
	"time"
)

// QualitySample is one scored interaction reported by a metric source.
type QualitySample struct {
	Spectrum  string    `json:"spectrum"`
	Model     string    `json:"model,omitempty"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the sample is attributable and its score is normalized.
func (s QualitySample) Validate() error {
	if s.Spectrum == "" {
		return fmt.Errorf("spectrum is required")
	}
	if s.Score < 0 || s.Score > 1 {
		return fmt.Errorf("score %.4f outside [0,1]", s.Score)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// QualityAlert is emitted by the monitor when a window violates a rule.
type QualityAlert struct {
	ID             string    `json:"id"`
	Type           AlertType `json:"type"`
	Severity       Severity  `json:"severity"`
	Spectrum       string    `json:"spectrum"`
	Model          string    `json:"model,omitempty"`
	CurrentQuality float64   `json:"current_quality"`
	Threshold      float64   `json:"threshold"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}

// AlertRecord is an alert_history entry: the alert plus what happened to it.
type AlertRecord struct {
	Alert      QualityAlert `json:"alert"`
	Delivered  bool         `json:"delivered"`
	Suppressed bool         `json:"suppressed"`
	Failed     []string     `json:"failed_channels,omitempty"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// LearningPattern accumulates the observed track record of one strategy or pattern.
type LearningPattern struct {
	PatternID          string    `json:"pattern_id"`
	PatternType        string    `json:"pattern_type"`
	SuccessCount       int       `json:"success_count"`
	FailureCount       int       `json:"failure_count"`
	AverageImprovement float64   `json:"average_improvement"`
	ApplicableContexts []string  `json:"applicable_contexts"`
	ConfidenceScore    float64   `json:"confidence_score"`
	LastUpdated        time.Time `json:"last_updated"`
}

// AppliesTo reports whether the pattern has been observed for spectrum.
func (p LearningPattern) AppliesTo(spectrum string) bool {
	for _, c := range p.ApplicableContexts {
		if c == spectrum {
			return true
		}
	}
	return false
}

// AddContext inserts spectrum into the context set, keeping it sorted.
func (p *LearningPattern) AddContext(spectrum string) {
	if spectrum == "" || p.AppliesTo(spectrum) {
		return
	}
	p.ApplicableContexts = append(p.ApplicableContexts, spectrum)
	sort.Strings(p.ApplicableContexts)
}

// PatternObservation names a pattern identified during a cycle and the
// strategy kind it supports.
type PatternObservation struct {
	ID       string       `json:"id"`
	Strategy StrategyKind `json:"strategy"`
}

// CycleResults summarizes a completed optimization cycle for the learning store.
type CycleResults struct {
	CycleID            string               `json:"cycle_id"`
	StrategiesUsed     []StrategyKind       `json:"strategies_used"`
	Improvements       map[string]float64   `json:"improvements"`
	IdentifiedPatterns []PatternObservation `json:"identified_patterns,omitempty"`
	Timestamp          time.Time            `json:"timestamp"`
}

// OptimizationResult is the optimizer's proposal for one spectrum.
type OptimizationResult struct {
	Spectrum            string       `json:"spectrum"`
	Strategy            StrategyKind `json:"strategy"`
	PatternID           string       `json:"pattern_id,omitempty"`
	Artifact            Artifact     `json:"optimized_artifact"`
	ExpectedImprovement float64      `json:"expected_improvement"`
	Confidence          float64      `json:"confidence"`
	LearningApplied     int          `json:"learning_applied"`
	CurrentQuality      float64      `json:"current_quality"`
	CreatedAt           time.Time    `json:"created_at"`
}

// AttemptRecord is one entry of the optimizer's rolling per-spectrum history.
type AttemptRecord struct {
	Strategy  StrategyKind `json:"strategy"`
	Success   bool         `json:"success"`
	Timestamp time.Time    `json:"timestamp"`
}

// Readiness is the governor's verdict on whether a result is safe to ship.
type Readiness struct {
	Ready                bool    `json:"ready"`
	ImprovementOK        bool    `json:"improvement_ok"`
	ConfidenceOK         bool    `json:"confidence_ok"`
	ExpectedImprovement  float64 `json:"expected_improvement"`
	Confidence           float64 `json:"confidence"`
	ImprovementThreshold float64 `json:"improvement_threshold"`
	ConfidenceThreshold  float64 `json:"confidence_threshold"`
	Recommendation       string  `json:"recommendation"`
}

// SnapshotHandle identifies a stored copy of a location taken before a write.
type SnapshotHandle struct {
	ID       string    `json:"id"`
	Location string    `json:"location"`
	Existed  bool      `json:"existed"`
	Ref      string    `json:"ref,omitempty"`
	TakenAt  time.Time `json:"taken_at"`
}

// Deployment tracks one artifact swap at a target location.
type Deployment struct {
	DeploymentID      string           `json:"deployment_id"`
	Spectrum          string           `json:"spectrum,omitempty"`
	Strategy          StrategyKind     `json:"strategy,omitempty"`
	Artifact          string           `json:"artifact"`
	TargetLocation    string           `json:"target_location"`
	Status            DeploymentStatus `json:"status"`
	ValidationResults *Readiness       `json:"validation_results,omitempty"`
	RollbackData      *SnapshotHandle  `json:"rollback_data,omitempty"`
	Reason            string           `json:"reason,omitempty"`
	FailureReason     string           `json:"failure_reason,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	DeployedAt        *time.Time       `json:"deployed_at,omitempty"`
	RolledBackAt      *time.Time       `json:"rolled_back_at,omitempty"`
}

// DeployResult reports the outcome of a deploy request.
type DeployResult struct {
	Deployed   bool        `json:"deployed"`
	Reason     string      `json:"reason,omitempty"`
	Readiness  *Readiness  `json:"readiness,omitempty"`
	Deployment *Deployment `json:"deployment,omitempty"`
}

// RevertResult reports the outcome of rolling back one deployment.
type RevertResult struct {
	Success      bool       `json:"success"`
	DeploymentID string     `json:"deployment_id"`
	Reason       string     `json:"reason,omitempty"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
}

// ABSuccessCriteria decides when an A/B test is conclusive and when to promote.
type ABSuccessCriteria struct {
	SignificanceDelta    float64 `json:"significance_delta" validate:"gt=0,lt=1"`
	ImprovementThreshold float64 `json:"improvement_threshold" validate:"gte=0,lt=1"`
}

// ABTestConfig describes one A/B test.
type ABTestConfig struct {
	TestID          string            `json:"test_id"`
	Spectrum        string            `json:"spectrum,omitempty"`
	ControlArtifact string            `json:"control_artifact,omitempty"`
	VariantArtifact string            `json:"variant_artifact" validate:"required"`
	TrafficSplit    float64           `json:"traffic_split" validate:"gt=0,lte=1"`
	TargetScope     string            `json:"target_scope" validate:"required"`
	SuccessCriteria ABSuccessCriteria `json:"success_criteria"`
	Duration        time.Duration     `json:"duration" validate:"gte=1h"`
	MinSampleSize   int               `json:"min_sample_size" validate:"gte=50"`
}

// ArmMetrics aggregates the samples observed for one arm of a test.
type ArmMetrics struct {
	SampleSize int     `json:"sample_size"`
	Mean       float64 `json:"mean"`
}

// Add folds one score into the running mean.
func (m *ArmMetrics) Add(score float64) {
	m.SampleSize++
	m.Mean += (score - m.Mean) / float64(m.SampleSize)
}

// ABTestResult is the final summary of an A/B test.
type ABTestResult struct {
	TestID         string     `json:"test_id"`
	Spectrum       string     `json:"spectrum,omitempty"`
	TargetScope    string     `json:"target_scope"`
	ControlMetrics ArmMetrics `json:"control_metrics"`
	VariantMetrics ArmMetrics `json:"variant_metrics"`
	Delta          float64    `json:"delta"`
	Significant    bool       `json:"significant"`
	EarlyStopped   bool       `json:"early_stopped"`
	Outcome        ABOutcome  `json:"outcome"`
	Reason         string     `json:"reason,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        time.Time  `json:"ended_at"`
}

// ABStartResult reports whether a test was accepted.
type ABStartResult struct {
	Started bool   `json:"started"`
	TestID  string `json:"test_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ABTestStatus is a point-in-time view of a running or finished test.
type ABTestStatus struct {
	Config  ABTestConfig  `json:"config"`
	Running bool          `json:"running"`
	Control ArmMetrics    `json:"control"`
	Variant ArmMetrics    `json:"variant"`
	Result  *ABTestResult `json:"result,omitempty"`
}

// Improvement records one component change made by a cycle. Before is nil when
// the component did not exist prior to the change.
type Improvement struct {
	Component string  `json:"component"`
	Before    *string `json:"before"`
	After     *string `json:"after"`
	Reason    string  `json:"reason"`
}

// ChangeHistoryEntry is one append-only governance log record.
type ChangeHistoryEntry struct {
	Type               EntryType     `json:"type"`
	CycleID            string        `json:"cycle_id"`
	Timestamp          time.Time     `json:"timestamp"`
	Spectrum           string        `json:"spectrum,omitempty"`
	QualityBefore      float64       `json:"quality_before"`
	Improvements       []Improvement `json:"improvements"`
	ComponentsExecuted []string      `json:"components_executed"`
	Error              string        `json:"error,omitempty"`
	RolledBackTo       string        `json:"rolled_back_to,omitempty"`
	// Held marks a cycle that completed but shipped nothing because the
	// governor did not find it ready.
	Held bool `json:"held,omitempty"`
}

// GovernanceSummary is derived from the audit log on read.
type GovernanceSummary struct {
	RollbackAvailable   bool                `json:"rollback_available"`
	LastKnownGoodState  *ChangeHistoryEntry `json:"last_known_good_state"`
	TotalChangesTracked int                 `json:"total_changes_tracked"`
	CyclesCompleted     int                 `json:"cycles_completed"`
	CyclesFailed        int                 `json:"cycles_failed"`
}

// TriggerDecision is the orchestrator's answer to an optimization request.
type TriggerDecision struct {
	Accepted  bool          `json:"accepted"`
	CycleID   string        `json:"cycle_id,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Remaining time.Duration `json:"remaining,omitempty"`
}
