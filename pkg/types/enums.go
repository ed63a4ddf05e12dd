// Package types defines the public domain types for the qualityloop quality-control cycle.
package types

// AlertType classifies what a quality check detected.
type AlertType string

// AlertType values enumerate the monitor's detection rules.
const (
	AlertThresholdBreach    AlertType = "threshold_breach"
	AlertQualityDegradation AlertType = "quality_degradation"
	AlertHighVariance       AlertType = "high_variance"
)

// Severity ranks an alert's urgency.
type Severity string

// Severity values from most to least urgent.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// QualityBand buckets a mean quality score against the configured thresholds.
type QualityBand string

// QualityBand values.
const (
	BandCritical   QualityBand = "critical"
	BandWarning    QualityBand = "warning"
	BandAcceptable QualityBand = "acceptable"
	BandTarget     QualityBand = "target"
	BandExcellent  QualityBand = "excellent"
)

// DeploymentStatus represents the lifecycle state of a deployment.
type DeploymentStatus string

// DeploymentStatus values represent the lifecycle states of a deployment.
const (
	DeploymentPending     DeploymentStatus = "PENDING"
	DeploymentValidating  DeploymentStatus = "VALIDATING"
	DeploymentDeploying   DeploymentStatus = "DEPLOYING"
	DeploymentDeployed    DeploymentStatus = "DEPLOYED"
	DeploymentMonitoring  DeploymentStatus = "MONITORING"
	DeploymentRollingBack DeploymentStatus = "ROLLING_BACK"
	DeploymentRolledBack  DeploymentStatus = "ROLLED_BACK"
	DeploymentFailed      DeploymentStatus = "FAILED"
)

// StrategyKind names a remediation strategy the optimizer can apply.
type StrategyKind string

// StrategyKind values enumerate the supported remediation strategies.
const (
	StrategyGradualEnhancement  StrategyKind = "gradual_enhancement"
	StrategyPromptRefinement    StrategyKind = "prompt_refinement"
	StrategyExampleAugmentation StrategyKind = "example_augmentation"
	StrategyTemperatureTuning   StrategyKind = "temperature_tuning"
	StrategyContextExpansion    StrategyKind = "context_expansion"
)

// KnownStrategy reports whether k is one of the built-in strategy kinds.
func KnownStrategy(k StrategyKind) bool {
	switch k {
	case StrategyGradualEnhancement, StrategyPromptRefinement, StrategyExampleAugmentation,
		StrategyTemperatureTuning, StrategyContextExpansion:
		return true
	}
	return false
}

// EntryType classifies an audit log entry.
type EntryType string

// EntryType values for the governance log.
const (
	EntryOptimizationCycle   EntryType = "optimization_cycle"
	EntryOptimizationFailure EntryType = "optimization_failure"
	EntryRollbackExecution   EntryType = "rollback_execution"
	EntryABTest              EntryType = "ab_test"
)

// ABOutcome is the single conclusion an A/B test reaches.
type ABOutcome string

// ABOutcome values.
const (
	ABPromoted   ABOutcome = "promoted"
	ABRolledBack ABOutcome = "rolled_back"
)

// SinkType defines an alert delivery channel.
type SinkType string

// SinkType values enumerate the supported alert channels.
const (
	SinkConsole     SinkType = "console"
	SinkFile        SinkType = "file"
	SinkWebhook     SinkType = "webhook"
	SinkSNS         SinkType = "sns"
	SinkS3          SinkType = "s3"
	SinkEventBridge SinkType = "eventbridge"
)
