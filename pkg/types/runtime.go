package types

import "time"

// Counters are the orchestrator's running totals.
type Counters struct {
	SamplesProcessed       int64   `json:"samples_processed"`
	SamplesRejected        int64   `json:"samples_rejected"`
	ChecksPerformed        int64   `json:"checks_performed"`
	AlertsDelivered        int64   `json:"alerts_delivered"`
	AlertsSuppressed       int64   `json:"alerts_suppressed"`
	OptimizationsTriggered int64   `json:"optimizations_triggered"`
	OptimizationsFailed    int64   `json:"optimizations_failed"`
	DeploymentsCompleted   int64   `json:"deployments_completed"`
	RollbacksExecuted      int64   `json:"rollbacks_executed"`
	ABTestsStarted         int64   `json:"ab_tests_started"`
	CurrentQuality         float64 `json:"current_quality"`
}

// SpectrumStatus is the latest monitor view of one spectrum.
type SpectrumStatus struct {
	Samples     int         `json:"samples"`
	Mean        float64     `json:"mean"`
	Band        QualityBand `json:"band"`
	LastSample  time.Time   `json:"last_sample"`
	Optimizing  bool        `json:"optimizing"`
	SuccessRate float64     `json:"success_rate"`
}

// StatusReport answers the status query.
type StatusReport struct {
	MonitoringActive    bool                      `json:"monitoring_active"`
	Thresholds          Thresholds                `json:"thresholds"`
	Counters            Counters                  `json:"counters"`
	ComponentHealth     map[string]bool           `json:"component_health"`
	ActiveOptimizations []string                  `json:"active_optimizations"`
	Spectra             map[string]SpectrumStatus `json:"spectra"`
	Timestamp           time.Time                 `json:"timestamp"`
}

// TriggerRequest is the manual trigger input.
type TriggerRequest struct {
	Reason string `json:"reason,omitempty"`
}

// TriggerResponse is the manual trigger output.
type TriggerResponse struct {
	Success   bool      `json:"success"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// RollbackRequest selects a rollback target; empty means last known good.
type RollbackRequest struct {
	RollbackID string `json:"rollback_id,omitempty"`
}

// RollbackResult is the outcome of restoring a previous state.
type RollbackResult struct {
	Success               bool      `json:"success"`
	RolledBackTo          string    `json:"rolled_back_to,omitempty"`
	ConfigurationsChanged int       `json:"configurations_changed"`
	Details               []string  `json:"details"`
	Timestamp             time.Time `json:"timestamp"`
	Error                 string    `json:"error,omitempty"`
}

// HistoryResponse answers the history query.
type HistoryResponse struct {
	Entries []ChangeHistoryEntry `json:"entries"`
	Summary GovernanceSummary    `json:"governance_summary"`
}

// ClearHistoryResponse reports a destructive history clear.
type ClearHistoryResponse struct {
	Success      bool `json:"success"`
	ClearedCount int  `json:"cleared_count"`
}
