// Package handlers implements HTTP request handlers for the qualityloop API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// Controller is the slice of the orchestrator the API drives.
type Controller interface {
	Status() types.StatusReport
	Trigger(ctx context.Context, reason string) types.TriggerResponse
	Rollback(ctx context.Context, rollbackID string) types.RollbackResult
	History() types.HistoryResponse
	ClearHistory(ctx context.Context) (types.ClearHistoryResponse, error)
	Ingest(s types.QualitySample) bool
	AlertHistory(limit int) []types.AlertRecord
	Patterns(spectrum string) []types.LearningPattern
	Deployments() []types.Deployment
	StartABTest(ctx context.Context, cfg types.ABTestConfig) (types.ABStartResult, error)
	CancelABTest(testID string) (types.ABTestStatus, bool, error)
	ABTestStatuses() []types.ABTestStatus
}

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	ctrl   Controller
	logger *slog.Logger
}

// New creates a new Handlers instance.
func New(ctrl Controller) *Handlers {
	return &Handlers{
		ctrl:   ctrl,
		logger: slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
