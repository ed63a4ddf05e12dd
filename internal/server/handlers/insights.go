package handlers

import (
	"net/http"
	"strconv"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// ListAlerts returns recent alert records.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	alerts := h.ctrl.AlertHistory(limit)
	if alerts == nil {
		alerts = []types.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// ListPatterns returns learned patterns, optionally filtered by ?spectrum=.
func (h *Handlers) ListPatterns(w http.ResponseWriter, r *http.Request) {
	patterns := h.ctrl.Patterns(r.URL.Query().Get("spectrum"))
	if patterns == nil {
		patterns = []types.LearningPattern{}
	}
	writeJSON(w, http.StatusOK, patterns)
}

// ListDeployments returns governor deployments, newest first.
func (h *Handlers) ListDeployments(w http.ResponseWriter, _ *http.Request) {
	deps := h.ctrl.Deployments()
	if deps == nil {
		deps = []types.Deployment{}
	}
	writeJSON(w, http.StatusOK, deps)
}
