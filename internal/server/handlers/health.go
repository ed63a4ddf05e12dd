package handlers

import (
	"net/http"
)

// Health reports "ok" when every component is healthy and "degraded"
// otherwise. It always answers 200 so load balancers keep routing to a
// degraded instance.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	report := h.ctrl.Status()
	status := "ok"
	for _, healthy := range report.ComponentHealth {
		if !healthy {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"monitoring": report.MonitoringActive,
		"components": report.ComponentHealth,
	})
}

// Status returns the orchestrator status report.
func (h *Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}
