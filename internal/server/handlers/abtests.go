package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// StartABTest starts an operator-defined A/B test. Invalid or conflicting
// configs come back as a structured result with 422.
func (h *Handlers) StartABTest(w http.ResponseWriter, r *http.Request) {
	var cfg types.ABTestConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	res, err := h.ctrl.StartABTest(r.Context(), cfg)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
		return
	}
	status := http.StatusCreated
	if !res.Started {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

// CancelABTest stops a running test and rolls its variant back.
func (h *Handlers) CancelABTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "testID")
	status, ok, err := h.ctrl.CancelABTest(id)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "no running ab test "+id, nil)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListABTests returns running and finished tests.
func (h *Handlers) ListABTests(w http.ResponseWriter, _ *http.Request) {
	tests := h.ctrl.ABTestStatuses()
	if tests == nil {
		tests = []types.ABTestStatus{}
	}
	writeJSON(w, http.StatusOK, tests)
}
