package handlers

import (
	"net/http"
)

// History returns the audit log with its governance summary.
func (h *Handlers) History(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.History())
}

// ClearHistory destructively empties the audit log.
func (h *Handlers) ClearHistory(w http.ResponseWriter, r *http.Request) {
	resp, err := h.ctrl.ClearHistory(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to clear history", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
