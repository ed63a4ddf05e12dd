package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// decodeOptional decodes a JSON body into v; an empty body leaves v untouched.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Trigger starts a manual optimization pass. A rejection is not an error:
// the structured response is returned with 429 and the wait in its reason.
func (h *Handlers) Trigger(w http.ResponseWriter, r *http.Request) {
	var body types.TriggerRequest
	if err := decodeOptional(r, &body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	resp := h.ctrl.Trigger(r.Context(), body.Reason)
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, resp)
}

// Rollback restores the named cycle, or the last known good one when no id is given.
func (h *Handlers) Rollback(w http.ResponseWriter, r *http.Request) {
	var body types.RollbackRequest
	if err := decodeOptional(r, &body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	res := h.ctrl.Rollback(r.Context(), body.RollbackID)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}
