package handlers

import (
	"io"
	"net/http"

	"github.com/dwsmith1983/qualityloop/internal/metricsource"
)

// PushSamples accepts one sample or an array of samples. Invalid samples
// are counted as rejected by the orchestrator rather than failing the batch.
func (h *Handlers) PushSamples(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
		return
	}
	samples, err := metricsource.DecodeSamples(data)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid samples", err)
		return
	}

	accepted := 0
	for _, s := range samples {
		if h.ctrl.Ingest(s) {
			accepted++
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]int{
		"accepted": accepted,
		"rejected": len(samples) - accepted,
	})
}
