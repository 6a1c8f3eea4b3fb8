package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope is the body shape shared by every admin API response:
// {"data": ..., "error": ...}. Exactly one of the two carries content, and
// data is always present so clients can decode it unconditionally.
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// writeJSON writes a successful response carrying data.
func writeJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Data: data})
}

// writeError writes a failure response carrying only an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, envelope{Error: msg})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		// The status line is already on the wire; nothing to do but log.
		slog.Error("admin api response encoding failed", "error", err)
	}
}
