package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/adindex/adindex/internal/apierr"
)

// envelope is the wire shape for every /api/ response: exactly one of
// the "data" or "error" keys is present, status is always 200.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// dataEnvelope is the success form of envelope. Its "data" key is always
// written, so a nil result encodes as {"data":null}.
type dataEnvelope struct {
	Data any `json:"data"`
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, dataEnvelope{Data: data})
}

// writeErr maps err onto the wire error taxonomy: DataArgument and
// NotFound surface their message verbatim; anything else is logged and
// reported generically so internal detail never leaks to a browser
// client.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case apierr.IsDataArgument(err), apierr.IsNotFound(err):
		writeJSON(w, envelope{Error: err.Error()})
	default:
		slog.Error("api: unhandled error", "error", err)
		writeJSON(w, envelope{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: encode response failed", "error", err)
	}
}
