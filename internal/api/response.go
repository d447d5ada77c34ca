package api

import (
	"encoding/json"
	"net/http"

	"github.com/avelin0/sage/internal/log"
)

// errorBody is the JSON envelope for all error responses.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, logger log.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing to do but record it.
		logger.Error("writing response body failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger log.Logger, status int, message string) {
	writeJSON(w, logger, status, errorBody{Error: message})
}
