// Package common provides shared HTTP response writers for API handlers.
package common

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// WriteJSONResponse writes data as JSON with the given status. The body is
// encoded before anything is written so an encoding failure still sends
// statusCode, with an empty body.
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		w.WriteHeader(statusCode)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

// WriteTextResponse writes message as a plain text body.
func WriteTextResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(message))
}

// WriteEmptyResponse writes statusCode with no body.
func WriteEmptyResponse(w http.ResponseWriter, statusCode int) {
	w.WriteHeader(statusCode)
}
