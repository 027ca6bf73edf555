package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// fallbackBody is served when a handler's own payload fails to marshal. It
// mirrors models.Error("Internal server error") so clients always receive
// the envelope shape.
const fallbackBody = `{"status":"error","message":"Internal server error"}`

// writeJSONResponse marshals the payload before touching the response
// writer, so an encoding failure can still change the status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal payload", "error", err)
		statusCode = http.StatusInternalServerError
		body = []byte(fallbackBody)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.writeJSONResponse: failed to write response", "error", err)
	}
}
