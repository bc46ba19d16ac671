package handlers

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// healthyResponse wraps data in the standard healthy envelope.
func healthyResponse(data any) map[string]any {
	return map[string]any{
		"status": "healthy",
		"data":   data,
	}
}

// unhealthyResponseWithData wraps data in the unhealthy envelope.
func unhealthyResponseWithData(data any) map[string]any {
	return map[string]any{
		"status": "unhealthy",
		"data":   data,
	}
}
