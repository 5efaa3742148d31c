package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope is the standard API response wrapper used across handlers.
type Envelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// JSON writes a success or informational response using the common envelope.
func JSON(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{Code: status, Message: message, Data: data})
}

// Error writes an error response with the shared envelope structure.
func Error(w http.ResponseWriter, status int, message string) {
	write(w, status, Envelope{Code: status, Message: message})
}

// Retry writes an error the caller may repeat unchanged.
func Retry(w http.ResponseWriter, status int, message string) {
	write(w, status, Envelope{Code: status, Message: message, Retryable: true})
}

// Redirect writes a denial carrying the route the client should open.
func Redirect(w http.ResponseWriter, status int, message, location string) {
	write(w, status, Envelope{Code: status, Message: message, Data: map[string]string{"redirect": location}})
}

func write(w http.ResponseWriter, status int, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response failed", "status", status, "error", err)
	}
}
