package handlers

import (
	"net/http"
	"time"

	"github.com/appgarcom/prestador/internal/http/respond"
)

// HealthHandler returns uptime and whether the session has settled.
type HealthHandler struct {
	startedAt time.Time
	ready     <-chan struct{}
}

// NewHealthHandler creates a health endpoint handler. ready is closed once
// the session manager has finished loading.
func NewHealthHandler(startedAt time.Time, ready <-chan struct{}) *HealthHandler {
	return &HealthHandler{startedAt: startedAt, ready: ready}
}

// Register wires the handler into a ServeMux.
func (h *HealthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handle)
}

func (h *HealthHandler) handle(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	select {
	case <-h.ready:
	default:
		status = "starting"
	}
	respond.JSON(w, http.StatusOK, status, map[string]string{
		"status": status,
		"uptime": time.Since(h.startedAt).Truncate(time.Second).String(),
	})
}
