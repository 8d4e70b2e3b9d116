// Package handlers provides the read-only HTTP handlers for the status
// surface consumed by UI collaborators.
package handlers

import (
	"context"
	"time"

	"github.com/egorovli/appointment-monitor/internal/engine"
	"github.com/egorovli/appointment-monitor/internal/version"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string       `json:"status"`
	Version       string       `json:"version"`
	Phase         engine.Phase `json:"phase"`
	UptimeSeconds int64        `json:"uptimeSeconds"`
}

// HealthOutput is the output wrapper for Huma.
type HealthOutput struct {
	Body HealthResponse
}

// StatusOutput is the output wrapper for Huma.
type StatusOutput struct {
	Body engine.Snapshot
}

// StatusHandler serves engine snapshots.
type StatusHandler struct {
	engine  *engine.Engine
	started time.Time
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(eng *engine.Engine) *StatusHandler {
	return &StatusHandler{
		engine:  eng,
		started: time.Now(),
	}
}

// Health returns the process health and engine phase.
func (h *StatusHandler) Health(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:        "healthy",
		Version:       version.Get().Version,
		Phase:         h.engine.Snapshot().Phase,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
}

// Status returns the full engine snapshot.
func (h *StatusHandler) Status(ctx context.Context) engine.Snapshot {
	return h.engine.Snapshot()
}
