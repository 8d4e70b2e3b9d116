package handlers

import (
	"context"
	"testing"

	"github.com/egorovli/appointment-monitor/internal/engine"
)

func TestHealth(t *testing.T) {
	eng := engine.New(engine.Config{})
	h := NewStatusHandler(eng)

	resp := h.Health(context.Background())
	if resp.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", resp.Status)
	}
	if resp.Phase != engine.PhaseParams {
		t.Errorf("Phase = %q, want %q", resp.Phase, engine.PhaseParams)
	}
	if resp.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %d", resp.UptimeSeconds)
	}
}

func TestStatus(t *testing.T) {
	eng := engine.New(engine.Config{})
	h := NewStatusHandler(eng)

	snap := h.Status(context.Background())
	if snap.RunID == "" {
		t.Error("RunID is empty")
	}
	if snap.Phase != engine.PhaseParams {
		t.Errorf("Phase = %q, want %q", snap.Phase, engine.PhaseParams)
	}
}
