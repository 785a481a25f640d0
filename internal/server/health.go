package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const healthCheckTimeout = 5 * time.Second

// Pinger is the reachability probe each backing component exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ComponentCheck reports one backing component's reachability.
type ComponentCheck struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthReport is the /healthz response body.
type HealthReport struct {
	Status     string                    `json:"status"`
	Components map[string]ComponentCheck `json:"components"`
}

// HealthHandler probes the backing components so orchestrators can gate
// traffic on readiness. A failing component degrades the report but the
// endpoint itself always answers.
type HealthHandler struct {
	components map[string]Pinger
}

// NewHealthHandler builds a handler over named components, typically
// "storage" and "cache". Nil pingers are skipped so callers can pass
// whatever subset is wired.
func NewHealthHandler(components map[string]Pinger) *HealthHandler {
	checks := make(map[string]Pinger, len(components))
	for name, p := range components {
		if p != nil {
			checks[name] = p
		}
	}
	return &HealthHandler{components: checks}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	report := HealthReport{
		Status:     "ok",
		Components: make(map[string]ComponentCheck, len(h.components)),
	}
	for name, p := range h.components {
		check := ComponentCheck{Status: "ok"}
		if err := p.Ping(ctx); err != nil {
			check = ComponentCheck{Status: "error", Error: err.Error()}
			report.Status = "degraded"
		}
		report.Components[name] = check
	}

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(report)
}
