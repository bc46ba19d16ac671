// Package handlers implements the HTTP handlers of the operational API.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wallpaperd/wallpaperd/internal/clock"
)

// Checker is anything with a healthcheck: the metadata store, the object
// store, the event bus, the rate limiter.
type Checker interface {
	Healthcheck(ctx context.Context) error
}

// HeartbeatSource reports the last completion time per reconciler loop.
type HeartbeatSource interface {
	Heartbeats() map[string]time.Time
}

// DefaultMaxHeartbeatAge is how stale a reconciler loop heartbeat may be
// before readiness fails.
const DefaultMaxHeartbeatAge = time.Minute

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Are the backing stores reachable and the
//     reconciler loops beating?
type HealthHandler struct {
	checks          map[string]Checker
	heartbeats      HeartbeatSource
	maxHeartbeatAge time.Duration
	clock           clock.Clock
}

// NewHealthHandler creates a new health handler.
//
// checks maps dependency names to their healthcheck; heartbeats may be nil
// when no reconciler runs in this process.
func NewHealthHandler(checks map[string]Checker, heartbeats HeartbeatSource, clk clock.Clock) *HealthHandler {
	if clk == nil {
		clk = clock.System()
	}
	return &HealthHandler{
		checks:          checks,
		heartbeats:      heartbeats,
		maxHeartbeatAge: DefaultMaxHeartbeatAge,
		clock:           clk,
	}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK as long as the HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "wallpaperd",
	}))
}

// DependencyHealth represents the health of one backing dependency.
type DependencyHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// LoopHealth represents the heartbeat age of one reconciler loop.
type LoopHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Age    string `json:"age,omitempty"`
}

// ReadinessResponse is the readiness probe body.
type ReadinessResponse struct {
	Dependencies []DependencyHealth `json:"dependencies"`
	Loops        []LoopHealth       `json:"loops,omitempty"`
}

// Readiness handles GET /health/ready - readiness probe.
//
// Healthchecks every backing dependency and alarms on reconciler loops
// whose last pass is older than the heartbeat limit. Returns 503 when
// anything is unhealthy.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := ReadinessResponse{
		Dependencies: make([]DependencyHealth, 0, len(h.checks)),
	}
	allHealthy := true

	for name, check := range h.checks {
		start := time.Now()
		err := check.Healthcheck(ctx)
		latency := time.Since(start)

		health := DependencyHealth{
			Name:    name,
			Latency: latency.String(),
		}
		if err != nil {
			health.Status = "unhealthy"
			health.Error = err.Error()
			allHealthy = false
		} else {
			health.Status = "healthy"
		}
		response.Dependencies = append(response.Dependencies, health)
	}

	if h.heartbeats != nil {
		for name, last := range h.heartbeats.Heartbeats() {
			age := h.clock.Since(last)
			loop := LoopHealth{
				Name: name,
				Age:  age.String(),
			}
			if age > h.maxHeartbeatAge {
				loop.Status = "stalled"
				allHealthy = false
			} else {
				loop.Status = "healthy"
			}
			response.Loops = append(response.Loops, loop)
		}
	}

	if allHealthy {
		writeJSON(w, http.StatusOK, healthyResponse(response))
	} else {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(response))
	}
}
