package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Health states
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the body of /health and /ready
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

type componentHealth struct {
	healthy bool
	message string
	updated time.Time
}

// HealthChecker tracks the health reported by each component of a server.
// The server is ready once every critical component has reported healthy.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]componentHealth
	critical   []string
	startTime  time.Time
	version    string
}

// NewHealthChecker returns a checker waiting for the given critical components
func NewHealthChecker(version string, critical ...string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]componentHealth),
		critical:   critical,
		startTime:  time.Now(),
		version:    version,
	}
}

// Set records the current health of a component
func (h *HealthChecker) Set(name string, healthy bool, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.components[name] = componentHealth{
		healthy: healthy,
		message: message,
		updated: time.Now(),
	}
}

// Health reports unhealthy if any registered component is unhealthy
func (h *HealthChecker) Health() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := StatusHealthy
	components := make(map[string]string, len(h.components))
	for name, comp := range h.components {
		if comp.healthy {
			components[name] = StatusHealthy
			continue
		}
		status = StatusUnhealthy
		components[name] = "unhealthy: " + comp.message
	}
	return h.status(status, "", components)
}

// Readiness reports not_ready until every critical component is healthy
func (h *HealthChecker) Readiness() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := StatusReady
	var waiting []string
	components := make(map[string]string, len(h.critical))
	for _, name := range h.critical {
		comp, ok := h.components[name]
		switch {
		case !ok:
			components[name] = "not registered"
		case !comp.healthy:
			components[name] = "not ready: " + comp.message
		default:
			components[name] = StatusReady
			continue
		}
		status = StatusNotReady
		waiting = append(waiting, name)
	}

	message := ""
	if len(waiting) > 0 {
		sort.Strings(waiting)
		message = "waiting for " + waiting[0]
	}
	return h.status(status, message, components)
}

func (h *HealthChecker) status(status, message string, components map[string]string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    h.version,
		Uptime:     time.Since(h.startTime).String(),
	}
}

// HealthHandler serves Health, answering 503 when unhealthy
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.Health()
		writeStatus(w, health, health.Status == StatusHealthy)
	}
}

// ReadyHandler serves Readiness, answering 503 until ready
func (h *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := h.Readiness()
		writeStatus(w, ready, ready.Status == StatusReady)
	}
}

func writeStatus(w http.ResponseWriter, body HealthStatus, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
