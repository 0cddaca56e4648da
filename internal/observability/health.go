package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker manages liveness and readiness state. The service is ready
// once every registered dependency has reported in.
type HealthChecker struct {
	mu        sync.RWMutex
	deps      map[string]bool
	startTime time.Time
}

// NewHealthChecker registers the named dependencies as not yet ready.
func NewHealthChecker(dependencies ...string) *HealthChecker {
	deps := make(map[string]bool, len(dependencies))
	for _, d := range dependencies {
		deps[d] = false
	}
	return &HealthChecker{
		deps:      deps,
		startTime: time.Now(),
	}
}

// SetDependency records whether a dependency is usable.
func (h *HealthChecker) SetDependency(name string, ok bool) {
	h.mu.Lock()
	h.deps[name] = ok
	h.mu.Unlock()
}

// IsReady returns whether every dependency is usable.
func (h *HealthChecker) IsReady() bool {
	return len(h.pending()) == 0
}

func (h *HealthChecker) pending() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for name, ok := range h.deps {
		if !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// LivenessHandler returns HTTP 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 when ready and 503 with the pending
// dependencies otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	pending := h.pending()
	if len(pending) == 0 {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "not_ready",
		"pending": pending,
	})
}
