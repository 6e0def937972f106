package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const maxRecentErrors = 20

// HealthChecker reports whether the monitoring loop is ticking and whether
// its dependencies are failing
type HealthChecker struct {
	mu           sync.RWMutex
	startTime    time.Time
	lastTick     time.Time
	maxTickAge   time.Duration
	errors       []string
	openCircuits func() []string
	now          func() time.Time
}

type HealthStatus struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	LastTick     time.Time `json:"last_tick"`
	Uptime       string    `json:"uptime"`
	OpenCircuits []string  `json:"open_circuits,omitempty"`
	Errors       []string  `json:"errors,omitempty"`
}

// NewHealthChecker creates a checker that reports degraded when no tick has
// been recorded within maxTickAge
func NewHealthChecker(maxTickAge time.Duration) *HealthChecker {
	return &HealthChecker{
		startTime:  time.Now(),
		maxTickAge: maxTickAge,
		errors:     make([]string, 0),
		now:        time.Now,
	}
}

// SetOpenCircuitsFunc reports open circuit breakers in the health output
func (h *HealthChecker) SetOpenCircuitsFunc(fn func() []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openCircuits = fn
}

// RecordTick marks a completed monitoring pass
func (h *HealthChecker) RecordTick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTick = h.now()
}

// RecordError keeps the most recent errors
func (h *HealthChecker) RecordError(err error) {
	if h == nil || err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.errors = append(h.errors, err.Error())
	if len(h.errors) > maxRecentErrors {
		h.errors = h.errors[len(h.errors)-maxRecentErrors:]
	}
}

// ClearErrors forgets recorded errors
func (h *HealthChecker) ClearErrors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = h.errors[:0]
}

// Check computes the current health
func (h *HealthChecker) Check() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	health := HealthStatus{
		Status:    "healthy",
		Timestamp: now,
		LastTick:  h.lastTick,
		Uptime:    now.Sub(h.startTime).Round(time.Second).String(),
		Errors:    append([]string(nil), h.errors...),
	}
	if h.openCircuits != nil {
		health.OpenCircuits = h.openCircuits()
	}

	if h.lastTick.IsZero() || now.Sub(h.lastTick) > h.maxTickAge || len(health.OpenCircuits) > 0 {
		health.Status = "degraded"
	}
	if len(health.Errors) > 0 {
		health.Status = "unhealthy"
	}
	return health
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Check()

	w.Header().Set("Content-Type", "application/json")
	switch health.Status {
	case "degraded":
		w.WriteHeader(http.StatusServiceUnavailable)
	case "unhealthy":
		w.WriteHeader(http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(health)
}
