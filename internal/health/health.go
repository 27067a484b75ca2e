// Package health reports run progress and dependency reachability over HTTP.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const checkTimeout = 5 * time.Second

// Check is the outcome of one probe.
type Check struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report is the /health body.
type Report struct {
	Status Status            `json:"status"`
	Ready  bool              `json:"ready"`
	Time   time.Time         `json:"time"`
	Checks []Check           `json:"checks"`
	Info   map[string]string `json:"info,omitempty"`
}

type Checker interface {
	Check(ctx context.Context) Check
}

type namedChecker struct {
	name string
	Checker
}

// Handler serves /health and /ready for one run.
type Handler struct {
	mu       sync.RWMutex
	checkers []namedChecker
	info     map[string]string
	ready    atomic.Bool
}

func NewHandler() *Handler {
	return &Handler{info: make(map[string]string)}
}

// Register adds a checker. Checks run in registration order.
func (h *Handler) Register(name string, c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, namedChecker{name: name, Checker: c})
}

// SetInfo attaches a static key to every report, such as the collector name.
func (h *Handler) SetInfo(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.info[key] = value
}

func (h *Handler) SetReady(ready bool) { h.ready.Store(ready) }

func (h *Handler) Ready() bool { return h.ready.Load() }

// Evaluate runs every checker. One unhealthy check makes the report unhealthy;
// a degraded one only degrades it.
func (h *Handler) Evaluate(ctx context.Context) Report {
	h.mu.RLock()
	checkers := append([]namedChecker(nil), h.checkers...)
	info := make(map[string]string, len(h.info))
	for k, v := range h.info {
		info[k] = v
	}
	h.mu.RUnlock()

	rep := Report{Status: StatusHealthy, Ready: h.Ready(), Time: time.Now().UTC(), Checks: []Check{}, Info: info}
	for _, c := range checkers {
		start := time.Now()
		check := c.Check(ctx)
		check.Name = c.name
		check.LatencyMS = time.Since(start).Milliseconds()
		rep.Checks = append(rep.Checks, check)

		switch {
		case check.Status == StatusUnhealthy:
			rep.Status = StatusUnhealthy
		case check.Status == StatusDegraded && rep.Status == StatusHealthy:
			rep.Status = StatusDegraded
		}
	}
	return rep
}

// ServeHealth answers 503 only when a check is unhealthy.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	rep := h.Evaluate(ctx)
	code := http.StatusOK
	if rep.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// ServeReady answers 503 until the run has started processing files.
func (h *Handler) ServeReady(w http.ResponseWriter, _ *http.Request) {
	ready := h.Ready()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]bool{"ready": ready})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// PingChecker is unhealthy while ping fails.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker wraps ping. A nil ping means the dependency is not configured.
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Check(ctx context.Context) Check {
	if c.ping == nil {
		return Check{Status: StatusHealthy, Message: c.name + " not configured"}
	}
	if err := c.ping(ctx); err != nil {
		return Check{Status: StatusUnhealthy, Message: c.name + " unreachable: " + err.Error()}
	}
	return Check{Status: StatusHealthy}
}

// ProgressChecker is degraded once too many of the files seen so far failed.
type ProgressChecker struct {
	progress     func() (done, failed int)
	maxFailRatio float64
}

// NewProgressChecker reads counts from progress on every check.
func NewProgressChecker(progress func() (done, failed int), maxFailRatio float64) *ProgressChecker {
	return &ProgressChecker{progress: progress, maxFailRatio: maxFailRatio}
}

func (c *ProgressChecker) Check(context.Context) Check {
	done, failed := c.progress()
	if done > 0 && float64(failed)/float64(done) > c.maxFailRatio {
		return Check{Status: StatusDegraded, Message: "high file failure ratio"}
	}
	return Check{Status: StatusHealthy}
}
