// Package health implements liveness/readiness checks for the
// orchestrator's dependencies (Postgres, Redis, background loops).
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

type CheckResult struct {
	Status  Status        `json:"status"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

type Response struct {
	Status       Status                 `json:"status"`
	Dependencies map[string]CheckResult `json:"dependencies,omitempty"`
}

const defaultCheckTimeout = 2 * time.Second

type Health struct {
	checkers []Checker
	ready    atomic.Bool
}

func New() *Health {
	return &Health{}
}

func (h *Health) Register(c Checker) {
	if c == nil {
		return
	}
	h.checkers = append(h.checkers, c)
}

func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *Health) IsReady() bool {
	return h.ready.Load()
}

// Live only confirms the process responds.
func (h *Health) Live() Response {
	return Response{Status: StatusUp}
}

// Ready checks all registered dependencies, gated on SetReady.
func (h *Health) Ready(ctx context.Context) Response {
	deps := h.runChecks(ctx)
	status := summarize(deps)
	if !h.IsReady() {
		status = StatusDown
	}
	return Response{Status: status, Dependencies: deps}
}

func (h *Health) runChecks(ctx context.Context) map[string]CheckResult {
	if len(h.checkers) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	results := make(map[string]CheckResult, len(h.checkers))
	for _, c := range h.checkers {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, defaultCheckTimeout)
		res := c.Check(checkCtx)
		cancel()
		if res.Latency <= 0 {
			res.Latency = time.Since(start)
		}
		if res.Status == "" {
			res.Status = StatusDown
		}
		results[c.Name()] = res
	}
	return results
}

func summarize(deps map[string]CheckResult) Status {
	overall := StatusUp
	for _, r := range deps {
		if r.Status != StatusUp {
			overall = StatusDegraded
		}
	}
	return overall
}

func statusCode(s Status) int {
	if s == StatusUp {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Health) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Live()
		writeJSON(w, statusCode(resp.Status), resp)
	}
}

func (h *Health) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Ready(r.Context())
		writeJSON(w, statusCode(resp.Status), resp)
	}
}

// PostgresChecker pings the database.
type PostgresChecker struct {
	DB *sql.DB
}

func (c PostgresChecker) Name() string { return "postgres" }

func (c PostgresChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if c.DB == nil {
		return CheckResult{Status: StatusDown, Message: "db not configured"}
	}
	if err := c.DB.PingContext(ctx); err != nil {
		return CheckResult{Status: StatusDown, Latency: time.Since(start), Message: err.Error()}
	}
	return CheckResult{Status: StatusUp, Latency: time.Since(start)}
}

// Pinger is satisfied by *redis.Client without importing it here.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker wraps any pingable dependency.
type PingChecker struct {
	DepName string
	Target  Pinger
}

func (c PingChecker) Name() string { return c.DepName }

func (c PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if c.Target == nil {
		return CheckResult{Status: StatusDown, Message: "not configured"}
	}
	if err := c.Target.Ping(ctx); err != nil {
		return CheckResult{Status: StatusDown, Latency: time.Since(start), Message: err.Error()}
	}
	return CheckResult{Status: StatusUp, Latency: time.Since(start)}
}

// LoopChecker reports whether a background loop has ticked recently.
type LoopChecker struct {
	DepName string
	Loop    *LoopMonitor
	MaxAge  time.Duration
}

func (c LoopChecker) Name() string { return c.DepName }

func (c LoopChecker) Check(ctx context.Context) CheckResult {
	if c.Loop == nil {
		return CheckResult{Status: StatusDown, Message: "not configured"}
	}
	ok, age, lastErr := c.Loop.Healthy(time.Now(), c.MaxAge)
	status := StatusUp
	if !ok {
		status = StatusDown
	}
	return CheckResult{Status: status, Latency: age, Message: lastErr}
}
