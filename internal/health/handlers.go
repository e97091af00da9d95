// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/noah-isme/guardrail/internal/common"
)

const (
	defaultDBTimeout    = 500 * time.Millisecond
	defaultRedisTimeout = 300 * time.Millisecond
)

// Checker probes the dependencies readiness reports on.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Handler serves /health/live and /health/ready.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
	// BreakerCount reports how many breakers the engine currently holds.
	BreakerCount func() int
}

// notReady flips during shutdown so load balancers drain before connections
// are closed. Zero value means ready.
var notReady atomic.Bool

// SetReady toggles the process-wide readiness gate.
func SetReady(ready bool) {
	notReady.Store(!ready)
}

// Live always answers ok while the process can serve at all.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready answers 200 only when the shutdown gate is open and every dependency
// ping succeeds; the body carries per-dependency detail either way.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if notReady.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}

	status := map[string]any{}
	healthy := true
	for name, err := range map[string]error{
		"db":    h.Checker.PingDB(r.Context(), orDefault(h.DBTimeout, defaultDBTimeout)),
		"redis": h.Checker.PingRedis(r.Context(), orDefault(h.RedisTimeout, defaultRedisTimeout)),
	} {
		if err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if h.BreakerCount != nil {
		status["breakers"] = h.BreakerCount()
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
