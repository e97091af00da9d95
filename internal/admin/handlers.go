// Package admin maps the breaker engine's operations onto the HTTP API.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/guardrail/internal/aggregate"
	"github.com/noah-isme/guardrail/internal/common"
	"github.com/noah-isme/guardrail/internal/engine"
	"github.com/noah-isme/guardrail/internal/harness"
	"github.com/noah-isme/guardrail/internal/obs"
)

// Handler exposes breaker administration endpoints.
type Handler struct {
	Engine     *engine.Engine
	Aggregator *aggregate.Aggregator
	Runner     harness.Runner
	Validate   *validator.Validate
	Logger     zerolog.Logger
	// Invoke produces the synthetic call used by the test endpoint when the
	// request does not name a target URL.
	Invoke harness.Invoker
	// Events, when set, receives a tested event after each harness run.
	Events engine.Publisher
	// ResetCooldown is surfaced to clients through the Retry-After header.
	ResetCooldown time.Duration
}

type createRequest struct {
	Name                 string `json:"name" validate:"required,max=128"`
	Service              string `json:"service" validate:"max=256"`
	FailureThreshold     int    `json:"failure_threshold" validate:"required,gt=0"`
	RecoveryTimeoutMs    int64  `json:"recovery_timeout_ms" validate:"gte=0"`
	RequestTimeoutMs     int64  `json:"request_timeout_ms" validate:"gte=0"`
	Enabled              *bool  `json:"enabled"`
	AutomaticRecovery    *bool  `json:"automatic_recovery"`
	NotificationsEnabled *bool  `json:"notifications_enabled"`
}

type updateRequest struct {
	Service              *string `json:"service" validate:"omitempty,max=256"`
	FailureThreshold     *int    `json:"failure_threshold" validate:"omitempty,gt=0"`
	RecoveryTimeoutMs    *int64  `json:"recovery_timeout_ms" validate:"omitempty,gte=0"`
	RequestTimeoutMs     *int64  `json:"request_timeout_ms" validate:"omitempty,gte=0"`
	Enabled              *bool   `json:"enabled"`
	AutomaticRecovery    *bool   `json:"automatic_recovery"`
	NotificationsEnabled *bool   `json:"notifications_enabled"`
	Phase                *string `json:"phase"`
	ExpectedRevision     int64   `json:"expected_revision" validate:"gte=0"`
}

type resetRequest struct {
	ExpectedRevision int64 `json:"expected_revision" validate:"gte=0"`
}

type testRequest struct {
	RequestCount  int    `json:"request_count" validate:"required,gt=0,lte=100"`
	CallTimeoutMs int64  `json:"call_timeout_ms" validate:"gte=0"`
	Isolated      bool   `json:"isolated"`
	TargetURL     string `json:"target_url" validate:"omitempty,url"`
}

// List returns breaker snapshots, optionally filtered by service and phase.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := engine.ListFilter{Service: r.URL.Query().Get("service")}
	if raw := r.URL.Query().Get("phase"); raw != "" {
		phase, ok := engine.ParsePhase(raw)
		if !ok {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown phase filter", nil)
			return
		}
		filter.Phase = &phase
	}
	snapshots := h.Engine.List(r.Context(), filter)
	if snapshots == nil {
		snapshots = []engine.Snapshot{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snapshots, "total": len(snapshots)})
}

// Get returns a single breaker snapshot.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.Engine.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, snapshot)
}

// Create registers a new breaker starting in the closed phase.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}
	def := engine.Definition{
		Name:             req.Name,
		Service:          req.Service,
		FailureThreshold: req.FailureThreshold,
		RecoveryTimeout:  time.Duration(req.RecoveryTimeoutMs) * time.Millisecond,
		RequestTimeout:   time.Duration(req.RequestTimeoutMs) * time.Millisecond,
		Flags: engine.Flags{
			Enabled:              boolOr(req.Enabled, true),
			AutomaticRecovery:    boolOr(req.AutomaticRecovery, true),
			NotificationsEnabled: boolOr(req.NotificationsEnabled, true),
		},
	}
	snapshot, err := h.Engine.Create(r.Context(), def)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, snapshot)
}

// Update applies a partial configuration change.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}
	patch := engine.Patch{
		Service:              req.Service,
		FailureThreshold:     req.FailureThreshold,
		Enabled:              req.Enabled,
		AutomaticRecovery:    req.AutomaticRecovery,
		NotificationsEnabled: req.NotificationsEnabled,
		Phase:                req.Phase,
		ExpectedRevision:     req.ExpectedRevision,
	}
	if req.RecoveryTimeoutMs != nil {
		d := time.Duration(*req.RecoveryTimeoutMs) * time.Millisecond
		patch.RecoveryTimeout = &d
	}
	if req.RequestTimeoutMs != nil {
		d := time.Duration(*req.RequestTimeoutMs) * time.Millisecond
		patch.RequestTimeout = &d
	}
	snapshot, err := h.Engine.Update(r.Context(), chi.URLParam(r, "name"), patch)
	if err != nil && !errors.Is(err, engine.ErrStorageUnavailable) {
		h.writeEngineError(w, err)
		return
	}
	if err != nil {
		// Memory is authoritative; report the degraded persistence alongside
		// the accepted change.
		h.Logger.Error().Err(err).Str("breaker", snapshot.Name).Msg("update persisted in memory only")
	}
	common.JSON(w, http.StatusOK, snapshot)
}

// Delete removes a breaker that is closed and idle.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reset forces a breaker back to closed.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
			return
		}
	}
	snapshot, err := h.Engine.Reset(r.Context(), chi.URLParam(r, "name"), req.ExpectedRevision)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, snapshot)
}

// Test runs synthetic calls through the breaker and reports per-call results.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}
	invoke := h.Invoke
	if req.TargetURL != "" {
		invoke = httpInvoker(req.TargetURL)
	}
	if invoke == nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "NO_TARGET", "no synthetic target configured; provide target_url", nil)
		return
	}
	result, err := h.Runner.Run(r.Context(), chi.URLParam(r, "name"), harness.Options{
		RequestCount: req.RequestCount,
		CallTimeout:  time.Duration(req.CallTimeoutMs) * time.Millisecond,
		Isolated:     req.Isolated,
	}, invoke)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if h.Events != nil {
		h.Events.Publish(r.Context(), engine.Event{
			Kind:       engine.KindTested,
			Breaker:    result.Breaker,
			FromPhase:  result.ResultingPhase,
			ToPhase:    result.ResultingPhase,
			Reason:     fmt.Sprintf("synthetic run: %d succeeded, %d failed, %d rejected", result.Succeeded, result.Failed, result.Rejected),
			OccurredAt: time.Now(),
		})
	}
	common.JSON(w, http.StatusOK, result)
}

// Metrics returns folded summary statistics for the query period.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.Engine.Get(r.Context(), name); err != nil {
		h.writeEngineError(w, err)
		return
	}
	period := 15 * time.Minute
	if raw := r.URL.Query().Get("period"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid period", nil)
			return
		}
		period = parsed
	}
	start := time.Now()
	summary, err := h.Aggregator.Summarize(r.Context(), name, period)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if obs.SummaryLatency != nil {
		obs.SummaryLatency.Observe(obs.DurationMillis(time.Since(start)))
	}
	common.JSON(w, http.StatusOK, summary)
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "breaker not found", nil)
	case errors.Is(err, engine.ErrDuplicateName):
		common.JSONError(w, http.StatusConflict, "DUPLICATE_NAME", "breaker name already exists", nil)
	case errors.Is(err, engine.ErrInvalidConfiguration):
		common.JSONError(w, http.StatusBadRequest, "INVALID_CONFIGURATION", err.Error(), nil)
	case errors.Is(err, engine.ErrPhaseImmutable):
		common.JSONError(w, http.StatusUnprocessableEntity, "PHASE_IMMUTABLE", "phase is derived and cannot be assigned", nil)
	case errors.Is(err, engine.ErrBreakerActive):
		common.JSONError(w, http.StatusConflict, "BREAKER_ACTIVE", "breaker is not closed or has a probe in flight", nil)
	case errors.Is(err, engine.ErrConcurrentModification):
		common.JSONError(w, http.StatusConflict, "CONCURRENT_MODIFICATION", "breaker changed since it was read", nil)
	case errors.Is(err, engine.ErrCooldownActive):
		if h.ResetCooldown > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(h.ResetCooldown.Seconds())))
		}
		common.JSONError(w, http.StatusTooManyRequests, "COOLDOWN_ACTIVE", "reset attempted before cooldown elapsed", nil)
	case errors.Is(err, engine.ErrStorageUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "durable store is unavailable", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unexpected error", nil)
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func httpInvoker(target string) harness.Invoker {
	client := &http.Client{}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("target responded with status %d", resp.StatusCode)
		}
		return nil
	}
}
