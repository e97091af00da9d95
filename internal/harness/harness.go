// Package harness issues synthetic calls through a breaker's admission and
// outcome cycle, so operators can validate behaviour without touching
// production traffic. Failures inside the harness are captured and reported
// as data; testing a degraded dependency never crashes the operator.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/guardrail/internal/engine"
)

var harnessNopLogger = zerolog.Nop()

// DefaultCallTimeout bounds a synthetic call when the request carries none.
const DefaultCallTimeout = time.Second

// MaxRequestCount caps a single synthetic run.
const MaxRequestCount = 100

// Invoker is the caller-supplied function exercised by each synthetic call.
type Invoker func(ctx context.Context) error

// Options tune a synthetic run.
type Options struct {
	// RequestCount is the number of synthetic calls to issue.
	RequestCount int
	// CallTimeout bounds each call; exceeding it records a timeout outcome.
	CallTimeout time.Duration
	// Isolated runs the calls against a detached copy of the breaker so live
	// thresholds and counters are untouched.
	Isolated bool
}

// CallResult reports one synthetic call.
type CallResult struct {
	Index    int
	Admitted bool
	Success  bool
	Duration time.Duration
	Error    string
}

// MarshalJSON reports the call with its duration in milliseconds.
func (c CallResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Index      int     `json:"index"`
		Admitted   bool    `json:"admitted"`
		Success    bool    `json:"success"`
		DurationMs float64 `json:"duration_ms"`
		Error      string  `json:"error,omitempty"`
	}{
		Index:      c.Index,
		Admitted:   c.Admitted,
		Success:    c.Success,
		DurationMs: float64(c.Duration) / float64(time.Millisecond),
		Error:      c.Error,
	})
}

// Result aggregates a synthetic run.
type Result struct {
	Breaker        string
	Isolated       bool
	Success        bool
	Requested      int
	Completed      int
	Admitted       int
	Succeeded      int
	Failed         int
	Rejected       int
	AvgResponse    time.Duration
	ResultingPhase engine.Phase
	// Partial is true when the overall deadline cancelled remaining calls.
	Partial bool
	Calls   []CallResult
}

// MarshalJSON reports the run with durations in milliseconds.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Breaker        string       `json:"breaker"`
		Isolated       bool         `json:"isolated"`
		Success        bool         `json:"success"`
		Requested      int          `json:"requested"`
		Completed      int          `json:"completed"`
		Admitted       int          `json:"admitted"`
		Succeeded      int          `json:"succeeded"`
		Failed         int          `json:"failed"`
		Rejected       int          `json:"rejected"`
		AvgResponseMs  float64      `json:"avg_response_time_ms"`
		ResultingPhase string       `json:"resulting_phase"`
		Partial        bool         `json:"partial"`
		Calls          []CallResult `json:"calls"`
	}{
		Breaker:        r.Breaker,
		Isolated:       r.Isolated,
		Success:        r.Success,
		Requested:      r.Requested,
		Completed:      r.Completed,
		Admitted:       r.Admitted,
		Succeeded:      r.Succeeded,
		Failed:         r.Failed,
		Rejected:       r.Rejected,
		AvgResponseMs:  float64(r.AvgResponse) / float64(time.Millisecond),
		ResultingPhase: r.ResultingPhase.String(),
		Partial:        r.Partial,
		Calls:          r.Calls,
	})
}

// Runner drives synthetic calls through the engine.
type Runner struct {
	Engine *engine.Engine
	Logger *zerolog.Logger
}

// Run issues opts.RequestCount synthetic calls through the breaker. The
// context carries the overall deadline: when it expires the remaining calls
// are cancelled and the partial result is returned rather than an error.
// Run only errors when the breaker does not exist or the options are invalid.
func (r Runner) Run(ctx context.Context, name string, opts Options, invoke Invoker) (Result, error) {
	if r.Engine == nil {
		return Result{}, errors.New("harness: engine not configured")
	}
	if invoke == nil {
		return Result{}, errors.New("harness: invoker is required")
	}
	if opts.RequestCount <= 0 || opts.RequestCount > MaxRequestCount {
		return Result{}, fmt.Errorf("harness: request count must be between 1 and %d", MaxRequestCount)
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}

	eng := r.Engine
	if opts.Isolated {
		detached, err := eng.Detached(name)
		if err != nil {
			return Result{}, err
		}
		eng = detached
	} else if _, err := eng.Get(ctx, name); err != nil {
		return Result{}, err
	}

	logger := r.Logger
	if logger == nil {
		logger = &harnessNopLogger
	}

	result := Result{
		Breaker:   name,
		Isolated:  opts.Isolated,
		Requested: opts.RequestCount,
		Calls:     make([]CallResult, 0, opts.RequestCount),
	}
	var totalRT time.Duration

	for i := 0; i < opts.RequestCount; i++ {
		if ctx.Err() != nil {
			result.Partial = true
			break
		}
		call := CallResult{Index: i}
		admitted, err := eng.CanAdmit(ctx, name)
		if err != nil {
			// Breaker deleted mid-run: report what we have.
			result.Partial = true
			break
		}
		if !admitted {
			result.Rejected++
			result.Calls = append(result.Calls, call)
			result.Completed++
			continue
		}
		call.Admitted = true
		result.Admitted++

		outcome, duration, callErr := r.invokeOnce(ctx, callTimeout, invoke)
		call.Duration = duration
		totalRT += duration
		if outcome == engine.OutcomeSuccess {
			call.Success = true
			result.Succeeded++
		} else {
			result.Failed++
			if callErr != nil {
				call.Error = callErr.Error()
			}
		}
		_ = eng.RecordOutcome(ctx, name, outcome, duration)
		result.Calls = append(result.Calls, call)
		result.Completed++
	}

	if result.Admitted > 0 {
		result.AvgResponse = totalRT / time.Duration(result.Admitted)
	}
	result.Success = result.Admitted > 0 && result.Failed == 0
	if snap, err := eng.Get(ctx, name); err == nil {
		result.ResultingPhase = snap.Phase
	}

	logger.Debug().
		Str("breaker", name).
		Bool("isolated", result.Isolated).
		Int("requested", result.Requested).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("rejected", result.Rejected).
		Str("resulting_phase", result.ResultingPhase.String()).
		Msg("synthetic_run")
	return result, nil
}

// invokeOnce runs a single synthetic call with its own timeout, converting
// panics and deadline errors into outcomes instead of propagating them.
func (r Runner) invokeOnce(ctx context.Context, timeout time.Duration, invoke Invoker) (engine.Outcome, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("harness: invoker panicked: %v", rec)
			}
		}()
		done <- invoke(callCtx)
	}()

	select {
	case err := <-done:
		duration := time.Since(start)
		if err == nil {
			return engine.OutcomeSuccess, duration, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return engine.OutcomeTimeout, duration, err
		}
		return engine.OutcomeFailure, duration, err
	case <-callCtx.Done():
		duration := time.Since(start)
		return engine.OutcomeTimeout, duration, callCtx.Err()
	}
}
