package harness_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/guardrail/internal/engine"
	"github.com/noah-isme/guardrail/internal/harness"
)

type memRepo struct{}

func (memRepo) Insert(context.Context, engine.Record) error { return nil }
func (memRepo) Upsert(context.Context, engine.Record) error { return nil }
func (memRepo) Load(context.Context, string) (engine.Record, error) {
	return engine.Record{}, engine.ErrNotFound
}
func (memRepo) List(context.Context) ([]engine.Record, error) { return nil, nil }
func (memRepo) Delete(context.Context, string) error          { return nil }

func newEngine(t *testing.T, threshold int) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.Config{Repo: memRepo{}})
	require.NoError(t, err)
	_, err = eng.Create(context.Background(), engine.Definition{
		Name:             "payments-db",
		Service:          "payments",
		FailureThreshold: threshold,
		RecoveryTimeout:  30 * time.Second,
		RequestTimeout:   time.Second,
		Flags: engine.Flags{
			Enabled:           true,
			AutomaticRecovery: true,
		},
	})
	require.NoError(t, err)
	return eng
}

func TestRunAllSucceed(t *testing.T) {
	eng := newEngine(t, 3)
	runner := harness.Runner{Engine: eng}

	result, err := runner.Run(context.Background(), "payments-db", harness.Options{RequestCount: 5}, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 5, result.Requested)
	require.Equal(t, 5, result.Completed)
	require.Equal(t, 5, result.Admitted)
	require.Equal(t, 5, result.Succeeded)
	require.Zero(t, result.Failed)
	require.Zero(t, result.Rejected)
	require.Equal(t, engine.PhaseClosed, result.ResultingPhase)
	require.Len(t, result.Calls, 5)
}

func TestRunFailuresTripBreakerMidRun(t *testing.T) {
	eng := newEngine(t, 3)
	runner := harness.Runner{Engine: eng}

	result, err := runner.Run(context.Background(), "payments-db", harness.Options{RequestCount: 10}, func(context.Context) error {
		return errors.New("dependency down")
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	// The breaker trips after the third failure; the rest are rejected.
	require.Equal(t, 3, result.Failed)
	require.Equal(t, 7, result.Rejected)
	require.Equal(t, 10, result.Completed)
	require.Equal(t, engine.PhaseOpen, result.ResultingPhase)
	require.Equal(t, "dependency down", result.Calls[0].Error)
}

func TestRunIsolatedLeavesLiveBreakerUntouched(t *testing.T) {
	eng := newEngine(t, 3)
	runner := harness.Runner{Engine: eng}

	result, err := runner.Run(context.Background(), "payments-db", harness.Options{
		RequestCount: 5,
		Isolated:     true,
	}, func(context.Context) error {
		return errors.New("boom")
	})
	require.NoError(t, err)
	require.True(t, result.Isolated)
	require.Equal(t, engine.PhaseOpen, result.ResultingPhase)

	live, err := eng.Get(context.Background(), "payments-db")
	require.NoError(t, err)
	require.Equal(t, engine.PhaseClosed, live.Phase)
	require.Zero(t, live.Counters.FailureCount)
}

func TestRunCapturesPanics(t *testing.T) {
	eng := newEngine(t, 5)
	runner := harness.Runner{Engine: eng}

	result, err := runner.Run(context.Background(), "payments-db", harness.Options{RequestCount: 2}, func(context.Context) error {
		panic("invoker exploded")
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Failed)
	require.Contains(t, result.Calls[0].Error, "invoker exploded")
}

func TestRunCallTimeoutRecordsTimeout(t *testing.T) {
	eng := newEngine(t, 1)
	runner := harness.Runner{Engine: eng}

	result, err := runner.Run(context.Background(), "payments-db", harness.Options{
		RequestCount: 1,
		CallTimeout:  20 * time.Millisecond,
	}, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, engine.PhaseOpen, result.ResultingPhase)

	snap, err := eng.Get(context.Background(), "payments-db")
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.Counters.Timeouts)
}

func TestRunPartialOnCancelledContext(t *testing.T) {
	eng := newEngine(t, 50)
	runner := harness.Runner{Engine: eng}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	result, err := runner.Run(ctx, "payments-db", harness.Options{RequestCount: 20}, func(context.Context) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, result.Partial)
	require.Less(t, result.Completed, 20)
}

func TestRunValidatesOptions(t *testing.T) {
	eng := newEngine(t, 3)
	runner := harness.Runner{Engine: eng}
	noop := func(context.Context) error { return nil }

	_, err := runner.Run(context.Background(), "payments-db", harness.Options{RequestCount: 0}, noop)
	require.Error(t, err)
	_, err = runner.Run(context.Background(), "payments-db", harness.Options{RequestCount: harness.MaxRequestCount + 1}, noop)
	require.Error(t, err)
	_, err = runner.Run(context.Background(), "payments-db", harness.Options{RequestCount: 1}, nil)
	require.Error(t, err)
	_, err = runner.Run(context.Background(), "ghost", harness.Options{RequestCount: 1}, noop)
	require.ErrorIs(t, err, engine.ErrNotFound)
}
