// Package retention prunes aged rows from the durable stores and flushes
// sealed aggregation buckets. It runs inside the worker process.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/guardrail/internal/aggregate"
	"github.com/noah-isme/guardrail/internal/lock"
	"github.com/noah-isme/guardrail/internal/obs"
)

// SampleStore prunes sealed metric samples.
type SampleStore interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventStore prunes emitted events.
type EventStore interface {
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore prunes audit entries.
type AuditStore interface {
	DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config sets the retention windows.
type Config struct {
	SampleRetention time.Duration
	EventRetention  time.Duration
	AuditRetention  time.Duration
	Interval        time.Duration
	LockTTL         time.Duration
}

// Runner executes periodic retention maintenance.
type Runner struct {
	Samples    SampleStore
	Events     EventStore
	Audit      AuditStore
	Aggregator *aggregate.Aggregator
	Locker     lock.Locker
	Logger     zerolog.Logger
	Config     Config
	Now        func() time.Time
}

// Run blocks until the context is cancelled, performing one maintenance pass
// per interval. A Redis lock keeps concurrent workers from pruning twice.
func (r *Runner) Run(ctx context.Context) {
	interval := r.Config.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	ttl := r.Config.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	err := r.Locker.WithLock(ctx, "lock:retention", ttl, func(ctx context.Context) error {
		r.Sweep(ctx)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		r.Logger.Error().Err(err).Msg("retention lock")
	}
}

// Sweep performs one maintenance pass: flush open buckets, then prune.
func (r *Runner) Sweep(ctx context.Context) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	if r.Aggregator != nil {
		if err := r.Aggregator.Flush(ctx); err != nil {
			r.Logger.Error().Err(err).Msg("flush aggregation buckets")
		}
	}
	if r.Samples != nil && r.Config.SampleRetention > 0 {
		r.prune(ctx, "breaker_samples", func(ctx context.Context) (int64, error) {
			return r.Samples.DeleteBefore(ctx, now().Add(-r.Config.SampleRetention))
		})
	}
	if r.Events != nil && r.Config.EventRetention > 0 {
		r.prune(ctx, "breaker_events", func(ctx context.Context) (int64, error) {
			return r.Events.DeleteEventsBefore(ctx, now().Add(-r.Config.EventRetention))
		})
	}
	if r.Audit != nil && r.Config.AuditRetention > 0 {
		r.prune(ctx, "audit_logs", func(ctx context.Context) (int64, error) {
			return r.Audit.DeleteAuditBefore(ctx, now().Add(-r.Config.AuditRetention))
		})
	}
}

func (r *Runner) prune(ctx context.Context, table string, del func(context.Context) (int64, error)) {
	pruned, err := del(ctx)
	if err != nil {
		r.Logger.Error().Err(err).Str("table", table).Msg("retention prune")
		return
	}
	if obs.RetentionPrunedTotal != nil {
		obs.RetentionPrunedTotal.WithLabelValues(table).Add(float64(pruned))
	}
	if pruned > 0 {
		r.Logger.Info().Str("table", table).Int64("rows", pruned).Msg("retention pruned")
	}
}
