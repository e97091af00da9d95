package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/guardrail/internal/aggregate"
)

// SampleStore persists sealed metric samples. Response times are stored in
// microseconds so sub-millisecond latencies survive the round trip.
type SampleStore struct {
	Pool *pgxpool.Pool
}

// NewSampleStore returns a store backed by the provided pool.
func NewSampleStore(pool *pgxpool.Pool) *SampleStore {
	return &SampleStore{Pool: pool}
}

// Append inserts one sealed sample.
func (s *SampleStore) Append(ctx context.Context, sample aggregate.Sample) error {
	const query = `INSERT INTO breaker_samples (breaker, bucket_ts, request_count, success_count,
		failure_count, timeouts, avg_response_time_us, p95_response_time_us, p99_response_time_us)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.Pool.Exec(ctx, query,
		sample.Breaker,
		sample.Timestamp,
		sample.RequestCount,
		sample.SuccessCount,
		sample.FailureCount,
		sample.Timeouts,
		sample.AvgResponseTime.Microseconds(),
		sample.P95ResponseTime.Microseconds(),
		sample.P99ResponseTime.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("repo: append sample: %w", err)
	}
	return nil
}

// QueryRange returns samples for the breaker in [from, to) ordered by bucket time.
func (s *SampleStore) QueryRange(ctx context.Context, breaker string, from, to time.Time) ([]aggregate.Sample, error) {
	const query = `SELECT breaker, bucket_ts, request_count, success_count, failure_count,
		timeouts, avg_response_time_us, p95_response_time_us, p99_response_time_us
		FROM breaker_samples
		WHERE breaker = $1 AND bucket_ts >= $2 AND bucket_ts < $3
		ORDER BY bucket_ts`
	rows, err := s.Pool.Query(ctx, query, breaker, from, to)
	if err != nil {
		return nil, fmt.Errorf("repo: query samples: %w", err)
	}
	defer rows.Close()

	var samples []aggregate.Sample
	for rows.Next() {
		var (
			sample aggregate.Sample
			avgUs  int64
			p95Us  int64
			p99Us  int64
		)
		if err := rows.Scan(
			&sample.Breaker,
			&sample.Timestamp,
			&sample.RequestCount,
			&sample.SuccessCount,
			&sample.FailureCount,
			&sample.Timeouts,
			&avgUs,
			&p95Us,
			&p99Us,
		); err != nil {
			return nil, fmt.Errorf("repo: scan sample: %w", err)
		}
		sample.AvgResponseTime = time.Duration(avgUs) * time.Microsecond
		sample.P95ResponseTime = time.Duration(p95Us) * time.Microsecond
		sample.P99ResponseTime = time.Duration(p99Us) * time.Microsecond
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: query samples: %w", err)
	}
	return samples, nil
}

// DeleteBefore removes samples older than the cutoff and reports how many
// rows were pruned.
func (s *SampleStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM breaker_samples WHERE bucket_ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("repo: prune samples: %w", err)
	}
	return tag.RowsAffected(), nil
}
