package aggregate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/guardrail/internal/engine"
)

type memSampleStore struct {
	mu      sync.Mutex
	samples []Sample
}

func (s *memSampleStore) Append(_ context.Context, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

func (s *memSampleStore) QueryRange(_ context.Context, breaker string, from, to time.Time) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Sample
	for _, sample := range s.samples {
		if sample.Breaker != breaker {
			continue
		}
		if sample.Timestamp.Before(from) || !sample.Timestamp.Before(to) {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}

func (s *memSampleStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.samples[:0]
	var pruned int64
	for _, sample := range s.samples {
		if sample.Timestamp.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, sample)
	}
	s.samples = kept
	return pruned, nil
}

func newFixedClock(at time.Time) func() time.Time {
	current := at
	return func() time.Time { return current }
}

func TestObserveAccumulatesOpenBucket(t *testing.T) {
	store := &memSampleStore{}
	start := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	agg, err := New(Config{Store: store, BucketSize: time.Minute, Now: newFixedClock(start)})
	require.NoError(t, err)

	agg.Observe("payments-db", engine.OutcomeSuccess, 10*time.Millisecond)
	agg.Observe("payments-db", engine.OutcomeFailure, 30*time.Millisecond)
	agg.Observe("payments-db", engine.OutcomeTimeout, 50*time.Millisecond)

	require.NoError(t, agg.Flush(context.Background()))
	require.Len(t, store.samples, 1)

	s := store.samples[0]
	require.Equal(t, "payments-db", s.Breaker)
	require.Equal(t, int64(3), s.RequestCount)
	require.Equal(t, int64(1), s.SuccessCount)
	require.Equal(t, int64(2), s.FailureCount)
	require.Equal(t, int64(1), s.Timeouts)
	require.Equal(t, 30*time.Millisecond, s.AvgResponseTime)
}

func TestBucketSealsWhenWindowPasses(t *testing.T) {
	store := &memSampleStore{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	agg, err := New(Config{Store: store, BucketSize: time.Minute, Now: clock})
	require.NoError(t, err)

	agg.Observe("payments-db", engine.OutcomeSuccess, 10*time.Millisecond)
	now = now.Add(90 * time.Second)
	agg.Observe("payments-db", engine.OutcomeSuccess, 20*time.Millisecond)

	require.NoError(t, agg.Flush(context.Background()))
	require.Len(t, store.samples, 2)
	require.Equal(t, int64(1), store.samples[0].RequestCount)
}

func TestNearestRankPercentiles(t *testing.T) {
	store := &memSampleStore{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	agg, err := New(Config{Store: store, BucketSize: time.Minute, Now: newFixedClock(now)})
	require.NoError(t, err)

	// 100 latencies: 1ms..100ms.
	for i := 1; i <= 100; i++ {
		agg.Observe("payments-db", engine.OutcomeSuccess, time.Duration(i)*time.Millisecond)
	}
	require.NoError(t, agg.Flush(context.Background()))
	require.Len(t, store.samples, 1)

	s := store.samples[0]
	require.Equal(t, 95*time.Millisecond, s.P95ResponseTime)
	require.Equal(t, 99*time.Millisecond, s.P99ResponseTime)
}

func TestNearestRankSingleObservation(t *testing.T) {
	store := &memSampleStore{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	agg, err := New(Config{Store: store, BucketSize: time.Minute, Now: newFixedClock(now)})
	require.NoError(t, err)

	agg.Observe("payments-db", engine.OutcomeSuccess, 42*time.Millisecond)
	require.NoError(t, agg.Flush(context.Background()))

	s := store.samples[0]
	require.Equal(t, 42*time.Millisecond, s.P95ResponseTime)
	require.Equal(t, 42*time.Millisecond, s.P99ResponseTime)
}

func TestSummarizeFoldsSealedAndOpenBuckets(t *testing.T) {
	store := &memSampleStore{}
	now := time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC)
	store.samples = []Sample{
		{
			Breaker:         "payments-db",
			Timestamp:       now.Add(-5 * time.Minute),
			RequestCount:    80,
			SuccessCount:    60,
			FailureCount:    20,
			Timeouts:        5,
			AvgResponseTime: 10 * time.Millisecond,
			P95ResponseTime: 40 * time.Millisecond,
			P99ResponseTime: 80 * time.Millisecond,
		},
		{
			Breaker:         "payments-db",
			Timestamp:       now.Add(-2 * time.Minute),
			RequestCount:    20,
			SuccessCount:    20,
			AvgResponseTime: 20 * time.Millisecond,
			P95ResponseTime: 60 * time.Millisecond,
			P99ResponseTime: 90 * time.Millisecond,
		},
		// Outside the period: ignored.
		{
			Breaker:      "payments-db",
			Timestamp:    now.Add(-2 * time.Hour),
			RequestCount: 1000,
		},
		// Different breaker: ignored.
		{
			Breaker:      "search",
			Timestamp:    now.Add(-1 * time.Minute),
			RequestCount: 500,
		},
	}
	agg, err := New(Config{Store: store, BucketSize: time.Minute, Now: newFixedClock(now)})
	require.NoError(t, err)

	sum, err := agg.Summarize(context.Background(), "payments-db", 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(100), sum.TotalRequests)
	require.Equal(t, 2, sum.Buckets)
	require.InDelta(t, 0.8, sum.SuccessRate, 1e-9)
	require.InDelta(t, 0.2, sum.FailureRate, 1e-9)
	require.Equal(t, int64(5), sum.Timeouts)
	// Weighted mean: (10*80 + 20*20) / 100 = 12ms.
	require.Equal(t, 12*time.Millisecond, sum.AvgResponseTime)
	// (40*80 + 60*20) / 100 = 44ms.
	require.Equal(t, 44*time.Millisecond, sum.P95ResponseTime)
}

func TestSummarizeEmptyPeriod(t *testing.T) {
	store := &memSampleStore{}
	agg, err := New(Config{Store: store, BucketSize: time.Minute})
	require.NoError(t, err)

	sum, err := agg.Summarize(context.Background(), "no-traffic", 15*time.Minute)
	require.NoError(t, err)
	require.Zero(t, sum.TotalRequests)
	require.Zero(t, sum.SuccessRate)
	require.Zero(t, sum.Buckets)
}

func TestSummarizeIncludesOpenBucket(t *testing.T) {
	store := &memSampleStore{}
	now := time.Date(2025, 6, 1, 12, 0, 20, 0, time.UTC)
	agg, err := New(Config{Store: store, BucketSize: time.Minute, Now: newFixedClock(now)})
	require.NoError(t, err)

	agg.Observe("payments-db", engine.OutcomeSuccess, 10*time.Millisecond)
	agg.Observe("payments-db", engine.OutcomeSuccess, 20*time.Millisecond)

	sum, err := agg.Summarize(context.Background(), "payments-db", 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), sum.TotalRequests)
	require.Equal(t, 1, sum.Buckets)
	require.InDelta(t, 1.0, sum.SuccessRate, 1e-9)
}
