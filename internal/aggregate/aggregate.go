// Package aggregate maintains per-breaker rolling call statistics. Outcomes
// land in an open time bucket; when the bucket's window passes it is sealed
// into an immutable Sample and appended to the store, so historical queries
// fold pre-aggregated rows instead of rescanning raw events.
package aggregate

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/guardrail/internal/engine"
)

var aggregateNopLogger = zerolog.Nop()

// DefaultBucketSize is the observation window used when none is configured.
const DefaultBucketSize = time.Minute

// Config wires an Aggregator.
type Config struct {
	Store      SampleStore
	BucketSize time.Duration
	Logger     *zerolog.Logger
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Aggregator buckets call outcomes per breaker. It implements engine.Observer.
type Aggregator struct {
	mu      sync.Mutex
	open    map[string]*bucket
	store   SampleStore
	size    time.Duration
	logger  *zerolog.Logger
	now     func() time.Time
	flushWG sync.WaitGroup
}

// bucket accumulates outcomes for one breaker inside one observation window.
type bucket struct {
	start     time.Time
	requests  int64
	successes int64
	failures  int64
	timeouts  int64
	totalRT   time.Duration
	latencies []time.Duration
}

// New constructs an aggregator.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Store == nil {
		return nil, errors.New("aggregate: sample store is required")
	}
	size := cfg.BucketSize
	if size <= 0 {
		size = DefaultBucketSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &aggregateNopLogger
	}
	return &Aggregator{
		open:   make(map[string]*bucket),
		store:  cfg.Store,
		size:   size,
		logger: logger,
		now:    now,
	}, nil
}

// Observe records one call outcome. The critical section is purely in-memory;
// a sealed bucket is written to the store on a separate goroutine.
func (a *Aggregator) Observe(name string, outcome engine.Outcome, responseTime time.Duration) {
	now := a.now()

	a.mu.Lock()
	b := a.open[name]
	if b == nil {
		b = &bucket{start: now.Truncate(a.size)}
		a.open[name] = b
	}
	var sealed *Sample
	if now.Sub(b.start) >= a.size {
		s := b.seal(name)
		sealed = &s
		b = &bucket{start: now.Truncate(a.size)}
		a.open[name] = b
	}
	b.requests++
	b.totalRT += responseTime
	b.latencies = append(b.latencies, responseTime)
	switch outcome {
	case engine.OutcomeSuccess:
		b.successes++
	case engine.OutcomeFailure:
		b.failures++
	case engine.OutcomeTimeout:
		b.failures++
		b.timeouts++
	}
	a.mu.Unlock()

	if sealed != nil {
		a.appendAsync(*sealed)
	}
}

// Flush seals and persists every open bucket, then waits for in-flight
// appends. Called on shutdown and by the maintenance worker.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	sealed := make([]Sample, 0, len(a.open))
	for name, b := range a.open {
		if b.requests == 0 {
			continue
		}
		sealed = append(sealed, b.seal(name))
		delete(a.open, name)
	}
	a.mu.Unlock()

	var joined error
	for _, s := range sealed {
		if err := a.store.Append(ctx, s); err != nil {
			joined = errors.Join(joined, err)
		}
	}
	a.flushWG.Wait()
	return joined
}

func (a *Aggregator) appendAsync(s Sample) {
	a.flushWG.Add(1)
	go func() {
		defer a.flushWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.Append(ctx, s); err != nil {
			a.logger.Error().Err(err).
				Str("breaker", s.Breaker).
				Time("bucket", s.Timestamp).
				Msg("append metrics sample")
		}
	}()
}

// seal converts the bucket into an immutable sample, computing latency
// statistics with the nearest-rank percentile rule.
func (b *bucket) seal(name string) Sample {
	s := Sample{
		Breaker:      name,
		Timestamp:    b.start,
		RequestCount: b.requests,
		SuccessCount: b.successes,
		FailureCount: b.failures,
		Timeouts:     b.timeouts,
	}
	if b.requests > 0 {
		s.AvgResponseTime = b.totalRT / time.Duration(b.requests)
	}
	if len(b.latencies) > 0 {
		sorted := append([]time.Duration(nil), b.latencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		s.P95ResponseTime = nearestRank(sorted, 0.95)
		s.P99ResponseTime = nearestRank(sorted, 0.99)
	}
	return s
}

// nearestRank returns the value at rank ceil(p*n) of an ascending-sorted
// slice (1-based), the classical nearest-rank percentile: no interpolation,
// always an observed value. p=0.95 over 100 values picks index 94; a single
// value is every percentile of itself.
func nearestRank(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(float64(n) * p))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}
