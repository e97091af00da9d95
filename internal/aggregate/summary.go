package aggregate

import (
	"context"
	"fmt"
	"time"
)

// Summarize folds the stored samples for the period ending now, plus the
// still-open bucket, into a single Summary. Cost is proportional to the
// number of sealed buckets in the period, never to the raw call volume.
//
// Cross-bucket percentiles are the request-count-weighted mean of per-bucket
// nearest-rank percentiles. That is an approximation by design: exact global
// percentiles would require the raw response times the samples deliberately
// discard, and the weighted fold is stable under any bucket partitioning of
// a uniform stream.
func (a *Aggregator) Summarize(ctx context.Context, name string, period time.Duration) (Summary, error) {
	if period <= 0 {
		period = time.Hour
	}
	now := a.now()
	from := now.Add(-period)

	samples, err := a.store.QueryRange(ctx, name, from, now)
	if err != nil {
		return Summary{}, fmt.Errorf("aggregate: query samples: %w", err)
	}

	a.mu.Lock()
	if b := a.open[name]; b != nil && b.requests > 0 && !b.start.Before(from) {
		samples = append(samples, b.seal(name))
	}
	a.mu.Unlock()

	sum := Summary{Breaker: name, Period: period, Buckets: len(samples)}
	var weightedAvg, weightedP95, weightedP99 float64
	for _, s := range samples {
		sum.TotalRequests += s.RequestCount
		sum.Timeouts += s.Timeouts
		weightedAvg += float64(s.AvgResponseTime) * float64(s.RequestCount)
		weightedP95 += float64(s.P95ResponseTime) * float64(s.RequestCount)
		weightedP99 += float64(s.P99ResponseTime) * float64(s.RequestCount)
	}
	if sum.TotalRequests > 0 {
		var successes, failures int64
		for _, s := range samples {
			successes += s.SuccessCount
			failures += s.FailureCount
		}
		total := float64(sum.TotalRequests)
		sum.SuccessRate = float64(successes) / total
		sum.FailureRate = float64(failures) / total
		sum.AvgResponseTime = time.Duration(weightedAvg / total)
		sum.P95ResponseTime = time.Duration(weightedP95 / total)
		sum.P99ResponseTime = time.Duration(weightedP99 / total)
	}
	return sum, nil
}
