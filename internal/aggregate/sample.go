package aggregate

import (
	"context"
	"encoding/json"
	"time"
)

// Sample is one sealed observation window for a breaker. Samples are immutable
// once written; the store only appends and reads ranges.
type Sample struct {
	Breaker         string        `json:"breaker"`
	Timestamp       time.Time     `json:"timestamp"`
	RequestCount    int64         `json:"request_count"`
	SuccessCount    int64         `json:"success_count"`
	FailureCount    int64         `json:"failure_count"`
	Timeouts        int64         `json:"timeouts"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	P95ResponseTime time.Duration `json:"p95_response_time"`
	P99ResponseTime time.Duration `json:"p99_response_time"`
}

// SampleStore persists sealed samples. Retention of old rows belongs to the
// store, not the aggregator.
type SampleStore interface {
	Append(ctx context.Context, s Sample) error
	QueryRange(ctx context.Context, breaker string, from, to time.Time) ([]Sample, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Summary reports folded statistics for a breaker over a query period.
type Summary struct {
	Breaker         string
	Period          time.Duration
	TotalRequests   int64
	SuccessRate     float64
	FailureRate     float64
	Timeouts        int64
	AvgResponseTime time.Duration
	P95ResponseTime time.Duration
	P99ResponseTime time.Duration
	Buckets         int
}

// MarshalJSON reports the summary with durations in milliseconds.
func (s Summary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Breaker           string  `json:"breaker"`
		PeriodMs          int64   `json:"period_ms"`
		TotalRequests     int64   `json:"total_requests"`
		SuccessRate       float64 `json:"success_rate"`
		FailureRate       float64 `json:"failure_rate"`
		Timeouts          int64   `json:"timeouts"`
		AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
		P95ResponseTimeMs float64 `json:"p95_response_time_ms"`
		P99ResponseTimeMs float64 `json:"p99_response_time_ms"`
		Buckets           int     `json:"buckets"`
	}{
		Breaker:           s.Breaker,
		PeriodMs:          s.Period.Milliseconds(),
		TotalRequests:     s.TotalRequests,
		SuccessRate:       s.SuccessRate,
		FailureRate:       s.FailureRate,
		Timeouts:          s.Timeouts,
		AvgResponseTimeMs: durationMillis(s.AvgResponseTime),
		P95ResponseTimeMs: durationMillis(s.P95ResponseTime),
		P99ResponseTimeMs: durationMillis(s.P99ResponseTime),
		Buckets:           s.Buckets,
	})
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
