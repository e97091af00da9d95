package retention

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	cutoffs []time.Time
	pruned  int64
}

func (s *stubStore) del(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, cutoff)
	return s.pruned, nil
}

func (s *stubStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.del(ctx, cutoff)
}

func (s *stubStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.del(ctx, cutoff)
}

func (s *stubStore) DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.del(ctx, cutoff)
}

func TestSweepPrunesEachStore(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	samples := &stubStore{pruned: 10}
	events := &stubStore{pruned: 3}
	audit := &stubStore{}

	r := &Runner{
		Samples: samples,
		Events:  events,
		Audit:   audit,
		Logger:  zerolog.Nop(),
		Config: Config{
			SampleRetention: 24 * time.Hour,
			EventRetention:  48 * time.Hour,
			AuditRetention:  72 * time.Hour,
		},
		Now: func() time.Time { return now },
	}
	r.Sweep(context.Background())

	require.Len(t, samples.cutoffs, 1)
	require.Equal(t, now.Add(-24*time.Hour), samples.cutoffs[0])
	require.Len(t, events.cutoffs, 1)
	require.Equal(t, now.Add(-48*time.Hour), events.cutoffs[0])
	require.Len(t, audit.cutoffs, 1)
	require.Equal(t, now.Add(-72*time.Hour), audit.cutoffs[0])
}

func TestSweepSkipsDisabledWindows(t *testing.T) {
	samples := &stubStore{}
	r := &Runner{
		Samples: samples,
		Logger:  zerolog.Nop(),
		Config:  Config{},
	}
	r.Sweep(context.Background())
	require.Empty(t, samples.cutoffs)
}
