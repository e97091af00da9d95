package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/guardrail/internal/engine"
	"github.com/noah-isme/guardrail/internal/events"
)

type stubStore struct {
	inserted []events.StoredEvent
	fail     bool
}

func (s *stubStore) InsertEvent(_ context.Context, topic, breaker string, payload []byte, occurredAt time.Time) (events.StoredEvent, error) {
	if s.fail {
		return events.StoredEvent{}, errors.New("insert failed")
	}
	row := events.StoredEvent{
		ID:         int64(len(s.inserted) + 1),
		Topic:      topic,
		Breaker:    breaker,
		Payload:    payload,
		OccurredAt: occurredAt,
	}
	s.inserted = append(s.inserted, row)
	return row, nil
}

func (s *stubStore) ListEvents(context.Context, string, int) ([]events.StoredEvent, error) {
	return s.inserted, nil
}

type captureNotifier struct {
	events []events.StoredEvent
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.StoredEvent) error {
	c.events = append(c.events, event)
	return c.err
}

func TestPublishPersistsAndFansOut(t *testing.T) {
	store := &stubStore{}
	first := &captureNotifier{}
	second := &captureNotifier{}
	logger := zerolog.Nop()
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{first, second}, Logger: &logger}

	occurred := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	bus.Publish(context.Background(), engine.Event{
		Kind:       engine.KindPhaseChange,
		Breaker:    "payments-db",
		Service:    "payments",
		FromPhase:  engine.PhaseClosed,
		ToPhase:    engine.PhaseOpen,
		Reason:     "failure threshold reached",
		Revision:   3,
		OccurredAt: occurred,
	})

	require.Len(t, store.inserted, 1)
	require.Equal(t, events.TopicBreakerOpened, store.inserted[0].Topic)
	require.Equal(t, "payments-db", store.inserted[0].Breaker)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(store.inserted[0].Payload, &payload))
	require.Equal(t, "closed", payload["from_phase"])
	require.Equal(t, "open", payload["to_phase"])
	require.Equal(t, float64(3), payload["revision"])

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	require.Equal(t, int64(1), first.events[0].ID)
}

func TestPublishSurvivesStoreFailure(t *testing.T) {
	store := &stubStore{fail: true}
	capture := &captureNotifier{}
	logger := zerolog.Nop()
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{capture}, Logger: &logger}

	bus.Publish(context.Background(), engine.Event{
		Kind:       engine.KindCreated,
		Breaker:    "search",
		ToPhase:    engine.PhaseClosed,
		OccurredAt: time.Now(),
	})

	// The notifier still fires with the unpersisted event.
	require.Len(t, capture.events, 1)
	require.Equal(t, events.TopicBreakerCreated, capture.events[0].Topic)
	require.Zero(t, capture.events[0].ID)
}

func TestPublishLogsNotifierErrors(t *testing.T) {
	store := &stubStore{}
	failing := &captureNotifier{err: errors.New("boom")}
	healthy := &captureNotifier{}
	logger := zerolog.Nop()
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{failing, healthy}, Logger: &logger}

	bus.Publish(context.Background(), engine.Event{
		Kind:       engine.KindReset,
		Breaker:    "inventory",
		FromPhase:  engine.PhaseOpen,
		ToPhase:    engine.PhaseClosed,
		OccurredAt: time.Now(),
	})

	require.Len(t, healthy.events, 1)
	require.Equal(t, events.TopicBreakerReset, healthy.events[0].Topic)
}

func TestTopicMapping(t *testing.T) {
	cases := []struct {
		event engine.Event
		topic string
	}{
		{engine.Event{Kind: engine.KindCreated}, events.TopicBreakerCreated},
		{engine.Event{Kind: engine.KindUpdated}, events.TopicBreakerUpdated},
		{engine.Event{Kind: engine.KindDeleted}, events.TopicBreakerDeleted},
		{engine.Event{Kind: engine.KindReset}, events.TopicBreakerReset},
		{engine.Event{Kind: engine.KindTested}, events.TopicBreakerTested},
		{engine.Event{Kind: engine.KindPhaseChange, ToPhase: engine.PhaseOpen}, events.TopicBreakerOpened},
		{engine.Event{Kind: engine.KindPhaseChange, ToPhase: engine.PhaseHalfOpen}, events.TopicBreakerHalfOpen},
		{engine.Event{Kind: engine.KindPhaseChange, ToPhase: engine.PhaseClosed}, events.TopicBreakerClosed},
	}
	for _, tc := range cases {
		require.Equal(t, tc.topic, events.Topic(tc.event))
	}
}
