// Package events persists breaker change events and fans them out to
// downstream notifiers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/guardrail/internal/engine"
)

// StoredEvent is the durable record of a single emitted event.
type StoredEvent struct {
	ID         int64           `json:"id"`
	Topic      string          `json:"topic"`
	Breaker    string          `json:"breaker"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// EventStore defines the persistence operations required by the event bus.
type EventStore interface {
	InsertEvent(ctx context.Context, topic, breaker string, payload []byte, occurredAt time.Time) (StoredEvent, error)
	ListEvents(ctx context.Context, breaker string, limit int) ([]StoredEvent, error)
}

// Notifier reacts to emitted events (e.g. alerting, metrics).
type Notifier interface {
	Notify(ctx context.Context, event StoredEvent) error
}

// Bus persists breaker events and fans them out to downstream handlers. It
// implements the engine's publisher contract: failures are logged, never
// surfaced back into the state machine.
type Bus struct {
	Store     EventStore
	Notifiers []Notifier
	Logger    *zerolog.Logger
}

type payload struct {
	Kind      string `json:"kind"`
	Breaker   string `json:"breaker"`
	Service   string `json:"service,omitempty"`
	FromPhase string `json:"from_phase"`
	ToPhase   string `json:"to_phase"`
	Reason    string `json:"reason,omitempty"`
	Revision  int64  `json:"revision"`
}

// Publish records the event and dispatches it to all configured notifiers.
func (b *Bus) Publish(ctx context.Context, ev engine.Event) {
	if b == nil {
		return
	}
	topic := Topic(ev)
	encoded, err := json.Marshal(payload{
		Kind:      ev.Kind.String(),
		Breaker:   ev.Breaker,
		Service:   ev.Service,
		FromPhase: ev.FromPhase.String(),
		ToPhase:   ev.ToPhase.String(),
		Reason:    ev.Reason,
		Revision:  ev.Revision,
	})
	if err != nil {
		b.logError(ev, fmt.Errorf("events: encode payload: %w", err))
		return
	}
	stored := StoredEvent{
		Topic:      topic,
		Breaker:    ev.Breaker,
		Payload:    encoded,
		OccurredAt: ev.OccurredAt,
	}
	if b.Store != nil {
		row, storeErr := b.Store.InsertEvent(ctx, topic, ev.Breaker, encoded, ev.OccurredAt)
		if storeErr != nil {
			b.logError(ev, fmt.Errorf("events: persist event: %w", storeErr))
		} else {
			stored = row
		}
	}
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, stored); notifyErr != nil {
			b.logError(ev, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
}

// Topic maps an engine event to its public topic name. Phase changes are
// keyed by the phase the breaker entered.
func Topic(ev engine.Event) string {
	switch ev.Kind {
	case engine.KindCreated:
		return TopicBreakerCreated
	case engine.KindUpdated:
		return TopicBreakerUpdated
	case engine.KindDeleted:
		return TopicBreakerDeleted
	case engine.KindReset:
		return TopicBreakerReset
	case engine.KindTested:
		return TopicBreakerTested
	case engine.KindPhaseChange:
		switch ev.ToPhase {
		case engine.PhaseOpen:
			return TopicBreakerOpened
		case engine.PhaseHalfOpen:
			return TopicBreakerHalfOpen
		default:
			return TopicBreakerClosed
		}
	default:
		return "breaker.unknown"
	}
}

func (b *Bus) logError(ev engine.Event, err error) {
	if b.Logger == nil {
		return
	}
	b.Logger.Error().
		Err(err).
		Str("breaker", ev.Breaker).
		Str("kind", ev.Kind.String()).
		Msg("event dispatch failed")
}
