package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/guardrail/internal/events"
)

// EventStore persists emitted breaker events.
type EventStore struct {
	Pool *pgxpool.Pool
}

// NewEventStore returns a store backed by the provided pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{Pool: pool}
}

// InsertEvent appends one event and returns the stored row.
func (s *EventStore) InsertEvent(ctx context.Context, topic, breaker string, payload []byte, occurredAt time.Time) (events.StoredEvent, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	const query = `INSERT INTO breaker_events (topic, breaker, payload, occurred_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, topic, breaker, payload, occurred_at`
	var stored events.StoredEvent
	err := s.Pool.QueryRow(ctx, query, topic, breaker, payload, occurredAt).Scan(
		&stored.ID,
		&stored.Topic,
		&stored.Breaker,
		&stored.Payload,
		&stored.OccurredAt,
	)
	if err != nil {
		return events.StoredEvent{}, fmt.Errorf("repo: insert event: %w", err)
	}
	return stored, nil
}

// ListEvents returns the most recent events, optionally filtered by breaker.
func (s *EventStore) ListEvents(ctx context.Context, breaker string, limit int) ([]events.StoredEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, topic, breaker, payload, occurred_at FROM breaker_events`
	args := []any{}
	if breaker != "" {
		query += ` WHERE breaker = $1`
		args = append(args, breaker)
	}
	query += fmt.Sprintf(` ORDER BY occurred_at DESC LIMIT %d`, limit)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repo: list events: %w", err)
	}
	defer rows.Close()

	var out []events.StoredEvent
	for rows.Next() {
		var ev events.StoredEvent
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.Breaker, &ev.Payload, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("repo: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: list events: %w", err)
	}
	return out, nil
}

// DeleteEventsBefore prunes events older than the cutoff.
func (s *EventStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM breaker_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("repo: prune events: %w", err)
	}
	return tag.RowsAffected(), nil
}
