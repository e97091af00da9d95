package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/guardrail/internal/notify"
)

// WebhookStore persists webhook endpoint registrations.
type WebhookStore struct {
	Pool *pgxpool.Pool
}

// NewWebhookStore returns a store backed by the provided pool.
func NewWebhookStore(pool *pgxpool.Pool) *WebhookStore {
	return &WebhookStore{Pool: pool}
}

const endpointColumns = `id, name, url, secret, active, topics, created_at, updated_at`

// CreateEndpoint registers a new endpoint.
func (s *WebhookStore) CreateEndpoint(ctx context.Context, ep notify.Endpoint) (notify.Endpoint, error) {
	const query = `INSERT INTO webhook_endpoints (name, url, secret, active, topics)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + endpointColumns
	row := s.Pool.QueryRow(ctx, query, ep.Name, ep.URL, ep.Secret, ep.Active, ep.Topics)
	out, err := scanEndpoint(row)
	if err != nil {
		return notify.Endpoint{}, fmt.Errorf("repo: create endpoint: %w", err)
	}
	return out, nil
}

// UpdateEndpoint replaces an endpoint's configuration.
func (s *WebhookStore) UpdateEndpoint(ctx context.Context, ep notify.Endpoint) (notify.Endpoint, error) {
	const query = `UPDATE webhook_endpoints
		SET name = $2, url = $3, secret = $4, active = $5, topics = $6, updated_at = now()
		WHERE id = $1
		RETURNING ` + endpointColumns
	row := s.Pool.QueryRow(ctx, query, ep.ID, ep.Name, ep.URL, ep.Secret, ep.Active, ep.Topics)
	out, err := scanEndpoint(row)
	if err != nil {
		return notify.Endpoint{}, fmt.Errorf("repo: update endpoint: %w", err)
	}
	return out, nil
}

// GetEndpoint fetches one endpoint by id.
func (s *WebhookStore) GetEndpoint(ctx context.Context, id int64) (notify.Endpoint, error) {
	const query = `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE id = $1`
	out, err := scanEndpoint(s.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return notify.Endpoint{}, fmt.Errorf("repo: get endpoint: %w", err)
	}
	return out, nil
}

// ListEndpoints returns endpoints ordered by id.
func (s *WebhookStore) ListEndpoints(ctx context.Context, limit, offset int) ([]notify.Endpoint, error) {
	const query = `SELECT ` + endpointColumns + ` FROM webhook_endpoints ORDER BY id LIMIT $1 OFFSET $2`
	rows, err := s.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repo: list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []notify.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("repo: scan endpoint: %w", err)
		}
		endpoints = append(endpoints, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: list endpoints: %w", err)
	}
	return endpoints, nil
}

// DeleteEndpoint removes an endpoint by id.
func (s *WebhookStore) DeleteEndpoint(ctx context.Context, id int64) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repo: delete endpoint: %w", err)
	}
	return nil
}

// ListActiveEndpointsForTopic returns active endpoints subscribed to the topic.
func (s *WebhookStore) ListActiveEndpointsForTopic(ctx context.Context, topic string) ([]notify.Endpoint, error) {
	const query = `SELECT ` + endpointColumns + ` FROM webhook_endpoints
		WHERE active AND $1 = ANY(topics) ORDER BY id`
	rows, err := s.Pool.Query(ctx, query, topic)
	if err != nil {
		return nil, fmt.Errorf("repo: list endpoints for topic: %w", err)
	}
	defer rows.Close()

	var endpoints []notify.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("repo: scan endpoint: %w", err)
		}
		endpoints = append(endpoints, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: list endpoints for topic: %w", err)
	}
	return endpoints, nil
}

func scanEndpoint(row rowScanner) (notify.Endpoint, error) {
	var ep notify.Endpoint
	err := row.Scan(&ep.ID, &ep.Name, &ep.URL, &ep.Secret, &ep.Active, &ep.Topics, &ep.CreatedAt, &ep.UpdatedAt)
	return ep, err
}
