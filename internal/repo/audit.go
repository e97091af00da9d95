package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/guardrail/internal/audit"
)

// AuditStore persists audit log entries.
type AuditStore struct {
	Pool *pgxpool.Pool
}

// NewAuditStore returns a store backed by the provided pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{Pool: pool}
}

// InsertAuditLog appends one entry and returns the stored row.
func (s *AuditStore) InsertAuditLog(ctx context.Context, entry audit.Entry) (audit.Entry, error) {
	const query = `INSERT INTO audit_logs (actor_kind, actor_subject, action, resource_type,
		resource_id, method, path, route, status, ip, user_agent, request_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`
	err := s.Pool.QueryRow(ctx, query,
		entry.ActorKind,
		entry.ActorSubject,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		entry.Method,
		entry.Path,
		entry.Route,
		entry.Status,
		entry.IP,
		entry.UserAgent,
		entry.RequestID,
		entry.Metadata,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("repo: insert audit log: %w", err)
	}
	return entry, nil
}

// ListAuditLogs returns entries newest first.
func (s *AuditStore) ListAuditLogs(ctx context.Context, limit, offset int) ([]audit.Entry, error) {
	const query = `SELECT id, actor_kind, actor_subject, action, resource_type, resource_id,
		method, path, route, status, ip, user_agent, request_id, metadata, created_at
		FROM audit_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repo: list audit logs: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var entry audit.Entry
		if err := rows.Scan(
			&entry.ID,
			&entry.ActorKind,
			&entry.ActorSubject,
			&entry.Action,
			&entry.ResourceType,
			&entry.ResourceID,
			&entry.Method,
			&entry.Path,
			&entry.Route,
			&entry.Status,
			&entry.IP,
			&entry.UserAgent,
			&entry.RequestID,
			&entry.Metadata,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("repo: scan audit log: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: list audit logs: %w", err)
	}
	return entries, nil
}

// DeleteAuditBefore prunes entries older than the cutoff.
func (s *AuditStore) DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("repo: prune audit logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
