package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/guardrail/internal/engine"
)

// BreakerStore persists breaker definitions in Postgres.
type BreakerStore struct {
	Pool *pgxpool.Pool
}

// NewBreakerStore returns a store backed by the provided pool.
func NewBreakerStore(pool *pgxpool.Pool) *BreakerStore {
	return &BreakerStore{Pool: pool}
}

const breakerColumns = `name, service, failure_threshold, recovery_timeout_ms, request_timeout_ms,
	enabled, automatic_recovery, notifications_enabled, revision, last_reset_at, last_rotated_at,
	created_at, updated_at`

// Insert persists a newly created breaker and maps unique violations to
// engine.ErrDuplicateName.
func (s *BreakerStore) Insert(ctx context.Context, rec engine.Record) error {
	const query = `INSERT INTO breakers (name, service, failure_threshold, recovery_timeout_ms,
		request_timeout_ms, enabled, automatic_recovery, notifications_enabled, revision,
		last_reset_at, last_rotated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := s.Pool.Exec(ctx, query,
		rec.Name,
		rec.Service,
		rec.FailureThreshold,
		rec.RecoveryTimeout.Milliseconds(),
		rec.RequestTimeout.Milliseconds(),
		rec.Flags.Enabled,
		rec.Flags.AutomaticRecovery,
		rec.Flags.NotificationsEnabled,
		rec.Revision,
		nullTime(rec.LastResetAt),
		nullTime(rec.LastRotatedAt),
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", engine.ErrDuplicateName, rec.Name)
		}
		return fmt.Errorf("repo: insert breaker: %w", err)
	}
	return nil
}

// Upsert persists the current durable projection of an existing breaker.
func (s *BreakerStore) Upsert(ctx context.Context, rec engine.Record) error {
	const query = `INSERT INTO breakers (name, service, failure_threshold, recovery_timeout_ms,
		request_timeout_ms, enabled, automatic_recovery, notifications_enabled, revision,
		last_reset_at, last_rotated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (name) DO UPDATE SET
			service = EXCLUDED.service,
			failure_threshold = EXCLUDED.failure_threshold,
			recovery_timeout_ms = EXCLUDED.recovery_timeout_ms,
			request_timeout_ms = EXCLUDED.request_timeout_ms,
			enabled = EXCLUDED.enabled,
			automatic_recovery = EXCLUDED.automatic_recovery,
			notifications_enabled = EXCLUDED.notifications_enabled,
			revision = EXCLUDED.revision,
			last_reset_at = EXCLUDED.last_reset_at,
			last_rotated_at = EXCLUDED.last_rotated_at,
			updated_at = EXCLUDED.updated_at`
	_, err := s.Pool.Exec(ctx, query,
		rec.Name,
		rec.Service,
		rec.FailureThreshold,
		rec.RecoveryTimeout.Milliseconds(),
		rec.RequestTimeout.Milliseconds(),
		rec.Flags.Enabled,
		rec.Flags.AutomaticRecovery,
		rec.Flags.NotificationsEnabled,
		rec.Revision,
		nullTime(rec.LastResetAt),
		nullTime(rec.LastRotatedAt),
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repo: upsert breaker: %w", err)
	}
	return nil
}

// Load fetches a single definition by name.
func (s *BreakerStore) Load(ctx context.Context, name string) (engine.Record, error) {
	query := `SELECT ` + breakerColumns + ` FROM breakers WHERE name = $1`
	rec, err := scanBreaker(s.Pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.Record{}, fmt.Errorf("%w: %s", engine.ErrNotFound, name)
		}
		return engine.Record{}, fmt.Errorf("repo: load breaker: %w", err)
	}
	return rec, nil
}

// List fetches every stored definition ordered by name.
func (s *BreakerStore) List(ctx context.Context) ([]engine.Record, error) {
	query := `SELECT ` + breakerColumns + ` FROM breakers ORDER BY name`
	rows, err := s.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repo: list breakers: %w", err)
	}
	defer rows.Close()

	var records []engine.Record
	for rows.Next() {
		rec, err := scanBreaker(rows)
		if err != nil {
			return nil, fmt.Errorf("repo: scan breaker: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: list breakers: %w", err)
	}
	return records, nil
}

// Delete removes a definition by name.
func (s *BreakerStore) Delete(ctx context.Context, name string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM breakers WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("repo: delete breaker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", engine.ErrNotFound, name)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBreaker(row rowScanner) (engine.Record, error) {
	var (
		rec           engine.Record
		recoveryMs    int64
		requestMs     int64
		lastResetAt   *time.Time
		lastRotatedAt *time.Time
	)
	err := row.Scan(
		&rec.Name,
		&rec.Service,
		&rec.FailureThreshold,
		&recoveryMs,
		&requestMs,
		&rec.Flags.Enabled,
		&rec.Flags.AutomaticRecovery,
		&rec.Flags.NotificationsEnabled,
		&rec.Revision,
		&lastResetAt,
		&lastRotatedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return engine.Record{}, err
	}
	rec.RecoveryTimeout = time.Duration(recoveryMs) * time.Millisecond
	rec.RequestTimeout = time.Duration(requestMs) * time.Millisecond
	if lastResetAt != nil {
		rec.LastResetAt = *lastResetAt
	}
	if lastRotatedAt != nil {
		rec.LastRotatedAt = *lastRotatedAt
	}
	return rec, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
