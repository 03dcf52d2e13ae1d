// Package postgres persists identity records in PostgreSQL. Mutations run in a
// transaction that holds a row lock (SELECT ... FOR UPDATE) for the identity.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"chatgate/internal/moderation/models"
	"chatgate/internal/moderation/ports"
	"chatgate/pkg/platform/sentinel"
)

// Store is pure I/O; strike and lockout rules live in the ledger's MutateFuncs.
type Store struct {
	db *sql.DB
}

var _ ports.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectColumns = `identity, violation_count, is_blocked, blocked_until, last_violation, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.IdentityRecord, error) {
	var (
		r             models.IdentityRecord
		blockedUntil  sql.NullTime
		lastViolation sql.NullTime
	)
	if err := row.Scan(
		&r.Identity,
		&r.ViolationCount,
		&r.IsBlocked,
		&blockedUntil,
		&lastViolation,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if blockedUntil.Valid {
		t := blockedUntil.Time.UTC()
		r.BlockedUntil = &t
	}
	if lastViolation.Valid {
		t := lastViolation.Time.UTC()
		r.LastViolation = &t
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func (s *Store) Get(ctx context.Context, identity string) (*models.IdentityRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM identity_records WHERE identity = $1`
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, identity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get identity record: %w", err)
	}
	return record, nil
}

func (s *Store) Upsert(ctx context.Context, identity string, now time.Time, fn ports.MutateFunc) (*models.IdentityRecord, error) {
	if _, err := models.NewIdentityRecord(identity, now); err != nil {
		return nil, err
	}
	return s.withRowLock(ctx, identity, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO identity_records (identity, violation_count, is_blocked, created_at, updated_at)
			VALUES ($1, 0, FALSE, $2, $2)
			ON CONFLICT (identity) DO NOTHING
		`, identity, now)
		if err != nil {
			return fmt.Errorf("create identity record: %w", err)
		}
		return nil
	}, fn)
}

func (s *Store) Update(ctx context.Context, identity string, fn ports.MutateFunc) (*models.IdentityRecord, error) {
	return s.withRowLock(ctx, identity, nil, fn)
}

// withRowLock runs prepare, locks the identity row, applies fn and writes the
// result back, all in one transaction.
func (s *Store) withRowLock(ctx context.Context, identity string, prepare func(*sql.Tx) error, fn ports.MutateFunc) (*models.IdentityRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if prepare != nil {
		if err := prepare(tx); err != nil {
			return nil, err
		}
	}

	query := `SELECT ` + selectColumns + ` FROM identity_records WHERE identity = $1 FOR UPDATE`
	record, err := scanRecord(tx.QueryRowContext(ctx, query, identity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, classify(fmt.Errorf("lock identity record: %w", err))
	}

	if fn != nil {
		changed, err := fn(record)
		if err != nil {
			return nil, fmt.Errorf("mutate identity record: %w", err)
		}
		if changed {
			if err := writeRecord(ctx, tx, record); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(fmt.Errorf("commit transaction: %w", err))
	}
	return record, nil
}

// classify marks serialization failures, deadlocks and lock timeouts as
// conflicts so callers can tell contention from an unavailable database.
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %s", sentinel.ErrConflict, pqErr.Message)
	}
	return err
}

func writeRecord(ctx context.Context, tx *sql.Tx, r *models.IdentityRecord) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE identity_records SET
			violation_count = $2,
			is_blocked = $3,
			blocked_until = $4,
			last_violation = $5,
			updated_at = $6
		WHERE identity = $1
	`,
		r.Identity,
		r.ViolationCount,
		r.IsBlocked,
		r.BlockedUntil,
		r.LastViolation,
		r.UpdatedAt,
	)
	if err != nil {
		return classify(fmt.Errorf("update identity record: %w", err))
	}
	return nil
}

func (s *Store) ListIdentities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identity FROM identity_records ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return ids, nil
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
