// Package ports defines the storage contract the identity ledger depends on.
// Memory, Postgres and Redis stores all satisfy Store.
package ports

import (
	"context"
	"time"

	"chatgate/internal/moderation/models"
)

// MutateFunc edits a record in place inside a store's per-identity critical
// section. Returning changed=false skips the write; a non-nil error aborts it.
type MutateFunc func(record *models.IdentityRecord) (changed bool, err error)

// Store persists identity records with per-identity atomic read-modify-write.
type Store interface {
	// Get returns a copy of the record, or sentinel.ErrNotFound.
	Get(ctx context.Context, identity string) (*models.IdentityRecord, error)

	// Upsert creates a zeroed record stamped with now if none exists, then
	// applies fn atomically. At most one record is ever created per identity.
	Upsert(ctx context.Context, identity string, now time.Time, fn MutateFunc) (*models.IdentityRecord, error)

	// Update applies fn atomically to an existing record, or returns sentinel.ErrNotFound.
	Update(ctx context.Context, identity string, fn MutateFunc) (*models.IdentityRecord, error)

	// ListIdentities returns a snapshot of every stored identity.
	ListIdentities(ctx context.Context) ([]string, error)
}
