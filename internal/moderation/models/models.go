package models

import (
	"time"

	dErrors "chatgate/pkg/domain-errors"
)

// DefaultStrikeThreshold is the number of violations that trips a lockout.
const DefaultStrikeThreshold = 3

// DefaultBlockDuration is how long a tripped identity stays locked out.
const DefaultBlockDuration = 24 * time.Hour

// IdentityRecord is the per-identity strike and lockout state.
// BlockedUntil is set iff IsBlocked is true (until lazily cleared).
type IdentityRecord struct {
	Identity       string     `json:"user_id"`
	ViolationCount int        `json:"violation_count"`
	IsBlocked      bool       `json:"is_blocked"`
	BlockedUntil   *time.Time `json:"blocked_until,omitempty"`
	LastViolation  *time.Time `json:"last_violation,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewIdentityRecord creates a zeroed record with domain invariant validation.
func NewIdentityRecord(identity string, now time.Time) (*IdentityRecord, error) {
	if identity == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "identity cannot be empty")
	}
	return &IdentityRecord{
		Identity:  identity,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsLockedAt reports whether the lockout is still in force at now.
// A blocked record without an expiry is treated as locked.
func (r *IdentityRecord) IsLockedAt(now time.Time) bool {
	if !r.IsBlocked {
		return false
	}
	if r.BlockedUntil == nil {
		return true
	}
	return now.Before(*r.BlockedUntil)
}

// IsLockExpiredAt reports whether a stored lockout has run out and is due for lazy reset.
func (r *IdentityRecord) IsLockExpiredAt(now time.Time) bool {
	return r.IsBlocked && r.BlockedUntil != nil && !now.Before(*r.BlockedUntil)
}

// RecordViolation increments the strike count. Reaching threshold blocks the
// record until now+blockFor; counts past the threshold keep an existing block.
func (r *IdentityRecord) RecordViolation(now time.Time, threshold int, blockFor time.Duration) {
	r.ViolationCount++
	r.LastViolation = &now
	r.UpdatedAt = now
	if r.ViolationCount >= threshold && !r.IsBlocked {
		until := now.Add(blockFor)
		r.IsBlocked = true
		r.BlockedUntil = &until
	}
}

// Reset clears the lockout and the strike count. LastViolation is history and is kept.
func (r *IdentityRecord) Reset(now time.Time) {
	r.ViolationCount = 0
	r.IsBlocked = false
	r.BlockedUntil = nil
	r.UpdatedAt = now
}

// Clone returns a deep copy so callers never share pointers with a store.
func (r *IdentityRecord) Clone() *IdentityRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.BlockedUntil != nil {
		t := *r.BlockedUntil
		c.BlockedUntil = &t
	}
	if r.LastViolation != nil {
		t := *r.LastViolation
		c.LastViolation = &t
	}
	return &c
}

// Decision is the outcome of evaluating one inbound message.
type Decision struct {
	HasViolation bool
	IsBlocked    bool
}

// Rejected reports whether the caller must deny the request: only a block
// that existed before this message rejects it.
func (d Decision) Rejected() bool {
	return d.IsBlocked && !d.HasViolation
}
