package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "chatgate/pkg/domain-errors"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewIdentityRecord(t *testing.T) {
	_, err := NewIdentityRecord("", t0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	r, err := NewIdentityRecord("alice", t0)
	require.NoError(t, err)
	assert.Equal(t, 0, r.ViolationCount)
	assert.False(t, r.IsBlocked)
	assert.Equal(t, t0, r.CreatedAt)
	assert.Equal(t, t0, r.UpdatedAt)
}

func TestRecordViolationBlocksAtThreshold(t *testing.T) {
	r, _ := NewIdentityRecord("alice", t0)

	r.RecordViolation(t0, 3, time.Hour)
	r.RecordViolation(t0, 3, time.Hour)
	assert.False(t, r.IsBlocked)
	assert.Nil(t, r.BlockedUntil)

	later := t0.Add(time.Minute)
	r.RecordViolation(later, 3, time.Hour)
	assert.Equal(t, 3, r.ViolationCount)
	assert.True(t, r.IsBlocked)
	require.NotNil(t, r.BlockedUntil)
	assert.Equal(t, later.Add(time.Hour), *r.BlockedUntil)
	assert.Equal(t, later, *r.LastViolation)

	// Strikes past the threshold keep the original expiry.
	r.RecordViolation(later.Add(time.Minute), 3, time.Hour)
	assert.Equal(t, 4, r.ViolationCount)
	assert.Equal(t, later.Add(time.Hour), *r.BlockedUntil)
}

func TestLockWindow(t *testing.T) {
	until := t0.Add(time.Hour)
	r := &IdentityRecord{Identity: "a", IsBlocked: true, BlockedUntil: &until}

	assert.True(t, r.IsLockedAt(t0))
	assert.False(t, r.IsLockExpiredAt(t0))
	assert.False(t, r.IsLockedAt(until), "expiry boundary is inclusive")
	assert.True(t, r.IsLockExpiredAt(until))

	r.BlockedUntil = nil
	assert.True(t, r.IsLockedAt(t0.Add(1000*time.Hour)), "block without expiry never lapses")
	assert.False(t, r.IsLockExpiredAt(t0))
}

func TestResetKeepsHistory(t *testing.T) {
	r, _ := NewIdentityRecord("alice", t0)
	for i := 0; i < 3; i++ {
		r.RecordViolation(t0, 3, time.Hour)
	}
	later := t0.Add(2 * time.Hour)
	r.Reset(later)

	assert.Equal(t, 0, r.ViolationCount)
	assert.False(t, r.IsBlocked)
	assert.Nil(t, r.BlockedUntil)
	assert.NotNil(t, r.LastViolation)
	assert.Equal(t, t0, r.CreatedAt)
	assert.Equal(t, later, r.UpdatedAt)
}

func TestCloneIsDeep(t *testing.T) {
	until := t0.Add(time.Hour)
	r := &IdentityRecord{Identity: "a", IsBlocked: true, BlockedUntil: &until}
	c := r.Clone()
	*c.BlockedUntil = t0
	assert.Equal(t, until, *r.BlockedUntil)
}

func TestDecisionRejected(t *testing.T) {
	assert.True(t, Decision{IsBlocked: true}.Rejected())
	assert.False(t, Decision{HasViolation: true, IsBlocked: true}.Rejected())
	assert.False(t, Decision{HasViolation: true}.Rejected())
	assert.False(t, Decision{}.Rejected())
}

func TestIdentityKeyRoundTrip(t *testing.T) {
	id, ok := IdentityFromKey(IdentityKey("bob"))
	assert.True(t, ok)
	assert.Equal(t, "bob", id)
}
