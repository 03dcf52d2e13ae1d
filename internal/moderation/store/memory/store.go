// Package memory is an in-process identity store. Each identity has its own
// mutex so mutations on different identities never contend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatgate/internal/moderation/models"
	"chatgate/internal/moderation/ports"
	"chatgate/pkg/platform/sentinel"
)

type slot struct {
	mu     sync.Mutex
	record *models.IdentityRecord
}

// Store holds identity records in memory.
type Store struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

var _ ports.Store = (*Store)(nil)

func New() *Store {
	return &Store{slots: make(map[string]*slot)}
}

func (s *Store) lookup(identity string) (*slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.slots[identity]
	return sl, ok
}

// slotFor returns the slot for identity, creating it at most once.
func (s *Store) slotFor(identity string, now time.Time) (*slot, error) {
	if sl, ok := s.lookup(identity); ok {
		return sl, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[identity]; ok {
		return sl, nil
	}
	record, err := models.NewIdentityRecord(identity, now)
	if err != nil {
		return nil, err
	}
	sl := &slot{record: record}
	s.slots[identity] = sl
	return sl, nil
}

func (s *Store) Get(ctx context.Context, identity string) (*models.IdentityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sl, ok := s.lookup(identity)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.record.Clone(), nil
}

func (s *Store) Upsert(ctx context.Context, identity string, now time.Time, fn ports.MutateFunc) (*models.IdentityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sl, err := s.slotFor(identity, now)
	if err != nil {
		return nil, err
	}
	return mutate(sl, fn)
}

func (s *Store) Update(ctx context.Context, identity string, fn ports.MutateFunc) (*models.IdentityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sl, ok := s.lookup(identity)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return mutate(sl, fn)
}

// mutate runs fn on a scratch copy so a failed fn leaves the stored record untouched.
func mutate(sl *slot, fn ports.MutateFunc) (*models.IdentityRecord, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	working := sl.record.Clone()
	if fn != nil {
		changed, err := fn(working)
		if err != nil {
			return nil, fmt.Errorf("mutate identity record: %w", err)
		}
		if changed {
			sl.record = working
		}
	}
	return sl.record.Clone(), nil
}

func (s *Store) ListIdentities(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.slots))
	for id := range s.slots {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}
