// Package storetest is a conformance suite every ports.Store implementation runs.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"chatgate/internal/moderation/models"
	"chatgate/internal/moderation/ports"
	"chatgate/pkg/platform/sentinel"
)

// Suite exercises the ports.Store contract. NewStore must return an empty store.
type Suite struct {
	suite.Suite
	NewStore func() ports.Store

	store ports.Store
	now   time.Time
}

func (s *Suite) SetupTest() {
	s.store = s.NewStore()
	s.now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
}

func noop(*models.IdentityRecord) (bool, error) { return false, nil }

func (s *Suite) strike(now time.Time) ports.MutateFunc {
	return func(r *models.IdentityRecord) (bool, error) {
		r.RecordViolation(now, models.DefaultStrikeThreshold, time.Hour)
		return true, nil
	}
}

func (s *Suite) TestGetMissing() {
	_, err := s.store.Get(context.Background(), "nobody")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *Suite) TestUpsertCreatesZeroedRecord() {
	ctx := context.Background()
	record, err := s.store.Upsert(ctx, "alice", s.now, noop)
	s.Require().NoError(err)
	s.Equal("alice", record.Identity)
	s.Equal(0, record.ViolationCount)
	s.False(record.IsBlocked)
	s.Nil(record.BlockedUntil)
	s.Nil(record.LastViolation)
	s.True(s.now.Equal(record.CreatedAt))
	s.True(s.now.Equal(record.UpdatedAt))

	got, err := s.store.Get(ctx, "alice")
	s.Require().NoError(err)
	s.Equal(record.Identity, got.Identity)
}

func (s *Suite) TestUpsertPersistsMutation() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.store.Upsert(ctx, "bob", s.now, s.strike(s.now))
		s.Require().NoError(err)
	}

	got, err := s.store.Get(ctx, "bob")
	s.Require().NoError(err)
	s.Equal(3, got.ViolationCount)
	s.True(got.IsBlocked)
	s.Require().NotNil(got.BlockedUntil)
	s.True(s.now.Add(time.Hour).Equal(*got.BlockedUntil))
	s.Require().NotNil(got.LastViolation)
	s.True(s.now.Equal(*got.LastViolation))
}

func (s *Suite) TestCreatedAtImmutable() {
	ctx := context.Background()
	_, err := s.store.Upsert(ctx, "carol", s.now, noop)
	s.Require().NoError(err)

	later := s.now.Add(time.Hour)
	record, err := s.store.Upsert(ctx, "carol", later, s.strike(later))
	s.Require().NoError(err)
	s.True(s.now.Equal(record.CreatedAt))
	s.True(later.Equal(record.UpdatedAt))
}

func (s *Suite) TestUnchangedMutationSkipsWrite() {
	ctx := context.Background()
	_, err := s.store.Upsert(ctx, "dave", s.now, noop)
	s.Require().NoError(err)

	record, err := s.store.Update(ctx, "dave", func(r *models.IdentityRecord) (bool, error) {
		r.ViolationCount = 7
		return false, nil
	})
	s.Require().NoError(err)
	_ = record

	got, err := s.store.Get(ctx, "dave")
	s.Require().NoError(err)
	s.Equal(0, got.ViolationCount)
}

func (s *Suite) TestUpdateMissingDoesNotCreate() {
	ctx := context.Background()
	_, err := s.store.Update(ctx, "ghost", noop)
	s.ErrorIs(err, sentinel.ErrNotFound)

	ids, err := s.store.ListIdentities(ctx)
	s.Require().NoError(err)
	s.NotContains(ids, "ghost")
}

func (s *Suite) TestUpdateResetClearsLockout() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.store.Upsert(ctx, "erin", s.now, s.strike(s.now))
		s.Require().NoError(err)
	}

	later := s.now.Add(time.Minute)
	record, err := s.store.Update(ctx, "erin", func(r *models.IdentityRecord) (bool, error) {
		r.Reset(later)
		return true, nil
	})
	s.Require().NoError(err)
	s.Equal(0, record.ViolationCount)
	s.False(record.IsBlocked)
	s.Nil(record.BlockedUntil)

	got, err := s.store.Get(ctx, "erin")
	s.Require().NoError(err)
	s.False(got.IsBlocked)
	s.Nil(got.BlockedUntil)
	s.True(later.Equal(got.UpdatedAt))
}

func (s *Suite) TestListIdentities() {
	ctx := context.Background()
	for _, id := range []string{"zed", "amy", "kim"} {
		_, err := s.store.Upsert(ctx, id, s.now, noop)
		s.Require().NoError(err)
	}
	ids, err := s.store.ListIdentities(ctx)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"amy", "kim", "zed"}, ids)
}

func (s *Suite) TestConcurrentFirstReferenceCreatesOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	const n = 50

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Upsert(ctx, "fresh", s.now, s.strike(s.now))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	failed := 0
	for err := range errs {
		if err != nil {
			failed++
			s.T().Logf("upsert: %v", err)
		}
	}
	s.Zero(failed, fmt.Sprintf("%d of %d concurrent strikes failed", failed, n))

	got, err := s.store.Get(ctx, "fresh")
	s.Require().NoError(err)
	s.Equal(n, got.ViolationCount, "every increment is observed")
	s.True(got.IsBlocked)

	ids, err := s.store.ListIdentities(ctx)
	s.Require().NoError(err)
	s.Len(ids, 1)
}
