package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"chatgate/internal/moderation/ledger"
	"chatgate/internal/moderation/models"
	"chatgate/internal/moderation/ports"
	"chatgate/internal/moderation/store/storetest"
	"chatgate/pkg/platform/sentinel"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStoreConformance(t *testing.T) {
	mr, client := newMiniredis(t)
	suite.Run(t, &storetest.Suite{NewStore: func() ports.Store {
		mr.FlushAll()
		return New(client)
	}})
}

func TestRecordLayout(t *testing.T) {
	mr, client := newMiniredis(t)
	store := New(client)
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	_, err := store.Upsert(context.Background(), "alice", now, func(r *models.IdentityRecord) (bool, error) {
		r.RecordViolation(now, 3, time.Hour)
		return true, nil
	})
	require.NoError(t, err)

	raw, err := mr.Get("identity:alice")
	require.NoError(t, err)
	assert.Contains(t, raw, `"violation_count":1`)

	isMember, err := mr.SIsMember(models.IdentityIndexKey, "alice")
	require.NoError(t, err)
	assert.True(t, isMember)
}

func TestCorruptRecordSurfacesError(t *testing.T) {
	mr, client := newMiniredis(t)
	require.NoError(t, mr.Set("identity:broken", "{not json"))

	_, err := New(client).Get(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, sentinel.ErrNotFound)
}

func TestUnreachableRedis(t *testing.T) {
	mr, client := newMiniredis(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := New(client).Get(ctx, "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, sentinel.ErrNotFound)
}

func TestStrikeBurstThroughLedgerDefaults(t *testing.T) {
	_, client := newMiniredis(t)
	l, err := ledger.New(New(client))
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.RecordViolation(context.Background(), "burst")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	got, err := l.Status(context.Background(), "burst")
	require.NoError(t, err)
	assert.Equal(t, n, got.ViolationCount)
	assert.True(t, got.IsBlocked)
}

// interfere rewrites the watched key from another connection so EXEC aborts.
func interfere(t *testing.T, client *redis.Client, attempts *int) ports.MutateFunc {
	return func(r *models.IdentityRecord) (bool, error) {
		*attempts++
		key := models.IdentityKey(r.Identity)
		raw, err := client.Get(context.Background(), key).Result()
		require.NoError(t, err)
		require.NoError(t, client.Set(context.Background(), key, raw, 0).Err())
		r.ViolationCount++
		return true, nil
	}
}

func TestRetryCapReturnsConflict(t *testing.T) {
	_, client := newMiniredis(t)
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	store := New(client, WithMaxRetries(2))
	_, err := store.Upsert(context.Background(), "alice", now, nil)
	require.NoError(t, err)

	attempts := 0
	_, err = store.Update(context.Background(), "alice", interfere(t, client, &attempts))
	require.ErrorIs(t, err, sentinel.ErrConflict)
	assert.Equal(t, 3, attempts, "first try plus two retries")

	got, err := store.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, got.ViolationCount, "aborted transactions leave no trace")
}

func TestContentionRetriesUntilContextDone(t *testing.T) {
	_, client := newMiniredis(t)
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	store := New(client)
	_, err := store.Upsert(context.Background(), "alice", now, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	attempts := 0
	_, err = store.Update(ctx, "alice", interfere(t, client, &attempts))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, attempts, 3, "default policy keeps retrying while ctx allows")
}
