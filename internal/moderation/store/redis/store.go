// Package redis persists identity records as JSON strings in Redis. Mutations
// use optimistic transactions (WATCH/MULTI/EXEC) and retry with jittered
// backoff when another writer touched the same key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"chatgate/internal/moderation/models"
	"chatgate/internal/moderation/ports"
	"chatgate/pkg/platform/sentinel"
)

const (
	retryInitialInterval = time.Millisecond
	retryMaxInterval     = 50 * time.Millisecond
)

// Store keeps records at models.IdentityKey(id) and the identity index in a set.
type Store struct {
	client redis.UniversalClient
	// maxRetries caps retries after a conflicting write; zero retries until ctx is done.
	maxRetries int
}

var _ ports.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithMaxRetries bounds optimistic transaction retries before ErrConflict.
// By default a conflicted transaction is retried until the context is done.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func decode(raw string) (*models.IdentityRecord, error) {
	var r models.IdentityRecord
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode identity record: %w", err)
	}
	return &r, nil
}

func (s *Store) Get(ctx context.Context, identity string) (*models.IdentityRecord, error) {
	raw, err := s.client.Get(ctx, models.IdentityKey(identity)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get identity record: %w", err)
	}
	return decode(raw)
}

func (s *Store) Upsert(ctx context.Context, identity string, now time.Time, fn ports.MutateFunc) (*models.IdentityRecord, error) {
	if _, err := models.NewIdentityRecord(identity, now); err != nil {
		return nil, err
	}
	return s.mutate(ctx, identity, &now, fn)
}

func (s *Store) Update(ctx context.Context, identity string, fn ports.MutateFunc) (*models.IdentityRecord, error) {
	return s.mutate(ctx, identity, nil, fn)
}

// mutate runs fn under WATCH. createAt non-nil means a missing record is created.
func (s *Store) mutate(ctx context.Context, identity string, createAt *time.Time, fn ports.MutateFunc) (*models.IdentityRecord, error) {
	key := models.IdentityKey(identity)
	var result *models.IdentityRecord

	txf := func(tx *redis.Tx) error {
		var (
			record  *models.IdentityRecord
			created bool
		)
		raw, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if createAt == nil {
				return sentinel.ErrNotFound
			}
			record, err = models.NewIdentityRecord(identity, *createAt)
			if err != nil {
				return err
			}
			created = true
		case err != nil:
			return fmt.Errorf("read identity record: %w", err)
		default:
			record, err = decode(raw)
			if err != nil {
				return err
			}
		}

		changed := false
		if fn != nil {
			changed, err = fn(record)
			if err != nil {
				return fmt.Errorf("mutate identity record: %w", err)
			}
		}

		if created || changed {
			payload, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("encode identity record: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				pipe.SAdd(ctx, models.IdentityIndexKey, identity)
				return nil
			})
			if err != nil {
				return err
			}
		}
		result = record
		return nil
	}

	err := backoff.Retry(func() error {
		err := s.client.Watch(ctx, txf, key)
		if err == nil || errors.Is(err, redis.TxFailedErr) {
			return err
		}
		return backoff.Permanent(err)
	}, s.retryPolicy(ctx))
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, sentinel.ErrNotFound
	case ctx.Err() != nil:
		return nil, fmt.Errorf("identity transaction for %q abandoned: %w", identity, ctx.Err())
	case errors.Is(err, redis.TxFailedErr):
		return nil, fmt.Errorf("identity transaction for %q: %w", identity, sentinel.ErrConflict)
	default:
		return nil, fmt.Errorf("identity transaction: %w", err)
	}
}

// retryPolicy backs off with jitter between optimistic transaction attempts.
// Without a retry cap, contention is retried until ctx is done.
func (s *Store) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = retryInitialInterval
	exp.MaxInterval = retryMaxInterval
	exp.RandomizationFactor = 0.5
	exp.MaxElapsedTime = 0

	var policy backoff.BackOff = exp
	if s.maxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(s.maxRetries))
	}
	return backoff.WithContext(policy, ctx)
}

func (s *Store) ListIdentities(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, models.IdentityIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return ids, nil
}

// Health pings Redis.
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
