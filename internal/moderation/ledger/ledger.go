// Package ledger owns identity strike and lockout state.
//
// Every mutation goes through a store's per-identity atomic read-modify-write,
// so concurrent strikes against one identity never lose an increment while
// different identities never contend. Lockout expiry is lazy: a lapsed block
// is cleared the next time the identity is read, never by a background sweep.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chatgate/internal/moderation/metrics"
	"chatgate/internal/moderation/models"
	"chatgate/internal/moderation/observability"
	"chatgate/internal/moderation/ports"
	dErrors "chatgate/pkg/domain-errors"
	"chatgate/pkg/platform/sentinel"
	"chatgate/pkg/requestcontext"
)

var tracer = otel.Tracer("chatgate/moderation/ledger")

// Config is the lockout policy.
type Config struct {
	StrikeThreshold int
	BlockDuration   time.Duration
	// Timeout bounds each store round trip.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		StrikeThreshold: models.DefaultStrikeThreshold,
		BlockDuration:   models.DefaultBlockDuration,
		Timeout:         2 * time.Second,
	}
}

type Ledger struct {
	store   ports.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	config  Config
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithConfig overrides the policy; zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(l *Ledger) {
		if cfg.StrikeThreshold > 0 {
			l.config.StrikeThreshold = cfg.StrikeThreshold
		}
		if cfg.BlockDuration > 0 {
			l.config.BlockDuration = cfg.BlockDuration
		}
		if cfg.Timeout > 0 {
			l.config.Timeout = cfg.Timeout
		}
	}
}

func New(store ports.Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	l := &Ledger{
		store:  store,
		config: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// StrikeThreshold is the violation count that trips a lockout.
func (l *Ledger) StrikeThreshold() int {
	return l.config.StrikeThreshold
}

// GetOrCreate returns the identity's record, creating a zeroed one on first reference.
func (l *Ledger) GetOrCreate(ctx context.Context, identity string) (*models.IdentityRecord, error) {
	ctx, span, done := l.begin(ctx, "GetOrCreate", identity)
	defer done()

	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	record, err := l.upsert(ctx, "get_or_create", identity, requestcontext.Now(ctx), nil)
	if err != nil {
		return nil, fail(span, mapStoreError(err, "failed to load identity"))
	}
	return record, nil
}

// RecordViolation adds one strike and returns the post-increment record.
// Reaching the threshold blocks the identity for the configured duration.
func (l *Ledger) RecordViolation(ctx context.Context, identity string) (*models.IdentityRecord, error) {
	ctx, span, done := l.begin(ctx, "RecordViolation", identity)
	defer done()

	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	var expired, tripped bool
	record, err := l.upsert(ctx, "record_violation", identity, now, func(r *models.IdentityRecord) (bool, error) {
		expired, tripped = false, false
		if r.IsLockExpiredAt(now) {
			r.Reset(now)
			expired = true
		}
		wasBlocked := r.IsBlocked
		r.RecordViolation(now, l.config.StrikeThreshold, l.config.BlockDuration)
		tripped = !wasBlocked && r.IsBlocked
		return true, nil
	})
	if err != nil {
		return nil, fail(span, mapStoreError(err, "failed to record violation"))
	}

	l.metrics.IncrementViolations()
	if expired {
		l.auditExpired(ctx, identity)
	}
	if tripped {
		l.metrics.IncrementLockouts()
		observability.LogAudit(ctx, l.logger, observability.EventIdentityBlocked,
			"user_id", identity,
			"violation_count", record.ViolationCount,
			"blocked_until", record.BlockedUntil,
		)
	}
	span.SetAttributes(
		attribute.Int("violation_count", record.ViolationCount),
		attribute.Bool("is_blocked", record.IsBlocked),
	)
	return record, nil
}

// IsBlocked reports whether the identity is locked out now. It creates the
// record on first reference and clears a lapsed lockout before answering.
func (l *Ledger) IsBlocked(ctx context.Context, identity string) (bool, error) {
	ctx, span, done := l.begin(ctx, "IsBlocked", identity)
	defer done()

	if err := validateIdentity(identity); err != nil {
		return false, err
	}
	now := requestcontext.Now(ctx)

	record, err := l.get(ctx, "is_blocked", identity)
	if errors.Is(err, sentinel.ErrNotFound) {
		record, err = l.upsert(ctx, "is_blocked", identity, now, nil)
	}
	if err != nil {
		return false, fail(span, mapStoreError(err, "failed to check lockout"))
	}

	if record.IsLockExpiredAt(now) {
		record, err = l.expire(ctx, identity, now)
		if err != nil {
			return false, fail(span, err)
		}
	}

	blocked := record.IsLockedAt(now)
	span.SetAttributes(attribute.Bool("is_blocked", blocked))
	return blocked, nil
}

// Status returns the identity's record with lazy expiry applied, without creating it.
func (l *Ledger) Status(ctx context.Context, identity string) (*models.IdentityRecord, error) {
	ctx, span, done := l.begin(ctx, "Status", identity)
	defer done()

	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	record, err := l.get(ctx, "status", identity)
	if err != nil {
		return nil, fail(span, mapStoreError(err, "failed to load identity"))
	}
	if record.IsLockExpiredAt(now) {
		record, err = l.expire(ctx, identity, now)
		if err != nil {
			return nil, fail(span, err)
		}
	}
	return record, nil
}

// Unblock clears the lockout and strike count. It is idempotent and always
// refreshes UpdatedAt; an identity never seen before is IdentityNotFound.
func (l *Ledger) Unblock(ctx context.Context, identity string) (*models.IdentityRecord, error) {
	ctx, span, done := l.begin(ctx, "Unblock", identity)
	defer done()

	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	var wasBlocked bool
	record, err := l.update(ctx, "unblock", identity, func(r *models.IdentityRecord) (bool, error) {
		wasBlocked = r.IsBlocked
		r.Reset(now)
		return true, nil
	})
	if err != nil {
		return nil, fail(span, mapStoreError(err, "failed to unblock identity"))
	}

	if wasBlocked {
		l.metrics.IncrementUnblocks("manual")
	}
	observability.LogAudit(ctx, l.logger, observability.EventIdentityUnblocked,
		"user_id", identity,
		"was_blocked", wasBlocked,
	)
	return record, nil
}

// Exists reports whether a record was ever created, without creating one.
func (l *Ledger) Exists(ctx context.Context, identity string) (bool, error) {
	ctx, span, done := l.begin(ctx, "Exists", identity)
	defer done()

	if identity == "" {
		return false, nil
	}
	_, err := l.get(ctx, "exists", identity)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fail(span, mapStoreError(err, "failed to check identity"))
	}
	return true, nil
}

// AllIdentities returns a snapshot of every known identity.
func (l *Ledger) AllIdentities(ctx context.Context) ([]string, error) {
	ctx, span, done := l.begin(ctx, "AllIdentities", "")
	defer done()

	ctx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	start := time.Now()
	ids, err := l.store.ListIdentities(ctx)
	l.metrics.ObserveStorage("list", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fail(span, mapStoreError(err, "failed to list identities"))
	}
	span.SetAttributes(attribute.Int("identities", len(ids)))
	return ids, nil
}

// expire clears a lapsed lockout, re-checking under the store's lock so a
// concurrent fresh block is never wiped.
func (l *Ledger) expire(ctx context.Context, identity string, now time.Time) (*models.IdentityRecord, error) {
	var expired bool
	record, err := l.update(ctx, "expire", identity, func(r *models.IdentityRecord) (bool, error) {
		expired = r.IsLockExpiredAt(now)
		if !expired {
			return false, nil
		}
		r.Reset(now)
		return true, nil
	})
	if err != nil {
		return nil, mapStoreError(err, "failed to clear expired lockout")
	}
	if expired {
		l.auditExpired(ctx, identity)
	}
	return record, nil
}

func (l *Ledger) auditExpired(ctx context.Context, identity string) {
	l.metrics.IncrementUnblocks("expired")
	observability.LogAudit(ctx, l.logger, observability.EventLockoutExpired,
		"user_id", identity,
	)
}

func (l *Ledger) get(ctx context.Context, op, identity string) (*models.IdentityRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	start := time.Now()
	record, err := l.store.Get(ctx, identity)
	l.metrics.ObserveStorage(op, time.Since(start).Seconds(), ignoreNotFound(err))
	return record, err
}

func (l *Ledger) upsert(ctx context.Context, op, identity string, now time.Time, fn ports.MutateFunc) (*models.IdentityRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	if fn == nil {
		fn = func(*models.IdentityRecord) (bool, error) { return false, nil }
	}
	start := time.Now()
	record, err := l.store.Upsert(ctx, identity, now, fn)
	l.metrics.ObserveStorage(op, time.Since(start).Seconds(), err)
	return record, err
}

func (l *Ledger) update(ctx context.Context, op, identity string, fn ports.MutateFunc) (*models.IdentityRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	start := time.Now()
	record, err := l.store.Update(ctx, identity, fn)
	l.metrics.ObserveStorage(op, time.Since(start).Seconds(), ignoreNotFound(err))
	return record, err
}

func (l *Ledger) begin(ctx context.Context, name, identity string) (context.Context, trace.Span, func()) {
	ctx, span := tracer.Start(ctx, "ledger."+name)
	if identity != "" {
		span.SetAttributes(attribute.String("identity", identity))
	}
	return ctx, span, func() { span.End() }
}

func validateIdentity(identity string) error {
	if identity == "" {
		return dErrors.New(dErrors.CodeValidation, "identity is required")
	}
	return nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	return err
}

// mapStoreError turns store failures into domain errors. Anything other than
// a missing record, including timeouts and exhausted retries, is StorageUnavailable.
func mapStoreError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeIdentityNotFound, "identity not found")
	}
	return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, msg)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
