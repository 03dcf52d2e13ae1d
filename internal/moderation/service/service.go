// Package service is the moderation decider: the single point that turns a
// message and its sender into an allow or reject decision.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chatgate/internal/moderation/metrics"
	"chatgate/internal/moderation/models"
	"chatgate/internal/moderation/observability"
	dErrors "chatgate/pkg/domain-errors"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Ledger,ContentPolicy

var tracer = otel.Tracer("chatgate/moderation/service")

// Ledger is the subset of the identity ledger the decider uses.
type Ledger interface {
	IsBlocked(ctx context.Context, identity string) (bool, error)
	RecordViolation(ctx context.Context, identity string) (*models.IdentityRecord, error)
}

// ContentPolicy decides whether a message violates policy for its sender.
type ContentPolicy interface {
	Violates(ctx context.Context, message, sender string) (bool, error)
}

type Service struct {
	ledger    Ledger
	policy    ContentPolicy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	threshold int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithStrikeThreshold must match the ledger's threshold.
func WithStrikeThreshold(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.threshold = n
		}
	}
}

func New(ledger Ledger, policy ContentPolicy, opts ...Option) (*Service, error) {
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if policy == nil {
		return nil, errors.New("content policy is required")
	}
	s := &Service{
		ledger:    ledger,
		policy:    policy,
		threshold: models.DefaultStrikeThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Evaluate decides one message.
//
// A block that existed before the message yields (false, true) and records
// nothing. Otherwise a violation is recorded and the post-increment record
// decides: the strike that reaches the threshold is still allowed, and the
// lockout applies from the next message. Ledger and policy failures are
// returned as errors and never read as "allowed".
func (s *Service) Evaluate(ctx context.Context, message, identity string) (*models.Decision, error) {
	ctx, span := tracer.Start(ctx, "moderation.Evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("identity", identity))

	decision, err := s.evaluate(ctx, message, identity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveDecision(metrics.OutcomeErrored)
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("has_violation", decision.HasViolation),
		attribute.Bool("is_blocked", decision.IsBlocked),
	)
	switch {
	case decision.Rejected():
		s.metrics.ObserveDecision(metrics.OutcomeRejected)
		observability.LogAudit(ctx, s.logger, observability.EventIdentityRejected,
			"user_id", identity,
		)
	case decision.HasViolation:
		s.metrics.ObserveDecision(metrics.OutcomeStrike)
	default:
		s.metrics.ObserveDecision(metrics.OutcomeAllowed)
	}
	return decision, nil
}

func (s *Service) evaluate(ctx context.Context, message, identity string) (*models.Decision, error) {
	blocked, err := s.ledger.IsBlocked(ctx, identity)
	if err != nil {
		return nil, err
	}
	if blocked {
		return &models.Decision{HasViolation: false, IsBlocked: true}, nil
	}

	violates, err := s.policy.Violates(ctx, message, identity)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePolicyEvaluationFailed, "content policy evaluation failed")
	}
	if !violates {
		return &models.Decision{}, nil
	}

	record, err := s.ledger.RecordViolation(ctx, identity)
	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "violation recorded",
			"user_id", identity,
			"violation_count", record.ViolationCount,
			"is_blocked", record.IsBlocked,
		)
	}
	return &models.Decision{HasViolation: true, IsBlocked: s.blockedAfterStrike(record)}, nil
}

// blockedAfterStrike maps the post-increment record to the current request's
// block flag. Only the threshold-reaching strike itself passes with a block stored.
func (s *Service) blockedAfterStrike(r *models.IdentityRecord) bool {
	switch {
	case r.IsBlocked && r.ViolationCount != s.threshold:
		return true
	case r.ViolationCount <= s.threshold:
		return false
	default:
		return true
	}
}
