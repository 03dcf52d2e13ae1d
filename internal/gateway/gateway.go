// Package gateway assembles the moderation pipeline and HTTP surface from configuration.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"chatgate/internal/completion"
	"chatgate/internal/moderation/ledger"
	modmetrics "chatgate/internal/moderation/metrics"
	"chatgate/internal/moderation/policy"
	"chatgate/internal/moderation/service"
	"chatgate/internal/moderation/store"
	"chatgate/internal/platform/config"
	"chatgate/internal/platform/metrics"
	httptransport "chatgate/internal/transport/http"
	"chatgate/pkg/platform/circuit"
)

type Gateway struct {
	Handler  http.Handler
	Backend  *store.Backend
	Ledger   *ledger.Ledger
	Registry *prometheus.Registry
}

// Close releases the storage backend.
func (g *Gateway) Close() error {
	return g.Backend.Close()
}

// WriteTimeout leaves room for every completion attempt plus the ledger round trips.
func WriteTimeout(cfg *config.Config) time.Duration {
	return cfg.Completion.Timeout*time.Duration(cfg.Completion.Retries+1) + 2*cfg.Storage.Timeout
}

// Build opens the configured backend and wires ledger, policies, decider,
// completion client and router.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Gateway, error) {
	backend, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	modMetrics := modmetrics.New(reg)
	httpMetrics := metrics.NewHTTP(reg)

	identities, err := ledger.New(backend.Store,
		ledger.WithLogger(log),
		ledger.WithMetrics(modMetrics),
		ledger.WithConfig(ledger.Config{
			StrikeThreshold: cfg.Moderation.StrikeThreshold,
			BlockDuration:   cfg.Moderation.BlockDuration,
			Timeout:         cfg.Storage.Timeout,
		}),
	)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	policies := []policy.Policy{policy.NewMentionPolicy(identities)}
	if len(cfg.Moderation.BlockedTerms) > 0 {
		policies = append(policies, policy.NewTermPolicy(cfg.Moderation.BlockedTerms))
	}

	moderator, err := service.New(identities, policy.AnyOf(policies...),
		service.WithLogger(log),
		service.WithMetrics(modMetrics),
		service.WithStrikeThreshold(identities.StrikeThreshold()),
	)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	router := httptransport.NewRouter(
		[]httptransport.Registrar{
			httptransport.NewHealthHandler(backend.Health, log),
			httptransport.NewChatHandler(moderator, newCompleter(cfg, log), log),
			httptransport.NewAdminHandler(identities, log),
		},
		httptransport.WithMiddleware(httpMetrics.Middleware),
		httptransport.WithMetricsHandler(metrics.Handler(reg)),
	)

	return &Gateway{
		Handler:  router,
		Backend:  backend,
		Ledger:   identities,
		Registry: reg,
	}, nil
}

func newCompleter(cfg *config.Config, log *slog.Logger) httptransport.Completer {
	if cfg.Completion.UseMock {
		return completion.EchoClient{}
	}
	return completion.NewOpenAIClient(completion.Config{
		APIKey:      cfg.Completion.APIKey,
		BaseURL:     cfg.Completion.BaseURL,
		Model:       cfg.Completion.Model,
		MaxTokens:   cfg.Completion.MaxTokens,
		Temperature: cfg.Completion.Temperature,
		Timeout:     cfg.Completion.Timeout,
		Attempts:    cfg.Completion.Retries,
	},
		completion.WithLogger(log),
		completion.WithBreaker(circuit.New("completion")),
	)
}
