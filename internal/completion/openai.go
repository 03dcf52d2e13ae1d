package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	dErrors "chatgate/pkg/domain-errors"
	"chatgate/pkg/platform/circuit"
)

const maxResponseBytes = 1 << 20

// Config holds the chat-completions request parameters.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	// Timeout applies per attempt.
	Timeout time.Duration
	// Attempts is the total number of tries, including the first.
	Attempts int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// leveledSlog demotes retryablehttp errors to warnings; intermediate failures are retried.
type leveledSlog struct {
	inner *slog.Logger
}

func (l leveledSlog) Error(msg string, kv ...any) { l.inner.Warn(msg, kv...) }
func (l leveledSlog) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l leveledSlog) Info(msg string, kv ...any)  { l.inner.Debug(msg, kv...) }
func (l leveledSlog) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }

// OpenAIClient calls an OpenAI-compatible /chat/completions endpoint with
// exponential-backoff retries behind a circuit breaker.
type OpenAIClient struct {
	cfg     Config
	http    *retryablehttp.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type Option func(*OpenAIClient)

func WithLogger(logger *slog.Logger) Option {
	return func(c *OpenAIClient) {
		if logger != nil {
			c.logger = logger
			c.http.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: logger.With("subsystem", "completion")})
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *OpenAIClient) {
		c.breaker = b
	}
}

// WithRetryWait sets the backoff bounds; the wait doubles from min up to max.
func WithRetryWait(minWait, maxWait time.Duration) Option {
	return func(c *OpenAIClient) {
		c.http.RetryWaitMin = minWait
		c.http.RetryWaitMax = maxWait
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(c *OpenAIClient) {
		c.http.HTTPClient.Transport = rt
	}
}

func NewOpenAIClient(cfg Config, opts ...Option) *OpenAIClient {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.Attempts - 1
	rc.RetryWaitMin = time.Second
	rc.RetryWaitMax = 8 * time.Second
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil

	c := &OpenAIClient{
		cfg:     cfg,
		http:    rc,
		breaker: circuit.New("completion"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OpenAIClient) Complete(ctx context.Context, message string) (string, error) {
	if !c.breaker.Allow() {
		return "", dErrors.New(dErrors.CodeUpstream, "completion service unavailable")
	}

	reply, err := c.complete(ctx, message)
	if err != nil {
		// A caller that gave up says nothing about upstream health.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return "", err
		}
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.WarnContext(ctx, "completion circuit opened", "breaker", c.breaker.Name())
		}
		return "", err
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "completion circuit closed", "breaker", c.breaker.Name())
	}
	return reply, nil
}

func (c *OpenAIClient) complete(ctx context.Context, message string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: message}},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode completion request")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to build completion request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUpstream, "completion request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUpstream, "failed to read completion response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", dErrors.Wrap(fmt.Errorf("status %d", resp.StatusCode), dErrors.CodeUpstream, "completion request failed")
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUpstream, "unexpected completion response format")
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == nil {
		return "", dErrors.New(dErrors.CodeUpstream, "unexpected completion response format")
	}
	return strings.TrimSpace(*parsed.Choices[0].Message.Content), nil
}
