package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dErrors "chatgate/pkg/domain-errors"
	"chatgate/pkg/platform/circuit"
)

type OpenAIClientSuite struct {
	suite.Suite
	server  *httptest.Server
	handler http.HandlerFunc
	calls   atomic.Int32
}

func TestOpenAIClientSuite(t *testing.T) {
	suite.Run(t, new(OpenAIClientSuite))
}

func (s *OpenAIClientSuite) SetupTest() {
	s.calls.Store(0)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		s.handler(w, r)
	}))
}

func (s *OpenAIClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *OpenAIClientSuite) newClient(opts ...Option) *OpenAIClient {
	cfg := Config{
		APIKey:      "sk-test",
		BaseURL:     s.server.URL + "/v1/",
		Model:       "gpt-3.5-turbo",
		MaxTokens:   150,
		Temperature: 0.7,
		Timeout:     time.Second,
		Attempts:    3,
	}
	opts = append([]Option{WithRetryWait(time.Millisecond, 5*time.Millisecond)}, opts...)
	return NewOpenAIClient(cfg, opts...)
}

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
	})
}

func (s *OpenAIClientSuite) TestSuccess() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/v1/chat/completions", r.URL.Path)
		s.Equal("Bearer sk-test", r.Header.Get("Authorization"))

		var body chatRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
		s.Equal("gpt-3.5-turbo", body.Model)
		s.Equal(150, body.MaxTokens)
		s.InDelta(0.7, body.Temperature, 1e-9)
		s.Equal([]chatMessage{{Role: "user", Content: "hi"}}, body.Messages)

		reply(w, "  hello there \n")
	}

	got, err := s.newClient().Complete(context.Background(), "hi")
	s.Require().NoError(err)
	s.Equal("hello there", got)
}

func (s *OpenAIClientSuite) TestRetriesServerErrors() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		if s.calls.Load() < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		reply(w, "ok")
	}

	got, err := s.newClient().Complete(context.Background(), "hi")
	s.Require().NoError(err)
	s.Equal("ok", got)
	s.Equal(int32(3), s.calls.Load())
}

func (s *OpenAIClientSuite) TestGivesUpAfterAttempts() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}

	_, err := s.newClient().Complete(context.Background(), "hi")
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	s.Equal(int32(3), s.calls.Load())
}

func (s *OpenAIClientSuite) TestClientErrorIsNotRetried() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}

	_, err := s.newClient().Complete(context.Background(), "hi")
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	s.Equal(int32(1), s.calls.Load())
}

func (s *OpenAIClientSuite) TestMalformedResponse() {
	s.Run("no choices", func() {
		s.handler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}
		_, err := s.newClient().Complete(context.Background(), "hi")
		s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	})

	s.Run("missing content", func() {
		s.handler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[{"message":{}}]}`))
		}
		_, err := s.newClient().Complete(context.Background(), "hi")
		s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	})

	s.Run("not json", func() {
		s.handler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}
		_, err := s.newClient().Complete(context.Background(), "hi")
		s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	})
}

func (s *OpenAIClientSuite) TestOpenCircuitFailsFast() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}
	breaker := circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	client := s.newClient(WithBreaker(breaker))

	for i := 0; i < 2; i++ {
		_, err := client.Complete(context.Background(), "hi")
		s.Error(err)
	}
	s.True(breaker.IsOpen())
	before := s.calls.Load()

	_, err := client.Complete(context.Background(), "hi")
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	s.Equal(before, s.calls.Load(), "open circuit must not reach the server")
}

func (s *OpenAIClientSuite) TestCallerDeadlineDoesNotTripCircuit() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(50 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		reply(w, "late but healthy")
	}
	breaker := circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	client := s.newClient(WithBreaker(breaker))

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		_, err := client.Complete(ctx, "hi")
		cancel()
		s.Error(err)
	}
	s.False(breaker.IsOpen(), "impatient callers must not open the circuit")
	s.Equal(circuit.StateClosed, breaker.State())

	got, err := client.Complete(context.Background(), "hi")
	s.Require().NoError(err)
	s.Equal("late but healthy", got)
}

func (s *OpenAIClientSuite) TestCancelledCallerDoesNotTripCircuit() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		reply(w, "ok")
	}
	breaker := circuit.New("test", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))
	client := s.newClient(WithBreaker(breaker))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Complete(ctx, "hi")
	s.Error(err)
	s.False(breaker.IsOpen())
}

func TestEchoClient(t *testing.T) {
	got, err := EchoClient{}.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "[MOCK] Echo: hello", got)
}
