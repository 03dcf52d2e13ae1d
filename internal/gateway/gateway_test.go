package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgate/internal/platform/config"
	httptransport "chatgate/internal/transport/http"
	"chatgate/pkg/testutil"
)

func testConfig() *config.Config {
	return &config.Config{
		Moderation: config.Moderation{StrikeThreshold: 3, BlockDuration: time.Hour, BlockedTerms: []string{"spam"}},
		Storage:    config.Storage{Backend: config.BackendMemory, Timeout: time.Second},
		Completion: config.Completion{UseMock: true, Retries: 1, Timeout: time.Second},
	}
}

func build(t *testing.T) *Gateway {
	t.Helper()
	gw, err := Build(context.Background(), testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func chat(t *testing.T, h http.Handler, identity, message string) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.DoRequest(h, testutil.NewJSONRequest(t, http.MethodPost, "/chat/"+identity, map[string]string{"message": message}))
}

func TestBuild(t *testing.T) {
	gw := build(t)

	rr := chat(t, gw.Handler, "alice", "hello")
	require.Equal(t, http.StatusOK, rr.Code)
	got := testutil.Decode[httptransport.ChatResponse](t, rr)
	assert.Equal(t, "[MOCK] Echo: hello", got.Response)
	assert.Equal(t, "alice", got.UserID)

	rr = testutil.DoRequest(gw.Handler, testutil.NewRequest(t, http.MethodGet, "/health"))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = testutil.DoRequest(gw.Handler, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "chatgate_http_requests_total")
	assert.Contains(t, rr.Body.String(), `chatgate_moderation_decisions_total{outcome="allowed"} 1`)
}

func TestBuildWiresMentionAndTermPolicies(t *testing.T) {
	gw := build(t)
	require.Equal(t, http.StatusOK, chat(t, gw.Handler, "bob", "hi").Code)

	require.Equal(t, http.StatusOK, chat(t, gw.Handler, "alice", "hey BOB").Code)
	require.Equal(t, http.StatusOK, chat(t, gw.Handler, "alice", "cheap Spam").Code)
	require.Equal(t, http.StatusOK, chat(t, gw.Handler, "alice", "bob again").Code)

	testutil.AssertError(t, chat(t, gw.Handler, "alice", "hello"), http.StatusForbidden, "identity_blocked")

	record, err := gw.Ledger.Status(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, record.ViolationCount)
	assert.True(t, record.IsBlocked)
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Backend = "etcd"
	_, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestWriteTimeoutCoversRetries(t *testing.T) {
	cfg := testConfig()
	cfg.Completion.Retries = 3
	cfg.Completion.Timeout = 30 * time.Second
	cfg.Storage.Timeout = 2 * time.Second
	assert.Equal(t, 124*time.Second, WriteTimeout(cfg))
}
