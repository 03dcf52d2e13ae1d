package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"chatgate/internal/moderation/models"
	"chatgate/internal/transport/http/mocks"
	dErrors "chatgate/pkg/domain-errors"
)

type ChatHandlerSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestChatHandlerSuite(t *testing.T) {
	suite.Run(t, new(ChatHandlerSuite))
}

func (s *ChatHandlerSuite) SetupSuite() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *ChatHandlerSuite) newHandler(t *testing.T) (*mocks.MockModerator, *mocks.MockCompleter, chi.Router) {
	t.Helper()
	ctrl := gomock.NewController(t)
	moderator := mocks.NewMockModerator(ctrl)
	completer := mocks.NewMockCompleter(ctrl)

	r := chi.NewRouter()
	NewChatHandler(moderator, completer, s.logger).Register(r)
	return moderator, completer, r
}

func (s *ChatHandlerSuite) doChat(t *testing.T, r chi.Router, identity, body string) (int, *ChatResponse, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat/"+identity, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		var errBody map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errBody))
		return rr.Code, nil, errBody
	}
	var got ChatResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	return rr.Code, &got, nil
}

func (s *ChatHandlerSuite) TestHandleChat() {
	s.T().Run("clean message is forwarded - 200", func(t *testing.T) {
		moderator, completer, r := s.newHandler(t)
		moderator.EXPECT().Evaluate(gomock.Any(), "hello", "alice").Return(&models.Decision{}, nil)
		completer.EXPECT().Complete(gomock.Any(), "hello").Return("[MOCK] Echo: hello", nil)

		status, got, errBody := s.doChat(t, r, "alice", `{"message":"hello"}`)

		assert.Equal(t, http.StatusOK, status)
		assert.Nil(t, errBody)
		assert.Equal(t, "[MOCK] Echo: hello", got.Response)
		assert.Equal(t, "alice", got.UserID)
	})

	s.T().Run("strike that trips the lockout is still forwarded - 200", func(t *testing.T) {
		moderator, completer, r := s.newHandler(t)
		moderator.EXPECT().Evaluate(gomock.Any(), "hi @bob", "alice").
			Return(&models.Decision{HasViolation: true, IsBlocked: true}, nil)
		completer.EXPECT().Complete(gomock.Any(), "hi @bob").Return("ok", nil)

		status, got, _ := s.doChat(t, r, "alice", `{"message":"hi @bob"}`)

		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "ok", got.Response)
	})

	s.T().Run("pre-existing lockout rejects - 403", func(t *testing.T) {
		moderator, completer, r := s.newHandler(t)
		moderator.EXPECT().Evaluate(gomock.Any(), "hello", "alice").
			Return(&models.Decision{IsBlocked: true}, nil)
		completer.EXPECT().Complete(gomock.Any(), gomock.Any()).Times(0)

		status, _, errBody := s.doChat(t, r, "alice", `{"message":"hello"}`)

		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, string(dErrors.CodeIdentityBlocked), errBody["error"])
		assert.NotEmpty(t, errBody["error_description"])
	})

	s.T().Run("empty message is allowed", func(t *testing.T) {
		moderator, completer, r := s.newHandler(t)
		moderator.EXPECT().Evaluate(gomock.Any(), "", "alice").Return(&models.Decision{}, nil)
		completer.EXPECT().Complete(gomock.Any(), "").Return("[MOCK] Echo: ", nil)

		status, _, _ := s.doChat(t, r, "alice", `{"message":""}`)

		assert.Equal(t, http.StatusOK, status)
	})

	s.T().Run("missing message - 400", func(t *testing.T) {
		moderator, _, r := s.newHandler(t)
		moderator.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		status, _, errBody := s.doChat(t, r, "alice", `{}`)

		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(dErrors.CodeValidation), errBody["error"])
	})

	s.T().Run("invalid json - 400", func(t *testing.T) {
		moderator, _, r := s.newHandler(t)
		moderator.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		status, _, errBody := s.doChat(t, r, "alice", `{bad-json`)

		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(dErrors.CodeBadRequest), errBody["error"])
	})

	s.T().Run("oversized identity - 400", func(t *testing.T) {
		moderator, _, r := s.newHandler(t)
		moderator.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		status, _, errBody := s.doChat(t, r, strings.Repeat("a", maxIdentityLen+1), `{"message":"hi"}`)

		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(dErrors.CodeValidation), errBody["error"])
	})

	s.T().Run("storage failure - 503 without leaking detail", func(t *testing.T) {
		moderator, completer, r := s.newHandler(t)
		moderator.EXPECT().Evaluate(gomock.Any(), "hello", "alice").
			Return(nil, dErrors.Wrap(errors.New("dial tcp: refused"), dErrors.CodeStorageUnavailable, "ledger unavailable"))
		completer.EXPECT().Complete(gomock.Any(), gomock.Any()).Times(0)

		status, _, errBody := s.doChat(t, r, "alice", `{"message":"hello"}`)

		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Equal(t, string(dErrors.CodeStorageUnavailable), errBody["error"])
		assert.Empty(t, errBody["error_description"])
	})

	s.T().Run("policy failure - 500", func(t *testing.T) {
		moderator, _, r := s.newHandler(t)
		moderator.EXPECT().Evaluate(gomock.Any(), "hello", "alice").
			Return(nil, dErrors.New(dErrors.CodePolicyEvaluationFailed, "policy failed"))

		status, _, errBody := s.doChat(t, r, "alice", `{"message":"hello"}`)

		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, string(dErrors.CodePolicyEvaluationFailed), errBody["error"])
	})

	s.T().Run("untyped completion failure - 502", func(t *testing.T) {
		moderator, completer, r := s.newHandler(t)
		moderator.EXPECT().Evaluate(gomock.Any(), "hello", "alice").Return(&models.Decision{}, nil)
		completer.EXPECT().Complete(gomock.Any(), "hello").Return("", context.DeadlineExceeded)

		status, _, errBody := s.doChat(t, r, "alice", `{"message":"hello"}`)

		assert.Equal(t, http.StatusBadGateway, status)
		assert.Equal(t, string(dErrors.CodeUpstream), errBody["error"])
	})
}
