// Package e2e drives the assembled gateway through its HTTP surface with
// Gherkin scenarios.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"chatgate/internal/gateway"
	"chatgate/internal/platform/config"
)

// TestContext holds one scenario's gateway and the last response seen.
type TestContext struct {
	server   *httptest.Server
	gw       *gateway.Gateway
	client   *http.Client
	terms    []string
	lastCode int
	lastBody []byte
}

func NewTestContext() *TestContext {
	return &TestContext{client: &http.Client{Timeout: 10 * time.Second}}
}

// SetBlockedTerms must be called before StartGateway.
func (tc *TestContext) SetBlockedTerms(terms []string) {
	tc.terms = terms
}

// StartGateway boots an in-process gateway on the memory backend with the
// echo completion client.
func (tc *TestContext) StartGateway(threshold int, blockFor time.Duration) error {
	tc.Close()
	cfg := &config.Config{
		Moderation: config.Moderation{
			StrikeThreshold: threshold,
			BlockDuration:   blockFor,
			BlockedTerms:    tc.terms,
		},
		Storage:    config.Storage{Backend: config.BackendMemory, Timeout: 2 * time.Second},
		Completion: config.Completion{UseMock: true, Retries: 1, Timeout: time.Second},
	}
	gw, err := gateway.Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	tc.gw = gw
	tc.server = httptest.NewServer(gw.Handler)
	return nil
}

func (tc *TestContext) Close() {
	if tc.server != nil {
		tc.server.Close()
		tc.server = nil
	}
	if tc.gw != nil {
		_ = tc.gw.Close()
		tc.gw = nil
	}
}

func (tc *TestContext) ensureStarted() error {
	if tc.server == nil {
		return fmt.Errorf("gateway is not running; add a Background step that starts it")
	}
	return nil
}

func (tc *TestContext) do(method, path string, body interface{}) error {
	if err := tc.ensureStarted(); err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tc.server.URL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tc.lastCode = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.do(http.MethodPost, path, body)
}

func (tc *TestContext) PUT(path string) error {
	return tc.do(http.MethodPut, path, nil)
}

func (tc *TestContext) GET(path string) error {
	return tc.do(http.MethodGet, path, nil)
}

// GetResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response %s", field, tc.lastBody)
	}
	return v, nil
}

func (tc *TestContext) GetLastResponseStatus() int {
	return tc.lastCode
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.lastBody
}
