package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers chat step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &chatSteps{tc: tc}

	ctx.Step(`^"([^"]*)" has chatted$`, steps.hasChatted)
	ctx.Step(`^"([^"]*)" sends "([^"]*)"$`, steps.sends)
	ctx.Step(`^"([^"]*)" sends "([^"]*)" (\d+) times and each is forwarded$`, steps.sendsForwarded)
	ctx.Step(`^"([^"]*)" sends a request without a message$`, steps.sendsWithoutMessage)
}

type chatSteps struct {
	tc TestContext
}

func chatPath(identity string) string {
	return "/chat/" + url.PathEscape(identity)
}

// hasChatted makes the identity known to the ledger.
func (s *chatSteps) hasChatted(ctx context.Context, identity string) error {
	if err := s.sends(ctx, identity, "hello"); err != nil {
		return err
	}
	if code := s.tc.GetLastResponseStatus(); code != http.StatusOK {
		return fmt.Errorf("first message from %q was not forwarded: %d %s", identity, code, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *chatSteps) sends(ctx context.Context, identity, message string) error {
	return s.tc.POST(chatPath(identity), map[string]string{"message": message})
}

func (s *chatSteps) sendsForwarded(ctx context.Context, identity, message string, times int) error {
	for i := 1; i <= times; i++ {
		if err := s.sends(ctx, identity, message); err != nil {
			return err
		}
		if code := s.tc.GetLastResponseStatus(); code != http.StatusOK {
			return fmt.Errorf("message %d from %q: expected 200, got %d: %s", i, identity, code, s.tc.GetLastResponseBody())
		}
	}
	return nil
}

func (s *chatSteps) sendsWithoutMessage(ctx context.Context, identity string) error {
	return s.tc.POST(chatPath(identity), map[string]string{})
}
