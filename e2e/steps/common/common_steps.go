package common

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	StartGateway(threshold int, blockFor time.Duration) error
	SetBlockedTerms(terms []string)
	GET(path string) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

const (
	defaultThreshold = 3
	defaultBlockFor  = 24 * time.Hour
)

// RegisterSteps registers gateway lifecycle, request and assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^the gateway is running$`, steps.gatewayRunning)
	ctx.Step(`^the gateway is running with a lockout of (\d+) milliseconds$`, steps.gatewayRunningWithLockout)
	ctx.Step(`^the gateway is running with a strike threshold of (\d+)$`, steps.gatewayRunningWithThreshold)
	ctx.Step(`^the blocked terms are "([^"]*)"$`, steps.blockedTerms)
	ctx.Step(`^I GET "([^"]*)"$`, steps.get)
	ctx.Step(`^I wait (\d+) milliseconds$`, steps.wait)

	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the error code should be "([^"]*)"$`, steps.errorCodeShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be (.+)$`, steps.fieldShouldBe)
	ctx.Step(`^the response body should contain "([^"]*)"$`, steps.bodyShouldContain)
	ctx.Step(`^the response body should not contain "([^"]*)"$`, steps.bodyShouldNotContain)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) gatewayRunning(ctx context.Context) error {
	return s.tc.StartGateway(defaultThreshold, defaultBlockFor)
}

func (s *commonSteps) gatewayRunningWithLockout(ctx context.Context, ms int) error {
	return s.tc.StartGateway(defaultThreshold, time.Duration(ms)*time.Millisecond)
}

func (s *commonSteps) gatewayRunningWithThreshold(ctx context.Context, threshold int) error {
	return s.tc.StartGateway(threshold, defaultBlockFor)
}

func (s *commonSteps) blockedTerms(ctx context.Context, terms string) error {
	s.tc.SetBlockedTerms(strings.Split(terms, ","))
	return nil
}

func (s *commonSteps) get(ctx context.Context, path string) error {
	return s.tc.GET(path)
}

func (s *commonSteps) wait(ctx context.Context, ms int) error {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *commonSteps) statusShouldBe(ctx context.Context, expected int) error {
	if got := s.tc.GetLastResponseStatus(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) errorCodeShouldBe(ctx context.Context, code string) error {
	got, err := s.tc.GetResponseField("error")
	if err != nil {
		return err
	}
	if got != code {
		return fmt.Errorf("expected error %q, got %v", code, got)
	}
	return nil
}

// fieldShouldBe compares a response field against a JSON literal.
func (s *commonSteps) fieldShouldBe(ctx context.Context, field, literal string) error {
	got, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	var want interface{}
	if err := json.Unmarshal([]byte(literal), &want); err != nil {
		return fmt.Errorf("expected value %s is not a JSON literal: %w", literal, err)
	}
	gotJSON, _ := json.Marshal(got)
	wantJSON, _ := json.Marshal(want)
	if !bytes.Equal(gotJSON, wantJSON) {
		return fmt.Errorf("field %q: expected %s, got %s", field, wantJSON, gotJSON)
	}
	return nil
}

func (s *commonSteps) bodyShouldContain(ctx context.Context, fragment string) error {
	if !bytes.Contains(s.tc.GetLastResponseBody(), []byte(fragment)) {
		return fmt.Errorf("response body does not contain %q: %s", fragment, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) bodyShouldNotContain(ctx context.Context, fragment string) error {
	if bytes.Contains(s.tc.GetLastResponseBody(), []byte(fragment)) {
		return fmt.Errorf("response body unexpectedly contains %q: %s", fragment, s.tc.GetLastResponseBody())
	}
	return nil
}
