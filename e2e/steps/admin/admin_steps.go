package admin

import (
	"context"
	"fmt"
	"net/url"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	PUT(path string) error
	GET(path string) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
}

// RegisterSteps registers operator step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &adminSteps{tc: tc}

	ctx.Step(`^the operator unblocks "([^"]*)"$`, steps.unblock)
	ctx.Step(`^the operator views "([^"]*)"$`, steps.view)
	ctx.Step(`^the operator lists identities$`, steps.list)
	ctx.Step(`^"([^"]*)" should have (\d+) violations?$`, steps.shouldHaveViolations)
	ctx.Step(`^"([^"]*)" should be blocked$`, steps.shouldBeBlocked)
	ctx.Step(`^"([^"]*)" should not be blocked$`, steps.shouldNotBeBlocked)
}

type adminSteps struct {
	tc TestContext
}

func (s *adminSteps) unblock(ctx context.Context, identity string) error {
	return s.tc.PUT("/admin/unblock/" + url.PathEscape(identity))
}

func (s *adminSteps) view(ctx context.Context, identity string) error {
	return s.tc.GET("/admin/identities/" + url.PathEscape(identity))
}

func (s *adminSteps) list(ctx context.Context) error {
	return s.tc.GET("/admin/identities")
}

func (s *adminSteps) field(identity, name string) (interface{}, error) {
	if err := s.view(context.Background(), identity); err != nil {
		return nil, err
	}
	if code := s.tc.GetLastResponseStatus(); code != 200 {
		return nil, fmt.Errorf("status of %q: unexpected %d", identity, code)
	}
	return s.tc.GetResponseField(name)
}

func (s *adminSteps) shouldHaveViolations(ctx context.Context, identity string, count int) error {
	v, err := s.field(identity, "violation_count")
	if err != nil {
		return err
	}
	// JSON numbers decode as float64.
	if got, ok := v.(float64); !ok || int(got) != count {
		return fmt.Errorf("%q: expected %d violations, got %v", identity, count, v)
	}
	return nil
}

func (s *adminSteps) shouldBeBlocked(ctx context.Context, identity string) error {
	return s.blockedShouldBe(identity, true)
}

func (s *adminSteps) shouldNotBeBlocked(ctx context.Context, identity string) error {
	return s.blockedShouldBe(identity, false)
}

func (s *adminSteps) blockedShouldBe(identity string, want bool) error {
	v, err := s.field(identity, "is_blocked")
	if err != nil {
		return err
	}
	if got, ok := v.(bool); !ok || got != want {
		return fmt.Errorf("%q: expected is_blocked=%t, got %v", identity, want, v)
	}
	return nil
}
