package e2e

import (
	"github.com/cucumber/godog"

	"chatgate/e2e/steps/admin"
	"chatgate/e2e/steps/chat"
	"chatgate/e2e/steps/common"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Gateway lifecycle, generic requests, assertions
	common.RegisterSteps(ctx, tc)

	// Chat and strike steps
	chat.RegisterSteps(ctx, tc)

	// Operator steps
	admin.RegisterSteps(ctx, tc)
}
