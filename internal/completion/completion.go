// Package completion talks to the downstream chat-completion service.
package completion

import (
	"context"
	"fmt"
)

// Client turns one user message into an assistant reply.
type Client interface {
	Complete(ctx context.Context, message string) (string, error)
}

// EchoClient answers without network I/O, for local development.
type EchoClient struct{}

func (EchoClient) Complete(_ context.Context, message string) (string, error) {
	return fmt.Sprintf("[MOCK] Echo: %s", message), nil
}
