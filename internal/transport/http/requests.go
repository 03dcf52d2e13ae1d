package httptransport

import (
	"strings"

	dErrors "chatgate/pkg/domain-errors"
)

const maxIdentityLen = 256

// ChatRequest is the body of POST /chat/{identity}.
type ChatRequest struct {
	Message *string `json:"message"`
}

// Validate implements httputil.Validatable. An empty message is allowed; a missing one is not.
func (r *ChatRequest) Validate() error {
	if r == nil || r.Message == nil {
		return dErrors.New(dErrors.CodeValidation, "message is required")
	}
	return nil
}

// Text returns the validated message.
func (r *ChatRequest) Text() string {
	return *r.Message
}

func validateIdentity(raw string) (string, error) {
	identity := strings.TrimSpace(raw)
	if identity == "" {
		return "", dErrors.New(dErrors.CodeValidation, "identity is required")
	}
	if len(identity) > maxIdentityLen {
		return "", dErrors.New(dErrors.CodeValidation, "identity must be at most 256 characters")
	}
	return identity, nil
}
