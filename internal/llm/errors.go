package llm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBackendUnavailable covers transport failures, timeouts and
	// server-side errors. Callers may retry once.
	ErrBackendUnavailable = errors.New("llm backend unavailable")

	// ErrBackendProtocol means the backend answered but the response
	// could not be decoded into a completion. Not retried.
	ErrBackendProtocol = errors.New("llm backend protocol error")

	// ErrToolUnsupported means the backend rejected tool schemas. The
	// client downgrades its Capabilities when it sees this.
	ErrToolUnsupported = errors.New("llm backend does not support tool calling")
)

// StatusError is a non-200 response from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// toolSignatures are fragments of backend error text that mean the
// request failed because of the tools parameter or the chat template,
// not because the server is unhealthy.
var toolSignatures = []string{
	"tools param requires",
	"unknown method",
	"jinja",
	"tool_choice",
	"does not support tools",
	"tools are not supported",
}

// hasToolSignature reports whether msg looks like a tool-capability
// rejection.
func hasToolSignature(msg string) bool {
	msg = strings.ToLower(msg)
	for _, sig := range toolSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
