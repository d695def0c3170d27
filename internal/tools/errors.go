package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrToolUnavailable is returned when a call targets a tool that is not
// registered, either because it does not exist or because its
// collaborator is not configured. Callers report it to the model rather
// than retrying.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// errMissingArgs reports required arguments the caller left empty.
func errMissingArgs(names ...string) error {
	if len(names) == 1 {
		return fmt.Errorf("%s is required", names[0])
	}
	return errors.New(strings.Join(names, ", ") + " are required")
}
