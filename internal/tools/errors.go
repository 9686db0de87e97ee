package tools

import (
	"fmt"

	"github.com/exemi-au/exemi/internal/apperr"
)

// ErrToolUnavailable is returned when a call targets a tool that is not
// in the registry. The model asked for something it was never offered,
// so callers should not retry.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// ErrInvalidArguments is returned when a call's arguments do not fit the
// tool's parameters: a required argument is missing, has the wrong JSON
// type, or a handler rejects its value.
type ErrInvalidArguments struct {
	ToolName string
	Reason   string
}

// Error implements the error interface.
func (e *ErrInvalidArguments) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %s", e.ToolName, e.Reason)
}

// InvalidArguments returns a validation error for tool carrying an
// ErrInvalidArguments.
func InvalidArguments(tool, format string, args ...any) error {
	return apperr.Wrap(apperr.KindValidation, &ErrInvalidArguments{ToolName: tool, Reason: fmt.Sprintf(format, args...)}, "")
}
