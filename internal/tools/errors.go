package tools

import "fmt"

// ErrToolUnavailable is returned when a tool call names a tool that is
// not registered. The agent reports it back to the model like any other
// tool failure.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}
