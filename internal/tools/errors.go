package tools

import "fmt"

// ErrToolUnavailable is returned when a call targets a tool that is not
// present in the registry: the server exposing it was not configured,
// its tool was filtered out, or the name is simply wrong.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}
