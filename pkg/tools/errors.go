package tools

import (
	"fmt"
)

// ConfigurationError reports a call to a tool that is not registered.
// It is fatal to the run.
type ConfigurationError struct {
	Tool string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.Tool)
}

// ToolExecutionError wraps a capability failure. Invoke renders it into the
// Tool message content rather than returning it.
type ToolExecutionError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s (call %s): %v", e.Tool, e.CallID, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// Content is the text the model sees for a failed call.
func (e *ToolExecutionError) Content() string {
	return "Error: " + e.Err.Error()
}
