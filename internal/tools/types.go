package tools

import (
	"errors"
	"fmt"
)

// ErrToolNotFound indicates an execution request for an unregistered tool.
var ErrToolNotFound = errors.New("tool not found")

// ArgumentError indicates the supplied arguments failed schema validation or
// could not be decoded into the tool's input type.
type ArgumentError struct {
	Tool string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// RuntimeError wraps a failure inside a tool handler, including recovered
// panics. The orchestrator folds these into the call's result; they never
// abort a turn.
type RuntimeError struct {
	Tool string
	Err  error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }
