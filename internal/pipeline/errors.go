package pipeline

import (
	"errors"
	"fmt"
)

// Errors returned by Visualize.
var (
	// ErrUnsupported indicates no container signature matched.
	ErrUnsupported = errors.New("unsupported type")

	// ErrUninitialized indicates a sentinel or poison pattern; the memory
	// was deliberately not read.
	ErrUninitialized = errors.New("uninitialized data")

	// ErrEmpty indicates a valid shape with nothing to show.
	ErrEmpty = errors.New("empty")

	// ErrSessionChanged indicates the debuggee moved while the request was
	// in flight; its result was discarded.
	ErrSessionChanged = errors.New("session changed during request")

	// ErrPanelDisposed indicates the target panel closed while the request
	// was in flight; its result was discarded.
	ErrPanelDisposed = errors.New("panel disposed during request")
)

// Error is a terminal request failure. It names the variable and the reason
// and carries the evidence behind Uninitialized and Empty outcomes.
type Error struct {
	Variable string
	Reason   State
	Evidence string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Variable, e.Reason)
	if e.Evidence != "" {
		msg += " (" + e.Evidence + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}
