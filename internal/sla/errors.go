package sla

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned when an operation is attempted on a call
// state machine that has already torn itself down.
var ErrSessionClosed = errors.New("session closed")

// InvalidExtensionError indicates that an extension name could not be
// resolved to a usable shared-extension configuration. It is fatal to the
// call-setup attempt that triggered the lookup and is never retried.
type InvalidExtensionError struct {
	Name   string
	Reason string
}

func (e *InvalidExtensionError) Error() string {
	return fmt.Sprintf("invalid shared extension %q: %s", e.Name, e.Reason)
}

// UnknownChannelError indicates a classification or membership lookup on a
// channel id that is tracked in neither the incoming nor the participant
// set. Lookups fail with this error rather than silently defaulting to
// "not a station".
type UnknownChannelError struct {
	ID string
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("unknown channel %q", e.ID)
}
