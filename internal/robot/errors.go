package robot

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a command is issued before Connect.
var ErrNotConnected = errors.New("robot not connected")

// ErrOutOfWorkspace is returned when a move target lies outside the arm's
// reachable volume. No bytes are written to the link in that case.
var ErrOutOfWorkspace = errors.New("target outside workspace limits")

// ConnError means the serial port could not be opened.
type ConnError struct {
	Port string
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Port, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// CommError covers write failures, timeouts and explicit error replies.
// Reply carries the controller's verbatim error text when there is one.
type CommError struct {
	Op    string
	Reply string
	Err   error
}

func (e *CommError) Error() string {
	if e.Reply != "" {
		return fmt.Sprintf("%s: controller reported %q", e.Op, e.Reply)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error { return e.Err }
