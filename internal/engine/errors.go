package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProcess is returned for names that were never loaded.
	ErrUnknownProcess = errors.New("unknown process")
	// ErrSupervisorClosed is returned once Shutdown has begun.
	ErrSupervisorClosed = errors.New("supervisor closed")
)

// AlreadyRunningError is returned by Start when the named process already
// has an active handle.
type AlreadyRunningError struct {
	Name  string
	State State
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("process %s is already %s", e.Name, e.State)
}
