package engine

import (
	"fmt"
	"time"

	"github.com/Paintersrp/procsup/internal/spec"
)

// State is the lifecycle state of a process handle.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	// StateWaiting means a restart delay is pending; no child exists.
	StateWaiting
	// StateFailed is the terminal FailedPermanently state. Only an explicit
	// start leaves it.
	StateFailed
)

var stateNames = map[State]string{
	StateStopped:  "stopped",
	StateStarting: "starting",
	StateRunning:  "running",
	StateStopping: "stopping",
	StateWaiting:  "waiting",
	StateFailed:   "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(text))
}

// Active reports whether a child exists or is being created for the handle.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

var transitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
	StateWaiting:  {StateStarting, StateStopped},
	StateStarting: {StateRunning, StateWaiting, StateStarting, StateStopped, StateFailed},
	StateRunning:  {StateStopping, StateWaiting, StateStarting, StateStopped, StateFailed},
	StateStopping: {StateStopped},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition records one state change of a handle.
type Transition struct {
	Timestamp time.Time `json:"timestamp"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason"`
	Message   string    `json:"message,omitempty"`
}

// Handle is a snapshot of the runtime record of one process.
type Handle struct {
	Name         string           `json:"name"`
	State        State            `json:"state"`
	PID          int              `json:"pid,omitempty"`
	StartedAt    time.Time        `json:"started_at,omitempty"`
	FastFailures int              `json:"fast_failures"`
	Restarts     int              `json:"restarts"`
	LastExitCode int              `json:"last_exit_code"`
	LastError    string           `json:"last_error,omitempty"`
	History      []Transition     `json:"history,omitempty"`
	Spec         spec.ProcessSpec `json:"-"`
}

// Uptime reports how long the current child has been running at now.
func (h Handle) Uptime(now time.Time) time.Duration {
	if h.State != StateRunning || h.StartedAt.IsZero() || now.Before(h.StartedAt) {
		return 0
	}
	return now.Sub(h.StartedAt)
}
