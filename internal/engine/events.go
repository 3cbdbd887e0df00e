package engine

import (
	"time"
)

// EventType captures high level lifecycle notifications emitted by the
// supervisor.
type EventType string

const (
	EventTypeLoaded   EventType = "loaded"
	EventTypeStarting EventType = "starting"
	EventTypeRunning  EventType = "running"
	EventTypeStopping EventType = "stopping"
	EventTypeStopped  EventType = "stopped"
	EventTypeExited   EventType = "exited"
	EventTypeWaiting  EventType = "waiting"
	EventTypeFailed   EventType = "failed"
	EventTypeError    EventType = "error"
)

// Event represents a single lifecycle notification.
type Event struct {
	Timestamp time.Time
	Process   string
	Type      EventType
	State     State
	PID       int
	Message   string
	Level     string
	Err       error
	Attempt   int
	ExitCode  int
	Reason    string
	// FastFailures is the consecutive fast failure count after the event.
	FastFailures int
}

const (
	ReasonLoad           = "load"
	ReasonManualStart    = "manual_start"
	ReasonRestart        = "restart"
	ReasonSpawned        = "spawned"
	ReasonSpawnFailure   = "spawn_failure"
	ReasonLogSinkFailure = "log_sink_failure"
	ReasonExited         = "exited"
	ReasonStopExitCode   = "stop_exit_code"
	ReasonRetriesExhaust = "retries_exhausted"
	ReasonStopRequested  = "stop_requested"
	ReasonKillEscalation = "kill_escalation"
	ReasonShutdown       = "shutdown"
)

func levelFor(t EventType) string {
	switch t {
	case EventTypeFailed, EventTypeError:
		return "error"
	case EventTypeExited, EventTypeWaiting:
		return "warn"
	default:
		return "info"
	}
}

func sendEvent(events chan<- Event, evt Event) {
	if events == nil {
		return
	}
	if evt.Level == "" {
		evt.Level = levelFor(evt.Type)
	}
	events <- evt
}
