package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Paintersrp/procsup/internal/engine"
)

// EventRecord represents a lifecycle event ready for JSON encoding.
type EventRecord struct {
	Timestamp time.Time `json:"ts"`
	Process   string    `json:"process"`
	Event     string    `json:"event"`
	State     string    `json:"state"`
	Level     string    `json:"level"`
	Message   string    `json:"msg,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	PID       int       `json:"pid,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Restarts  int       `json:"restarts"`
}

// NewEventRecord converts an engine event into a structured record. Messages
// are redacted.
func NewEventRecord(event engine.Event) EventRecord {
	level := event.Level
	if level == "" {
		level = "info"
	}
	message := event.Message
	if message == "" && event.Err != nil {
		message = event.Err.Error()
	}
	record := EventRecord{
		Timestamp: event.Timestamp,
		Process:   event.Process,
		Event:     string(event.Type),
		State:     event.State.String(),
		Level:     level,
		Message:   RedactSecrets(message),
		Reason:    event.Reason,
		PID:       event.PID,
		Restarts:  event.Attempt,
	}
	if event.Type == engine.EventTypeExited {
		code := event.ExitCode
		record.ExitCode = &code
	}
	return record
}

// EncodeEvent encodes an event as one JSON line, reporting errors to stderr.
func EncodeEvent(enc *json.Encoder, stderr io.Writer, event engine.Event) {
	if enc == nil {
		return
	}
	record := NewEventRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode event: %v\n", err)
	}
}

// FormatEvent renders an event as a single human readable line.
func FormatEvent(event engine.Event) string {
	record := NewEventRecord(event)
	ts := record.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s %s", ts.Format("15:04:05"), strings.ToUpper(record.Level), record.Process, record.Event)
	if record.PID != 0 {
		fmt.Fprintf(&b, " pid=%d", record.PID)
	}
	if record.ExitCode != nil {
		fmt.Fprintf(&b, " code=%d", *record.ExitCode)
	}
	if record.Message != "" {
		fmt.Fprintf(&b, ": %s", record.Message)
	}
	return b.String()
}
