package statefile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paintersrp/procsup/internal/engine"
	"github.com/Paintersrp/procsup/internal/spec"
)

func testSpecs() []spec.ProcessSpec {
	return []spec.ProcessSpec{
		{Name: "api", Command: "/usr/bin/api", StdoutPath: "/var/log/api-out.log", StderrPath: "/var/log/api-error.log"},
		{Name: "worker", Command: "/usr/bin/worker"},
	}
}

func TestTrackerAppliesLifecycle(t *testing.T) {
	tr := NewTracker("/etc/eco.yaml", testSpecs())
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tr.Apply(engine.Event{Timestamp: start, Process: "api", Type: engine.EventTypeStarting, State: engine.StateStarting})
	tr.Apply(engine.Event{Timestamp: start, Process: "api", Type: engine.EventTypeRunning, State: engine.StateRunning, PID: 4242})

	snap := tr.Snapshot()
	require.Len(t, snap.Processes, 2)
	api := snap.Processes[0]
	assert.Equal(t, "api", api.Name)
	assert.Equal(t, engine.StateRunning, api.State)
	assert.Equal(t, 4242, api.PID)
	assert.Equal(t, start, api.StartedAt)
	assert.Equal(t, 5*time.Minute, api.Uptime(start.Add(5*time.Minute)))
	assert.Equal(t, engine.StateStopped, snap.Processes[1].State)

	tr.Apply(engine.Event{Timestamp: start.Add(time.Second), Process: "api", Type: engine.EventTypeExited, State: engine.StateRunning, PID: 4242, ExitCode: 1, FastFailures: 1})
	tr.Apply(engine.Event{Timestamp: start.Add(time.Second), Process: "api", Type: engine.EventTypeWaiting, State: engine.StateWaiting, ExitCode: 1, FastFailures: 1, Message: "restarting in 4s"})

	api = tr.Snapshot().Processes[0]
	assert.Equal(t, engine.StateWaiting, api.State)
	assert.Equal(t, 0, api.PID)
	assert.True(t, api.StartedAt.IsZero())
	assert.Equal(t, 1, api.LastExitCode)
	assert.Equal(t, 1, api.FastFailures)
	assert.Equal(t, "restarting in 4s", api.Message)
	assert.False(t, tr.AnyFailed())

	tr.Apply(engine.Event{Process: "worker", Type: engine.EventTypeFailed, State: engine.StateFailed, Err: errors.New("DB_PASSWORD=hunter2 rejected")})
	assert.True(t, tr.AnyFailed())
	assert.NotContains(t, tr.Snapshot().Processes[1].Message, "hunter2")
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	tr := NewTracker("/etc/eco.yaml", testSpecs())
	tr.Apply(engine.Event{Timestamp: time.Now(), Process: "api", Type: engine.EventTypeRunning, State: engine.StateRunning, PID: 7})

	require.NoError(t, Write(path, tr.Snapshot()))

	snap, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, Version, snap.Version)
	assert.Equal(t, os.Getpid(), snap.SupervisorPID)
	assert.Equal(t, "/etc/eco.yaml", snap.Ecosystem)
	require.Len(t, snap.Processes, 2)
	assert.Equal(t, engine.StateRunning, snap.Processes[0].State)
	assert.Equal(t, "/var/log/api-out.log", snap.Processes[0].StdoutPath)
}

func TestReadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99}`), 0o644))

	_, err := Read(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}
