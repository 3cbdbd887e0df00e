package statefile

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Paintersrp/procsup/internal/cliutil"
	"github.com/Paintersrp/procsup/internal/engine"
	"github.com/Paintersrp/procsup/internal/spec"
)

// Tracker maintains the state table from supervisor events so snapshots can
// be written without calling back into the supervisor.
type Tracker struct {
	mu        sync.RWMutex
	ecosystem string
	order     []string
	processes map[string]*Process
}

// NewTracker seeds a tracker with the loaded specs.
func NewTracker(ecosystem string, specs []spec.ProcessSpec) *Tracker {
	t := &Tracker{ecosystem: ecosystem, processes: make(map[string]*Process, len(specs))}
	for _, ps := range specs {
		t.order = append(t.order, ps.Name)
		t.processes[ps.Name] = &Process{
			Name:       ps.Name,
			State:      engine.StateStopped,
			Command:    ps.Command,
			StdoutPath: ps.StdoutPath,
			StderrPath: ps.StderrPath,
			PidFile:    ps.PidFile,
		}
	}
	return t
}

// Apply updates the table from evt.
func (t *Tracker) Apply(evt engine.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.processes[evt.Process]
	if p == nil {
		p = &Process{Name: evt.Process}
		t.processes[evt.Process] = p
		t.order = append(t.order, evt.Process)
	}
	if evt.Timestamp.After(p.LastEvent) {
		p.LastEvent = evt.Timestamp
	}

	p.State = evt.State
	p.Restarts = evt.Attempt
	p.FastFailures = evt.FastFailures

	switch evt.Type {
	case engine.EventTypeRunning:
		p.PID = evt.PID
		p.StartedAt = evt.Timestamp
	case engine.EventTypeExited:
		p.LastExitCode = evt.ExitCode
	}
	if !evt.State.Active() {
		p.PID = 0
		p.StartedAt = time.Time{}
	}

	message := evt.Message
	if message == "" && evt.Err != nil {
		message = evt.Err.Error()
	}
	if message != "" || evt.Type == engine.EventTypeRunning {
		p.Message = cliutil.RedactSecrets(message)
	}
}

// Snapshot returns a copy of the table in load order.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		Version:       Version,
		SupervisorPID: os.Getpid(),
		Ecosystem:     t.ecosystem,
		UpdatedAt:     time.Now(),
		Processes:     make([]Process, 0, len(t.order)),
	}
	for _, name := range t.order {
		snap.Processes = append(snap.Processes, *t.processes[name])
	}
	return snap
}

// AnyFailed reports whether a process is in the failed state.
func (t *Tracker) AnyFailed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.processes {
		if p.State == engine.StateFailed {
			return true
		}
	}
	return false
}

// Names returns the tracked process names sorted alphabetically.
func (t *Tracker) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.processes))
	for name := range t.processes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
