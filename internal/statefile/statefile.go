// Package statefile persists the supervisor's process table so that other
// procsup invocations can report on a running supervisor.
package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/Paintersrp/procsup/internal/engine"
)

// Version identifies the snapshot layout.
const Version = 1

// Snapshot is the persisted process table.
type Snapshot struct {
	Version       int       `json:"version"`
	SupervisorPID int       `json:"supervisor_pid"`
	Ecosystem     string    `json:"ecosystem"`
	UpdatedAt     time.Time `json:"updated_at"`
	Processes     []Process `json:"processes"`
}

// Process is one row of the snapshot.
type Process struct {
	Name         string       `json:"name"`
	State        engine.State `json:"state"`
	PID          int          `json:"pid,omitempty"`
	StartedAt    time.Time    `json:"started_at,omitempty"`
	Restarts     int          `json:"restarts"`
	FastFailures int          `json:"fast_failures"`
	LastExitCode int          `json:"last_exit_code"`
	LastEvent    time.Time    `json:"last_event,omitempty"`
	Message      string       `json:"message,omitempty"`
	Command      string       `json:"command,omitempty"`
	StdoutPath   string       `json:"stdout_path,omitempty"`
	StderrPath   string       `json:"stderr_path,omitempty"`
	PidFile      string       `json:"pid_file,omitempty"`
}

// Uptime reports how long the process has been running at now.
func (p Process) Uptime(now time.Time) time.Duration {
	if p.State != engine.StateRunning || p.StartedAt.IsZero() || now.Before(p.StartedAt) {
		return 0
	}
	return now.Sub(p.StartedAt)
}

// DefaultPath returns the snapshot location below home.
func DefaultPath(home string) string {
	return filepath.Join(home, "state.json")
}

// Write atomically replaces the snapshot at path.
func Write(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := renameio.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write state file %s: %w", path, err)
	}
	return nil
}

// Read loads the snapshot at path.
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode state file %s: %w", path, err)
	}
	if snap.Version != Version {
		return Snapshot{}, fmt.Errorf("state file %s: unsupported version %d", path, snap.Version)
	}
	return snap, nil
}
