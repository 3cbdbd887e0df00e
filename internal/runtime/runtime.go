package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// StartSpec carries everything a runtime needs to launch one child.
type StartSpec struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	// Env is the complete environment of the child as KEY=VALUE pairs.
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// ExitStatus describes how a child terminated.
type ExitStatus struct {
	// Code is the exit code, or -1 when the child was killed by a signal.
	Code int
	// Err is the wait error, nil for a clean exit with code zero.
	Err error
}

// Instance is a launched child process.
type Instance interface {
	// PID returns the operating system process id.
	PID() int

	// Wait blocks until the child exits. Calling it more than once returns
	// the same status.
	Wait() ExitStatus

	// Terminate asks the child to exit gracefully. It does not wait.
	Terminate() error

	// Kill forcefully terminates the child. It does not wait.
	Kill() error
}

// Runtime describes a backend capable of launching processes.
type Runtime interface {
	// Start launches the child described by spec. Failures to launch are
	// reported as *SpawnError.
	Start(ctx context.Context, spec StartSpec) (Instance, error)
}

// SpawnError reports a child that could not be launched, for example because
// the executable is missing or not permitted.
type SpawnError struct {
	Name    string
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Name, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// MergeEnv overlays overrides onto base. Keys from overrides replace the
// matching base entries; base order is preserved and new keys are appended in
// the order given.
func MergeEnv(base []string, overrides []string) []string {
	if len(overrides) == 0 {
		return append([]string(nil), base...)
	}
	replaced := make(map[string]string, len(overrides))
	order := make([]string, 0, len(overrides))
	for _, kv := range overrides {
		key := envKey(kv)
		if _, seen := replaced[key]; !seen {
			order = append(order, key)
		}
		replaced[key] = kv
	}

	out := make([]string, 0, len(base)+len(overrides))
	used := make(map[string]bool, len(replaced))
	for _, kv := range base {
		key := envKey(kv)
		if repl, ok := replaced[key]; ok {
			if !used[key] {
				out = append(out, repl)
				used[key] = true
			}
			continue
		}
		out = append(out, kv)
	}
	for _, key := range order {
		if !used[key] {
			out = append(out, replaced[key])
		}
	}
	return out
}

func envKey(kv string) string {
	if i := strings.IndexByte(kv, '='); i >= 0 {
		return kv[:i]
	}
	return kv
}
