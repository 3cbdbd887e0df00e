package spec

import (
	"fmt"
	"sort"
	"time"
)

// ExecMode selects the runtime used to launch a process.
type ExecMode string

const (
	// ExecModeFork launches each instance as a direct child process.
	ExecModeFork ExecMode = "fork"
	// ExecModeCluster is recognised in ecosystem files but not supported.
	ExecModeCluster ExecMode = "cluster"
)

// Defaults applied by the config loader when an ecosystem file omits a field.
const (
	DefaultMaxRestarts  = 16
	DefaultMinUptime    = time.Second
	DefaultRestartDelay = 0
	DefaultKillTimeout  = 1600 * time.Millisecond
	DefaultWatchDelay   = time.Second
)

// RestartPolicy declares when a process is respawned after it exits.
type RestartPolicy struct {
	AutoRestart   bool
	MaxRestarts   int
	MinUptime     time.Duration
	RestartDelay  time.Duration
	StopExitCodes []int
}

// WatchSpec configures restarts triggered by file changes. Paths are
// relative to the process working directory; none means the whole directory.
type WatchSpec struct {
	Enabled bool
	Paths   []string
	Ignore  []string
	Delay   time.Duration
}

// ProcessSpec is the immutable description of one managed process.
type ProcessSpec struct {
	Name          string
	Command       string
	Args          []string
	Cwd           string
	Env           map[string]string
	StdoutPath    string
	StderrPath    string
	LogDateFormat string
	PidFile       string
	Restart       RestartPolicy
	KillTimeout   time.Duration
	Instances     int
	ExecMode      ExecMode
	Watch         WatchSpec
}

// Clone returns a deep copy of the spec so callers cannot mutate shared
// slices or maps.
func (s ProcessSpec) Clone() ProcessSpec {
	cp := s
	if s.Args != nil {
		cp.Args = append([]string(nil), s.Args...)
	}
	if s.Env != nil {
		cp.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			cp.Env[k] = v
		}
	}
	if s.Restart.StopExitCodes != nil {
		cp.Restart.StopExitCodes = append([]int(nil), s.Restart.StopExitCodes...)
	}
	if s.Watch.Paths != nil {
		cp.Watch.Paths = append([]string(nil), s.Watch.Paths...)
	}
	if s.Watch.Ignore != nil {
		cp.Watch.Ignore = append([]string(nil), s.Watch.Ignore...)
	}
	return cp
}

// Environ renders Env as KEY=VALUE pairs sorted by key.
func (s ProcessSpec) Environ() []string {
	if len(s.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, s.Env[k]))
	}
	return out
}

// CloneAll deep copies a slice of specs.
func CloneAll(specs []ProcessSpec) []ProcessSpec {
	if specs == nil {
		return nil
	}
	out := make([]ProcessSpec, len(specs))
	for i, s := range specs {
		out[i] = s.Clone()
	}
	return out
}
