package spec

import (
	"os"
	"strconv"
	"strings"
)

// Validate checks a set of specs as a single load: names must be unique and
// well formed, working directories must exist and durations must be
// non-negative. Names already known to the caller are passed in existing and
// count as duplicates. All violations are reported together.
func Validate(specs []ProcessSpec, existing map[string]bool) error {
	cerr := &ConfigError{}
	seen := make(map[string]int, len(specs))
	for i, s := range specs {
		field := func(name string) string {
			if s.Name != "" {
				return "apps[" + s.Name + "]." + name
			}
			return "apps[#" + strconv.Itoa(i) + "]." + name
		}

		switch {
		case strings.TrimSpace(s.Name) == "":
			cerr.Add("apps[#%d].name: is required", i)
		case strings.ContainsAny(s.Name, `/\`):
			cerr.Add("%s: must not contain path separators", field("name"))
		default:
			if prev, dup := seen[s.Name]; dup {
				cerr.Add("%s: duplicate process name %q (first declared at apps[#%d])", field("name"), s.Name, prev)
			} else {
				seen[s.Name] = i
				if existing[s.Name] {
					cerr.Add("%s: process %q is already loaded", field("name"), s.Name)
				}
			}
		}

		if strings.TrimSpace(s.Command) == "" {
			cerr.Add("%s: is required", field("script"))
		}

		if s.Cwd == "" {
			cerr.Add("%s: is required", field("cwd"))
		} else if info, err := os.Stat(s.Cwd); err != nil {
			cerr.Add("%s: %q does not exist", field("cwd"), s.Cwd)
		} else if !info.IsDir() {
			cerr.Add("%s: %q is not a directory", field("cwd"), s.Cwd)
		}

		if s.StdoutPath == "" {
			cerr.Add("%s: is required", field("out_file"))
		}
		if s.StderrPath == "" {
			cerr.Add("%s: is required", field("error_file"))
		}

		if s.Restart.MaxRestarts < 0 {
			cerr.Add("%s: must be non-negative", field("max_restarts"))
		}
		if s.Restart.MinUptime < 0 {
			cerr.Add("%s: must be non-negative", field("min_uptime"))
		}
		if s.Restart.RestartDelay < 0 {
			cerr.Add("%s: must be non-negative", field("restart_delay"))
		}
		if s.KillTimeout < 0 {
			cerr.Add("%s: must be non-negative", field("kill_timeout"))
		}
		if s.Watch.Delay < 0 {
			cerr.Add("%s: must be non-negative", field("watch_delay"))
		}

		if s.Instances < 1 {
			cerr.Add("%s: must be at least 1", field("instances"))
		}
		switch s.ExecMode {
		case "", ExecModeFork:
		case ExecModeCluster:
			cerr.Add("%s: cluster mode is not supported; use fork", field("exec_mode"))
		default:
			cerr.Add("%s: unknown exec mode %q", field("exec_mode"), s.ExecMode)
		}

		for k := range s.Env {
			if k == "" || strings.ContainsAny(k, "=\x00") {
				cerr.Add("%s: invalid variable name %q", field("env"), k)
			}
		}
	}
	return cerr.OrNil()
}
