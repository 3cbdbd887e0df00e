package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"
)

// File mirrors the ecosystem document structure.
type File struct {
	Apps []App `yaml:"apps"`
}

// App is one entry of the apps list as written in the ecosystem file.
type App struct {
	Name          string            `yaml:"name"`
	Script        string            `yaml:"script"`
	Interpreter   string            `yaml:"interpreter"`
	Args          Args              `yaml:"args"`
	Cwd           string            `yaml:"cwd"`
	Env           map[string]string `yaml:"env"`
	EnvFile       string            `yaml:"env_file"`
	ErrorFile     string            `yaml:"error_file"`
	OutFile       string            `yaml:"out_file"`
	LogDateFormat string            `yaml:"log_date_format"`
	PidFile       string            `yaml:"pid_file"`
	AutoRestart   *bool             `yaml:"autorestart"`
	MaxRestarts   *int              `yaml:"max_restarts"`
	MinUptime     Duration          `yaml:"min_uptime"`
	RestartDelay  Duration          `yaml:"restart_delay"`
	KillTimeout   Duration          `yaml:"kill_timeout"`
	StopExitCodes ExitCodes         `yaml:"stop_exit_codes"`
	Instances     *int              `yaml:"instances"`
	ExecMode      string            `yaml:"exec_mode"`
	Watch         Watch             `yaml:"watch"`
	IgnoreWatch   []string          `yaml:"ignore_watch"`
	WatchDelay    Duration          `yaml:"watch_delay"`
}

// Duration accepts a duration string ("10s", "1500ms") or an integer number
// of milliseconds. Parse failures are kept on the value so the loader can
// report them together with every other violation.
type Duration struct {
	time.Duration
	explicit bool
	err      error
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	d.explicit = true
	if node.Kind != yaml.ScalarNode {
		d.err = fmt.Errorf("expected a duration, got %s", nodeKind(node))
		return nil
	}
	d.Duration, d.err = ParseDuration(node.Value)
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided.
func (d Duration) IsSet() bool {
	return d.explicit
}

// Err returns the parse error recorded while decoding, if any.
func (d Duration) Err() error {
	return d.err
}

// Or returns the parsed duration, or def when the field was omitted.
func (d Duration) Or(def time.Duration) time.Duration {
	if !d.explicit || d.err != nil {
		return def
	}
	return d.Duration
}

// ParseDuration parses an ecosystem duration. Bare integers are milliseconds.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return dur, nil
}

// Args accepts either a list of arguments or a single command line string
// split with shell quoting rules.
type Args struct {
	Values []string
	err    error
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Args) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		a.Values, a.err = shellquote.Split(node.Value)
		if a.err != nil {
			a.err = fmt.Errorf("split %q: %w", node.Value, a.err)
		}
	case yaml.SequenceNode:
		var values []string
		if err := node.Decode(&values); err != nil {
			return err
		}
		a.Values = values
	default:
		a.err = fmt.Errorf("expected a string or list, got %s", nodeKind(node))
	}
	return nil
}

// Err returns the split error recorded while decoding, if any.
func (a Args) Err() error {
	return a.err
}

// ExitCodes accepts a single exit code or a list of them.
type ExitCodes []int

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *ExitCodes) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var code int
		if err := node.Decode(&code); err != nil {
			return err
		}
		*c = ExitCodes{code}
		return nil
	}
	var codes []int
	if err := node.Decode(&codes); err != nil {
		return err
	}
	*c = codes
	return nil
}

// Watch is either a boolean toggle or a list of paths to watch.
type Watch struct {
	Enabled bool
	Paths   []string
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (w *Watch) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&w.Enabled)
	}
	var paths []string
	if err := node.Decode(&paths); err != nil {
		return err
	}
	w.Paths = paths
	w.Enabled = len(paths) > 0
	return nil
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.AliasNode:
		return "alias"
	default:
		return "scalar"
	}
}
