package config

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/procsup/internal/spec"
)

// HomeEnv overrides the default procsup home directory.
const HomeEnv = "PROCSUP_HOME"

// Options controls how derived paths are resolved.
type Options struct {
	// Home holds the default logs/ and pids/ directories. Empty means
	// DefaultHome().
	Home string
}

// Ecosystem is a loaded and resolved ecosystem file.
type Ecosystem struct {
	Path  string
	Apps  []App
	Specs []spec.ProcessSpec
}

// DefaultHome returns $PROCSUP_HOME, falling back to ~/.procsup.
func DefaultHome() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".procsup")
	}
	return ".procsup"
}

// Load reads an ecosystem file and resolves it into process specs. Schema
// violations, unparsable values and spec violations are all reported in a
// single *spec.ConfigError.
func Load(path string, opts Options) (*Ecosystem, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve ecosystem path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open ecosystem file: %w", err)
	}

	doc, err := decodeDocument(absPath, data)
	if err != nil {
		return nil, &spec.ConfigError{Source: absPath, Violations: []string{err.Error()}}
	}

	normalized, err := normalizeForSchema(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: prepare document: %w", absPath, err)
	}
	if violations, err := validateAgainstSchema(normalized); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	} else if len(violations) > 0 {
		return nil, &spec.ConfigError{Source: absPath, Violations: violations}
	}

	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("%s: encode document: %w", absPath, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	var file File
	if err := decoder.Decode(&file); err != nil {
		return nil, &spec.ConfigError{Source: absPath, Violations: []string{fmt.Sprintf("decode: %v", err)}}
	}

	home := opts.Home
	if home == "" {
		home = DefaultHome()
	}
	cerr := &spec.ConfigError{Source: absPath}
	specs := resolveApps(filepath.Dir(absPath), home, file.Apps, cerr)

	var specErr *spec.ConfigError
	if err := spec.Validate(specs, nil); errors.As(err, &specErr) {
		cerr.Violations = append(cerr.Violations, specErr.Violations...)
	}
	if err := cerr.OrNil(); err != nil {
		return nil, err
	}
	return &Ecosystem{Path: absPath, Apps: file.Apps, Specs: specs}, nil
}

func decodeDocument(path string, data []byte) (map[string]any, error) {
	doc := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}
	return doc, nil
}

func resolveApps(baseDir, home string, apps []App, cerr *spec.ConfigError) []spec.ProcessSpec {
	var specs []spec.ProcessSpec
	for i, app := range apps {
		label := app.Name
		if label == "" {
			label = "#" + strconv.Itoa(i)
		}
		field := func(name string) string { return fmt.Sprintf("apps[%s].%s", label, name) }

		ps, instances := resolveApp(baseDir, home, app, field, cerr)
		if instances <= 1 {
			specs = append(specs, ps)
			continue
		}
		specs = append(specs, expandInstances(ps, instances, home, app)...)
	}
	return specs
}

func resolveApp(baseDir, home string, app App, field func(string) string, cerr *spec.ConfigError) (spec.ProcessSpec, int) {
	cwd := resolveWorkdir(baseDir, os.ExpandEnv(app.Cwd))

	ps := spec.ProcessSpec{
		Name:          app.Name,
		Cwd:           cwd,
		LogDateFormat: app.LogDateFormat,
		Instances:     1,
		ExecMode:      spec.ExecModeFork,
	}

	env, err := resolveEnv(cwd, app)
	if err != nil {
		cerr.Add("%s: %v", field("env_file"), err)
	}
	ps.Env = env

	if err := app.Args.Err(); err != nil {
		cerr.Add("%s: %v", field("args"), err)
	}
	ps.Command, ps.Args = resolveCommand(cwd, app)

	ps.StdoutPath = resolvePath(cwd, app.OutFile, filepath.Join(home, "logs", app.Name+"-out.log"))
	ps.StderrPath = resolvePath(cwd, app.ErrorFile, filepath.Join(home, "logs", app.Name+"-error.log"))
	ps.PidFile = resolvePath(cwd, app.PidFile, filepath.Join(home, "pids", app.Name+".pid"))

	durations := []struct {
		name string
		d    Duration
	}{
		{"min_uptime", app.MinUptime},
		{"restart_delay", app.RestartDelay},
		{"kill_timeout", app.KillTimeout},
		{"watch_delay", app.WatchDelay},
	}
	for _, entry := range durations {
		if err := entry.d.Err(); err != nil {
			cerr.Add("%s: %v", field(entry.name), err)
		}
	}

	ps.Restart = spec.RestartPolicy{
		AutoRestart:   true,
		MaxRestarts:   spec.DefaultMaxRestarts,
		MinUptime:     app.MinUptime.Or(spec.DefaultMinUptime),
		RestartDelay:  app.RestartDelay.Or(spec.DefaultRestartDelay),
		StopExitCodes: append([]int(nil), app.StopExitCodes...),
	}
	if app.AutoRestart != nil {
		ps.Restart.AutoRestart = *app.AutoRestart
	}
	if app.MaxRestarts != nil {
		ps.Restart.MaxRestarts = *app.MaxRestarts
	}
	ps.KillTimeout = app.KillTimeout.Or(spec.DefaultKillTimeout)

	if mode := strings.TrimSuffix(app.ExecMode, "_mode"); mode != "" {
		ps.ExecMode = spec.ExecMode(mode)
	}

	ps.Watch = spec.WatchSpec{
		Enabled: app.Watch.Enabled,
		Paths:   append([]string(nil), app.Watch.Paths...),
		Ignore:  append([]string(nil), app.IgnoreWatch...),
		Delay:   app.WatchDelay.Or(spec.DefaultWatchDelay),
	}

	instances := 1
	if app.Instances != nil {
		instances = *app.Instances
	}
	if instances < 1 {
		// Left on the spec so validation reports it.
		ps.Instances = instances
	}
	return ps, instances
}

// expandInstances turns one app with instances > 1 into independent specs
// named <name>-<i>, each told its index through NODE_APP_INSTANCE.
func expandInstances(base spec.ProcessSpec, n int, home string, app App) []spec.ProcessSpec {
	out := make([]spec.ProcessSpec, 0, n)
	for i := 0; i < n; i++ {
		ps := base.Clone()
		suffix := "-" + strconv.Itoa(i)
		ps.Name = base.Name + suffix
		if ps.Env == nil {
			ps.Env = make(map[string]string, 1)
		}
		ps.Env["NODE_APP_INSTANCE"] = strconv.Itoa(i)

		if app.OutFile == "" {
			ps.StdoutPath = filepath.Join(home, "logs", ps.Name+"-out.log")
		} else {
			ps.StdoutPath = withSuffix(base.StdoutPath, suffix)
		}
		if app.ErrorFile == "" {
			ps.StderrPath = filepath.Join(home, "logs", ps.Name+"-error.log")
		} else {
			ps.StderrPath = withSuffix(base.StderrPath, suffix)
		}
		if app.PidFile == "" {
			ps.PidFile = filepath.Join(home, "pids", ps.Name+".pid")
		} else {
			ps.PidFile = withSuffix(base.PidFile, suffix)
		}
		out = append(out, ps)
	}
	return out
}

func withSuffix(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}

func resolveCommand(cwd string, app App) (string, []string) {
	script := os.ExpandEnv(app.Script)
	interpreter := os.ExpandEnv(app.Interpreter)
	args := append([]string(nil), app.Args.Values...)

	if interpreter != "" && interpreter != "none" {
		return interpreter, append([]string{script}, args...)
	}
	if strings.ContainsRune(script, filepath.Separator) && !filepath.IsAbs(script) {
		script = filepath.Join(cwd, script)
	}
	return script, args
}

func resolveEnv(cwd string, app App) (map[string]string, error) {
	var fileEnv map[string]string
	var fileErr error
	if app.EnvFile != "" {
		fileEnv, fileErr = loadEnvFile(resolvePath(cwd, app.EnvFile, ""))
	}

	if len(fileEnv) == 0 && len(app.Env) == 0 {
		return nil, fileErr
	}
	merged := make(map[string]string, len(fileEnv)+len(app.Env))
	for k, v := range fileEnv {
		merged[k] = v
	}
	for k, v := range app.Env {
		merged[k] = os.ExpandEnv(v)
	}
	return merged, fileErr
}

func resolvePath(base, path, def string) string {
	path = os.ExpandEnv(path)
	if path == "" {
		return def
	}
	return resolveWorkdir(base, path)
}

func resolveWorkdir(base, workdir string) string {
	if workdir == "" {
		return base
	}
	if filepath.IsAbs(workdir) {
		return filepath.Clean(workdir)
	}
	return filepath.Clean(filepath.Join(base, workdir))
}

func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	values := make(map[string]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "export "))
		sep := strings.IndexRune(raw, '=')
		if sep <= 0 {
			return nil, fmt.Errorf("load env file %q: invalid line %d", path, lineNo)
		}
		key := strings.TrimSpace(raw[:sep])
		if key == "" {
			return nil, fmt.Errorf("load env file %q: invalid key on line %d", path, lineNo)
		}
		value := strings.TrimSpace(raw[sep+1:])
		switch {
		case strings.HasPrefix(value, "\""):
			if len(value) < 2 || value[len(value)-1] != '"' {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			unquoted, err := strconv.Unquote(value)
			if err != nil {
				return nil, fmt.Errorf("load env file %q: parse value for %s on line %d: %w", path, key, lineNo, err)
			}
			value = unquoted
		case strings.HasPrefix(value, "'"):
			if len(value) < 2 || value[len(value)-1] != '\'' {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			value = value[1 : len(value)-1]
		default:
			if comment := strings.IndexRune(value, '#'); comment >= 0 {
				value = strings.TrimSpace(value[:comment])
			}
		}
		values[key] = os.ExpandEnv(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return values, nil
}
