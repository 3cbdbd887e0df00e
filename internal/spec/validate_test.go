package spec

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validSpec(t *testing.T, name string) ProcessSpec {
	t.Helper()
	dir := t.TempDir()
	return ProcessSpec{
		Name:       name,
		Command:    "/bin/sh",
		Args:       []string{"-c", "sleep 1"},
		Cwd:        dir,
		StdoutPath: filepath.Join(dir, name+"-out.log"),
		StderrPath: filepath.Join(dir, name+"-error.log"),
		Restart: RestartPolicy{
			AutoRestart:  true,
			MaxRestarts:  10,
			MinUptime:    10 * time.Second,
			RestartDelay: 4 * time.Second,
		},
		KillTimeout: DefaultKillTimeout,
		Instances:   1,
		ExecMode:    ExecModeFork,
	}
}

func TestValidateAcceptsValidSpecs(t *testing.T) {
	specs := []ProcessSpec{validSpec(t, "backend"), validSpec(t, "frontend")}
	if err := Validate(specs, nil); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestValidateReportsDuplicateNames(t *testing.T) {
	specs := []ProcessSpec{validSpec(t, "api"), validSpec(t, "api")}
	err := Validate(specs, nil)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if len(cerr.Violations) != 1 || !strings.Contains(cerr.Violations[0], "duplicate process name") {
		t.Fatalf("unexpected violations: %v", cerr.Violations)
	}
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	bad := validSpec(t, "worker")
	bad.Cwd = filepath.Join(bad.Cwd, "missing")
	bad.Restart.MinUptime = -time.Second
	bad.Restart.RestartDelay = -time.Millisecond
	bad.Restart.MaxRestarts = -1
	bad.ExecMode = ExecModeCluster
	bad.Instances = 0

	err := Validate([]ProcessSpec{bad, {}}, nil)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}

	wants := []string{
		"apps[worker].cwd",
		"apps[worker].min_uptime",
		"apps[worker].restart_delay",
		"apps[worker].max_restarts",
		"apps[worker].exec_mode",
		"apps[worker].instances",
		"apps[#1].name: is required",
		"apps[#1].script: is required",
	}
	joined := strings.Join(cerr.Violations, "\n")
	for _, want := range wants {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected violation containing %q, got:\n%s", want, joined)
		}
	}
}

func TestValidateRejectsAlreadyLoadedNames(t *testing.T) {
	err := Validate([]ProcessSpec{validSpec(t, "api")}, map[string]bool{"api": true})
	if err == nil || !strings.Contains(err.Error(), "already loaded") {
		t.Fatalf("expected already loaded violation, got %v", err)
	}
}

func TestConfigErrorFormatting(t *testing.T) {
	err := &ConfigError{Source: "eco.yaml"}
	err.Add("first")
	err.Add("second")
	msg := err.Error()
	if !strings.HasPrefix(msg, "eco.yaml: invalid configuration (2 violations):") {
		t.Fatalf("unexpected message %q", msg)
	}
	if (&ConfigError{}).OrNil() != nil {
		t.Fatalf("expected empty ConfigError to collapse to nil")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := validSpec(t, "api")
	s.Env = map[string]string{"A": "1"}
	cp := s.Clone()
	cp.Env["A"] = "2"
	cp.Args[0] = "changed"
	if s.Env["A"] != "1" || s.Args[0] != "-c" {
		t.Fatalf("clone shares state with original")
	}
	if got := (ProcessSpec{Env: map[string]string{"B": "2", "A": "1"}}).Environ(); strings.Join(got, ",") != "A=1,B=2" {
		t.Fatalf("unexpected environ %v", got)
	}
}
