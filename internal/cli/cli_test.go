package cli

import (
	"bytes"
	stdcontext "context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Paintersrp/procsup/internal/config"
	"github.com/Paintersrp/procsup/internal/engine"
	"github.com/Paintersrp/procsup/internal/spec"
	"github.com/Paintersrp/procsup/internal/statefile"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func runCLI(t *testing.T, ctx stdcontext.Context, args ...string) (string, string, error) {
	t.Helper()
	root, _ := newRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func writeEcosystem(t *testing.T, content string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ecosystem.config.yaml")
	writeFile(t, path, content)
	return path, filepath.Join(dir, "home")
}

const basicEcosystem = `apps:
  - name: api
    script: /bin/sh
    args: ["-c", "sleep 1"]
    env:
      PORT: "8080"
      DB_PASSWORD: hunter2
    max_restarts: 5
    min_uptime: 2s
    restart_delay: 250
  - name: worker
    script: /bin/sh
    instances: 2
    autorestart: false
`

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("boom"), 1},
		{&ExitError{Code: 3}, 3},
		{errors.Join(errors.New("wrapped"), &ExitError{Code: 3}), 3},
	}
	for _, tc := range cases {
		if got := ExitCode(tc.err); got != tc.want {
			t.Fatalf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestSelectSpecsExpandsInstances(t *testing.T) {
	two := 2
	apps := []config.App{{Name: "api"}, {Name: "worker", Instances: &two}}
	specs := []spec.ProcessSpec{{Name: "api"}, {Name: "worker-0"}, {Name: "worker-1"}}

	all, err := selectSpecs(specs, apps, nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected every spec without names, got %v (%v)", all, err)
	}

	got, err := selectSpecs(specs, apps, []string{"worker"})
	if err != nil {
		t.Fatalf("select worker: %v", err)
	}
	if len(got) != 2 || got[0].Name != "worker-0" || got[1].Name != "worker-1" {
		t.Fatalf("expected both worker instances, got %v", got)
	}

	got, err = selectSpecs(specs, apps, []string{"worker-1", "api"})
	if err != nil {
		t.Fatalf("select by instance: %v", err)
	}
	if len(got) != 2 || got[0].Name != "api" || got[1].Name != "worker-1" {
		t.Fatalf("expected declaration order to be kept, got %v", got)
	}

	if _, err := selectSpecs(specs, apps, []string{"missing", "other"}); err == nil {
		t.Fatalf("expected unknown names to be rejected")
	} else if !strings.Contains(err.Error(), `"missing"`) || !strings.Contains(err.Error(), `"other"`) {
		t.Fatalf("expected every unknown name in the error, got %v", err)
	}
}

func TestTruncateMessageKeepsRunesWhole(t *testing.T) {
	if got := truncateMessage("", 80); got != "-" {
		t.Fatalf("expected placeholder for empty message, got %q", got)
	}
	if got := truncateMessage("exit code 1", 80); got != "exit code 1" {
		t.Fatalf("short message changed: %q", got)
	}

	long := strings.Repeat("é", 100)
	got := truncateMessage(long, 80)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated message is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 80 {
		t.Fatalf("expected 80 runes, got %d", n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis, got %q", got)
	}
}

func TestValidateCommandReportsOK(t *testing.T) {
	path, home := writeEcosystem(t, basicEcosystem)
	stdout, _, err := runCLI(t, stdcontext.Background(), "-f", path, "--home", home, "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(stdout, path+": OK") {
		t.Fatalf("expected OK line, got:\n%s", stdout)
	}
	for _, name := range []string{"api", "worker-0", "worker-1"} {
		if !strings.Contains(stdout, name) {
			t.Fatalf("expected %s in table, got:\n%s", name, stdout)
		}
	}
	if !strings.Contains(stdout, "2s") || !strings.Contains(stdout, "250ms") {
		t.Fatalf("expected resolved durations in table, got:\n%s", stdout)
	}
}

func TestValidateCommandReportsViolations(t *testing.T) {
	path, home := writeEcosystem(t, `apps:
  - name: api
    script: /bin/sh
    cwd: ./does-not-exist
    max_restarts: -1
    colour: blue
`)
	stdout, stderr, err := runCLI(t, stdcontext.Background(), "-f", path, "--home", home, "validate")
	if ExitCode(err) != 1 {
		t.Fatalf("expected exit code 1, got %d (%v)", ExitCode(err), err)
	}
	if stdout != "" {
		t.Fatalf("expected nothing on stdout, got:\n%s", stdout)
	}
	if !strings.Contains(stderr, "invalid configuration") {
		t.Fatalf("expected configuration error on stderr, got:\n%s", stderr)
	}
}

func TestDescribeRedactsSecrets(t *testing.T) {
	path, home := writeEcosystem(t, basicEcosystem)

	stdout, _, err := runCLI(t, stdcontext.Background(), "-f", path, "--home", home, "describe", "api")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if strings.Contains(stdout, "hunter2") {
		t.Fatalf("expected password to be redacted, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "PORT: \"8080\"") {
		t.Fatalf("expected plain env values to be shown, got:\n%s", stdout)
	}
	if strings.Contains(stdout, "worker") {
		t.Fatalf("expected only the named process, got:\n%s", stdout)
	}

	stdout, _, err = runCLI(t, stdcontext.Background(), "-f", path, "--home", home, "describe", "-o", "json", "--show-secrets", "api")
	if err != nil {
		t.Fatalf("describe json: %v", err)
	}
	if !strings.Contains(stdout, `"DB_PASSWORD": "hunter2"`) {
		t.Fatalf("expected secret with --show-secrets, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, `"stdout": "`+filepath.Join(home, "logs", "api-out.log")+`"`) {
		t.Fatalf("expected default log path below home, got:\n%s", stdout)
	}
}

func TestDescribeRejectsUnknownProcess(t *testing.T) {
	path, home := writeEcosystem(t, basicEcosystem)
	if _, _, err := runCLI(t, stdcontext.Background(), "-f", path, "--home", home, "describe", "nope"); err == nil {
		t.Fatalf("expected unknown process to fail")
	}
}

func TestStatusRendersStateFile(t *testing.T) {
	home := t.TempDir()
	now := time.Now()
	snap := statefile.Snapshot{
		Version:       statefile.Version,
		SupervisorPID: os.Getpid(),
		Ecosystem:     "/srv/ecosystem.config.yaml",
		UpdatedAt:     now,
		Processes: []statefile.Process{
			{Name: "api", State: engine.StateRunning, PID: os.Getpid(), StartedAt: now.Add(-time.Minute), Restarts: 2},
			{Name: "worker", State: engine.StateFailed, FastFailures: 11, Message: "giving up after 11 fast failures"},
		},
	}
	if err := statefile.Write(statefile.DefaultPath(home), snap); err != nil {
		t.Fatalf("write state: %v", err)
	}

	stdout, _, err := runCLI(t, stdcontext.Background(), "--home", home, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"NAME", "api", "running", "worker", "failed", "giving up after 11 fast failures", "/srv/ecosystem.config.yaml"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected %q in status output:\n%s", want, stdout)
		}
	}
	if strings.Contains(stdout, "(stale)") {
		t.Fatalf("live supervisor must not be reported stale:\n%s", stdout)
	}
}

func TestStatusMarksStaleStates(t *testing.T) {
	home := t.TempDir()
	snap := statefile.Snapshot{
		Version:       statefile.Version,
		SupervisorPID: 0,
		UpdatedAt:     time.Now().Add(-time.Hour),
		Processes: []statefile.Process{
			{Name: "api", State: engine.StateRunning, PID: 1234},
		},
	}
	if err := statefile.Write(statefile.DefaultPath(home), snap); err != nil {
		t.Fatalf("write state: %v", err)
	}
	stdout, _, err := runCLI(t, stdcontext.Background(), "--home", home, "status", "--no-usage")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(stdout, "running (stale)") {
		t.Fatalf("expected stale marker, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "is not running") {
		t.Fatalf("expected dead supervisor footer, got:\n%s", stdout)
	}
}

func TestStatusWithoutStateFile(t *testing.T) {
	home := t.TempDir()
	_, _, err := runCLI(t, stdcontext.Background(), "--home", home, "status")
	if ExitCode(err) != 1 || !strings.Contains(err.Error(), "no state file") {
		t.Fatalf("expected missing state file error, got %v", err)
	}
}

func TestLogsPrintsTail(t *testing.T) {
	path, home := writeEcosystem(t, basicEcosystem)
	writeFile(t, filepath.Join(home, "logs", "api-out.log"), "one\ntwo\nthree\nfour\n")
	writeFile(t, filepath.Join(home, "logs", "api-error.log"), "oops\n")

	stdout, _, err := runCLI(t, stdcontext.Background(), "-f", path, "--home", home, "logs", "api", "-n", "2", "--out")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if stdout != "three\nfour\n" {
		t.Fatalf("unexpected tail output: %q", stdout)
	}

	stdout, _, err = runCLI(t, stdcontext.Background(), "-f", path, "--home", home, "logs", "api", "-n", "1")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if !strings.Contains(stdout, "api-out.log <==\nfour\n") || !strings.Contains(stdout, "api-error.log <==\noops\n") {
		t.Fatalf("expected labelled tails of both files, got:\n%s", stdout)
	}
}

func TestLogsRejectsConflictingStreams(t *testing.T) {
	path, home := writeEcosystem(t, basicEcosystem)
	if _, _, err := runCLI(t, stdcontext.Background(), "-f", path, "--home", home, "logs", "api", "--out", "--err"); err == nil {
		t.Fatalf("expected --out and --err to conflict")
	}
}

func TestStartReportsFailedProcesses(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	path, home := writeEcosystem(t, `apps:
  - name: crash
    script: /bin/sh
    args: ["-c", "exit 1"]
    max_restarts: 1
    min_uptime: 10s
    restart_delay: 0
`)
	statePath := filepath.Join(home, "state.json")

	ctx, cancel := stdcontext.WithCancel(stdcontext.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, _, err := runCLI(t, ctx, "-f", path, "--home", home, "start", "--no-watch", "--stop-timeout", "5s")
		done <- err
	}()

	deadline := time.Now().Add(10 * time.Second)
	for {
		snap, err := statefile.Read(statePath)
		if err == nil && len(snap.Processes) == 1 && snap.Processes[0].State == engine.StateFailed {
			if snap.Processes[0].FastFailures != 2 {
				t.Fatalf("expected 2 fast failures, got %d", snap.Processes[0].FastFailures)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("process never reached failed state (last read: %+v, %v)", snap, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if ExitCode(err) != 3 {
			t.Fatalf("expected exit code 3, got %d (%v)", ExitCode(err), err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("start did not return after cancellation")
	}
}
