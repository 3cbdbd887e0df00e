package metrics_test

import (
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paintersrp/procsup/internal/engine"
	"github.com/Paintersrp/procsup/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("unexpected status code from metrics handler: %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRegistryExposesMetrics(t *testing.T) {
	process := "metrics_test_process"
	t.Cleanup(func() { metrics.ResetProcess(process) })

	metrics.EmitBuildInfo()
	metrics.Apply(engine.Event{Process: process, Type: engine.EventTypeLoaded, State: engine.StateStopped})
	metrics.Apply(engine.Event{Process: process, Type: engine.EventTypeStarting, State: engine.StateStarting, Reason: engine.ReasonManualStart})
	metrics.Apply(engine.Event{Timestamp: time.Unix(100, 0), Process: process, Type: engine.EventTypeRunning, State: engine.StateRunning, PID: 10})
	metrics.Apply(engine.Event{Process: process, Type: engine.EventTypeExited, State: engine.StateRunning, ExitCode: 1, FastFailures: 1})
	metrics.Apply(engine.Event{Process: process, Type: engine.EventTypeStarting, State: engine.StateStarting, Reason: engine.ReasonRestart, FastFailures: 1})
	metrics.Apply(engine.Event{Timestamp: time.Unix(200, 0), Process: process, Type: engine.EventTypeRunning, State: engine.StateRunning, PID: 11, FastFailures: 1})

	body := scrape(t)
	for _, line := range []string{
		fmt.Sprintf("procsup_process_up{process=\"%s\"} 1", process),
		fmt.Sprintf("procsup_process_state{process=\"%s\",state=\"running\"} 1", process),
		fmt.Sprintf("procsup_process_state{process=\"%s\",state=\"failed\"} 0", process),
		fmt.Sprintf("procsup_process_restarts_total{process=\"%s\"} 1", process),
		fmt.Sprintf("procsup_process_exits_total{process=\"%s\"} 1", process),
		fmt.Sprintf("procsup_process_fast_failures{process=\"%s\"} 1", process),
		fmt.Sprintf("procsup_process_start_time_seconds{process=\"%s\"} 200", process),
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected metric line %q in body:\n%s", line, body)
		}
	}

	if !strings.Contains(body, "procsup_build_info{") {
		t.Fatalf("expected build info metric in body:\n%s", body)
	}
	if !strings.Contains(body, "go_version=") {
		t.Fatalf("expected go_version label on build info metric:\n%s", body)
	}
}

func TestFailedProcessIsDown(t *testing.T) {
	process := "metrics_failed_process"
	t.Cleanup(func() { metrics.ResetProcess(process) })

	metrics.Apply(engine.Event{Timestamp: time.Unix(100, 0), Process: process, Type: engine.EventTypeRunning, State: engine.StateRunning, PID: 10})
	metrics.Apply(engine.Event{Process: process, Type: engine.EventTypeFailed, State: engine.StateFailed, FastFailures: 11})

	body := scrape(t)
	for _, line := range []string{
		fmt.Sprintf("procsup_process_up{process=\"%s\"} 0", process),
		fmt.Sprintf("procsup_process_state{process=\"%s\",state=\"failed\"} 1", process),
		fmt.Sprintf("procsup_process_fast_failures{process=\"%s\"} 11", process),
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected metric line %q in body:\n%s", line, body)
		}
	}
	startLine := fmt.Sprintf("procsup_process_start_time_seconds{process=\"%s\"}", process)
	if strings.Contains(body, startLine) {
		t.Fatalf("start time must be cleared for a failed process:\n%s", body)
	}
}

func TestWriteTextfile(t *testing.T) {
	process := "metrics_textfile_process"
	t.Cleanup(func() { metrics.ResetProcess(process) })
	metrics.SetState(process, engine.StateWaiting)

	path := filepath.Join(t.TempDir(), "procsup.prom")
	if err := metrics.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	line := fmt.Sprintf("procsup_process_state{process=\"%s\",state=\"waiting\"} 1", process)
	if !strings.Contains(string(data), line) {
		t.Fatalf("expected %q in textfile:\n%s", line, data)
	}
}

func TestSamplerReadsOwnProcess(t *testing.T) {
	process := "metrics_sampler_self"
	t.Cleanup(func() { metrics.ResetProcess(process) })

	sampler := metrics.NewSampler()
	usage := sampler.Sample(map[string]int{process: os.Getpid()})
	got, ok := usage[process]
	if !ok {
		t.Fatalf("expected a sample for the test process, got %v", usage)
	}
	if got.RSS == 0 {
		t.Fatalf("expected non-zero resident memory")
	}

	body := scrape(t)
	if !strings.Contains(body, fmt.Sprintf("procsup_process_resident_memory_bytes{process=\"%s\"}", process)) {
		t.Fatalf("expected memory gauge in body:\n%s", body)
	}

	sampler.Sample(map[string]int{})
	body = scrape(t)
	if strings.Contains(body, fmt.Sprintf("procsup_process_resident_memory_bytes{process=\"%s\"}", process)) {
		t.Fatalf("memory gauge must be cleared once the process is gone:\n%s", body)
	}
}
