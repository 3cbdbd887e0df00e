package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Paintersrp/procsup/internal/engine"
)

var (
	registry = prometheus.NewRegistry()

	processUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procsup",
		Name:      "process_up",
		Help:      "Whether the process is running (1=running, 0=not running).",
	}, []string{"process"})

	processState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procsup",
		Name:      "process_state",
		Help:      "Current lifecycle state of the process; the active state is 1.",
	}, []string{"process", "state"})

	processRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procsup",
		Name:      "process_restarts_total",
		Help:      "Total number of automatic restarts for each process.",
	}, []string{"process"})

	processExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procsup",
		Name:      "process_exits_total",
		Help:      "Total number of unrequested exits for each process.",
	}, []string{"process"})

	processFastFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procsup",
		Name:      "process_fast_failures",
		Help:      "Consecutive exits that happened before the minimum uptime.",
	}, []string{"process"})

	processStartTime = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procsup",
		Name:      "process_start_time_seconds",
		Help:      "Unix time the current child was started.",
	}, []string{"process"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procsup",
		Name:      "build_info",
		Help:      "Build metadata for the running procsup binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

var allStates = []engine.State{
	engine.StateStopped,
	engine.StateStarting,
	engine.StateRunning,
	engine.StateStopping,
	engine.StateWaiting,
	engine.StateFailed,
}

func init() {
	registry.MustRegister(
		processUp,
		processState,
		processRestarts,
		processExits,
		processFastFailures,
		processStartTime,
		processResidentMemory,
		processCPU,
		buildInfo,
	)
}

// Registry returns the Prometheus registry containing all procsup metrics.
func Registry() *prometheus.Registry {
	return registry
}

// Apply updates the process metrics from a supervisor event.
func Apply(evt engine.Event) {
	if evt.Process == "" {
		return
	}
	name := evt.Process

	if evt.Type != engine.EventTypeExited && evt.Type != engine.EventTypeError {
		SetState(name, evt.State)
	}
	processFastFailures.WithLabelValues(name).Set(float64(evt.FastFailures))

	switch evt.Type {
	case engine.EventTypeRunning:
		processStartTime.WithLabelValues(name).Set(float64(evt.Timestamp.UnixNano()) / 1e9)
	case engine.EventTypeStarting:
		if evt.Reason == engine.ReasonRestart {
			processRestarts.WithLabelValues(name).Inc()
		}
	case engine.EventTypeExited:
		processExits.WithLabelValues(name).Inc()
	case engine.EventTypeLoaded:
		processRestarts.WithLabelValues(name).Add(0)
		processExits.WithLabelValues(name).Add(0)
	}
}

// SetState records st as the only active state of a process.
func SetState(process string, st engine.State) {
	if process == "" {
		return
	}
	for _, candidate := range allStates {
		value := 0.0
		if candidate == st {
			value = 1.0
		}
		processState.WithLabelValues(process, candidate.String()).Set(value)
	}
	up := 0.0
	if st == engine.StateRunning {
		up = 1.0
	}
	processUp.WithLabelValues(process).Set(up)
	if !st.Active() {
		processStartTime.DeleteLabelValues(process)
	}
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// WriteTextfile writes every metric to path in the text exposition format,
// for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, registry)
}

// ResetProcess clears every series of a process.
func ResetProcess(process string) {
	if process == "" {
		return
	}
	processUp.DeleteLabelValues(process)
	for _, st := range allStates {
		processState.DeleteLabelValues(process, st.String())
	}
	processRestarts.DeleteLabelValues(process)
	processExits.DeleteLabelValues(process)
	processFastFailures.DeleteLabelValues(process)
	processStartTime.DeleteLabelValues(process)
	processResidentMemory.DeleteLabelValues(process)
	processCPU.DeleteLabelValues(process)
}
