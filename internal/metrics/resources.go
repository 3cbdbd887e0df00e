package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	processResidentMemory = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procsup",
		Name:      "process_resident_memory_bytes",
		Help:      "Resident set size of the running child.",
	}, []string{"process"})

	processCPU = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procsup",
		Name:      "process_cpu_percent",
		Help:      "CPU usage of the running child since the previous sample.",
	}, []string{"process"})
)

// Usage is one resource sample of a child process.
type Usage struct {
	RSS        uint64
	CPUPercent float64
}

// Sampler reads resource usage of supervised children. It keeps handles
// between calls so CPU usage is measured over the sampling interval.
type Sampler struct {
	mu    sync.Mutex
	procs map[string]*sampled
}

type sampled struct {
	pid  int
	proc *process.Process
}

// NewSampler returns an empty sampler.
func NewSampler() *Sampler {
	return &Sampler{procs: make(map[string]*sampled)}
}

// Sample records usage for every name in pids and clears the gauges of
// processes that are no longer running.
func (s *Sampler) Sample(pids map[string]int) map[string]Usage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Usage, len(pids))
	for name, entry := range s.procs {
		if pid, ok := pids[name]; !ok || pid != entry.pid {
			delete(s.procs, name)
			processResidentMemory.DeleteLabelValues(name)
			processCPU.DeleteLabelValues(name)
		}
	}
	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		entry := s.procs[name]
		if entry == nil {
			proc, err := process.NewProcess(int32(pid))
			if err != nil {
				continue
			}
			entry = &sampled{pid: pid, proc: proc}
			s.procs[name] = entry
		}
		usage, err := readUsage(entry.proc)
		if err != nil {
			continue
		}
		processResidentMemory.WithLabelValues(name).Set(float64(usage.RSS))
		processCPU.WithLabelValues(name).Set(usage.CPUPercent)
		out[name] = usage
	}
	return out
}

// ReadUsage samples a single pid once.
func ReadUsage(pid int) (Usage, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, err
	}
	return readUsage(proc)
}

func readUsage(proc *process.Process) (Usage, error) {
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Usage{}, err
	}
	cpu, err := proc.Percent(0)
	if err != nil {
		return Usage{}, err
	}
	return Usage{RSS: mem.RSS, CPUPercent: cpu}, nil
}
