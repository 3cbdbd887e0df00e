package runtime

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Paintersrp/procsup/internal/spec"
)

// Factory builds the runtime serving one exec mode.
type Factory func() Runtime

var (
	factoriesMu sync.RWMutex
	factories   = make(map[spec.ExecMode]Factory)
)

// Register makes a launcher available for mode. Launcher packages call it
// from init; registering a mode again replaces the earlier factory.
func Register(mode spec.ExecMode, factory Factory) {
	if mode == "" {
		panic("runtime.Register: exec mode must not be empty")
	}
	if factory == nil {
		panic("runtime.Register: factory must not be nil")
	}
	factoriesMu.Lock()
	factories[mode] = factory
	factoriesMu.Unlock()
}

// Registry maps exec modes to the runtime that launches them.
type Registry map[spec.ExecMode]Runtime

// NewRegistry builds one runtime for every registered exec mode.
func NewRegistry() Registry {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	reg := make(Registry, len(factories))
	for mode, factory := range factories {
		reg[mode] = factory()
	}
	return reg
}

// Clone returns a shallow copy so the supervisor's table cannot be changed
// through the caller's map.
func (r Registry) Clone() Registry {
	dup := make(Registry, len(r))
	for mode, rt := range r {
		dup[mode] = rt
	}
	return dup
}

// Modes lists the exec modes the registry can launch, sorted.
func (r Registry) Modes() []spec.ExecMode {
	modes := make([]spec.ExecMode, 0, len(r))
	for mode := range r {
		modes = append(modes, mode)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

// Lookup returns the runtime for mode. An empty mode means fork.
func (r Registry) Lookup(mode spec.ExecMode) (Runtime, error) {
	if mode == "" {
		mode = spec.ExecModeFork
	}
	if rt, ok := r[mode]; ok {
		return rt, nil
	}
	names := make([]string, 0, len(r))
	for _, m := range r.Modes() {
		names = append(names, string(m))
	}
	return nil, fmt.Errorf("no runtime registered for exec mode %q (have %s)", mode, strings.Join(names, ", "))
}
