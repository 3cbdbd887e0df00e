package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Paintersrp/procsup/internal/logsink"
	"github.com/Paintersrp/procsup/internal/pidfile"
	"github.com/Paintersrp/procsup/internal/policy"
	"github.com/Paintersrp/procsup/internal/runtime"
	"github.com/Paintersrp/procsup/internal/spec"
)

const defaultHistorySize = 20

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(s *Supervisor) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the structured logger used for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEvents delivers lifecycle events to ch. Sends block, so the consumer
// must keep draining the channel.
func WithEvents(ch chan<- Event) Option {
	return func(s *Supervisor) {
		s.events = ch
	}
}

// WithRouter sets the log router used to open output sinks.
func WithRouter(r *logsink.Router) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.router = r
		}
	}
}

// WithBaseEnv sets the environment that process env maps are merged over.
// It defaults to the supervisor's own environment.
func WithBaseEnv(env []string) Option {
	return func(s *Supervisor) {
		s.baseEnv = append([]string(nil), env...)
	}
}

// WithHistorySize bounds the number of transitions retained per handle.
func WithHistorySize(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.historySize = n
		}
	}
}

// Supervisor owns the handle table and makes every start, stop and restart
// decision on a single goroutine. Public methods submit requests to that
// goroutine; spawns, waits and timers run elsewhere and report back to it.
type Supervisor struct {
	runtimes    runtime.Registry
	router      *logsink.Router
	clock       Clock
	logger      *slog.Logger
	events      chan<- Event
	baseEnv     []string
	historySize int

	ops      chan func()
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	// Owned by the loop goroutine.
	handles      map[string]*handle
	order        []string
	shuttingDown bool
}

type handle struct {
	spec spec.ProcessSpec

	state        State
	pid          int
	startedAt    time.Time
	fastFailures int
	restarts     int
	lastExitCode int
	lastErr      error
	history      []Transition

	// generation changes on every spawn and every cancelled delay so that
	// late spawn results, exits and timer callbacks can be recognised.
	generation    uint64
	inst          runtime.Instance
	restartTimer  Timer
	graceTimer    Timer
	stopRequested bool

	startWaiters []chan<- error
	stopWaiters  []chan<- error
}

// New constructs a Supervisor and starts its decision loop. Callers must
// invoke Shutdown to stop managed processes and release the loop.
func New(runtimes runtime.Registry, opts ...Option) *Supervisor {
	s := &Supervisor{
		runtimes:    runtimes.Clone(),
		clock:       RealClock(),
		logger:      slog.Default(),
		baseEnv:     os.Environ(),
		historySize: defaultHistorySize,
		ops:         make(chan func()),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		handles:     make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.router == nil {
		s.router = logsink.NewRouter(logsink.WithClock(s.clock.Now))
	}
	go s.run()
	return s
}

func (s *Supervisor) run() {
	defer close(s.done)
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.quit:
			return
		}
	}
}

// submit hands op to the loop on behalf of an external caller.
func (s *Supervisor) submit(ctx context.Context, op func()) error {
	select {
	case s.ops <- op:
		return nil
	case <-s.done:
		return ErrSupervisorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post hands op to the loop from an internal goroutine. It is dropped when
// the loop has exited.
func (s *Supervisor) post(op func()) {
	select {
	case s.ops <- op:
	case <-s.done:
	}
}

func (s *Supervisor) await(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSupervisorClosed
	}
}

// Load registers specs. Names must be unique within specs and against
// previously loaded specs, working directories must exist and every exec mode
// needs a runtime. On failure a *spec.ConfigError lists every violation and
// nothing is registered.
func (s *Supervisor) Load(ctx context.Context, specs []spec.ProcessSpec) error {
	if ctx == nil {
		ctx = context.Background()
	}
	specs = spec.CloneAll(specs)

	// Filesystem checks stay off the loop goroutine.
	cerr := &spec.ConfigError{}
	if err := spec.Validate(specs, nil); err != nil {
		if !errors.As(err, &cerr) {
			return err
		}
	}
	for _, ps := range specs {
		mode := execMode(ps)
		if mode == spec.ExecModeCluster {
			continue
		}
		if _, err := s.runtimes.Lookup(mode); err != nil {
			cerr.Add("apps[%s].exec_mode: %v", ps.Name, err)
		}
	}

	reply := make(chan error, 1)
	err := s.submit(ctx, func() {
		for _, ps := range specs {
			if _, exists := s.handles[ps.Name]; exists {
				cerr.Add("apps[%s].name: process %q is already loaded", ps.Name, ps.Name)
			}
		}
		if err := cerr.OrNil(); err != nil {
			reply <- err
			return
		}
		for _, ps := range specs {
			h := &handle{spec: ps, state: StateStopped}
			s.handles[ps.Name] = h
			s.order = append(s.order, ps.Name)
			s.emit(h, EventTypeLoaded, ReasonLoad, "", nil)
		}
		reply <- nil
	})
	if err != nil {
		return err
	}
	return s.await(ctx, reply)
}

// Names returns loaded process names in load order.
func (s *Supervisor) Names(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := s.submit(ctx, func() {
		reply <- append([]string(nil), s.order...)
	}); err != nil {
		return nil, err
	}
	select {
	case names := <-reply:
		return names, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start spawns the named process unless it already has an active handle. It
// returns once the spawn attempt finished, reporting a *runtime.SpawnError or
// *logsink.SinkError when the child could not be launched.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	reply := make(chan error, 1)
	if err := s.submit(ctx, func() { s.handleStart(name, reply) }); err != nil {
		return err
	}
	return s.await(ctx, reply)
}

// StartAll starts every loaded process in load order. Processes that are
// already active are skipped.
func (s *Supervisor) StartAll(ctx context.Context) error {
	names, err := s.Names(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		err := s.Start(ctx, name)
		var running *AlreadyRunningError
		if err != nil && !errors.As(err, &running) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop asks the named process to terminate gracefully and escalates to a
// forced kill after its kill timeout. A pending restart is cancelled. Stop
// returns once the handle is stopped.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	reply := make(chan error, 1)
	if err := s.submit(ctx, func() { s.handleStop(name, reply) }); err != nil {
		return err
	}
	return s.await(ctx, reply)
}

// Restart stops the named process if needed and starts it again.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	if err := s.Stop(ctx, name); err != nil {
		return err
	}
	return s.Start(ctx, name)
}

// Status returns a snapshot of the named handle.
func (s *Supervisor) Status(ctx context.Context, name string) (Handle, error) {
	type result struct {
		h   Handle
		err error
	}
	reply := make(chan result, 1)
	if err := s.submit(ctx, func() {
		h := s.handles[name]
		if h == nil {
			reply <- result{err: fmt.Errorf("%w: %s", ErrUnknownProcess, name)}
			return
		}
		reply <- result{h: s.snapshot(h)}
	}); err != nil {
		return Handle{}, err
	}
	select {
	case res := <-reply:
		return res.h, res.err
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	}
}

// Snapshot returns copies of every handle in load order.
func (s *Supervisor) Snapshot(ctx context.Context) ([]Handle, error) {
	reply := make(chan []Handle, 1)
	if err := s.submit(ctx, func() {
		out := make([]Handle, 0, len(s.order))
		for _, name := range s.order {
			out = append(out, s.snapshot(s.handles[name]))
		}
		reply <- out
	}); err != nil {
		return nil, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops every active process, cancels pending restarts and ends the
// decision loop. When ctx expires first the remaining children are killed.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	waitsCh := make(chan []chan error, 1)
	err := s.submit(ctx, func() {
		s.shuttingDown = true
		var waits []chan error
		for _, name := range s.order {
			h := s.handles[name]
			if !h.state.Active() && h.state != StateWaiting {
				continue
			}
			ch := make(chan error, 1)
			s.handleStop(name, ch)
			waits = append(waits, ch)
		}
		waitsCh <- waits
	})
	if errors.Is(err, ErrSupervisorClosed) {
		return nil
	}
	if err != nil {
		return err
	}

	var shutdownErr error
	waits := <-waitsCh
	for _, ch := range waits {
		select {
		case <-ch:
		case <-ctx.Done():
			shutdownErr = ctx.Err()
		}
		if shutdownErr != nil {
			break
		}
	}
	if shutdownErr != nil {
		killed := make(chan struct{})
		s.post(func() {
			for _, h := range s.handles {
				if h.inst != nil {
					_ = h.inst.Kill()
				}
			}
			close(killed)
		})
		select {
		case <-killed:
		case <-s.done:
		}
	}

	s.quitOnce.Do(func() { close(s.quit) })
	<-s.done
	return shutdownErr
}

// Done is closed once the decision loop has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) handleStart(name string, reply chan<- error) {
	h := s.handles[name]
	if h == nil {
		reply <- fmt.Errorf("%w: %s", ErrUnknownProcess, name)
		return
	}
	if s.shuttingDown {
		reply <- ErrSupervisorClosed
		return
	}
	if h.state.Active() {
		reply <- &AlreadyRunningError{Name: name, State: h.state}
		return
	}
	h.cancelRestart()
	h.fastFailures = 0
	h.startWaiters = append(h.startWaiters, reply)
	s.spawn(h, ReasonManualStart)
}

func (s *Supervisor) handleStop(name string, reply chan<- error) {
	h := s.handles[name]
	if h == nil {
		reply <- fmt.Errorf("%w: %s", ErrUnknownProcess, name)
		return
	}
	switch h.state {
	case StateStopped, StateFailed:
		reply <- nil
	case StateWaiting:
		h.cancelRestart()
		h.generation++
		s.transition(h, StateStopped, ReasonStopRequested, "pending restart cancelled")
		reply <- nil
	case StateStarting:
		h.stopRequested = true
		h.stopWaiters = append(h.stopWaiters, reply)
	case StateRunning:
		h.stopWaiters = append(h.stopWaiters, reply)
		s.beginStop(h, ReasonStopRequested)
	case StateStopping:
		h.stopWaiters = append(h.stopWaiters, reply)
	}
}

type spawnResult struct {
	inst      runtime.Instance
	sinks     *logsink.Sinks
	startedAt time.Time
	err       error
}

// spawn moves h to Starting and launches the child off the loop.
func (s *Supervisor) spawn(h *handle, reason string) {
	h.generation++
	gen := h.generation
	h.stopRequested = false
	s.transition(h, StateStarting, reason, "")

	ps := h.spec
	rt := s.runtimes[execMode(ps)]
	go func() {
		res := s.launch(rt, ps)
		s.post(func() { s.handleSpawned(ps, gen, res) })
	}()
}

func (s *Supervisor) launch(rt runtime.Runtime, ps spec.ProcessSpec) spawnResult {
	if rt == nil {
		return spawnResult{err: &runtime.SpawnError{Name: ps.Name, Command: ps.Command, Err: fmt.Errorf("no runtime for exec mode %q", ps.ExecMode)}}
	}
	sinks, err := s.router.Open(ps)
	if err != nil {
		return spawnResult{err: err}
	}
	inst, err := rt.Start(context.Background(), runtime.StartSpec{
		Name:    ps.Name,
		Command: ps.Command,
		Args:    ps.Args,
		Dir:     ps.Cwd,
		Env:     runtime.MergeEnv(s.baseEnv, ps.Environ()),
		Stdout:  sinks.Stdout,
		Stderr:  sinks.Stderr,
	})
	if err != nil {
		_ = sinks.Close()
		var spawnErr *runtime.SpawnError
		if !errors.As(err, &spawnErr) {
			err = &runtime.SpawnError{Name: ps.Name, Command: ps.Command, Err: err}
		}
		return spawnResult{err: err}
	}
	startedAt := s.clock.Now()
	if err := pidfile.Write(ps.PidFile, inst.PID()); err != nil {
		s.logger.Warn("pid file not written", "process", ps.Name, "error", err)
	}
	return spawnResult{inst: inst, sinks: sinks, startedAt: startedAt}
}

// wait blocks on the child and reports its exit to the loop. Sinks and the
// pid file are released here so the loop never blocks on them.
func (s *Supervisor) wait(ps spec.ProcessSpec, gen uint64, inst runtime.Instance, sinks *logsink.Sinks) {
	status := inst.Wait()
	exitedAt := s.clock.Now()
	if err := sinks.Close(); err != nil {
		s.logger.Warn("close log sinks", "process", ps.Name, "error", err)
	}
	if err := pidfile.Remove(ps.PidFile, inst.PID()); err != nil {
		s.logger.Warn("remove pid file", "process", ps.Name, "error", err)
	}
	s.post(func() { s.handleExit(ps.Name, gen, inst, status, exitedAt) })
}

func (s *Supervisor) handleSpawned(ps spec.ProcessSpec, gen uint64, res spawnResult) {
	h := s.handles[ps.Name]
	if h == nil || h.generation != gen || h.state != StateStarting {
		if res.inst != nil {
			_ = res.inst.Kill()
			go s.wait(ps, gen, res.inst, res.sinks)
		}
		return
	}

	if res.err != nil {
		h.lastErr = res.err
		h.lastExitCode = -1
		s.replyStart(h, res.err)

		var sinkErr *logsink.SinkError
		switch {
		case errors.As(res.err, &sinkErr):
			s.transition(h, StateFailed, ReasonLogSinkFailure, res.err.Error())
		case h.stopRequested || s.shuttingDown:
			s.transition(h, StateStopped, ReasonStopRequested, res.err.Error())
		default:
			s.emitErr(h, EventTypeError, ReasonSpawnFailure, res.err)
			s.decide(h, policy.Exit{ExitedAt: s.clock.Now(), ExitCode: -1, FastFailures: h.fastFailures, SpawnFailed: true})
		}
		return
	}

	h.inst = res.inst
	h.pid = res.inst.PID()
	h.startedAt = res.startedAt
	h.lastErr = nil
	s.transition(h, StateRunning, ReasonSpawned, "")
	go s.wait(h.spec, gen, res.inst, res.sinks)
	s.replyStart(h, nil)

	if h.stopRequested || s.shuttingDown {
		s.beginStop(h, ReasonStopRequested)
	}
}

func (s *Supervisor) handleExit(name string, gen uint64, inst runtime.Instance, status runtime.ExitStatus, exitedAt time.Time) {
	h := s.handles[name]
	if h == nil || h.generation != gen || h.inst != inst {
		return
	}
	h.inst = nil
	h.pid = 0
	h.lastExitCode = status.Code
	h.lastErr = status.Err
	if h.graceTimer != nil {
		h.graceTimer.Stop()
		h.graceTimer = nil
	}

	s.emitExit(h, status)

	// A deliberate stop never reaches the restart policy.
	if h.state == StateStopping || s.shuttingDown {
		s.transition(h, StateStopped, ReasonStopRequested, "")
		return
	}

	s.decide(h, policy.Exit{
		StartedAt:    h.startedAt,
		ExitedAt:     exitedAt,
		ExitCode:     status.Code,
		FastFailures: h.fastFailures,
	})
}

func (s *Supervisor) decide(h *handle, exit policy.Exit) {
	verdict := policy.Evaluate(h.spec.Restart, exit)
	h.fastFailures = verdict.FastFailures

	s.logger.Debug("restart verdict",
		"process", h.spec.Name,
		"verdict", verdict.String(),
		"uptime", exit.Uptime(),
		"fast_failures", verdict.FastFailures)

	switch verdict.Kind {
	case policy.Stop:
		reason := ReasonExited
		if h.spec.Restart.AutoRestart {
			reason = ReasonStopExitCode
		}
		s.transition(h, StateStopped, reason, fmt.Sprintf("exit code %d", exit.ExitCode))
	case policy.GiveUp:
		msg := fmt.Sprintf("%d consecutive exits within %s", verdict.FastFailures, h.spec.Restart.MinUptime)
		s.transition(h, StateFailed, ReasonRetriesExhaust, msg)
	case policy.Restart:
		h.restarts++
		s.spawn(h, ReasonRestart)
	case policy.RestartAfter:
		gen := h.generation
		name := h.spec.Name
		h.restartTimer = s.clock.AfterFunc(verdict.Delay, func() {
			s.post(func() { s.handleRestartTimer(name, gen) })
		})
		s.transition(h, StateWaiting, ReasonRestart, fmt.Sprintf("restarting in %s", verdict.Delay))
	}
}

func (s *Supervisor) handleRestartTimer(name string, gen uint64) {
	h := s.handles[name]
	if h == nil || h.generation != gen || h.state != StateWaiting || s.shuttingDown {
		return
	}
	h.restartTimer = nil
	h.restarts++
	s.spawn(h, ReasonRestart)
}

func (s *Supervisor) beginStop(h *handle, reason string) {
	gen := h.generation
	name := h.spec.Name
	h.graceTimer = s.clock.AfterFunc(h.spec.KillTimeout, func() {
		s.post(func() { s.handleGraceExpired(name, gen) })
	})
	if err := h.inst.Terminate(); err != nil {
		s.logger.Warn("graceful stop failed", "process", name, "error", err)
	}
	s.transition(h, StateStopping, reason, "")
}

func (s *Supervisor) handleGraceExpired(name string, gen uint64) {
	h := s.handles[name]
	if h == nil || h.generation != gen || h.state != StateStopping || h.inst == nil {
		return
	}
	h.graceTimer = nil
	s.logger.Warn("kill timeout elapsed, killing process", "process", name, "pid", h.pid, "timeout", h.spec.KillTimeout)
	if err := h.inst.Kill(); err != nil {
		s.emitErr(h, EventTypeError, ReasonKillEscalation, err)
		return
	}
	s.emit(h, EventTypeStopping, ReasonKillEscalation, "sent SIGKILL", nil)
}

func (s *Supervisor) transition(h *handle, next State, reason, message string) {
	prev := h.state
	if !prev.CanTransition(next) {
		panic(fmt.Sprintf("engine: illegal transition %s -> %s for %s", prev, next, h.spec.Name))
	}
	h.state = next
	if next != StateRunning {
		h.startedAt = time.Time{}
	}
	h.history = append(h.history, Transition{
		Timestamp: s.clock.Now(),
		From:      prev,
		To:        next,
		Reason:    reason,
		Message:   message,
	})
	if over := len(h.history) - s.historySize; over > 0 {
		h.history = append([]Transition(nil), h.history[over:]...)
	}

	if next == StateStopped || next == StateFailed {
		for _, w := range h.stopWaiters {
			w <- nil
		}
		h.stopWaiters = nil
		h.stopRequested = false
	}

	s.emit(h, eventTypeFor(next), reason, message, nil)
}

func (s *Supervisor) replyStart(h *handle, err error) {
	for _, w := range h.startWaiters {
		w <- err
	}
	h.startWaiters = nil
}

func (h *handle) cancelRestart() {
	if h.restartTimer != nil {
		h.restartTimer.Stop()
		h.restartTimer = nil
	}
}

func (s *Supervisor) snapshot(h *handle) Handle {
	out := Handle{
		Name:         h.spec.Name,
		State:        h.state,
		PID:          h.pid,
		StartedAt:    h.startedAt,
		FastFailures: h.fastFailures,
		Restarts:     h.restarts,
		LastExitCode: h.lastExitCode,
		History:      append([]Transition(nil), h.history...),
		Spec:         h.spec.Clone(),
	}
	if h.lastErr != nil {
		out.LastError = h.lastErr.Error()
	}
	return out
}

func execMode(ps spec.ProcessSpec) spec.ExecMode {
	if ps.ExecMode == "" {
		return spec.ExecModeFork
	}
	return ps.ExecMode
}

func eventTypeFor(st State) EventType {
	switch st {
	case StateStarting:
		return EventTypeStarting
	case StateRunning:
		return EventTypeRunning
	case StateStopping:
		return EventTypeStopping
	case StateWaiting:
		return EventTypeWaiting
	case StateFailed:
		return EventTypeFailed
	default:
		return EventTypeStopped
	}
}

func (s *Supervisor) emit(h *handle, t EventType, reason, message string, err error) {
	evt := Event{
		Timestamp: s.clock.Now(),
		Process:   h.spec.Name,
		Type:      t,
		State:     h.state,
		PID:       h.pid,
		Message:   message,
		Err:       err,
		Attempt:   h.restarts,
		ExitCode:  h.lastExitCode,
		Reason:    reason,

		FastFailures: h.fastFailures,
	}
	evt.Level = levelFor(t)
	s.log(evt)
	sendEvent(s.events, evt)
}

func (s *Supervisor) emitErr(h *handle, t EventType, reason string, err error) {
	s.emit(h, t, reason, err.Error(), err)
}

func (s *Supervisor) emitExit(h *handle, status runtime.ExitStatus) {
	msg := fmt.Sprintf("exited with code %d", status.Code)
	if status.Code < 0 && status.Err != nil {
		msg = status.Err.Error()
	}
	s.emit(h, EventTypeExited, ReasonExited, msg, status.Err)
}

func (s *Supervisor) log(evt Event) {
	attrs := []any{
		"process", evt.Process,
		"event", string(evt.Type),
		"state", evt.State.String(),
		"reason", evt.Reason,
	}
	if evt.PID != 0 {
		attrs = append(attrs, "pid", evt.PID)
	}
	if evt.Type == EventTypeExited {
		attrs = append(attrs, "exit_code", evt.ExitCode)
	}
	if evt.Attempt > 0 {
		attrs = append(attrs, "restarts", evt.Attempt)
	}
	msg := evt.Message
	if msg == "" {
		msg = string(evt.Type)
	}
	switch evt.Level {
	case "error":
		s.logger.Error(msg, attrs...)
	case "warn":
		s.logger.Warn(msg, attrs...)
	default:
		s.logger.Info(msg, attrs...)
	}
}
