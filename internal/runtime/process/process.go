package process

import (
	"context"
	"errors"
	"os/exec"
	"sync"

	"github.com/Paintersrp/procsup/internal/runtime"
	"github.com/Paintersrp/procsup/internal/spec"
)

func init() {
	runtime.Register(spec.ExecModeFork, New)
}

type runtimeImpl struct{}

// New constructs a runtime that executes specs as local processes.
func New() runtime.Runtime {
	return &runtimeImpl{}
}

func (r *runtimeImpl) Start(ctx context.Context, s runtime.StartSpec) (runtime.Instance, error) {
	if s.Command == "" {
		return nil, &runtime.SpawnError{Name: s.Name, Err: errors.New("empty command")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &runtime.SpawnError{Name: s.Name, Command: s.Command, Err: err}
	}

	// The child outlives ctx; its lifetime is driven by Terminate and Kill.
	cmd := exec.Command(s.Command, s.Args...)
	cmd.Dir = s.Dir
	cmd.Env = s.Env
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, &runtime.SpawnError{Name: s.Name, Command: s.Command, Err: err}
	}

	inst := &processInstance{
		name:     s.Name,
		cmd:      cmd,
		waitDone: make(chan struct{}),
	}
	go func() {
		inst.waitErr = cmd.Wait()
		close(inst.waitDone)
	}()
	return inst, nil
}

type processInstance struct {
	name string
	cmd  *exec.Cmd

	waitDone chan struct{}
	waitErr  error

	statusOnce sync.Once
	status     runtime.ExitStatus
}

func (p *processInstance) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *processInstance) Wait() runtime.ExitStatus {
	<-p.waitDone
	p.statusOnce.Do(func() {
		p.status = exitStatus(p.waitErr)
	})
	return p.status
}

func (p *processInstance) exited() bool {
	select {
	case <-p.waitDone:
		return true
	default:
		return false
	}
}

func exitStatus(err error) runtime.ExitStatus {
	if err == nil {
		return runtime.ExitStatus{}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return runtime.ExitStatus{Code: exitErr.ExitCode(), Err: err}
	}
	return runtime.ExitStatus{Code: -1, Err: err}
}
