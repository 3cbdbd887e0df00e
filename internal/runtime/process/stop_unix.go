//go:build !windows

package process

import (
	"errors"
	"fmt"
	"syscall"
)

func (p *processInstance) Terminate() error {
	return p.signalGroup(syscall.SIGTERM)
}

func (p *processInstance) Kill() error {
	return p.signalGroup(syscall.SIGKILL)
}

func (p *processInstance) signalGroup(sig syscall.Signal) error {
	if p.cmd.Process == nil || p.exited() {
		return nil
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal process group %s with %s: %w", p.name, sig, err)
	}
	return nil
}
