//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"
)

func (p *processInstance) Terminate() error {
	if p.cmd.Process == nil || p.exited() {
		return nil
	}
	// Interrupt is not deliverable on every Windows console; Kill follows
	// after the grace period.
	_ = p.cmd.Process.Signal(os.Interrupt)
	return nil
}

func (p *processInstance) Kill() error {
	if p.cmd.Process == nil || p.exited() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %s: %w", p.name, err)
	}
	return nil
}
