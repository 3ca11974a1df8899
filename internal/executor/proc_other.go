//go:build !unix

package executor

import (
	"os"
	"os/exec"
)

func setProcessGroup(_ *exec.Cmd) {}

// interrupt falls back to Kill where os.Interrupt can't be delivered (windows).
func interrupt(p *os.Process) error {
	if err := p.Signal(os.Interrupt); err != nil {
		return p.Kill()
	}
	return nil
}

func kill(p *os.Process) error {
	return p.Kill()
}
