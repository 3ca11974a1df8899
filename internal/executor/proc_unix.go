//go:build unix

package executor

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child into its own process group, so signals reach
// the interpreters and helpers an analysis script spawns.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func interrupt(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGINT)
}

func kill(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGKILL)
}
