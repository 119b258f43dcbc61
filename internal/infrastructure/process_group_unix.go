//go:build !windows

package infrastructure

import (
	"errors"
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the child in a new process group so that
// helpers it spawns (ffmpeg) are signaled together with it
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
}

func signalProcessGroup(cmd *exec.Cmd, force bool) error {
	if cmd.Process == nil {
		return nil
	}
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	err := syscall.Kill(-cmd.Process.Pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	// fall back to the leader alone
	return cmd.Process.Signal(sig)
}
