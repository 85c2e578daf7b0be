//go:build !windows

package engine

import (
	"errors"
	"os/exec"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	// Own process group so signals reach JVM children too.
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminateGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGTERM)
}

func killGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// exitCode maps a cmd.Wait error to a numeric exit code. Signal exits follow
// the shell convention of 128+signal.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 128 + int(ws.Signal())
			}
			return ws.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return 1
}
