package git

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the command in its own process group, so a later
// terminateProcessGroup reaches every subprocess git spawns (hooks, pagers,
// credential helpers), not just the direct child.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// terminateProcessGroup kills the command's whole process group. Called when
// the run context is cancelled while a command is still executing.
func terminateProcessGroup(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}
