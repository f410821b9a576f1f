//go:build linux

package daemon

import (
	"os/exec"
	"syscall"
)

// setDetached configures the child to survive the parent's exit (the
// parent only waits out the handshake, then returns) and to not belong to
// the parent's process group, so a Ctrl+C at the foreground shell doesn't
// propagate straight to it.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
