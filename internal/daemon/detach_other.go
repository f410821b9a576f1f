//go:build !linux

package daemon

import "os/exec"

// setDetached is a no-op placeholder on platforms without a POSIX session
// API; the daemon still functions, it simply stays in the parent's process
// group.
func setDetached(cmd *exec.Cmd) {}
