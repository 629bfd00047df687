//go:build linux

package kernel

import "syscall"

// signal0 sends the null signal to pid: no signal is actually delivered,
// but the kernel still performs its existence/permission check, so a nil
// error (or EPERM) means the process exists.
func signal0(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
