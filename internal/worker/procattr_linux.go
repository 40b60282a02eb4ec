package worker

import "syscall"

// procAttr asks the kernel to SIGKILL the worker if the host dies first.
func procAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}
