//go:build !linux

package worker

import "syscall"

func procAttr() *syscall.SysProcAttr {
	return nil
}
