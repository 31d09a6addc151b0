//go:build unix

package process

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func kill(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}
