//go:build !unix

package process

import (
	"errors"
	"syscall"
)

func kill(int, syscall.Signal) error {
	return errors.ErrUnsupported
}
