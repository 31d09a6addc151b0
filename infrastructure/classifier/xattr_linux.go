//go:build linux

package classifier

import (
	"errors"

	"golang.org/x/sys/unix"
)

func readXattr(path, name string) (string, error) {
	buf := make([]byte, 64)
	for {
		n, err := unix.Getxattr(path, name, buf)
		switch {
		case err == nil:
			return string(buf[:n]), nil
		case errors.Is(err, unix.ERANGE) && len(buf) < 4096:
			buf = make([]byte, len(buf)*4)
		case errors.Is(err, unix.ENODATA), errors.Is(err, unix.ENOTSUP), errors.Is(err, unix.ENOENT):
			return "", ErrNoXattr
		default:
			return "", err
		}
	}
}
