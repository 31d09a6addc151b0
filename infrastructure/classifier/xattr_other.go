//go:build !linux

package classifier

func readXattr(string, string) (string, error) {
	return "", ErrNoXattr
}
