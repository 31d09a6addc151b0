package ports

import "context"

// Inspector is the syscall-specific validator consulted for Inspect-class
// syscalls. A nil error lets the syscall proceed; a non-nil error is the
// error the syscall itself reports to its caller.
type Inspector interface {
	Inspect(ctx context.Context, syscallNumber int) error
}
