package ports

import (
	"context"

	"github.com/reglet-dev/procguard/domain/entities"
)

// Auditor receives every security-relevant outcome: transition denials,
// syscall denials, inspection failures, refused loopback credentials and
// parse errors on untrusted overrides.
// Implementations can log, collect metrics, or take other actions. Audit is
// called from enforcement hot paths and must not block.
type Auditor interface {
	Audit(ctx context.Context, record entities.AuditRecord)
}

// ViolationNotifier raises an asynchronous violation notification for a process.
type ViolationNotifier interface {
	NotifyViolation(id entities.ProcessIdentity)
}

// Terminator ends a process immediately and unconditionally.
type Terminator interface {
	Terminate(id entities.ProcessIdentity, reason string)
}
