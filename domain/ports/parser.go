package ports

import (
	"context"

	"github.com/reglet-dev/procguard/domain/entities"
)

// FlagsParser reads the capability flags of a per-executable override.
// It returns an error matching errors.ErrPolicyNotFound when no override exists.
type FlagsParser interface {
	ParseCapabilityFlags(ctx context.Context, path string) (entities.Flags, error)
}

// OverrideParser applies a per-executable syscall override file to table.
// Tables referenced by ":NAME" lines are looked up through resolve.
type OverrideParser interface {
	ParseSyscallOverrides(ctx context.Context, path string, table *entities.SyscallTable, resolve TableResolver) error
}

// TableResolver returns the table of the profile with the given name, for
// the calling convention being parsed.
type TableResolver func(name string) (*entities.SyscallTable, error)

// ProfileAttributes is the content of a profile attribute file.
type ProfileAttributes struct {
	Flags  entities.Flags
	Tag    entities.Tag
	HasTag bool
}

// AttributeParser reads the attribute file of a compiled profile.
// It returns an error matching errors.ErrPolicyNotFound when path does not exist.
type AttributeParser interface {
	ParseProfileAttributes(ctx context.Context, path string) (ProfileAttributes, error)
}
