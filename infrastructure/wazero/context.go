package wazero

import (
	"context"

	"github.com/reglet-dev/procguard/domain/entities"
)

// contextKey is a private type for context keys.
type contextKey struct {
	name string
}

var processKey = &contextKey{name: "process"}

// WithProcess records the identity of the process whose syscall is being
// inspected. Host functions read it back with ProcessFromContext.
func WithProcess(ctx context.Context, id entities.ProcessIdentity) context.Context {
	return context.WithValue(ctx, processKey, id)
}

// ProcessFromContext retrieves the inspected process identity.
func ProcessFromContext(ctx context.Context) (entities.ProcessIdentity, bool) {
	id, ok := ctx.Value(processKey).(entities.ProcessIdentity)
	return id, ok
}
