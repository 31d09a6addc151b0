package policy

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/reglet-dev/procguard/domain/entities"
)

// ErrBindingExited is returned by operations on a binding after Exit.
var ErrBindingExited = errors.New("process binding has exited")

// State is the transition state of a binding.
type State uint8

const (
	StateUnprivileged State = iota
	StateElevated
	StateTransitional // candidate resolved, not yet committed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateUnprivileged:
		return "unprivileged"
	case StateElevated:
		return "elevated"
	case StateTransitional:
		return "transitional"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Binding ties one process to exactly one Profile reference. The profile is
// replaced on exec and released on exit. Readers on the syscall path load
// the current profile with a single atomic load.
type Binding struct {
	current      atomic.Pointer[entities.Profile]
	release      func(*entities.Profile)
	previous     atomic.Uint32
	nnp          atomic.Bool
	transitional atomic.Bool
	exited       atomic.Bool
	mu           sync.Mutex // serializes exec, fork and exit
	id           entities.ProcessIdentity
}

// NewBinding binds id to p, taking ownership of one reference the caller
// already holds. release is called exactly once for every reference the
// binding gives up; nil means entities.Profile.Release.
func NewBinding(id entities.ProcessIdentity, p *entities.Profile, release func(*entities.Profile)) *Binding {
	if p == nil {
		panic("policy: binding requires a profile")
	}
	if release == nil {
		release = func(p *entities.Profile) { p.Release() }
	}
	b := &Binding{id: id, release: release}
	b.current.Store(p)
	b.previous.Store(uint32(p.Tag()))
	if p.Flags().NoNewPrivileges {
		b.nnp.Store(true)
	}
	return b
}

// Identity returns the bound process identity.
func (b *Binding) Identity() entities.ProcessIdentity {
	return b.id
}

// Profile returns the active profile. Hot path: one atomic load.
func (b *Binding) Profile() *entities.Profile {
	return b.current.Load()
}

// Tag returns the active profile's tag.
func (b *Binding) Tag() entities.Tag {
	return b.current.Load().Tag()
}

// PreviousTag returns the tag that was active before the last exec.
func (b *Binding) PreviousTag() entities.Tag {
	return entities.Tag(b.previous.Load())
}

// Elevated reports whether the active profile runs outside the isolation boundary.
func (b *Binding) Elevated() bool {
	return b.current.Load().Elevated()
}

// NoNewPrivileges reports whether the no-new-privileges latch is set.
// Once set it is never cleared.
func (b *Binding) NoNewPrivileges() bool {
	return b.nnp.Load()
}

// State returns the binding's transition state.
func (b *Binding) State() State {
	if b.transitional.Load() {
		return StateTransitional
	}
	if b.Elevated() {
		return StateElevated
	}
	return StateUnprivileged
}

// Exited reports whether Exit has been called.
func (b *Binding) Exited() bool {
	return b.exited.Load()
}

// Fork returns a binding for a child process that inherits the active
// profile (taking a new reference) and the no-new-privileges latch.
func (b *Binding) Fork(child entities.ProcessIdentity) (*Binding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exited.Load() {
		return nil, ErrBindingExited
	}
	p := b.current.Load().Acquire()
	c := &Binding{id: child, release: b.release}
	c.current.Store(p)
	c.previous.Store(b.previous.Load())
	c.nnp.Store(b.nnp.Load())
	return c, nil
}

// Exit releases the binding's profile reference. Further calls are no-ops.
func (b *Binding) Exit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.exited.CompareAndSwap(false, true) {
		return
	}
	b.release(b.current.Load())
}

// install commits a candidate profile whose reference the caller holds:
// the old profile is released, its tag recorded as previous, and the
// no-new-privileges latch set if the candidate asks for it.
// Callers hold b.mu.
func (b *Binding) install(candidate *entities.Profile) {
	if candidate.Flags().NoNewPrivileges {
		b.nnp.Store(true)
	}
	old := b.current.Swap(candidate)
	b.previous.Store(uint32(old.Tag()))
	b.release(old)
}
