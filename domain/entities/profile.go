package entities

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Tag is the stable 32-bit identifier naming a profile.
type Tag uint32

// String returns the tag in hexadecimal form.
func (t Tag) String() string {
	return fmt.Sprintf("0x%08x", uint32(t))
}

// MaxGroups is the number of distinct cooperation groups a profile may name.
const MaxGroups = 5

// GroupMask is a set of cooperation groups, one bit per group.
type GroupMask uint8

// AllGroups has every valid group bit set.
const AllGroups GroupMask = 1<<MaxGroups - 1

// GroupBit returns the mask containing only group n.
// n must be in [0, MaxGroups).
func GroupBit(n int) GroupMask {
	if n < 0 || n >= MaxGroups {
		return 0
	}
	return 1 << uint(n)
}

// Valid reports whether the mask only names groups below MaxGroups.
func (m GroupMask) Valid() bool {
	return m&^AllGroups == 0
}

// Empty reports whether the mask names no group.
func (m GroupMask) Empty() bool {
	return m == 0
}

// Intersects reports whether both masks share at least one group.
func (m GroupMask) Intersects(other GroupMask) bool {
	return m&other != 0
}

// Groups returns the group numbers contained in the mask, ascending.
func (m GroupMask) Groups() []int {
	var out []int
	for i := 0; i < MaxGroups; i++ {
		if m&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

// String returns the mask as a brace-enclosed group list, e.g. "{0,2}".
func (m GroupMask) String() string {
	groups := m.Groups()
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = fmt.Sprint(g)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Flags are the independent capability toggles of a profile.
type Flags struct {
	// Permissive converts enforcement failures into audited allows.
	Permissive bool `json:"permissive,omitempty" yaml:"permissive,omitempty" cbor:"1,keyasint,omitempty"`

	// IsolationBoundary marks a profile that runs inside the isolation boundary.
	// Profiles without it are elevated.
	IsolationBoundary bool `json:"isolation_boundary,omitempty" yaml:"isolation_boundary,omitempty" cbor:"2,keyasint,omitempty"`

	// NoNewPrivileges is latched on the binding once a process enters the profile.
	NoNewPrivileges bool `json:"no_new_privileges,omitempty" yaml:"no_new_privileges,omitempty" cbor:"3,keyasint,omitempty"`

	// JITAllowed permits writable-executable mappings.
	JITAllowed bool `json:"jit_allowed,omitempty" yaml:"jit_allowed,omitempty" cbor:"4,keyasint,omitempty"`

	// UnrestrictedLocal permits every loopback connection.
	UnrestrictedLocal bool `json:"unrestricted_local,omitempty" yaml:"unrestricted_local,omitempty" cbor:"5,keyasint,omitempty"`

	// SameProcessLoopback permits loopback connections back into the same process.
	SameProcessLoopback bool `json:"same_process_loopback,omitempty" yaml:"same_process_loopback,omitempty" cbor:"6,keyasint,omitempty"`

	// TransmitGroups are the groups this profile may send loopback traffic to.
	TransmitGroups GroupMask `json:"transmit_groups,omitempty" yaml:"transmit_groups,omitempty" cbor:"7,keyasint,omitempty"`

	// ReceiveGroups are the groups this profile accepts loopback traffic from.
	ReceiveGroups GroupMask `json:"receive_groups,omitempty" yaml:"receive_groups,omitempty" cbor:"8,keyasint,omitempty"`
}

// Validate checks that the group masks stay within MaxGroups.
func (f Flags) Validate() error {
	if !f.TransmitGroups.Valid() {
		return fmt.Errorf("transmit groups %#x exceed %d groups", uint8(f.TransmitGroups), MaxGroups)
	}
	if !f.ReceiveGroups.Valid() {
		return fmt.Errorf("receive groups %#x exceed %d groups", uint8(f.ReceiveGroups), MaxGroups)
	}
	return nil
}

// Restrict layers o on top of f so that o can only take capabilities
// away. Grants (permissive mode, JIT, loopback permissions, groups) survive
// only when both sides hold them. Constraints (isolation boundary,
// no-new-privileges) hold when either side sets them.
func (f Flags) Restrict(o Flags) Flags {
	return Flags{
		Permissive:          f.Permissive && o.Permissive,
		IsolationBoundary:   f.IsolationBoundary || o.IsolationBoundary,
		NoNewPrivileges:     f.NoNewPrivileges || o.NoNewPrivileges,
		JITAllowed:          f.JITAllowed && o.JITAllowed,
		UnrestrictedLocal:   f.UnrestrictedLocal && o.UnrestrictedLocal,
		SameProcessLoopback: f.SameProcessLoopback && o.SameProcessLoopback,
		TransmitGroups:      f.TransmitGroups & o.TransmitGroups,
		ReceiveGroups:       f.ReceiveGroups & o.ReceiveGroups,
	}
}

// Profile is a named policy bundle: capability flags plus syscall filter tables.
// Everything except the reference count is immutable after construction.
type Profile struct {
	filters *FilterSet
	onFree  func(*Profile)
	name    string
	flags   Flags
	refs    atomic.Int64
	freed   atomic.Bool
	tag     Tag
	static  bool
}

// ProfileOption configures a Profile at construction time.
type ProfileOption func(*Profile)

// WithFilters attaches syscall filter tables to the profile.
func WithFilters(fs *FilterSet) ProfileOption {
	return func(p *Profile) {
		p.filters = fs
	}
}

// WithOnFree registers a callback invoked once when a dynamic profile is freed.
func WithOnFree(fn func(*Profile)) ProfileOption {
	return func(p *Profile) {
		p.onFree = fn
	}
}

// NewStaticProfile creates a profile that lives for the lifetime of its registry.
// Releasing the last reference of a static profile never frees it.
func NewStaticProfile(tag Tag, name string, flags Flags, opts ...ProfileOption) *Profile {
	p := &Profile{tag: tag, name: name, flags: flags, static: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDynamicProfile creates an ephemeral profile holding one reference owned
// by the caller. It is freed when the count drops to zero.
func NewDynamicProfile(tag Tag, name string, flags Flags, opts ...ProfileOption) *Profile {
	p := &Profile{tag: tag, name: name, flags: flags}
	for _, opt := range opts {
		opt(p)
	}
	p.refs.Store(1)
	return p
}

// Tag returns the profile's identifier.
func (p *Profile) Tag() Tag { return p.tag }

// Name returns the profile's name, e.g. "USER".
func (p *Profile) Name() string { return p.name }

// Flags returns the capability flags.
func (p *Profile) Flags() Flags { return p.flags }

// Static reports whether the profile lives for the lifetime of its registry.
func (p *Profile) Static() bool { return p.static }

// Refs returns the current reference count.
func (p *Profile) Refs() int64 { return p.refs.Load() }

// Freed reports whether a dynamic profile has dropped its last reference.
func (p *Profile) Freed() bool { return p.freed.Load() }

// Filters returns the syscall filter tables. Nil means every syscall is allowed.
func (p *Profile) Filters() *FilterSet { return p.filters }

// Elevated reports whether the profile runs outside the isolation boundary.
func (p *Profile) Elevated() bool {
	return !p.flags.IsolationBoundary
}

// Acquire takes a reference. Acquiring a freed profile panics: it means a
// handle outlived its last release.
func (p *Profile) Acquire() *Profile {
	if p.refs.Add(1) <= 1 && !p.static {
		p.refs.Add(-1)
		panic(fmt.Sprintf("profile %s acquired after free", p.tag))
	}
	return p
}

// Release drops a reference and reports whether this call freed the profile.
func (p *Profile) Release() bool {
	n := p.refs.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("profile %s released more often than acquired", p.tag))
	}
	if n > 0 || p.static {
		return false
	}
	if !p.freed.CompareAndSwap(false, true) {
		return false
	}
	if p.onFree != nil {
		p.onFree(p)
	}
	return true
}

// String returns "NAME(tag)".
func (p *Profile) String() string {
	return fmt.Sprintf("%s(%s)", p.name, p.tag)
}
