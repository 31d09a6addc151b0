package entities

import "fmt"

// ProcessIdentity names one process incarnation. Epoch is the process start
// time (or any monotonically assigned value) and distinguishes a reused PID
// from the process that originally held it.
type ProcessIdentity struct {
	PID   uint32 `json:"pid"`
	Epoch uint64 `json:"epoch"`
}

// String returns "pid@epoch".
func (id ProcessIdentity) String() string {
	return fmt.Sprintf("%d@%d", id.PID, id.Epoch)
}

// CreatorKind says which policy created a loopback endpoint and therefore
// how the rest of a SocketCredential is interpreted.
type CreatorKind uint8

const (
	CreatorNone CreatorKind = iota
	CreatorSameProcess
	CreatorGroupMember
	CreatorUnrestricted
)

// String returns the lower-case kind name.
func (k CreatorKind) String() string {
	switch k {
	case CreatorNone:
		return "none"
	case CreatorSameProcess:
		return "same-process"
	case CreatorGroupMember:
		return "group-member"
	case CreatorUnrestricted:
		return "unrestricted"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// SocketCredential is the identity marker attached to a loopback endpoint.
// Kind selects which of the other fields carries meaning: Process for
// CreatorSameProcess, the group masks for CreatorGroupMember, nothing for
// the other kinds. Constructors zero the fields that do not apply.
type SocketCredential struct {
	Process        ProcessIdentity
	TransmitGroups GroupMask
	ReceiveGroups  GroupMask
	Kind           CreatorKind
}

// UnrestrictedCredential marks an endpoint created under a profile that may
// open any loopback connection.
func UnrestrictedCredential() SocketCredential {
	return SocketCredential{Kind: CreatorUnrestricted}
}

// SameProcessCredential marks an endpoint that may only talk to its own process.
func SameProcessCredential(id ProcessIdentity) SocketCredential {
	return SocketCredential{Kind: CreatorSameProcess, Process: id}
}

// GroupCredential marks an endpoint belonging to the given cooperation groups.
// Bits beyond MaxGroups are dropped.
func GroupCredential(transmit, receive GroupMask) SocketCredential {
	return SocketCredential{
		Kind:           CreatorGroupMember,
		TransmitGroups: transmit & AllGroups,
		ReceiveGroups:  receive & AllGroups,
	}
}

// Tagged reports whether the credential carries any marker.
func (c SocketCredential) Tagged() bool {
	return c.Kind != CreatorNone
}

// String renders the credential for logs.
func (c SocketCredential) String() string {
	switch c.Kind {
	case CreatorSameProcess:
		return fmt.Sprintf("same-process[%s]", c.Process)
	case CreatorGroupMember:
		return fmt.Sprintf("group-member[tx=%s rx=%s]", c.TransmitGroups, c.ReceiveGroups)
	default:
		return c.Kind.String()
	}
}
