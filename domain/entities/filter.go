package entities

import (
	"bytes"
	"fmt"
)

// FilterCode is the per-syscall decision stored in a filter table.
type FilterCode uint8

const (
	FilterAllow   FilterCode = iota // proceed unchanged
	FilterInspect                   // run the syscall-specific validator
	FilterDeny                      // audit and terminate
)

// String returns the lower-case name of the code.
func (c FilterCode) String() string {
	switch c {
	case FilterAllow:
		return "allow"
	case FilterInspect:
		return "inspect"
	case FilterDeny:
		return "deny"
	default:
		return fmt.Sprintf("code(%d)", uint8(c))
	}
}

// Valid reports whether c is one of the three defined codes.
func (c FilterCode) Valid() bool {
	return c <= FilterDeny
}

// MergeCode combines the codes two sources give the same syscall.
// Identical codes are kept; any differing pair becomes Inspect so that a
// merge never silently drops to the weaker of the two.
func MergeCode(a, b FilterCode) FilterCode {
	if a == b {
		return a
	}
	return FilterInspect
}

// StricterCode returns the more restrictive of a and b: Deny over Inspect
// over Allow.
func StricterCode(a, b FilterCode) FilterCode {
	if a > b {
		return a
	}
	return b
}

// Convention selects the syscall calling convention a table applies to.
type Convention uint8

const (
	ConventionNative Convention = iota
	ConventionSecondary
)

// String returns "native" or "secondary".
func (c Convention) String() string {
	if c == ConventionSecondary {
		return "secondary"
	}
	return "native"
}

const codesPerByte = 4

// DefaultTableSize is the number of entries in compiled tables.
const DefaultTableSize = 512

// SyscallTable is a dense table of 2-bit filter codes indexed by syscall
// number, packed four entries per byte. Numbers at or beyond Len decide Deny.
type SyscallTable struct {
	bits []byte
	n    int
}

// NewSyscallTable returns a table of n entries all set to fill.
func NewSyscallTable(n int, fill FilterCode) *SyscallTable {
	if n < 0 {
		n = 0
	}
	t := &SyscallTable{bits: make([]byte, (n+codesPerByte-1)/codesPerByte), n: n}
	if fill != FilterAllow {
		for i := 0; i < n; i++ {
			t.Set(i, fill)
		}
	}
	return t
}

// SyscallTableFromBytes rebuilds a table from its packed representation.
func SyscallTableFromBytes(n int, packed []byte) (*SyscallTable, error) {
	if n < 0 || len(packed) != (n+codesPerByte-1)/codesPerByte {
		return nil, fmt.Errorf("packed table of %d bytes cannot hold %d entries", len(packed), n)
	}
	t := &SyscallTable{bits: append([]byte(nil), packed...), n: n}
	for i := 0; i < n; i++ {
		if !t.Get(i).Valid() {
			return nil, fmt.Errorf("entry %d holds invalid code %d", i, t.Get(i))
		}
	}
	return t, nil
}

// Len returns the number of entries.
func (t *SyscallTable) Len() int {
	return t.n
}

// Get returns the code for syscall nr in O(1).
func (t *SyscallTable) Get(nr int) FilterCode {
	if t == nil || nr < 0 || nr >= t.n {
		return FilterDeny
	}
	shift := uint(nr%codesPerByte) * 2
	return FilterCode(t.bits[nr/codesPerByte]>>shift) & 0x3
}

// Set stores code for syscall nr. Out-of-range numbers are ignored.
func (t *SyscallTable) Set(nr int, code FilterCode) {
	if nr < 0 || nr >= t.n {
		return
	}
	shift := uint(nr%codesPerByte) * 2
	b := &t.bits[nr/codesPerByte]
	*b = *b&^(0x3<<shift) | byte(code&0x3)<<shift
}

// Bytes returns a copy of the packed representation.
func (t *SyscallTable) Bytes() []byte {
	return append([]byte(nil), t.bits...)
}

// Clone returns an independent copy.
func (t *SyscallTable) Clone() *SyscallTable {
	if t == nil {
		return nil
	}
	return &SyscallTable{bits: append([]byte(nil), t.bits...), n: t.n}
}

// Equal reports whether both tables hold the same entries.
func (t *SyscallTable) Equal(other *SyscallTable) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.n == other.n && bytes.Equal(t.bits, other.bits)
}

// Merge folds other into t entry by entry using MergeCode. The result has
// the length of the longer table; entries missing from the shorter one
// count as Deny, matching Get.
func (t *SyscallTable) Merge(other *SyscallTable) {
	if other == nil {
		return
	}
	if other.n > t.n {
		grown := NewSyscallTable(other.n, FilterDeny)
		for i := 0; i < t.n; i++ {
			grown.Set(i, t.Get(i))
		}
		*t = *grown
	}
	for i := 0; i < t.n; i++ {
		t.Set(i, MergeCode(t.Get(i), other.Get(i)))
	}
}

// MergeTables returns a new table combining a and b with MergeCode.
func MergeTables(a, b *SyscallTable) *SyscallTable {
	if a == nil {
		return b.Clone()
	}
	out := a.Clone()
	out.Merge(b)
	return out
}

// Tighten keeps, for every entry of t, the stricter of its own code and
// other's. Entries never become weaker than they were.
func (t *SyscallTable) Tighten(other *SyscallTable) {
	if other == nil {
		return
	}
	for i := 0; i < t.n; i++ {
		t.Set(i, StricterCode(t.Get(i), other.Get(i)))
	}
}

// FilterSet holds the tables for each calling convention. A nil Secondary
// table means the secondary convention is not supported and decides Deny.
type FilterSet struct {
	Native    *SyscallTable
	Secondary *SyscallTable
}

// Table returns the table for conv, or nil.
func (fs *FilterSet) Table(conv Convention) *SyscallTable {
	if fs == nil {
		return nil
	}
	if conv == ConventionSecondary {
		return fs.Secondary
	}
	return fs.Native
}

// Clone deep-copies both tables.
func (fs *FilterSet) Clone() *FilterSet {
	if fs == nil {
		return nil
	}
	return &FilterSet{Native: fs.Native.Clone(), Secondary: fs.Secondary.Clone()}
}
