// Package tablehash identifies syscall tables by content so that
// byte-identical tables are stored and loaded once.
package tablehash

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/zeebo/blake3"
)

// Digest identifies a table by content.
type Digest [32]byte

// String returns the first 8 bytes in hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:8])
}

// Sum hashes the length and packed entries of t with BLAKE3.
func Sum(t *entities.SyscallTable) Digest {
	h := blake3.New()
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(t.Len()))
	_, _ = h.Write(n[:])
	_, _ = h.Write(t.Bytes())

	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Interner shares byte-identical tables.
type Interner struct {
	tables map[Digest]*entities.SyscallTable
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{tables: make(map[Digest]*entities.SyscallTable)}
}

// Intern returns the canonical table equal to t.
func (i *Interner) Intern(t *entities.SyscallTable) *entities.SyscallTable {
	d := Sum(t)
	if existing, ok := i.tables[d]; ok && existing.Equal(t) {
		return existing
	}
	i.tables[d] = t
	return t
}

// Len returns the number of distinct tables.
func (i *Interner) Len() int {
	return len(i.tables)
}
