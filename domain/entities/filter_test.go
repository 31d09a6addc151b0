package entities_test

import (
	"testing"

	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeCode(t *testing.T) {
	codes := []entities.FilterCode{entities.FilterAllow, entities.FilterInspect, entities.FilterDeny}
	for _, a := range codes {
		for _, b := range codes {
			want := entities.FilterInspect
			if a == b {
				want = a
			}
			assert.Equal(t, want, entities.MergeCode(a, b), "%s + %s", a, b)
			assert.Equal(t, entities.MergeCode(a, b), entities.MergeCode(b, a), "commutative")
		}
	}
}

func TestSyscallTable_GetSet(t *testing.T) {
	tbl := entities.NewSyscallTable(10, entities.FilterAllow)
	require.Equal(t, 10, tbl.Len())

	tbl.Set(0, entities.FilterDeny)
	tbl.Set(3, entities.FilterInspect)
	tbl.Set(4, entities.FilterDeny)
	tbl.Set(9, entities.FilterInspect)
	tbl.Set(10, entities.FilterInspect) // ignored

	assert.Equal(t, entities.FilterDeny, tbl.Get(0))
	assert.Equal(t, entities.FilterAllow, tbl.Get(1))
	assert.Equal(t, entities.FilterInspect, tbl.Get(3))
	assert.Equal(t, entities.FilterDeny, tbl.Get(4))
	assert.Equal(t, entities.FilterInspect, tbl.Get(9))
	assert.Equal(t, entities.FilterDeny, tbl.Get(10), "out of range denies")
	assert.Equal(t, entities.FilterDeny, tbl.Get(-1))

	var nilTable *entities.SyscallTable
	assert.Equal(t, entities.FilterDeny, nilTable.Get(0))
}

func TestSyscallTable_FromBytes(t *testing.T) {
	tbl := entities.NewSyscallTable(7, entities.FilterDeny)
	tbl.Set(2, entities.FilterAllow)

	rebuilt, err := entities.SyscallTableFromBytes(tbl.Len(), tbl.Bytes())
	require.NoError(t, err)
	assert.True(t, tbl.Equal(rebuilt))

	_, err = entities.SyscallTableFromBytes(7, []byte{0})
	assert.Error(t, err, "length mismatch")

	_, err = entities.SyscallTableFromBytes(1, []byte{0x3})
	assert.Error(t, err, "invalid code")
}

func TestSyscallTable_CloneIsIndependent(t *testing.T) {
	tbl := entities.NewSyscallTable(4, entities.FilterAllow)
	c := tbl.Clone()
	c.Set(1, entities.FilterDeny)

	assert.Equal(t, entities.FilterAllow, tbl.Get(1))
	assert.False(t, tbl.Equal(c))
}

func TestMergeTables(t *testing.T) {
	a := entities.NewSyscallTable(4, entities.FilterAllow)
	a.Set(0, entities.FilterDeny)
	a.Set(1, entities.FilterDeny)
	b := entities.NewSyscallTable(6, entities.FilterAllow)
	b.Set(0, entities.FilterDeny)
	b.Set(5, entities.FilterDeny)

	m := entities.MergeTables(a, b)
	require.Equal(t, 6, m.Len())
	assert.Equal(t, entities.FilterDeny, m.Get(0), "{Deny, Deny}")
	assert.Equal(t, entities.FilterInspect, m.Get(1), "{Deny, Allow}")
	assert.Equal(t, entities.FilterAllow, m.Get(2), "{Allow, Allow}")
	assert.Equal(t, entities.FilterInspect, m.Get(4), "missing entry counts as Deny")
	assert.Equal(t, entities.FilterDeny, m.Get(5))

	assert.Equal(t, 4, a.Len(), "inputs untouched")
	assert.Equal(t, entities.FilterDeny, a.Get(1))
}

func TestStricterCode(t *testing.T) {
	assert.Equal(t, entities.FilterDeny, entities.StricterCode(entities.FilterDeny, entities.FilterInspect))
	assert.Equal(t, entities.FilterDeny, entities.StricterCode(entities.FilterAllow, entities.FilterDeny))
	assert.Equal(t, entities.FilterInspect, entities.StricterCode(entities.FilterInspect, entities.FilterAllow))
	assert.Equal(t, entities.FilterAllow, entities.StricterCode(entities.FilterAllow, entities.FilterAllow))
}

func TestSyscallTable_Tighten(t *testing.T) {
	base := entities.NewSyscallTable(4, entities.FilterAllow)
	base.Set(0, entities.FilterDeny)
	base.Set(1, entities.FilterInspect)

	other := entities.NewSyscallTable(4, entities.FilterAllow)
	other.Set(0, entities.FilterInspect)
	other.Set(1, entities.FilterAllow)
	other.Set(2, entities.FilterDeny)

	base.Tighten(other)
	assert.Equal(t, entities.FilterDeny, base.Get(0), "Deny is never relaxed to Inspect")
	assert.Equal(t, entities.FilterInspect, base.Get(1))
	assert.Equal(t, entities.FilterDeny, base.Get(2))
	assert.Equal(t, entities.FilterAllow, base.Get(3))

	base.Tighten(nil)
	assert.Equal(t, entities.FilterAllow, base.Get(3))
}

func TestFilterSet_Table(t *testing.T) {
	native := entities.NewSyscallTable(1, entities.FilterAllow)
	fs := &entities.FilterSet{Native: native}

	assert.Same(t, native, fs.Table(entities.ConventionNative))
	assert.Nil(t, fs.Table(entities.ConventionSecondary))
	assert.Equal(t, entities.FilterDeny, fs.Table(entities.ConventionSecondary).Get(0))
}

func FuzzSyscallTable(f *testing.F) {
	f.Add(16, 3, uint8(2))
	f.Add(1, 0, uint8(1))
	f.Fuzz(func(t *testing.T, n, nr int, code uint8) {
		if n < 0 || n > 4096 {
			return
		}
		c := entities.FilterCode(code % 3)
		tbl := entities.NewSyscallTable(n, entities.FilterAllow)
		tbl.Set(nr, c)
		if nr >= 0 && nr < n {
			assert.Equal(t, c, tbl.Get(nr))
		} else {
			assert.Equal(t, entities.FilterDeny, tbl.Get(nr))
		}
		rebuilt, err := entities.SyscallTableFromBytes(n, tbl.Bytes())
		require.NoError(t, err)
		assert.True(t, tbl.Equal(rebuilt))
	})
}
