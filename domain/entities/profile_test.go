package entities_test

import (
	"sync"
	"testing"

	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/stretchr/testify/assert"
)

func TestGroupMask(t *testing.T) {
	m := entities.GroupBit(0) | entities.GroupBit(2)
	assert.Equal(t, []int{0, 2}, m.Groups())
	assert.Equal(t, "{0,2}", m.String())
	assert.True(t, m.Valid())
	assert.True(t, m.Intersects(entities.GroupBit(2)))
	assert.False(t, m.Intersects(entities.GroupBit(3)))
	assert.Zero(t, entities.GroupBit(entities.MaxGroups))
	assert.False(t, entities.GroupMask(1<<entities.MaxGroups).Valid())
	assert.True(t, entities.GroupMask(0).Empty())
}

func TestFlags_Validate(t *testing.T) {
	assert.NoError(t, entities.Flags{TransmitGroups: entities.AllGroups}.Validate())
	assert.Error(t, entities.Flags{TransmitGroups: 0x80}.Validate())
	assert.Error(t, entities.Flags{ReceiveGroups: 0x20}.Validate())
}

func TestFlags_Restrict(t *testing.T) {
	base := entities.Flags{
		IsolationBoundary:   true,
		SameProcessLoopback: true,
		TransmitGroups:      entities.GroupBit(1) | entities.GroupBit(2),
		ReceiveGroups:       entities.GroupBit(2),
	}

	t.Run("cannot grant", func(t *testing.T) {
		got := base.Restrict(entities.Flags{
			Permissive:          true,
			JITAllowed:          true,
			UnrestrictedLocal:   true,
			SameProcessLoopback: true,
			TransmitGroups:      entities.AllGroups,
			ReceiveGroups:       entities.AllGroups,
		})
		assert.Equal(t, base, got)
		assert.True(t, got.IsolationBoundary, "omitting the boundary does not clear it")
	})

	t.Run("can take away", func(t *testing.T) {
		got := base.Restrict(entities.Flags{NoNewPrivileges: true, TransmitGroups: entities.GroupBit(2)})
		assert.Equal(t, entities.Flags{
			IsolationBoundary: true,
			NoNewPrivileges:   true,
			TransmitGroups:    entities.GroupBit(2),
		}, got)
	})

	t.Run("elevated base gains the boundary", func(t *testing.T) {
		got := entities.Flags{JITAllowed: true}.Restrict(entities.Flags{IsolationBoundary: true, JITAllowed: true})
		assert.Equal(t, entities.Flags{IsolationBoundary: true, JITAllowed: true}, got)
	})
}

func TestProfile_Static(t *testing.T) {
	p := entities.NewStaticProfile(0x10, "USER", entities.Flags{IsolationBoundary: true})
	assert.False(t, p.Elevated())
	assert.Equal(t, "USER(0x00000010)", p.String())

	p.Acquire()
	assert.False(t, p.Release(), "static profiles are never freed")
	assert.False(t, p.Freed())
}

func TestProfile_DynamicConcurrentRelease(t *testing.T) {
	var mu sync.Mutex
	frees := 0
	p := entities.NewDynamicProfile(0x10, "USER+override", entities.Flags{},
		entities.WithOnFree(func(*entities.Profile) {
			mu.Lock()
			frees++
			mu.Unlock()
		}),
	)
	assert.True(t, p.Elevated())

	const n = 64
	for i := 0; i < n; i++ {
		p.Acquire()
	}

	var wg sync.WaitGroup
	for i := 0; i < n+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, frees)
	assert.True(t, p.Freed())
	assert.Zero(t, p.Refs())
}
