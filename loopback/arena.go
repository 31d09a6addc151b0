package loopback

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrStaleHandle is returned for handles whose endpoint was closed or never
// existed.
var ErrStaleHandle = errors.New("stale endpoint handle")

const (
	chunkBits = 8
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1
)

// Handle addresses an endpoint in the side table. The generation changes
// every time a slot is reused, so a handle kept past Close is rejected.
// The zero Handle is never valid.
type Handle struct {
	Index      uint32
	Generation uint32
}

// slot is one endpoint control block. state packs the generation in the
// upper bits and a live bit in bit 0.
type slot struct {
	state    atomic.Uint64
	tag      atomic.Pointer[endpointTag]
	forked   atomic.Bool
	accepted atomic.Bool
}

type chunk [chunkSize]slot

// arena allocates slots in fixed chunks that never move. Lookups load the
// chunk directory atomically and take no lock; allocation and release are
// serialized by mu.
type arena struct {
	dir  atomic.Pointer[[]*chunk]
	mu   sync.Mutex
	free []uint32
	next uint32
	live int
}

func packState(gen uint32, live bool) uint64 {
	s := uint64(gen) << 1
	if live {
		s |= 1
	}
	return s
}

func (a *arena) alloc() (Handle, *slot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = a.next
		a.next++
		a.grow(idx)
	}

	s := a.slotAt(idx)
	gen := uint32(s.state.Load() >> 1)
	if gen == 0 {
		gen = 1
	}
	s.tag.Store(nil)
	s.forked.Store(false)
	s.accepted.Store(false)
	s.state.Store(packState(gen, true))
	a.live++
	return Handle{Index: idx, Generation: gen}, s
}

// grow makes sure the chunk holding idx exists. Callers hold mu.
func (a *arena) grow(idx uint32) {
	var dir []*chunk
	if p := a.dir.Load(); p != nil {
		dir = *p
	}
	ci := int(idx >> chunkBits)
	if ci < len(dir) {
		return
	}
	grown := make([]*chunk, ci+1)
	copy(grown, dir)
	for i := len(dir); i <= ci; i++ {
		grown[i] = new(chunk)
	}
	a.dir.Store(&grown)
}

func (a *arena) slotAt(idx uint32) *slot {
	p := a.dir.Load()
	if p == nil {
		return nil
	}
	dir := *p
	ci := int(idx >> chunkBits)
	if ci >= len(dir) {
		return nil
	}
	return &dir[ci][idx&chunkMask]
}

// get returns the live slot for h without locking.
func (a *arena) get(h Handle) (*slot, error) {
	s := a.slotAt(h.Index)
	if s == nil || h.Generation == 0 || s.state.Load() != packState(h.Generation, true) {
		return nil, ErrStaleHandle
	}
	return s, nil
}

func (a *arena) release(h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.get(h)
	if err != nil {
		return err
	}
	next := h.Generation + 1
	if next == 0 {
		next = 1
	}
	s.state.Store(packState(next, false))
	s.tag.Store(nil)
	a.free = append(a.free, h.Index)
	a.live--
	return nil
}

func (a *arena) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}
