package resource

import (
	"errors"
	"sync"
)

// ErrClosed is returned when inserting into a closed table.
var ErrClosed = errors.New("resource table closed")

type slot struct {
	value  any
	typeID uint32
	gen    uint32
	live   bool
}

// slots is the generation-checked storage behind a Table. Freed slots are
// reused; their generation advances so old handles stop resolving.
type slots struct {
	mu     sync.RWMutex
	items  []slot
	free   []uint32
	live   int
	closed bool
}

func newSlots() *slots {
	return &slots{
		items: make([]slot, 0, 64),
		free:  make([]uint32, 0, 16),
	}
}

func (s *slots) put(typeID uint32, value any) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	s.live++

	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		it := &s.items[idx]
		it.value, it.typeID, it.live = value, typeID, true
		return makeHandle(idx, it.gen), nil
	}

	s.items = append(s.items, slot{value: value, typeID: typeID, live: true})
	return makeHandle(uint32(len(s.items)-1), 0), nil
}

// at returns the live slot for h. Callers hold s.mu.
func (s *slots) at(h Handle) *slot {
	idx, ok := h.index()
	if !ok || int(idx) >= len(s.items) {
		return nil
	}
	it := &s.items[idx]
	if !it.live || it.gen != h.generation() {
		return nil
	}
	return it
}

func (s *slots) get(h Handle) (value any, typeID uint32, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it := s.at(h)
	if it == nil {
		return nil, 0, false
	}
	return it.value, it.typeID, true
}

// take frees the slot of h and returns its contents. Only the first call
// for a handle succeeds.
func (s *slots) take(h Handle) (value any, typeID uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.at(h)
	if it == nil {
		return nil, 0, false
	}
	value, typeID = it.value, it.typeID
	it.value, it.live = nil, false
	it.gen++
	s.live--
	idx, _ := h.index()
	s.free = append(s.free, idx)
	return value, typeID, true
}

func (s *slots) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.items, s.free, s.live = nil, nil, 0
}

func (s *slots) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// handles lists the live handles, all of them or only those of typeID.
func (s *slots) handles(typeID uint32, all bool) []Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Handle, 0, s.live)
	for i, it := range s.items {
		if it.live && (all || it.typeID == typeID) {
			out = append(out, makeHandle(uint32(i), it.gen))
		}
	}
	return out
}
