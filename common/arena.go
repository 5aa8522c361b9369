package common

import (
	"errors"
	"sync"
)

// ErrInvalidHandle is returned when a handle does not refer to a live arena slot,
// either because it was never allocated or because its slot has been freed and reused.
var ErrInvalidHandle = errors.New("invalid or stale handle")

// ErrCapacityExceeded is returned when a fixed-size pool has no free entry left.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// Handle is an opaque generation-checked index into an Arena.
// The zero Handle is never valid.
type Handle struct {
	index      uint32
	generation uint32
}

// Valid reports whether the handle was produced by an Arena. It does not check liveness.
func (h Handle) Valid() bool {
	return h.generation != 0
}

// Index returns the slot index of the handle.
func (h Handle) Index() uint32 {
	return h.index
}

// Generation returns the generation counter of the handle.
func (h Handle) Generation() uint32 {
	return h.generation
}

type arenaSlot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// Arena stores values behind generation-checked handles. Freed slots are reused and their
// generation is bumped so stale handles are rejected.
type Arena[T any] struct {
	mu    sync.RWMutex
	slots []arenaSlot[T]
	free  []uint32
	count int
}

// NewArena creates an empty Arena.
//
// Returns:
//   - *Arena[T]: the arena
func NewArena[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Alloc stores v and returns a handle to it.
//
// Parameters:
//   - v: the value to store
//
// Returns:
//   - Handle: the handle for the stored value
func (a *Arena[T]) Alloc(v T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot[T]{})
	}
	s := &a.slots[idx]
	s.generation++
	s.value = v
	s.live = true
	a.count++
	return Handle{index: idx, generation: s.generation}
}

// Get returns the value behind h.
//
// Parameters:
//   - h: the handle to look up
//
// Returns:
//   - T: the stored value, or the zero value
//   - bool: false if h is not live
func (a *Arena[T]) Get(h Handle) (T, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var zero T
	if !a.liveLocked(h) {
		return zero, false
	}
	return a.slots[h.index].value, true
}

// Set replaces the value behind a live handle.
func (a *Arena[T]) Set(h Handle, v T) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.liveLocked(h) {
		return ErrInvalidHandle
	}
	a.slots[h.index].value = v
	return nil
}

// Free releases the slot behind h for reuse.
//
// Parameters:
//   - h: the handle to free
//
// Returns:
//   - error: ErrInvalidHandle if h is not live
func (a *Arena[T]) Free(h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.liveLocked(h) {
		return ErrInvalidHandle
	}
	var zero T
	s := &a.slots[h.index]
	s.value = zero
	s.live = false
	a.free = append(a.free, h.index)
	a.count--
	return nil
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.count
}

// Each calls fn for every live value in slot order.
func (a *Arena[T]) Each(fn func(h Handle, v T)) {
	a.mu.RLock()
	live := make([]Handle, 0, a.count)
	values := make([]T, 0, a.count)
	for i, s := range a.slots {
		if s.live {
			live = append(live, Handle{index: uint32(i), generation: s.generation})
			values = append(values, s.value)
		}
	}
	a.mu.RUnlock()

	for i, h := range live {
		fn(h, values[i])
	}
}

func (a *Arena[T]) liveLocked(h Handle) bool {
	if !h.Valid() || int(h.index) >= len(a.slots) {
		return false
	}
	s := a.slots[h.index]
	return s.live && s.generation == h.generation
}
