package ringbuffer

import (
	"fmt"
)

// Ring holds one instance of a per-frame resource for every buffered frame. The instance for
// buffered frame i is only ever written by the CPU while frame i is being recorded, so it never
// aliases data the GPU may still be reading for another frame in flight.
type Ring[T any] struct {
	instances []T
	destroy   func(T)
}

// New creates an empty Ring. Call Resize before Get.
func New[T any]() *Ring[T] {
	return &Ring[T]{}
}

// Resize destroys the current instances and creates n new ones.
// n must match the buffering depth of the presentation layer; fewer slots than frames in flight
// would let the CPU overwrite data the GPU is still reading.
//
// Parameters:
//   - n: the number of buffered frames
//   - create: called once per slot to create its instance
//   - destroy: called for each instance when it is replaced or discarded, may be nil
//
// Returns:
//   - error: the first create error; instances created before it are destroyed
func (r *Ring[T]) Resize(n int, create func(i int) (T, error), destroy func(T)) error {
	if n <= 0 {
		return fmt.Errorf("ring size must be positive, got %d", n)
	}
	r.Discard()

	instances := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v, err := create(i)
		if err != nil {
			if destroy != nil {
				for _, created := range instances {
					destroy(created)
				}
			}
			return fmt.Errorf("failed to create ring slot %d: %w", i, err)
		}
		instances = append(instances, v)
	}
	r.instances = instances
	r.destroy = destroy
	return nil
}

// Get returns the instance for a buffered frame index. It panics if the index is out of range.
func (r *Ring[T]) Get(bufferIndex int) T {
	if bufferIndex < 0 || bufferIndex >= len(r.instances) {
		panic(fmt.Sprintf("ring buffer index %d out of range [0, %d)", bufferIndex, len(r.instances)))
	}
	return r.instances[bufferIndex]
}

// Set replaces the instance of one slot without destroying the previous value.
func (r *Ring[T]) Set(bufferIndex int, v T) {
	if bufferIndex < 0 || bufferIndex >= len(r.instances) {
		panic(fmt.Sprintf("ring buffer index %d out of range [0, %d)", bufferIndex, len(r.instances)))
	}
	r.instances[bufferIndex] = v
}

// Len returns the number of slots.
func (r *Ring[T]) Len() int {
	return len(r.instances)
}

// Each calls fn for every slot in index order.
func (r *Ring[T]) Each(fn func(i int, v T)) {
	for i, v := range r.instances {
		fn(i, v)
	}
}

// Discard destroys every instance and empties the ring.
func (r *Ring[T]) Discard() {
	if r.destroy != nil {
		for _, v := range r.instances {
			r.destroy(v)
		}
	}
	r.instances = nil
	r.destroy = nil
}
