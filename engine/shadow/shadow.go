// Package shadow decides which lights cast shadows each frame and renders their shadow maps:
// a tiled atlas for spot lights, a cube face array for point lights and cascaded shadow maps
// for the global light. The shadow maps hold depth moments (depth and depth squared) that the
// light server filters with Chebyshev's inequality.
package shadow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/nebula-go/common"
)

// Shadow casting budget and atlas layout.
const (
	MaxNumShadowSpotLights  = 16
	MaxNumShadowPointLights = 4
	NumShadowCastingLights  = MaxNumShadowSpotLights + MaxNumShadowPointLights + 1

	ShadowLightsPerRow    = 4
	ShadowLightsPerColumn = 4

	// SplitsPerRow and SplitsPerColumn split the global shadow map budget into one layer per cascade.
	SplitsPerRow    = 2
	SplitsPerColumn = 2

	// ShadowAtlasBorderPixels keeps bilinear filtering from reading a neighbouring atlas tile.
	ShadowAtlasBorderPixels = 2

	NumCascades = SplitsPerRow * SplitsPerColumn

	// CubeFaces is the number of shadow map layers of one point light.
	CubeFaces = 6
)

// ErrNotOpen is returned or raised when the shadow server is used while closed.
var ErrNotOpen = errors.New("shadow server is not open")

// SlotID is an index into the shadow slot pool.
type SlotID int

// InvalidSlot is the SlotID of a light without a shadow slot.
const InvalidSlot SlotID = -1

// SlotPool hands out a fixed number of shadow slots. Slots are released all at once by Reset,
// at the end of every frame.
type SlotPool struct {
	mu       sync.Mutex
	capacity int
	next     int
}

// NewSlotPool creates a pool of capacity slots.
//
// Parameters:
//   - capacity: the number of slots, usually NumShadowCastingLights
//
// Returns:
//   - *SlotPool: the pool with every slot free
func NewSlotPool(capacity int) *SlotPool {
	return &SlotPool{capacity: max(capacity, 0)}
}

// Alloc takes the lowest free slot.
//
// Returns:
//   - SlotID: the slot, InvalidSlot on failure
//   - error: an error wrapping common.ErrCapacityExceeded when every slot is taken
func (p *SlotPool) Alloc() (SlotID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.next >= p.capacity {
		return InvalidSlot, fmt.Errorf("shadow slot pool of %d: %w", p.capacity, common.ErrCapacityExceeded)
	}
	id := SlotID(p.next)
	p.next++
	return id, nil
}

// Reset frees every slot.
func (p *SlotPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = 0
}

// Capacity returns the number of slots of the pool.
func (p *SlotPool) Capacity() int {
	return p.capacity
}

// InUse returns the number of allocated slots.
func (p *SlotPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}
