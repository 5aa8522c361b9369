package shadow

import (
	"testing"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotPoolCapacity(t *testing.T) {
	p := NewSlotPool(NumShadowCastingLights)
	for i := 0; i < NumShadowCastingLights; i++ {
		id, err := p.Alloc()
		require.NoError(t, err)
		assert.Equal(t, SlotID(i), id)
	}
	assert.Equal(t, NumShadowCastingLights, p.InUse())

	id, err := p.Alloc()
	assert.ErrorIs(t, err, common.ErrCapacityExceeded)
	assert.Equal(t, InvalidSlot, id)

	p.Reset()
	assert.Zero(t, p.InUse())
	id, err = p.Alloc()
	require.NoError(t, err)
	assert.Equal(t, SlotID(0), id)
}

func TestSlotPoolNegativeCapacity(t *testing.T) {
	p := NewSlotPool(-3)
	assert.Zero(t, p.Capacity())
	_, err := p.Alloc()
	assert.ErrorIs(t, err, common.ErrCapacityExceeded)
}
