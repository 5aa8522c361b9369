package ringbuffer

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResizeDestroysOldInstances(t *testing.T) {
	var destroyed []int
	r := New[int]()
	require.NoError(t, r.Resize(3, func(i int) (int, error) { return i * 10, nil }, func(v int) { destroyed = append(destroyed, v) }))
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 20, r.Get(2))

	require.NoError(t, r.Resize(2, func(i int) (int, error) { return i + 100, nil }, nil))
	assert.Equal(t, []int{0, 10, 20}, destroyed)
	assert.Equal(t, 101, r.Get(1))

	r.Discard()
	assert.Equal(t, 0, r.Len())
	assert.Panics(t, func() { r.Get(0) })
}

func TestResizeRollsBackOnError(t *testing.T) {
	var destroyed int
	r := New[int]()
	err := r.Resize(3, func(i int) (int, error) {
		if i == 2 {
			return 0, errors.New("boom")
		}
		return i, nil
	}, func(int) { destroyed++ })
	require.Error(t, err)
	assert.Equal(t, 2, destroyed)
	assert.Equal(t, 0, r.Len())
	assert.Error(t, r.Resize(0, nil, nil))
}

// TestRingIsolatesFramesInFlight writes random data into per-frame constant buffers over many
// frames and checks the recording backend never reports a write into a slot the GPU may still read.
func TestRingIsolatesFramesInFlight(t *testing.T) {
	const buffered = 3
	lib, err := shader.NewLibrary(shader.NewFeatures())
	require.NoError(t, err)
	b, err := renderer.NewRecordingBackend(lib, renderer.WithFramesInFlight(buffered))
	require.NoError(t, err)
	prog, err := b.CreateShaderProgram(renderer.ShaderProgramDesc{Shader: shader.ProgramIm3d})
	require.NoError(t, err)

	type slot struct {
		buf   renderer.BufferHandle
		table renderer.ResourceTableHandle
	}
	ring := New[slot]()
	require.NoError(t, ring.Resize(buffered, func(i int) (slot, error) {
		buf, err := b.CreateBuffer(renderer.BufferDesc{Name: "frame", Size: 256, Usage: renderer.BufferUsageConstant})
		if err != nil {
			return slot{}, err
		}
		table, err := b.CreateResourceTable(renderer.ResourceTableDesc{Name: "frame", Program: prog})
		if err != nil {
			return slot{}, err
		}
		if err := b.ResourceTableSetConstantBuffer(table, 0, buf, 0, 0); err != nil {
			return slot{}, err
		}
		return slot{buf: buf, table: table}, b.CommitResourceTable(table)
	}, func(s slot) {
		_ = b.DestroyResourceTable(s.table)
		_ = b.DestroyBuffer(s.buf)
	}))

	rng := rand.New(rand.NewSource(7))
	written := make([][]byte, buffered)
	for frame := uint64(1); frame <= 50; frame++ {
		idx := int(frame % buffered)
		s := ring.Get(idx)
		data := make([]byte, 256)
		rng.Read(data)
		written[idx] = data

		require.NoError(t, b.BeginFrame(frame, idx))
		require.NoError(t, b.UploadBuffer(s.buf, 0, data))
		b.SetShaderProgram(prog)
		b.SetResourceTable(s.table, 0)
		require.NoError(t, b.EndFrame())

		for j := 0; j < buffered; j++ {
			if written[j] == nil {
				continue
			}
			got, err := b.BufferContents(ring.Get(j).buf)
			require.NoError(t, err)
			assert.Equal(t, written[j], got, "slot %d was disturbed by frame %d", j, frame)
		}
	}
	assert.Empty(t, b.Hazards())
}

func TestUnderProvisionedRingIsDetected(t *testing.T) {
	lib, err := shader.NewLibrary(shader.NewFeatures())
	require.NoError(t, err)
	b, err := renderer.NewRecordingBackend(lib, renderer.WithFramesInFlight(3))
	require.NoError(t, err)
	prog, err := b.CreateShaderProgram(renderer.ShaderProgramDesc{Shader: shader.ProgramIm3d})
	require.NoError(t, err)

	ring := New[renderer.BufferHandle]()
	require.NoError(t, ring.Resize(1, func(int) (renderer.BufferHandle, error) {
		return b.CreateBuffer(renderer.BufferDesc{Name: "frame", Size: 64, Usage: renderer.BufferUsageConstant})
	}, nil))
	table, err := b.CreateResourceTable(renderer.ResourceTableDesc{Name: "frame", Program: prog})
	require.NoError(t, err)
	require.NoError(t, b.ResourceTableSetConstantBuffer(table, 0, ring.Get(0), 0, 0))
	require.NoError(t, b.CommitResourceTable(table))

	for frame := uint64(1); frame <= 2; frame++ {
		require.NoError(t, b.BeginFrame(frame, 0))
		require.NoError(t, b.UploadBuffer(ring.Get(0), 0, []byte{byte(frame)}))
		b.SetShaderProgram(prog)
		b.SetResourceTable(table, 0)
		require.NoError(t, b.EndFrame())
	}
	assert.Len(t, b.Hazards(), 1)
}
