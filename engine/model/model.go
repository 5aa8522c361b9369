package model

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/go-gl/mathgl/mgl32"
)

// mesh is the implementation of the Mesh interface.
type mesh struct {
	mu sync.RWMutex

	name      string
	positions []mgl32.Vec3
	bounds    common.BBox
	buffer    renderer.BufferHandle
}

// Mesh is a non-indexed triangle list of float32x3 positions, drawn with the position-only
// vertex layout. Meshes are shared by every ModelInstance that references them.
type Mesh interface {
	// Name retrieves the mesh identifier.
	//
	// Returns:
	//   - string: the mesh name
	Name() string

	// Positions retrieves the CPU copy of the vertex positions.
	//
	// Returns:
	//   - []mgl32.Vec3: three positions per triangle
	Positions() []mgl32.Vec3

	// VertexCount returns the number of vertices drawn per instance.
	//
	// Returns:
	//   - uint32: the vertex count
	VertexCount() uint32

	// Bounds returns the local-space bounding box of the mesh.
	//
	// Returns:
	//   - common.BBox: the bounding box
	Bounds() common.BBox

	// Upload creates the vertex buffer of the mesh. Calling Upload on an uploaded mesh is a no-op.
	//
	// Parameters:
	//   - backend: the backend the vertex buffer is created on
	//
	// Returns:
	//   - error: error if the buffer cannot be created
	Upload(backend renderer.GraphicsBackend) error

	// VertexBuffer returns the vertex buffer created by Upload, or an invalid handle before it.
	//
	// Returns:
	//   - renderer.BufferHandle: the vertex buffer
	VertexBuffer() renderer.BufferHandle

	// Discard destroys the vertex buffer.
	//
	// Parameters:
	//   - backend: the backend the buffer was created on
	Discard(backend renderer.GraphicsBackend)
}

var _ Mesh = &mesh{}

// NewMesh creates a Mesh from triangle list positions.
//
// Parameters:
//   - name: the mesh identifier
//   - positions: three positions per triangle
//   - options: functional options such as WithBounds
//
// Returns:
//   - Mesh: the mesh, not yet uploaded
func NewMesh(name string, positions []mgl32.Vec3, options ...MeshBuilderOption) Mesh {
	m := &mesh{
		name:      name,
		positions: positions,
		bounds:    common.EmptyBBox(),
	}
	for _, p := range positions {
		m.bounds = m.bounds.Extend(p)
	}
	for _, option := range options {
		option(m)
	}
	return m
}

func (m *mesh) Name() string {
	return m.name
}

func (m *mesh) Positions() []mgl32.Vec3 {
	return m.positions
}

func (m *mesh) VertexCount() uint32 {
	return uint32(len(m.positions))
}

func (m *mesh) Bounds() common.BBox {
	return m.bounds
}

func (m *mesh) Upload(backend renderer.GraphicsBackend) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buffer.Valid() {
		return nil
	}
	if len(m.positions) == 0 {
		return fmt.Errorf("mesh %q has no vertices", m.name)
	}
	data := common.SliceToBytes(m.positions)
	buf, err := backend.CreateBuffer(renderer.BufferDesc{
		Name:  m.name,
		Size:  uint64(len(data)),
		Usage: renderer.BufferUsageVertex,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("failed to upload mesh %q: %w", m.name, err)
	}
	m.buffer = buf
	return nil
}

func (m *mesh) VertexBuffer() renderer.BufferHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buffer
}

func (m *mesh) Discard(backend renderer.GraphicsBackend) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buffer.Valid() {
		_ = backend.DestroyBuffer(m.buffer)
		m.buffer = renderer.BufferHandle{}
	}
}
