package renderer

import (
	"errors"

	"github.com/Carmen-Shannon/nebula-go/common"
)

// BackendType identifies the GraphicsBackend implementation.
type BackendType int

const (
	// BackendTypeWGPU selects the WebGPU backend.
	BackendTypeWGPU BackendType = iota

	// BackendTypeRecording selects the headless backend that records commands instead of executing them.
	BackendTypeRecording
)

// ParseBackendType maps the configuration names "wgpu" and "recording" to a BackendType.
func ParseBackendType(s string) (BackendType, error) {
	switch s {
	case "wgpu", "":
		return BackendTypeWGPU, nil
	case "recording", "headless":
		return BackendTypeRecording, nil
	}
	return 0, errors.New("unknown backend " + s)
}

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting. Eliminates tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	PresentModeUncapped
)

// ParsePresentMode maps the configuration names "vsync" and "uncapped" to a PresentMode.
func ParsePresentMode(s string) (PresentMode, error) {
	switch s {
	case "vsync", "":
		return PresentModeVSync, nil
	case "uncapped":
		return PresentModeUncapped, nil
	}
	return 0, errors.New("unknown present mode " + s)
}

// SamplerKind selects one of the fixed samplers every backend provides.
type SamplerKind int

const (
	SamplerLinearClamp SamplerKind = iota
	SamplerPointClamp
	SamplerComparison
)

var (
	// ErrNotInFrame is reported when a command is issued outside BeginFrame/EndFrame.
	ErrNotInFrame = errors.New("command issued outside of a frame")

	// ErrNoProgram is reported when a draw or dispatch is issued without a bound program.
	ErrNoProgram = errors.New("no shader program bound")

	// ErrUploadTooLarge is returned when an upload exceeds BufferUploadMaxSize.
	ErrUploadTooLarge = errors.New("upload exceeds maximum size")

	// ErrOutOfBounds is returned when a buffer range lies outside the buffer.
	ErrOutOfBounds = errors.New("range out of bounds")
)

// GraphicsBackend is the capability surface the renderer core records GPU work through.
//
// Resource calls return errors immediately. Command calls are encoded into the current frame;
// the first command error is kept and returned by EndFrame, the way a GPU command encoder
// reports validation failures on finish.
type GraphicsBackend interface {
	// CreateBuffer creates a GPU buffer.
	//
	// Parameters:
	//   - desc: size, usage and optional initial contents
	//
	// Returns:
	//   - BufferHandle: the new buffer
	//   - error: an error if the description is invalid or allocation fails
	CreateBuffer(desc BufferDesc) (BufferHandle, error)

	// DestroyBuffer releases a buffer. The handle becomes stale.
	DestroyBuffer(h BufferHandle) error

	// UploadBuffer copies data from the CPU into a buffer at offset.
	//
	// Parameters:
	//   - h: the destination buffer
	//   - offset: byte offset into the buffer
	//   - data: bytes to copy; at most BufferUploadMaxSize
	//
	// Returns:
	//   - error: ErrUploadTooLarge, ErrOutOfBounds or common.ErrInvalidHandle
	UploadBuffer(h BufferHandle, offset uint64, data []byte) error

	// BufferUploadMaxSize returns the largest single upload UploadBuffer accepts.
	BufferUploadMaxSize() uint64

	// CreateTexture creates a GPU texture in desc.InitialLayout.
	//
	// Parameters:
	//   - desc: format, size, layers and usage
	//
	// Returns:
	//   - TextureHandle: the new texture
	//   - error: an error if the description is invalid or allocation fails
	CreateTexture(desc TextureDesc) (TextureHandle, error)

	// DestroyTexture releases a texture. The handle becomes stale.
	DestroyTexture(h TextureHandle) error

	// TextureDimensions returns the width, height and layer count of a texture.
	TextureDimensions(h TextureHandle) (common.Dimensions, error)

	// CreateShaderProgram compiles one variation of a library shader.
	//
	// Parameters:
	//   - desc: the shader name, feature mask and fixed-function state
	//
	// Returns:
	//   - ShaderProgramHandle: the compiled program
	//   - error: an error if the shader is unknown or fails to compile
	CreateShaderProgram(desc ShaderProgramDesc) (ShaderProgramHandle, error)

	// DestroyShaderProgram releases a program.
	DestroyShaderProgram(h ShaderProgramHandle) error

	// CreateResourceTable creates an empty resource table for one group of a program.
	//
	// Parameters:
	//   - desc: the program and group the table is laid out for
	//
	// Returns:
	//   - ResourceTableHandle: the new table
	//   - error: an error if the program is invalid or has no such group
	CreateResourceTable(desc ResourceTableDesc) (ResourceTableHandle, error)

	// ResourceTableSetTexture binds a sampled texture.
	ResourceTableSetTexture(table ResourceTableHandle, binding int, tex TextureHandle) error

	// ResourceTableSetRWTexture binds a storage texture at one mip level.
	ResourceTableSetRWTexture(table ResourceTableHandle, binding int, tex TextureHandle, mip uint32) error

	// ResourceTableSetBuffer binds a read-only storage buffer.
	ResourceTableSetBuffer(table ResourceTableHandle, binding int, buf BufferHandle) error

	// ResourceTableSetRWBuffer binds a read-write storage buffer.
	ResourceTableSetRWBuffer(table ResourceTableHandle, binding int, buf BufferHandle) error

	// ResourceTableSetConstantBuffer binds a range of a buffer as uniform data.
	//
	// Parameters:
	//   - table: the table to modify
	//   - binding: the binding index in the table's group
	//   - buf: the buffer
	//   - offset: byte offset of the range
	//   - size: byte size of the range; 0 binds to the end of the buffer
	//
	// Returns:
	//   - error: an error if a handle is invalid or the binding does not exist
	ResourceTableSetConstantBuffer(table ResourceTableHandle, binding int, buf BufferHandle, offset, size uint64) error

	// ResourceTableSetSampler binds one of the fixed samplers.
	ResourceTableSetSampler(table ResourceTableHandle, binding int, kind SamplerKind) error

	// CommitResourceTable makes the bindings set so far usable by SetResourceTable.
	//
	// Returns:
	//   - error: an error if a binding required by the program is missing
	CommitResourceTable(table ResourceTableHandle) error

	// DestroyResourceTable releases a table.
	DestroyResourceTable(table ResourceTableHandle) error

	// Resize recreates the backbuffer for a new surface size.
	Resize(width, height uint32) error

	// Backbuffer returns the texture presented at EndFrame.
	Backbuffer() TextureHandle

	// BeginFrame starts recording a frame.
	//
	// Parameters:
	//   - frameIndex: monotonically increasing frame counter
	//   - bufferIndex: frameIndex modulo the number of buffered frames
	//
	// Returns:
	//   - error: an error if the swapchain image cannot be acquired
	BeginFrame(frameIndex uint64, bufferIndex int) error

	// EndFrame submits the frame and presents the backbuffer.
	//
	// Returns:
	//   - error: the first error recorded by a command during the frame
	EndFrame() error

	// BeginPass starts a render pass on the given targets.
	BeginPass(desc PassDesc)

	// EndPass ends the current render pass.
	EndPass()

	// SetShaderProgram binds a program for subsequent draws or dispatches.
	SetShaderProgram(h ShaderProgramHandle)

	// SetResourceTable binds a committed table at a group index.
	SetResourceTable(table ResourceTableHandle, group int)

	// SetVertexBuffer binds a vertex buffer at a byte offset.
	SetVertexBuffer(buf BufferHandle, offset uint64)

	// SetPrimitiveTopology overrides the topology of the bound graphics program.
	SetPrimitiveTopology(t PrimitiveTopology)

	// SetViewport sets the viewport of the current pass.
	SetViewport(v Viewport)

	// SetScissor sets the scissor rectangle of the current pass.
	SetScissor(r common.Rect)

	// Draw draws vertexCount vertices starting at firstVertex.
	Draw(vertexCount, firstVertex uint32)

	// DrawInstanced draws instanceCount instances of vertexCount vertices.
	DrawInstanced(vertexCount, instanceCount, firstVertex, firstInstance uint32)

	// Compute dispatches x*y*z workgroups of the bound compute program.
	Compute(x, y, z uint32)

	// InsertBarrier records a pipeline barrier.
	InsertBarrier(b Barrier)

	// Blit copies src into dst with filtering, scaling to dst's size.
	Blit(src, dst TextureHandle)

	// CopyTexture copies a region of src to dst at (dstX, dstY) without scaling.
	CopyTexture(src TextureHandle, srcRect common.Rect, dst TextureHandle, dstX, dstY int32)

	// CopyBuffer copies size bytes between buffers.
	CopyBuffer(src BufferHandle, srcOffset uint64, dst BufferHandle, dstOffset uint64, size uint64)

	// BeginMarker opens a named debug region.
	BeginMarker(name string)

	// EndMarker closes the innermost debug region.
	EndMarker()

	// Close releases every resource the backend owns.
	Close() error
}

// UploadChunked writes data into buf in pieces no larger than the backend's upload limit.
//
// Parameters:
//   - backend: the backend owning buf
//   - buf: the destination buffer
//   - offset: byte offset of the first piece
//   - data: the bytes to write
//
// Returns:
//   - error: the first upload error
func UploadChunked(backend GraphicsBackend, buf BufferHandle, offset uint64, data []byte) error {
	limit := backend.BufferUploadMaxSize()
	for start := uint64(0); start < uint64(len(data)); start += limit {
		end := min(start+limit, uint64(len(data)))
		if err := backend.UploadBuffer(buf, offset+start, data[start:end]); err != nil {
			return err
		}
	}
	return nil
}
