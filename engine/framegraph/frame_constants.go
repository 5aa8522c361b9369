package framegraph

import (
	"fmt"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/go-gl/mathgl/mgl32"
)

// CameraData is the camera state of the view being rendered.
type CameraData struct {
	View           mgl32.Mat4
	Projection     mgl32.Mat4
	ViewProjection mgl32.Mat4
	InvView        mgl32.Mat4
	InvProjection  mgl32.Mat4
	Position       mgl32.Vec3

	FovY   float32
	Aspect float32
	Near   float32
	Far    float32
}

// FrameConstants mirrors the FrameConstants uniform block shared by the view-dependent shaders.
type FrameConstants struct {
	View           mgl32.Mat4
	Projection     mgl32.Mat4
	ViewProjection mgl32.Mat4
	InvView        mgl32.Mat4
	InvProjection  mgl32.Mat4
	CameraPosition mgl32.Vec4

	// ScreenSize is the size in pixels in xy and its reciprocal in zw.
	ScreenSize mgl32.Vec4

	// Time is the seconds since start in x and the frame delta in y.
	Time mgl32.Vec4
}

// FrameConstantsSize is the size in bytes of FrameConstants on the GPU.
const FrameConstantsSize = 368

// Constants builds the uniform block for this camera.
//
// Parameters:
//   - width, height: the render resolution in pixels
//   - time: seconds since start
//   - delta: seconds since the previous frame
//
// Returns:
//   - FrameConstants: the uniform block
func (c CameraData) Constants(width, height uint32, time, delta float64) FrameConstants {
	w, h := float32(max(width, 1)), float32(max(height, 1))
	return FrameConstants{
		View:           c.View,
		Projection:     c.Projection,
		ViewProjection: c.ViewProjection,
		InvView:        c.InvView,
		InvProjection:  c.InvProjection,
		CameraPosition: c.Position.Vec4(1),
		ScreenSize:     mgl32.Vec4{w, h, 1 / w, 1 / h},
		Time:           mgl32.Vec4{float32(time), float32(delta), 0, 0},
	}
}

// Bytes returns the GPU representation of the block.
func (f *FrameConstants) Bytes() []byte {
	return common.StructToBytes(f)
}

// CreateFrameConstantsRing creates one FrameConstants uniform buffer per buffered frame and
// registers them as the FrameConstantsRing.
//
// Parameters:
//   - backend: the backend the buffers are created on
//   - resources: the registry the ring is published in
//   - bufferedFrames: the number of frames in flight
//
// Returns:
//   - error: error if a buffer cannot be created
func CreateFrameConstantsRing(backend renderer.GraphicsBackend, resources *Resources, bufferedFrames int) error {
	handles := make([]renderer.BufferHandle, 0, bufferedFrames)
	for i := 0; i < bufferedFrames; i++ {
		h, err := backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("FrameConstants[%d]", i),
			Size:  FrameConstantsSize,
			Usage: renderer.BufferUsageConstant | renderer.BufferUsageCopyDst,
		})
		if err != nil {
			for _, created := range handles {
				_ = backend.DestroyBuffer(created)
			}
			return fmt.Errorf("failed to create frame constants: %w", err)
		}
		handles = append(handles, h)
	}
	resources.RegisterBufferRing(FrameConstantsRing, handles)
	return nil
}

// UploadFrameConstants writes the block into the ring slot of a buffered frame.
func UploadFrameConstants(backend renderer.GraphicsBackend, resources *Resources, bufferIndex int, constants FrameConstants) error {
	ring, err := resources.BufferRing(FrameConstantsRing)
	if err != nil {
		return err
	}
	if bufferIndex < 0 || bufferIndex >= len(ring) {
		return fmt.Errorf("frame constants slot %d out of range [0, %d)", bufferIndex, len(ring))
	}
	return backend.UploadBuffer(ring[bufferIndex], 0, constants.Bytes())
}

// DiscardFrameConstantsRing destroys the ring created by CreateFrameConstantsRing.
func DiscardFrameConstantsRing(backend renderer.GraphicsBackend, resources *Resources) {
	ring, err := resources.BufferRing(FrameConstantsRing)
	if err != nil {
		return
	}
	for _, h := range ring {
		_ = backend.DestroyBuffer(h)
	}
	resources.RegisterBufferRing(FrameConstantsRing, nil)
}
