package shadow

import (
	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/go-gl/mathgl/mgl32"
)

// ShadowViewConstants mirrors the ShadowView uniform block of the shadow shader.
// Size: 80 bytes.
type ShadowViewConstants struct {
	ViewProjection mgl32.Mat4 // offset  0
	LightPosition  mgl32.Vec4 // offset 64: xyz = world position, w = 1 / range
}

// ShadowViewConstantsSize is the size of ShadowViewConstants on the GPU.
const ShadowViewConstantsSize = 80

// ShadowViewStride is the distance between two ShadowViewConstants records in a views buffer,
// the minimum uniform buffer offset alignment of the backends.
const ShadowViewStride = 256

// InstanceTransformSize is the size of one caster transform in an instances buffer.
const InstanceTransformSize = 64

// NewShadowViewConstants builds the view block of one shadow map view.
//
// Parameters:
//   - viewProjection: the world to clip transform of the view
//   - position: the world position of the light
//   - lightRange: the range of the light; 0 for the global light
//
// Returns:
//   - ShadowViewConstants: the block
func NewShadowViewConstants(viewProjection mgl32.Mat4, position mgl32.Vec3, lightRange float32) ShadowViewConstants {
	var inv float32
	if lightRange > 0 {
		inv = 1 / lightRange
	}
	return ShadowViewConstants{ViewProjection: viewProjection, LightPosition: position.Vec4(inv)}
}

func (c *ShadowViewConstants) Bytes() []byte {
	return common.StructToBytes(c)
}

// marshalViews lays out views at ShadowViewStride.
func marshalViews(views []ShadowViewConstants) []byte {
	out := make([]byte, len(views)*ShadowViewStride)
	for i := range views {
		copy(out[i*ShadowViewStride:], views[i].Bytes())
	}
	return out
}
