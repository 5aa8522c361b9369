package light

import (
	"unsafe"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// GlobalLightConstants is the GPU-aligned representation of the global light.
// Matches the WGSL GlobalLight struct of the lights shader.
// Size: 304 bytes (uniform aligned).
type GlobalLightConstants struct {
	Direction        mgl32.Vec4    // offset   0: view space direction towards the light
	Color            mgl32.Vec4    // offset  16: color times intensity
	BacklightColor   mgl32.Vec4    // offset  32
	AmbientColor     mgl32.Vec4    // offset  48
	Params           mgl32.Vec4    // offset  64: x = backlight offset, y = shadow intensity
	CascadeOffset    [4]mgl32.Vec4 // offset  80
	CascadeScale     [4]mgl32.Vec4 // offset 144
	CascadeDistances mgl32.Vec4    // offset 208
	ShadowPartition  mgl32.Vec4    // offset 224
	CSMShadowView    mgl32.Mat4    // offset 240
}

// GlobalLightConstantsSize is the size in bytes of GlobalLightConstants.
const GlobalLightConstantsSize = 304

// Size returns the size of the GlobalLightConstants struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (304)
func (g *GlobalLightConstants) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the constants into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 304-byte buffer ready for GPU upload
func (g *GlobalLightConstants) Marshal() []byte {
	return common.StructToBytes(g)
}

// NewGlobalLightConstants builds the uniform block of a global light for a camera.
//
// Parameters:
//   - l: the global light
//   - view: the world to view transform of the camera
//
// Returns:
//   - GlobalLightConstants: the uniform block; cascade fields are zero unless the light
//     casts shadows this frame
func NewGlobalLightConstants(l Light, view mgl32.Mat4) GlobalLightConstants {
	toLight := l.Forward().Mul(-1)
	back, offset := l.Backlight()
	c := GlobalLightConstants{
		Direction:      view.Mul4x1(toLight.Vec4(0)).Vec3().Normalize().Vec4(0),
		Color:          l.Color().Mul(l.Intensity()).Vec4(1),
		BacklightColor: back.Vec4(1),
		AmbientColor:   l.AmbientColor().Vec4(1),
		Params:         mgl32.Vec4{offset, 0, 0, 0},
	}
	if l.CastShadowsThisFrame() {
		cascades := l.Cascades()
		c.Params[1] = l.ShadowIntensity()
		c.CascadeOffset = cascades.Offsets
		c.CascadeScale = cascades.Scales
		c.CascadeDistances = cascades.Distances
		c.ShadowPartition = cascades.Partition
		c.CSMShadowView = cascades.ShadowView
	}
	return c
}

// LocalLightConstants is the GPU-aligned representation of a spot or point light.
// Matches the WGSL LocalLight struct of the lights shader.
// Size: 224 bytes (std430 aligned).
type LocalLightConstants struct {
	PositionAndInvRange mgl32.Vec4 // offset   0: view space position, w = 1 / range
	Color               mgl32.Vec4 // offset  16: color times intensity
	Forward             mgl32.Vec4 // offset  32: view space forward
	Params              mgl32.Vec4 // offset  48: x = cos outer, y = cos inner
	Transform           mgl32.Mat4 // offset  64: light volume transform
	ShadowProjection    mgl32.Mat4 // offset 128: world to shadow clip
	ShadowOffsetScale   mgl32.Vec4 // offset 192: atlas tile offset in xy, scale in zw
	ShadowParams        mgl32.Vec4 // offset 208: x = shadow intensity, y = shadow slot
}

// LocalLightConstantsSize is the size in bytes of LocalLightConstants.
const LocalLightConstantsSize = 224

// Size returns the size of the LocalLightConstants struct in bytes.
func (g *LocalLightConstants) Size() int {
	return int(unsafe.Sizeof(*g))
}

// NewLocalLightConstants builds the storage record of a spot or point light for a camera.
//
// Parameters:
//   - l: the light
//   - view: the world to view transform of the camera
//
// Returns:
//   - LocalLightConstants: the record
func NewLocalLightConstants(l Light, view mgl32.Mat4) LocalLightConstants {
	rng := l.Range()
	invRange := float32(0)
	if rng > 0 {
		invRange = 1 / rng
	}
	inner, outer := l.ConeAngles()
	pos := view.Mul4x1(l.Position().Vec4(1))
	c := LocalLightConstants{
		PositionAndInvRange: mgl32.Vec4{pos[0], pos[1], pos[2], invRange},
		Color:               l.Color().Mul(l.Intensity()).Vec4(1),
		Forward:             view.Mul4x1(l.Forward().Vec4(0)),
		Params:              mgl32.Vec4{math32.Cos(outer), math32.Cos(inner), 0, 0},
		Transform:           l.VolumeTransform(),
	}
	if l.CastShadowsThisFrame() {
		c.ShadowProjection = l.ShadowViewProjection()
		c.ShadowOffsetScale = l.ShadowBufferUvOffsetAndScale()
		c.ShadowParams = mgl32.Vec4{l.ShadowIntensity(), float32(max(l.ShadowSlot(), 0)), 0, 0}
	}
	return c
}

// MarshalLocalLights packs the records of lights into the storage array read by the light
// volume draws. Record i belongs to lights[i].
//
// Parameters:
//   - lights: the spot or point lights
//   - view: the world to view transform of the camera
//
// Returns:
//   - []byte: 224 bytes per light
func MarshalLocalLights(lights []Light, view mgl32.Mat4) []byte {
	records := make([]LocalLightConstants, len(lights))
	for i, l := range lights {
		records[i] = NewLocalLightConstants(l, view)
	}
	return common.SliceToBytes(records)
}
