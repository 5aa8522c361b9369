package posteffects

import (
	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/go-gl/mathgl/mgl32"
)

// HBAOConstants mirrors the HBAOConstants uniform block of the hbao shader.
type HBAOConstants struct {
	UVToViewA       mgl32.Vec2
	UVToViewB       mgl32.Vec2
	AOResolution    mgl32.Vec2
	InvAOResolution mgl32.Vec2
	FocalLength     mgl32.Vec2
	R               float32
	R2              float32
	NegInvR2        float32
	MaxRadiusPixels float32
	Strength        float32
	TanAngleBias    float32
	NearZ           float32
	NumSteps        float32
	NumDirections   float32
	pad0            float32
}

// HBAOConstantsSize is the size of HBAOConstants on the GPU.
const HBAOConstantsSize = 80

// Bytes returns the GPU representation of the block.
func (c *HBAOConstants) Bytes() []byte {
	return common.StructToBytes(c)
}

// HBAOBlurConstants mirrors the HBAOBlurConstants uniform block of the hbao_blur shader.
type HBAOBlurConstants struct {
	InvResolution      mgl32.Vec2
	BlurFalloff        float32
	BlurDepthThreshold float32
	Resolution         mgl32.Vec2
	pad                mgl32.Vec2
}

// HBAOBlurConstantsSize is the size of HBAOBlurConstants on the GPU.
const HBAOBlurConstantsSize = 32

func (c *HBAOBlurConstants) Bytes() []byte {
	return common.StructToBytes(c)
}

// BlurConstants mirrors the BlurConstants block of the separable blur shaders.
type BlurConstants struct {
	// Size is the texture size in xy and its reciprocal in zw.
	Size mgl32.Vec4

	// LayerOffset holds the first array layer of the dispatch in x.
	LayerOffset [4]uint32
}

// BlurConstantsSize is the size of BlurConstants on the GPU.
const BlurConstantsSize = 32

// NewBlurConstants returns the blur block for a width x height image.
func NewBlurConstants(width, height, firstLayer uint32) BlurConstants {
	w, h := float32(max(width, 1)), float32(max(height, 1))
	return BlurConstants{
		Size:        mgl32.Vec4{w, h, 1 / w, 1 / h},
		LayerOffset: [4]uint32{firstLayer},
	}
}

func (c *BlurConstants) Bytes() []byte {
	return common.StructToBytes(c)
}

// SSRConstants mirrors the SSRConstants uniform block of the ssr shader.
type SSRConstants struct {
	ViewToTextureSpace mgl32.Mat4

	// Trace holds the maximum step count, the pixel stride, the depth thickness and the
	// maximum view-space distance.
	Trace mgl32.Vec4
}

// SSRConstantsSize is the size of SSRConstants on the GPU.
const SSRConstantsSize = 80

func (c *SSRConstants) Bytes() []byte {
	return common.StructToBytes(c)
}

// TonemapConstants mirrors the TonemapConstants uniform block of the tonemap shader.
type TonemapConstants struct {
	// TimeAndSpeed holds the frame delta in x and the adaptation speed in y.
	TimeAndSpeed mgl32.Vec4
}

// TonemapConstantsSize is the size of TonemapConstants on the GPU.
const TonemapConstantsSize = 16

func (c *TonemapConstants) Bytes() []byte {
	return common.StructToBytes(c)
}

// Fog limits shared with the fog shader.
const (
	MaxFogVolumes        = 128
	MaxVolumesPerCluster = 16
)

// FogBox is a box fog volume in view space.
type FogBox struct {
	BBoxMin      mgl32.Vec4
	BBoxMax      mgl32.Vec4
	InvTransform mgl32.Mat4

	// Absorption holds the absorption color in xyz and the turbidity in w.
	Absorption mgl32.Vec4
	Falloff    float32
	pad0       [3]float32
	pad1       [4]float32
}

// FogSphere is a sphere fog volume in view space.
type FogSphere struct {
	// PositionRadius holds the view-space center in xyz and the radius in w.
	PositionRadius mgl32.Vec4
	Absorption     mgl32.Vec4
	Falloff        float32
	pad0           [3]float32
	pad1           [4]float32
}

// FogLists mirrors the FogLists storage buffer of the fog shader.
type FogLists struct {
	Boxes   [MaxFogVolumes]FogBox
	Spheres [MaxFogVolumes]FogSphere
}

// Sizes of the fog structures on the GPU.
const (
	FogBoxSize    = 144
	FogSphereSize = 64
	FogListsSize  = MaxFogVolumes * (FogBoxSize + FogSphereSize)
)

func (l *FogLists) Bytes() []byte {
	return common.StructToBytes(l)
}

// FogUniforms mirrors the FogUniforms uniform block of the fog shader.
type FogUniforms struct {
	NumFogBoxes          uint32
	NumFogSpheres        uint32
	NumVolumeFogClusters uint32
	DownscaleFog         uint32

	// GlobalAbsorption holds the global absorption color in xyz and the turbidity in w.
	GlobalAbsorption mgl32.Vec4

	// ClusterDims holds the cluster grid size in xyz and the cluster tile size in pixels in w.
	ClusterDims [4]uint32
	ZNear       float32
	ZFar        float32
	pad         mgl32.Vec2
}

// FogUniformsSize is the size of FogUniforms on the GPU.
const FogUniformsSize = 64

func (u *FogUniforms) Bytes() []byte {
	return common.StructToBytes(u)
}

// ClusterAABB is the view-space bounding box of one froxel cluster.
type ClusterAABB struct {
	Min mgl32.Vec4
	Max mgl32.Vec4
}

// Sizes of the cluster structures on the GPU.
const (
	ClusterAABBSize     = 32
	ClusterFogIndexSize = 4 + 4*MaxVolumesPerCluster
)
