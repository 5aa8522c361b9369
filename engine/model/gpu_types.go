package model

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// GPUInstance is the per-instance record of the geometry pass (the WGSL Instance struct).
// Size: 80 bytes (std430 aligned, no padding required).
type GPUInstance struct {
	Transform mgl32.Mat4 // offset  0: local-to-world transform (64 bytes)
	Color     mgl32.Vec4 // offset 64: albedo (16 bytes)
}

// GPUInstanceSize is the size in bytes of GPUInstance.
const GPUInstanceSize = 80

// Size returns the size of the GPUInstance struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUInstance) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUInstance into a little-endian byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 80-byte buffer ready for GPU upload.
func (g *GPUInstance) Marshal() []byte {
	buf := make([]byte, GPUInstanceSize)
	for i, v := range g.Transform {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	for i, v := range g.Color {
		binary.LittleEndian.PutUint32(buf[64+i*4:], math.Float32bits(v))
	}
	return buf
}

// GPUInstance returns the geometry pass record of the instance.
func (i *ModelInstance) GPUInstance() GPUInstance {
	return GPUInstance{Transform: i.Transform, Color: i.Color}
}

// MarshalTransforms packs the transforms of instances into the mat4 array read by the shadow pass.
//
// Parameters:
//   - instances: the instances to pack
//
// Returns:
//   - []byte: 64 bytes per instance
func MarshalTransforms(instances []*ModelInstance) []byte {
	buf := make([]byte, 64*len(instances))
	for n, inst := range instances {
		for i, v := range inst.Transform {
			binary.LittleEndian.PutUint32(buf[n*64+i*4:], math.Float32bits(v))
		}
	}
	return buf
}
