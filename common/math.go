package common

import (
	"unsafe"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}

// StructToBytes reinterprets a pointer to a struct as a raw byte slice using unsafe.
// The returned slice has length equal to the struct's size in memory.
//
// Parameters:
//   - v: pointer to the struct to reinterpret
//
// Returns:
//   - []byte: byte slice view of the struct's memory
func StructToBytes[T any](v *T) []byte {
	size := unsafe.Sizeof(*v)
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), int(size))
}

// Perspective creates a right-handed perspective projection matrix that maps
// view-space depth into the WebGPU clip range [0, 1].
//
// Parameters:
//   - fovY: vertical field of view in radians
//   - aspect: viewport aspect ratio (width/height)
//   - near: near clipping plane distance (must be > 0)
//   - far: far clipping plane distance (must be > near)
//
// Returns:
//   - mgl32.Mat4: the projection matrix (column-major)
func Perspective(fovY, aspect, near, far float32) mgl32.Mat4 {
	f := 1.0 / math32.Tan(fovY/2.0)
	var out mgl32.Mat4
	out[0] = f / aspect
	out[5] = f
	out[10] = far / (near - far)
	out[11] = -1.0
	out[14] = (near * far) / (near - far)
	return out
}

// OrthoOffCenter creates a right-handed off-center orthographic projection. near and far
// are distances along the -Z view axis and are mapped to clip depth 0 and 1.
//
// Parameters:
//   - left, right: view-space x extents
//   - bottom, top: view-space y extents
//   - near, far: distances along -Z mapped to depth 0 and 1
//
// Returns:
//   - mgl32.Mat4: the projection matrix (column-major)
func OrthoOffCenter(left, right, bottom, top, near, far float32) mgl32.Mat4 {
	out := mgl32.Ident4()
	out[0] = 2 / (right - left)
	out[5] = 2 / (top - bottom)
	out[10] = 1 / (near - far)
	out[12] = (left + right) / (left - right)
	out[13] = (top + bottom) / (bottom - top)
	out[14] = near / (near - far)
	return out
}

// TransformPoint transforms a point by m including the perspective divide.
func TransformPoint(m mgl32.Mat4, p mgl32.Vec3) mgl32.Vec3 {
	v := m.Mul4x1(p.Vec4(1))
	if v[3] != 0 && v[3] != 1 {
		return v.Vec3().Mul(1 / v[3])
	}
	return v.Vec3()
}

// IsPointInside reports whether the world-space point p lies inside the clip volume of
// the world-to-clip transform m, using the WebGPU depth convention.
//
// Parameters:
//   - p: the world-space point
//   - m: a view-projection matrix
//
// Returns:
//   - bool: true if the point projects inside the clip volume
func IsPointInside(p mgl32.Vec3, m mgl32.Mat4) bool {
	c := m.Mul4x1(p.Vec4(1))
	w := c[3]
	if w <= 0 {
		return false
	}
	return c[0] >= -w && c[0] <= w &&
		c[1] >= -w && c[1] <= w &&
		c[2] >= 0 && c[2] <= w
}

// Position returns the translation column of a transform.
func Position(m mgl32.Mat4) mgl32.Vec3 {
	return mgl32.Vec3{m[12], m[13], m[14]}
}

// XAxis returns the first basis column of a transform, including its scale.
func XAxis(m mgl32.Mat4) mgl32.Vec3 {
	return mgl32.Vec3{m[0], m[1], m[2]}
}

// YAxis returns the second basis column of a transform, including its scale.
func YAxis(m mgl32.Mat4) mgl32.Vec3 {
	return mgl32.Vec3{m[4], m[5], m[6]}
}

// ZAxis returns the third basis column of a transform, including its scale.
func ZAxis(m mgl32.Mat4) mgl32.Vec3 {
	return mgl32.Vec3{m[8], m[9], m[10]}
}

// SetPosition returns m with its translation column replaced by p.
func SetPosition(m mgl32.Mat4, p mgl32.Vec3) mgl32.Mat4 {
	m[12], m[13], m[14], m[15] = p[0], p[1], p[2], 1
	return m
}

// Saturate clamps v to [0, 1].
func Saturate(v float32) float32 {
	return mgl32.Clamp(v, 0, 1)
}

// Lerp linearly interpolates between a and b.
func Lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}

// Smoothstep performs Hermite interpolation of v between edge0 and edge1.
func Smoothstep(edge0, edge1, v float32) float32 {
	t := Saturate((v - edge0) / (edge1 - edge0))
	return t * t * (3 - 2*t)
}

// DivAndRoundUp returns ceil(a / b) for positive integers.
//
// Parameters:
//   - a: the dividend
//   - b: the divisor (must be > 0)
//
// Returns:
//   - uint32: the rounded-up quotient
func DivAndRoundUp(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// Polar holds a direction as spherical angles. Theta is measured from +Y, Rho around +Y from +Z.
type Polar struct {
	Theta float32
	Rho   float32
}

// PolarFromVec converts a direction into polar angles. The input does not need to be normalized.
//
// Parameters:
//   - v: the direction vector
//
// Returns:
//   - Polar: the spherical angles of v
func PolarFromVec(v mgl32.Vec3) Polar {
	l := v.Len()
	if l == 0 {
		return Polar{}
	}
	n := v.Mul(1 / l)
	return Polar{
		Theta: math32.Acos(mgl32.Clamp(n[1], -1, 1)),
		Rho:   math32.Atan2(n[0], n[2]),
	}
}

// Vec returns the unit direction described by p.
func (p Polar) Vec() mgl32.Vec3 {
	st := math32.Sin(p.Theta)
	return mgl32.Vec3{st * math32.Sin(p.Rho), math32.Cos(p.Theta), st * math32.Cos(p.Rho)}
}

// PackColor packs a normalized RGBA color into a little-endian UByte4N value (R in the lowest byte).
//
// Parameters:
//   - c: RGBA color with components in [0, 1]
//
// Returns:
//   - uint32: the packed color
func PackColor(c mgl32.Vec4) uint32 {
	r := uint32(Saturate(c[0])*255 + 0.5)
	g := uint32(Saturate(c[1])*255 + 0.5)
	b := uint32(Saturate(c[2])*255 + 0.5)
	a := uint32(Saturate(c[3])*255 + 0.5)
	return r | g<<8 | b<<16 | a<<24
}
