package model

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// CubePositions returns the 36 vertices of the cube [-1, 1]^3 with counter-clockwise outward faces.
func CubePositions() []mgl32.Vec3 {
	corners := [8]mgl32.Vec3{
		{-1, -1, -1}, {1, -1, -1}, {1, 1, -1}, {-1, 1, -1},
		{-1, -1, 1}, {1, -1, 1}, {1, 1, 1}, {-1, 1, 1},
	}
	faces := [6][4]int{
		{4, 5, 6, 7}, // +Z
		{1, 0, 3, 2}, // -Z
		{5, 1, 2, 6}, // +X
		{0, 4, 7, 3}, // -X
		{7, 6, 2, 3}, // +Y
		{0, 1, 5, 4}, // -Y
	}
	out := make([]mgl32.Vec3, 0, 36)
	for _, f := range faces {
		out = append(out,
			corners[f[0]], corners[f[1]], corners[f[2]],
			corners[f[0]], corners[f[2]], corners[f[3]],
		)
	}
	return out
}

// SpherePositions returns a UV sphere around the origin. Vertices are pushed out so the
// faceted surface encloses the unit sphere, which makes the mesh usable as a point-light volume.
//
// Parameters:
//   - rings: the number of latitude bands, at least 2
//   - segments: the number of longitude bands, at least 3
//
// Returns:
//   - []mgl32.Vec3: the triangle list
func SpherePositions(rings, segments int) []mgl32.Vec3 {
	rings, segments = max(rings, 2), max(segments, 3)
	r := 1 / (math32.Cos(math32.Pi/float32(rings)) * math32.Cos(math32.Pi/float32(segments)))

	point := func(ring, seg int) mgl32.Vec3 {
		theta := math32.Pi * float32(ring) / float32(rings)
		phi := 2 * math32.Pi * float32(seg) / float32(segments)
		st := math32.Sin(theta)
		return mgl32.Vec3{st * math32.Cos(phi), math32.Cos(theta), st * math32.Sin(phi)}.Mul(r)
	}

	out := make([]mgl32.Vec3, 0, rings*segments*6)
	for ring := 0; ring < rings; ring++ {
		for seg := 0; seg < segments; seg++ {
			a, b := point(ring, seg), point(ring, seg+1)
			c, d := point(ring+1, seg), point(ring+1, seg+1)
			if ring != 0 {
				out = append(out, a, b, d)
			}
			if ring != rings-1 {
				out = append(out, a, d, c)
			}
		}
	}
	return out
}

// ConePositions returns a closed cone with its apex at the origin opening along -Z. The base
// circle lies at z = -1 and encloses the unit circle, so scaling x and y by range*tan(angle)
// and z by range yields a spot-light volume.
//
// Parameters:
//   - segments: the number of sides, at least 3
//
// Returns:
//   - []mgl32.Vec3: the triangle list
func ConePositions(segments int) []mgl32.Vec3 {
	segments = max(segments, 3)
	r := 1 / math32.Cos(math32.Pi/float32(segments))

	rim := func(seg int) mgl32.Vec3 {
		phi := 2 * math32.Pi * float32(seg) / float32(segments)
		return mgl32.Vec3{math32.Cos(phi) * r, math32.Sin(phi) * r, -1}
	}
	apex := mgl32.Vec3{}
	center := mgl32.Vec3{0, 0, -1}

	out := make([]mgl32.Vec3, 0, segments*6)
	for seg := 0; seg < segments; seg++ {
		a, b := rim(seg), rim(seg+1)
		out = append(out, apex, b, a, center, a, b)
	}
	return out
}

// Cube returns a new unit cube mesh.
func Cube(name string) Mesh {
	return NewMesh(name, CubePositions())
}

// Sphere returns a new sphere mesh enclosing the unit sphere.
func Sphere(name string, rings, segments int) Mesh {
	return NewMesh(name, SpherePositions(rings, segments))
}

// Cone returns a new cone mesh enclosing the unit cone.
func Cone(name string, segments int) Mesh {
	return NewMesh(name, ConePositions(segments))
}
