package common

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// BBox is an axis-aligned bounding box.
type BBox struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// EmptyBBox returns an inverted box that any Extend call will replace.
func EmptyBBox() BBox {
	return BBox{
		Min: mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		Max: mgl32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
}

// BBoxFromCenterExtents builds a box from its center and half-size.
func BBoxFromCenterExtents(center, extents mgl32.Vec3) BBox {
	return BBox{Min: center.Sub(extents), Max: center.Add(extents)}
}

// IsEmpty reports whether the box has never been extended.
func (b BBox) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// Center returns the midpoint of the box.
func (b BBox) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Extents returns the half-size of the box.
func (b BBox) Extents() mgl32.Vec3 {
	return b.Max.Sub(b.Min).Mul(0.5)
}

// DiagonalSize returns the length of the box diagonal.
func (b BBox) DiagonalSize() float32 {
	return b.Max.Sub(b.Min).Len()
}

// Extend grows the box to contain p.
func (b BBox) Extend(p mgl32.Vec3) BBox {
	for i := 0; i < 3; i++ {
		b.Min[i] = min(b.Min[i], p[i])
		b.Max[i] = max(b.Max[i], p[i])
	}
	return b
}

// Union grows the box to contain o. Empty boxes are ignored.
func (b BBox) Union(o BBox) BBox {
	if o.IsEmpty() {
		return b
	}
	return b.Extend(o.Min).Extend(o.Max)
}

// Corners returns the eight corners of the box. Bit 0 of the index selects max x,
// bit 1 max y and bit 2 max z.
func (b BBox) Corners() [8]mgl32.Vec3 {
	var out [8]mgl32.Vec3
	for i := 0; i < 8; i++ {
		for axis := 0; axis < 3; axis++ {
			if i&(1<<axis) != 0 {
				out[i][axis] = b.Max[axis]
			} else {
				out[i][axis] = b.Min[axis]
			}
		}
	}
	return out
}

// Transform returns the axis-aligned box enclosing b after transformation by m.
func (b BBox) Transform(m mgl32.Mat4) BBox {
	out := EmptyBBox()
	for _, c := range b.Corners() {
		out = out.Extend(TransformPoint(m, c))
	}
	return out
}

// Contains reports whether p lies inside or on the box.
func (b BBox) Contains(p mgl32.Vec3) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] &&
		p[1] >= b.Min[1] && p[1] <= b.Max[1] &&
		p[2] >= b.Min[2] && p[2] <= b.Max[2]
}

// UnitBBoxTransform returns the box spanned by transforming the unit cube [-1, 1]^3 by m.
// Used for volumes whose extent is encoded in their transform scale.
func UnitBBoxTransform(m mgl32.Mat4) BBox {
	unit := BBox{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{1, 1, 1}}
	return unit.Transform(m)
}
