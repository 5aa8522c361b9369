package common

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaAllocGetFree(t *testing.T) {
	a := NewArena[string]()
	h1 := a.Alloc("one")
	h2 := a.Alloc("two")

	v, ok := a.Get(h1)
	require.True(t, ok)
	assert.Equal(t, "one", v)
	assert.Equal(t, 2, a.Len())

	require.NoError(t, a.Free(h1))
	_, ok = a.Get(h1)
	assert.False(t, ok)
	assert.ErrorIs(t, a.Free(h1), ErrInvalidHandle)

	h3 := a.Alloc("three")
	assert.Equal(t, h1.Index(), h3.Index(), "freed slot is reused")
	assert.NotEqual(t, h1.Generation(), h3.Generation())
	_, ok = a.Get(h1)
	assert.False(t, ok, "stale handle must not resolve to the new value")

	v, ok = a.Get(h2)
	require.True(t, ok)
	assert.Equal(t, "two", v)
}

func TestArenaZeroHandleInvalid(t *testing.T) {
	a := NewArena[int]()
	a.Alloc(1)
	_, ok := a.Get(Handle{})
	assert.False(t, ok)
	assert.ErrorIs(t, a.Set(Handle{}, 4), ErrInvalidHandle)
}

func TestArenaEach(t *testing.T) {
	a := NewArena[int]()
	a.Alloc(1)
	h := a.Alloc(2)
	a.Alloc(3)
	require.NoError(t, a.Free(h))

	var seen []int
	a.Each(func(_ Handle, v int) { seen = append(seen, v) })
	assert.Equal(t, []int{1, 3}, seen)
}

func TestBBoxCornersAndTransform(t *testing.T) {
	b := BBox{Min: mgl32.Vec3{-1, -2, -3}, Max: mgl32.Vec3{1, 2, 3}}
	c := b.Corners()
	assert.Equal(t, b.Min, c[0])
	assert.Equal(t, b.Max, c[7])

	moved := b.Transform(mgl32.Translate3D(10, 0, 0))
	assert.InDelta(t, 9, moved.Min[0], 1e-5)
	assert.InDelta(t, 11, moved.Max[0], 1e-5)
	assert.InDelta(t, 2*mgl32.Vec3{1, 2, 3}.Len(), b.DiagonalSize(), 1e-4)
}

func TestEmptyBBoxUnion(t *testing.T) {
	b := EmptyBBox()
	assert.True(t, b.IsEmpty())
	b = b.Union(BBoxFromCenterExtents(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1}))
	assert.False(t, b.IsEmpty())
	assert.Equal(t, mgl32.Vec3{1, 1, 1}, b.Extents())
}

func TestFrustumIntersectsBox(t *testing.T) {
	proj := Perspective(mgl32.DegToRad(90), 1, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	f := ExtractFrustumFromMatrix(proj.Mul4(view))

	inside := BBoxFromCenterExtents(mgl32.Vec3{0, 0, -10}, mgl32.Vec3{1, 1, 1})
	behind := BBoxFromCenterExtents(mgl32.Vec3{0, 0, 10}, mgl32.Vec3{1, 1, 1})
	far := BBoxFromCenterExtents(mgl32.Vec3{0, 0, -200}, mgl32.Vec3{1, 1, 1})

	assert.True(t, f.IntersectsBox(inside))
	assert.False(t, f.IntersectsBox(behind))
	assert.False(t, f.IntersectsBox(far))
}

func TestIsPointInside(t *testing.T) {
	proj := Perspective(mgl32.DegToRad(60), 1, 0.1, 50)
	view := mgl32.LookAtV(mgl32.Vec3{0, 10, 0}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1})
	m := proj.Mul4(view)

	assert.True(t, IsPointInside(mgl32.Vec3{0, 0, 0}, m))
	assert.False(t, IsPointInside(mgl32.Vec3{0, 20, 0}, m))
	assert.False(t, IsPointInside(mgl32.Vec3{30, 0, 0}, m))
}

func TestPerspectiveDepthRange(t *testing.T) {
	proj := Perspective(mgl32.DegToRad(60), 1.5, 1, 10)
	near := TransformPoint(proj, mgl32.Vec3{0, 0, -1})
	far := TransformPoint(proj, mgl32.Vec3{0, 0, -10})
	assert.InDelta(t, 0, near[2], 1e-5)
	assert.InDelta(t, 1, far[2], 1e-5)
}

func TestOrthoOffCenterDepthRange(t *testing.T) {
	proj := OrthoOffCenter(-2, 4, -1, 3, 5, 25)
	p := TransformPoint(proj, mgl32.Vec3{-2, -1, -5})
	assert.InDelta(t, -1, p[0], 1e-5)
	assert.InDelta(t, -1, p[1], 1e-5)
	assert.InDelta(t, 0, p[2], 1e-5)

	p = TransformPoint(proj, mgl32.Vec3{4, 3, -25})
	assert.InDelta(t, 1, p[0], 1e-5)
	assert.InDelta(t, 1, p[1], 1e-5)
	assert.InDelta(t, 1, p[2], 1e-5)
}

func TestScalarHelpers(t *testing.T) {
	assert.Equal(t, float32(0), Saturate(-3))
	assert.Equal(t, float32(1), Saturate(7))
	assert.Equal(t, float32(0.5), Smoothstep(0, 1, 0.5))
	assert.Equal(t, float32(0), Smoothstep(0, 1, -1))
	assert.Equal(t, float32(2.5), Lerp(2, 3, 0.5))

	tests := []struct {
		a, b, want uint32
	}{
		{1920, 320, 6},
		{1080, 320, 4},
		{320, 320, 1},
		{0, 64, 0},
		{65, 64, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DivAndRoundUp(tt.a, tt.b))
	}
}

func TestPolarRoundTrip(t *testing.T) {
	dirs := []mgl32.Vec3{
		{0, 0, 1},
		{1, 0, 0},
		{0.3, -0.6, 0.5},
		{-1, 1, -1},
	}
	for _, d := range dirs {
		got := PolarFromVec(d).Vec()
		want := d.Normalize()
		assert.InDelta(t, want[0], got[0], 1e-5)
		assert.InDelta(t, want[1], got[1], 1e-5)
		assert.InDelta(t, want[2], got[2], 1e-5)
	}
}

func TestPackColor(t *testing.T) {
	assert.Equal(t, uint32(0xff0000ff), PackColor(mgl32.Vec4{1, 0, 0, 1}))
	assert.Equal(t, uint32(0xffffffff), PackColor(mgl32.Vec4{2, 2, 2, 2}))
}

func TestRect(t *testing.T) {
	r := NewRect(10, 20, 30, 40)
	assert.Equal(t, int32(30), r.Width())
	assert.Equal(t, int32(40), r.Height())
	assert.False(t, r.Empty())
	assert.True(t, Rect{}.Empty())
}
