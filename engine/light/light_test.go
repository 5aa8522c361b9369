package light

import (
	"testing"
	"unsafe"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func assertVecNear(t *testing.T, want, got mgl32.Vec3) {
	t.Helper()
	assert.True(t, got.ApproxEqualThreshold(want, 1e-4), "want %v, got %v", want, got)
}

func TestSpotTransformRangeAndForward(t *testing.T) {
	pos := mgl32.Vec3{1, 4, 2}
	target := mgl32.Vec3{1, 0, 2}
	l := NewLight(LightTypeSpot, WithTransform(SpotTransform(pos, target, 12)))

	assert.InDelta(t, 12, l.Range(), 1e-4)
	assertVecNear(t, mgl32.Vec3{0, -1, 0}, l.Forward())
	assertVecNear(t, pos, l.Position())
}

func TestPointTransformRange(t *testing.T) {
	l := NewLight(LightTypePoint, WithTransform(PointTransform(mgl32.Vec3{3, 0, 0}, 7)))
	assert.InDelta(t, 7, l.Range(), 1e-5)
	assertVecNear(t, mgl32.Vec3{3, 0, 0}, l.Position())
}

func TestGlobalLightDefaultsShineDown(t *testing.T) {
	l := NewLight(LightTypeGlobal)
	assertVecNear(t, mgl32.Vec3{0, -1, 0}, l.Forward())
	assert.Equal(t, mgl32.Ident4(), l.ShadowProjection())
	assert.Equal(t, NoShadowSlot, l.ShadowSlot())
}

func TestVolumeTransformEnclosesTheLight(t *testing.T) {
	pos := mgl32.Vec3{0, 5, 0}
	spot := NewLight(LightTypeSpot,
		WithTransform(SpotTransform(pos, mgl32.Vec3{0, 5, -10}, 10)),
		WithConeAngles(20, 30),
	)
	vol := spot.VolumeTransform()
	base := common.TransformPoint(vol, mgl32.Vec3{0, 0, -1})
	assertVecNear(t, mgl32.Vec3{0, 5, -10}, base)

	rim := common.TransformPoint(vol, mgl32.Vec3{1, 0, -1})
	assert.InDelta(t, 10*math32.Tan(mgl32.DegToRad(30)), rim.Sub(base).Len(), 1e-3)

	point := NewLight(LightTypePoint, WithTransform(PointTransform(mgl32.Vec3{2, 0, 0}, 4)))
	assertVecNear(t, mgl32.Vec3{6, 0, 0}, common.TransformPoint(point.VolumeTransform(), mgl32.Vec3{1, 0, 0}))
}

func TestConeAnglesAreClampedAndOrdered(t *testing.T) {
	l := NewLight(LightTypeSpot, WithConeAngles(50, 40))
	inner, outer := l.ConeAngles()
	assert.InDelta(t, mgl32.DegToRad(40), outer, 1e-6)
	assert.Equal(t, outer, inner)

	l.SetConeAngles(10, 120)
	_, outer = l.ConeAngles()
	assert.InDelta(t, mgl32.DegToRad(89), outer, 1e-6)
}

func TestShadowTransformOverride(t *testing.T) {
	l := NewLight(LightTypeSpot, WithTransform(SpotTransform(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, 10)))
	assert.Equal(t, l.Transform(), l.ShadowTransform())

	moved := SpotTransform(mgl32.Vec3{5, 0, 0}, mgl32.Vec3{5, 0, -1}, 10)
	l.SetShadowTransform(moved)
	assert.Equal(t, moved, l.ShadowTransform())
	assert.NotEqual(t, moved, l.Transform())

	l.ResetShadowTransform()
	assert.Equal(t, l.Transform(), l.ShadowTransform())
}

func TestShadowViewProjectionCoversTheCone(t *testing.T) {
	l := NewLight(LightTypeSpot,
		WithTransform(SpotTransform(mgl32.Vec3{0, 10, 0}, mgl32.Vec3{}, 20)),
		WithConeAngles(20, 30),
	)
	vp := l.ShadowViewProjection()
	assert.True(t, common.IsPointInside(mgl32.Vec3{0, 0, 0}, vp))
	assert.False(t, common.IsPointInside(mgl32.Vec3{0, 15, 0}, vp), "behind the light")
	assert.False(t, common.IsPointInside(mgl32.Vec3{0, -15, 0}, vp), "beyond the range")
	assert.False(t, common.IsPointInside(mgl32.Vec3{20, 0, 0}, vp), "outside the cone")
}

func TestShadowIntensityIsSaturated(t *testing.T) {
	l := NewLight(LightTypePoint)
	l.SetShadowIntensity(3)
	assert.Equal(t, float32(1), l.ShadowIntensity())
	l.SetShadowIntensity(-1)
	assert.Equal(t, float32(0), l.ShadowIntensity())
}

func TestGPUStructSizes(t *testing.T) {
	assert.Equal(t, uintptr(GlobalLightConstantsSize), unsafe.Sizeof(GlobalLightConstants{}))
	assert.Equal(t, uintptr(LocalLightConstantsSize), unsafe.Sizeof(LocalLightConstants{}))
	assert.Len(t, (&GlobalLightConstants{}).Marshal(), GlobalLightConstantsSize)
}

func TestGlobalLightConstants(t *testing.T) {
	l := NewLight(LightTypeGlobal,
		WithColor(1, 0.5, 0.25),
		WithIntensity(2),
		WithBacklight(mgl32.Vec3{0.1, 0.1, 0.1}, 0.3),
	)
	l.SetCascades(CascadeData{Distances: mgl32.Vec4{1, 2, 3, 4}})

	c := NewGlobalLightConstants(l, mgl32.Ident4())
	assert.True(t, c.Direction.ApproxEqualThreshold(mgl32.Vec4{0, 1, 0, 0}, 1e-5), "direction %v", c.Direction)
	assert.Equal(t, mgl32.Vec4{2, 1, 0.5, 1}, c.Color)
	assert.Equal(t, float32(0.3), c.Params[0])
	assert.Zero(t, c.CascadeDistances, "cascades are only sent for shadowed frames")

	l.SetCastShadowsThisFrame(true)
	c = NewGlobalLightConstants(l, mgl32.Ident4())
	assert.Equal(t, mgl32.Vec4{1, 2, 3, 4}, c.CascadeDistances)
	assert.Equal(t, float32(1), c.Params[1])
}

func TestLocalLightConstants(t *testing.T) {
	l := NewLight(LightTypePoint, WithTransform(PointTransform(mgl32.Vec3{1, 2, 3}, 4)))
	view := mgl32.Translate3D(0, 0, -5)

	c := NewLocalLightConstants(l, view)
	assert.True(t, c.PositionAndInvRange.ApproxEqualThreshold(mgl32.Vec4{1, 2, -2, 0.25}, 1e-5), "%v", c.PositionAndInvRange)
	assert.Zero(t, c.ShadowParams)

	l.SetCastShadowsThisFrame(true)
	l.SetShadowSlot(3)
	l.SetShadowIntensity(0.5)
	c = NewLocalLightConstants(l, view)
	assert.Equal(t, mgl32.Vec4{0.5, 3, 0, 0}, c.ShadowParams)

	assert.Len(t, MarshalLocalLights([]Light{l, l, l}, view), 3*LocalLightConstantsSize)
	assert.Empty(t, MarshalLocalLights(nil, view))
}
