package shadow

import (
	"testing"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph/harness"
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clipEpsilon = 1e-3

func testLightView() mgl32.Mat4 {
	return light.ShadowView(light.GlobalTransform(mgl32.Vec3{-1, -2, -1}))
}

func testSceneBox() common.BBox {
	return common.BBoxFromCenterExtents(mgl32.Vec3{}, mgl32.Vec3{50, 20, 50})
}

func computeCSM(options ...CSMOption) *CSM {
	c := NewCSM(options...)
	c.Compute(harness.DefaultCamera(16.0/9.0), testLightView(), testSceneBox())
	return c
}

// depthRange recovers the near and far plane of an orthographic cascade projection.
func depthRange(p mgl32.Mat4) (float32, float32) {
	near := p[14] / p[10]
	return near, near - 1/p[10]
}

func TestCascadeIntervalsAreContiguous(t *testing.T) {
	for _, fitting := range []FittingMethod{FitCascade, FitScene} {
		t.Run(fitting.String(), func(t *testing.T) {
			c := computeCSM(WithFitting(fitting))
			intervals := c.CascadeIntervals()
			assert.Zero(t, intervals[0][0])
			for i := 1; i < NumCascades; i++ {
				assert.Equal(t, intervals[i-1][1], intervals[i][0])
				assert.Greater(t, intervals[i][1], intervals[i][0])
			}
			// the far cascade ends at half the scene diagonal, which is below the max distance
			assert.InDelta(t, testSceneBox().DiagonalSize()/2, intervals[NumCascades-1][1], 1e-3)
		})
	}
}

func TestCascadesContainTheirSlice(t *testing.T) {
	camera := harness.DefaultCamera(16.0 / 9.0)
	for _, fitting := range []FittingMethod{FitCascade, FitScene} {
		t.Run(fitting.String(), func(t *testing.T) {
			c := computeCSM(WithFitting(fitting), WithClamping(ClampZeroOne))
			for i, iv := range c.CascadeIntervals() {
				start := iv[0]
				if fitting == FitScene {
					start = 0
				}
				vp := c.CascadeViewProjection(i)
				for _, p := range sliceCorners(camera, start, iv[1]) {
					clip := vp.Mul4x1(p.Vec4(1))
					assert.InDelta(t, 1, clip[3], 1e-6)
					assert.GreaterOrEqual(t, clip[0], float32(-1-clipEpsilon), "cascade %d", i)
					assert.LessOrEqual(t, clip[0], float32(1+clipEpsilon), "cascade %d", i)
					assert.GreaterOrEqual(t, clip[1], float32(-1-clipEpsilon), "cascade %d", i)
					assert.LessOrEqual(t, clip[1], float32(1+clipEpsilon), "cascade %d", i)
					assert.GreaterOrEqual(t, clip[2], float32(-clipEpsilon), "cascade %d", i)
					assert.LessOrEqual(t, clip[2], float32(1+clipEpsilon), "cascade %d", i)
				}
			}
		})
	}
}

func TestClampAABBSpansTheSceneBox(t *testing.T) {
	c := computeCSM(WithClamping(ClampAABB))
	corners := testSceneBox().Corners()
	for i := range NumCascades {
		vp := c.CascadeViewProjection(i)
		lo, hi := float32(2), float32(-2)
		for _, p := range corners {
			z := vp.Mul4x1(p.Vec4(1))[2]
			lo, hi = min(lo, z), max(hi, z)
		}
		assert.InDelta(t, 0, lo, 1e-4, "cascade %d", i)
		assert.InDelta(t, 1, hi, 1e-4, "cascade %d", i)
	}
}

func TestClampSceneAABBIsWithinAABB(t *testing.T) {
	box := computeCSM(WithClamping(ClampAABB))
	clipped := computeCSM(WithClamping(ClampSceneAABB))
	for i := range NumCascades {
		boxNear, boxFar := depthRange(box.CascadeProjection(i))
		near, far := depthRange(clipped.CascadeProjection(i))
		assert.GreaterOrEqual(t, near, boxNear-1e-2, "cascade %d", i)
		assert.LessOrEqual(t, far, boxFar+1e-2, "cascade %d", i)
		assert.Greater(t, far, near)
	}
}

func TestCascadeDataMatchesProjection(t *testing.T) {
	c := computeCSM()
	d := c.CascadeData()
	assert.Equal(t, testLightView(), d.ShadowView)
	assert.InDelta(t, 1.0/1024, d.Partition[0], 1e-7)
	assert.InDelta(t, 1-1.0/1024, d.Partition[1], 1e-7)
	assert.Equal(t, float32(NumCascades), d.Partition[3])

	lp := mgl32.Vec3{3, -2, -40}
	for i := range NumCascades {
		clip := c.CascadeProjection(i).Mul4x1(lp.Vec4(1))
		want := mgl32.Vec3{clip[0]*0.5 + 0.5, -clip[1]*0.5 + 0.5, clip[2]}
		s, o := d.Scales[i], d.Offsets[i]
		got := mgl32.Vec3{lp[0]*s[0] + o[0], lp[1]*s[1] + o[1], lp[2]*s[2] + o[2]}
		assert.InDelta(t, 0, got.Sub(want).Len(), 1e-4, "cascade %d", i)
		assert.Equal(t, c.IntervalDistances()[i], d.Distances[i])
	}
}

func TestCascadeDistancesOption(t *testing.T) {
	c := NewCSM(WithCascadeDistances([NumCascades]float32{1, 2, 3, 4}, 4))
	c.Compute(harness.DefaultCamera(1), testLightView(), common.BBoxFromCenterExtents(mgl32.Vec3{}, mgl32.Vec3{1000, 1000, 1000}))
	assert.Equal(t, [NumCascades]float32{1, 2, 3, 4}, c.IntervalDistances())

	ignored := NewCSM(WithCascadeDistances([NumCascades]float32{1, 5, 3, 4}, 4))
	assert.Equal(t, float32(300), ignored.maxDistance)
}

func TestParseMethods(t *testing.T) {
	f, err := ParseFittingMethod("cascade")
	require.NoError(t, err)
	assert.Equal(t, FitCascade, f)
	_, err = ParseFittingMethod("sphere")
	assert.ErrorIs(t, err, ErrInvalidMethod)

	c, err := ParseClampingMethod(ClampSceneAABB.String())
	require.NoError(t, err)
	assert.Equal(t, ClampSceneAABB, c)
	_, err = ParseClampingMethod("near_far")
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestClipPolygon(t *testing.T) {
	tri := []mgl32.Vec3{{0, 0, 0}, {2, 0, 1}, {0, 2, 2}}
	out := clipPolygon(tri, 0, 1, false)
	require.Len(t, out, 4)
	for _, p := range out {
		assert.LessOrEqual(t, p[0], float32(1))
	}
	assert.Empty(t, clipPolygon(tri, 0, 5, true))
}
