package shadow

import (
	"testing"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// downSpot hangs a spot light height units above the origin, pointing at it.
func downSpot(height float32) light.Light {
	return light.NewLight(light.LightTypeSpot,
		light.WithTransform(light.SpotTransform(mgl32.Vec3{0, height, 0}, mgl32.Vec3{}, 10)))
}

func TestAttenuation(t *testing.T) {
	assert.Equal(t, float32(1), Attenuation(light.NewLight(light.LightTypeGlobal), mgl32.Vec3{100, 0, 0}))
	assert.InDelta(t, 0.8, Attenuation(downSpot(2), mgl32.Vec3{}), 1e-5)

	up := light.NewLight(light.LightTypeSpot,
		light.WithTransform(light.SpotTransform(mgl32.Vec3{0, 2, 0}, mgl32.Vec3{0, 5, 0}, 10)))
	assert.Zero(t, Attenuation(up, mgl32.Vec3{}), "the origin is behind the spot")

	point := light.NewLight(light.LightTypePoint, light.WithTransform(light.PointTransform(mgl32.Vec3{0, 20, 0}, 10)))
	assert.Zero(t, Attenuation(point, mgl32.Vec3{}), "out of range")
}

func TestSortLightsFadesTheLastShadowedLight(t *testing.T) {
	far, near, mid := downSpot(9.5), downSpot(2), downSpot(9)
	lights := []light.Light{far, near, mid}

	SortLights(lights, mgl32.Vec3{}, 2)

	assert.Equal(t, []light.Light{near, mid, far}, lights)
	assert.Equal(t, float32(1), near.ShadowIntensity())
	assert.InDelta(t, 0.4, mid.ShadowIntensity(), 1e-4)
	assert.Equal(t, float32(1), far.ShadowIntensity(), "lights past the budget are left alone")
}

func TestSortLightsWithinBudget(t *testing.T) {
	a, b := downSpot(9), downSpot(2)
	lights := []light.Light{a, b}

	SortLights(lights, mgl32.Vec3{}, 4)

	assert.Equal(t, []light.Light{b, a}, lights)
	assert.Equal(t, float32(1), a.ShadowIntensity())
}

func TestSortLightsOutOfFrustumSortsLast(t *testing.T) {
	behind := light.NewLight(light.LightTypeSpot,
		light.WithTransform(light.SpotTransform(mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 5, 0}, 10)))
	far := downSpot(8)
	lights := []light.Light{behind, far}

	SortLights(lights, mgl32.Vec3{}, 2)

	assert.Equal(t, []light.Light{far, behind}, lights)
}

func TestSortLightsKeepsAttachOrderOnTies(t *testing.T) {
	a, b, c := downSpot(5), downSpot(5), downSpot(5)
	lights := []light.Light{a, b, c}

	SortLights(lights, mgl32.Vec3{}, 3)

	assert.Equal(t, []light.Light{a, b, c}, lights)
}

func TestSortLightsSingleCasterInterpolates(t *testing.T) {
	caster := light.NewLight(light.LightTypeSpot,
		light.WithTransform(light.SpotTransform(mgl32.Vec3{0, 0, 4}, mgl32.Vec3{}, 10)))
	// the second spot points at the caster, so the caster sits inside its frustum, while the
	// origin is outside of it
	other := light.NewLight(light.LightTypeSpot,
		light.WithTransform(light.SpotTransform(mgl32.Vec3{3, 0, 1.5}, mgl32.Vec3{0, 0, 4}, 5)))
	transform := caster.Transform()

	lights := []light.Light{other, caster}
	SortLights(lights, mgl32.Vec3{}, 1)

	require.Equal(t, caster, lights[0])
	assert.Equal(t, transform, caster.Transform(), "the light itself does not move")

	shadow := caster.ShadowTransform()
	pos := common.Position(shadow)
	assert.Greater(t, pos.X(), float32(0))
	assert.Less(t, pos.X(), float32(3))
	assert.InDelta(t, 10, common.ZAxis(shadow).Len(), 1e-4, "the shadow keeps the caster's range")
}

func TestSortLightsSingleCasterWithoutOverlap(t *testing.T) {
	caster := downSpot(3)
	distant := light.NewLight(light.LightTypeSpot,
		light.WithTransform(light.SpotTransform(mgl32.Vec3{100, 3, 0}, mgl32.Vec3{100, 0, 0}, 5)))

	lights := []light.Light{distant, caster}
	SortLights(lights, mgl32.Vec3{}, 1)

	require.Equal(t, caster, lights[0])
	assert.InDelta(t, 0, common.Position(caster.ShadowTransform()).Sub(mgl32.Vec3{0, 3, 0}).Len(), 1e-4)
}

func TestBasisFromZ(t *testing.T) {
	for _, z := range []mgl32.Vec3{{0, 0, 1}, {0, 1, 0}, {1, 2, 3}} {
		m := basisFromZ(z, 2, 3, 4, mgl32.Vec3{1, 1, 1})
		x, y, zz := common.XAxis(m), common.YAxis(m), common.ZAxis(m)
		assert.InDelta(t, 2, x.Len(), 1e-5)
		assert.InDelta(t, 3, y.Len(), 1e-5)
		assert.InDelta(t, 4, zz.Len(), 1e-5)
		assert.InDelta(t, 0, x.Dot(y), 1e-4)
		assert.InDelta(t, 0, x.Dot(zz), 1e-4)
		assert.InDelta(t, 0, y.Dot(zz), 1e-4)
		assert.InDelta(t, 1, zz.Normalize().Dot(z.Normalize()), 1e-5)
	}
}
