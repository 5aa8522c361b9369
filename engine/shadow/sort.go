package shadow

import (
	"slices"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// fadeScale maps the attenuation of the last shadowed light to its shadow intensity.
const fadeScale = 4

// Attenuation returns how strongly a light reaches the point of interest, in [0, 1].
// A spot light whose shadow frustum does not contain poi scores 0. Global lights score 1.
//
// Parameters:
//   - l: the light
//   - poi: the point of interest, usually the camera position
//
// Returns:
//   - float32: the attenuation
func Attenuation(l light.Light, poi mgl32.Vec3) float32 {
	if l.Type() == light.LightTypeGlobal {
		return 1
	}
	if l.Type() == light.LightTypeSpot && !common.IsPointInside(poi, l.ShadowViewProjection()) {
		return 0
	}
	rng := l.Range()
	if rng <= 0 {
		return 0
	}
	return common.Saturate(1 - l.Position().Sub(poi).Len()/rng)
}

// SortLights orders lights by decreasing attenuation towards poi. Lights with equal
// attenuation keep their attach order. When there are more lights than maxShadowed the
// last light inside the budget fades its shadow out as it loses relevance; with a budget of
// one the single caster's shadow transform instead moves towards the lights that lost out,
// so the shadow does not pop when the caster changes.
//
// Parameters:
//   - lights: the lights, sorted in place
//   - poi: the point of interest
//   - maxShadowed: the number of lights that keep their shadows
func SortLights(lights []light.Light, poi mgl32.Vec3, maxShadowed int) {
	att := make(map[light.Light]float32, len(lights))
	for _, l := range lights {
		att[l] = Attenuation(l, poi)
	}
	slices.SortStableFunc(lights, func(a, b light.Light) int {
		switch {
		case att[a] > att[b]:
			return -1
		case att[a] < att[b]:
			return 1
		}
		return 0
	})

	if maxShadowed < 1 || len(lights) <= maxShadowed {
		return
	}
	if maxShadowed > 1 {
		last := lights[maxShadowed-1]
		last.SetShadowIntensity(common.Saturate(fadeScale * att[last]))
		return
	}
	interpolateShadowTransform(lights[0], lights[1:], poi)
}

// interpolateShadowTransform moves the shadow transform of caster towards every overlapping
// light in rest that lies between the caster and poi.
func interpolateShadowTransform(caster light.Light, rest []light.Light, poi mgl32.Vec3) {
	m := caster.Transform()
	pos := common.Position(m)
	range0 := common.ZAxis(m).Len()
	toCaster := pos.Sub(poi)
	if toCaster.Len() == 0 {
		return
	}
	toCasterDir := toCaster.Normalize()

	interpolated := pos
	dir := common.PolarFromVec(common.ZAxis(m))
	for _, l := range rest {
		cur := l.Transform()
		between := pos.Sub(common.Position(cur))
		dist := between.Len()
		if dist == 0 || dist-range0-common.ZAxis(cur).Len() >= 0 {
			continue
		}
		if l.Type() == light.LightTypeSpot && !common.IsPointInside(pos, l.ShadowViewProjection()) {
			continue
		}
		if toCasterDir.Dot(between.Normalize()) <= 0 {
			continue
		}
		f := common.Smoothstep(0, 1, toCaster.Dot(between)/(dist*dist))
		interpolated = lerpVec(interpolated, common.Position(cur), f)
		curDir := common.PolarFromVec(common.ZAxis(cur))
		dir.Theta = common.Lerp(dir.Theta, curDir.Theta, f)
		dir.Rho = common.Lerp(dir.Rho, curDir.Rho, f)
	}
	caster.SetShadowTransform(basisFromZ(dir.Vec(), common.XAxis(m).Len(), common.YAxis(m).Len(), range0, interpolated))
}

// basisFromZ builds a transform whose z axis points along z, with the given axis lengths.
func basisFromZ(z mgl32.Vec3, xLen, yLen, zLen float32, pos mgl32.Vec3) mgl32.Mat4 {
	z = z.Normalize()
	up := mgl32.Vec3{0, 1, 0}
	if math32.Abs(z.Dot(up)) > 0.999 {
		up = mgl32.Vec3{0, 0, 1}
	}
	x := up.Cross(z).Normalize()
	y := z.Cross(x)
	return mgl32.Mat4FromCols(
		x.Mul(xLen).Vec4(0),
		y.Mul(yLen).Vec4(0),
		z.Mul(zLen).Vec4(0),
		pos.Vec4(1),
	)
}

func lerpVec(a, b mgl32.Vec3, t float32) mgl32.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}
