package shadow

import (
	"testing"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

// faceUV mirrors the face coordinates the lights shader samples a cube face layer with,
// for a direction whose major axis selects face.
func faceUV(face int, d mgl32.Vec3) mgl32.Vec2 {
	var uv mgl32.Vec2
	switch face {
	case 0:
		uv = mgl32.Vec2{-d.Z(), -d.Y()}.Mul(1 / d.X())
	case 1:
		uv = mgl32.Vec2{d.Z(), -d.Y()}.Mul(-1 / d.X())
	case 2:
		uv = mgl32.Vec2{d.X(), d.Z()}.Mul(1 / d.Y())
	case 3:
		uv = mgl32.Vec2{d.X(), -d.Z()}.Mul(-1 / d.Y())
	case 4:
		uv = mgl32.Vec2{d.X(), -d.Y()}.Mul(1 / d.Z())
	default:
		uv = mgl32.Vec2{-d.X(), -d.Y()}.Mul(-1 / d.Z())
	}
	return uv
}

func TestCubeFaceViewMatchesShaderLookup(t *testing.T) {
	center := mgl32.Vec3{2, 3, -1}
	dirs := [CubeFaces]mgl32.Vec3{
		{1, 0.5, -0.25},
		{-1, 0.2, 0.3},
		{0.3, 1, 0.2},
		{0.3, -1, 0.2},
		{0.3, 0.2, 1},
		{0.3, 0.2, -1},
	}
	for face, d := range dirs {
		v := common.TransformPoint(CubeFaceView(center, face), center.Add(d))
		assert.InDelta(t, -1, v.Z(), 1e-5, "face %d looks down -z", face)
		// texture v runs down while view y runs up
		got := mgl32.Vec2{v.X() / -v.Z(), -v.Y() / -v.Z()}
		want := faceUV(face, d)
		assert.InDelta(t, 0, got.Sub(want).Len(), 1e-5, "face %d", face)
	}
}

func TestCubeFaceViewProjections(t *testing.T) {
	pos := mgl32.Vec3{0, 1, 0}
	l := light.NewLight(light.LightTypePoint, light.WithTransform(light.PointTransform(pos, 5)))
	vps := CubeFaceViewProjections(l)

	assert.True(t, common.IsPointInside(pos.Add(mgl32.Vec3{3, 0.5, 0.5}), vps[0]))
	assert.False(t, common.IsPointInside(pos.Add(mgl32.Vec3{3, 0.5, 0.5}), vps[1]))
	assert.True(t, common.IsPointInside(pos.Add(mgl32.Vec3{0, -2, 0}), vps[3]))
	assert.False(t, common.IsPointInside(pos.Add(mgl32.Vec3{0, 0, -6}), vps[5]), "beyond the light range")
}
