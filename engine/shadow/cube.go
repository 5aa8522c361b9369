package shadow

import (
	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// cubeFace holds the right, up and forward axes of one cube map face.
type cubeFace struct {
	right, up, forward mgl32.Vec3
}

// cubeFaces follows the layer order sampled by the lights shader: +X, -X, +Y, -Y, +Z, -Z.
var cubeFaces = [CubeFaces]cubeFace{
	{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}},
	{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{-1, 0, 0}},
	{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}},
	{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, -1, 0}},
	{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 1}},
	{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, -1}},
}

// CubeFaceView returns the world to view transform of one face of a cube map centered at
// position. The face looks down -z of its view space.
//
// Parameters:
//   - position: the cube center
//   - face: the face index in [0, CubeFaces)
//
// Returns:
//   - mgl32.Mat4: the view transform
func CubeFaceView(position mgl32.Vec3, face int) mgl32.Mat4 {
	f := cubeFaces[face]
	back := f.forward.Mul(-1)
	return mgl32.Mat4FromRows(
		f.right.Vec4(-f.right.Dot(position)),
		f.up.Vec4(-f.up.Dot(position)),
		back.Vec4(-back.Dot(position)),
		mgl32.Vec4{0, 0, 0, 1},
	)
}

// CubeFaceViewProjections returns the six world to clip transforms of a point light.
//
// Parameters:
//   - l: the point light
//
// Returns:
//   - [CubeFaces]mgl32.Mat4: one transform per face in layer order
func CubeFaceViewProjections(l light.Light) [CubeFaces]mgl32.Mat4 {
	pos := common.Position(l.ShadowTransform())
	proj := common.Perspective(math32.Pi/2, 1, light.DefaultShadowNear, max(l.Range(), light.DefaultShadowNear*2))
	var out [CubeFaces]mgl32.Mat4
	for i := range out {
		out[i] = proj.Mul4(CubeFaceView(pos, i))
	}
	return out
}
