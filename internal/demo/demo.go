// Package demo builds the reference stage rendered by the viewer and the capture tool.
package demo

import (
	"fmt"

	"github.com/Carmen-Shannon/nebula-go/engine/debugdraw"
	"github.com/Carmen-Shannon/nebula-go/engine/game_object"
	"github.com/Carmen-Shannon/nebula-go/engine/graphics"
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/Carmen-Shannon/nebula-go/engine/model"
	"github.com/Carmen-Shannon/nebula-go/engine/posteffects"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/scene"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// SunOrbitSpeed is the sun orbit speed in radians per second.
const SunOrbitSpeed = 0.2

// Demo is a stage with a floor, a grid of cubes, a sphere and a cone lit by a sun, a spot
// light and two point lights, with a box of fog over the floor.
type Demo struct {
	Stage  graphics.Stage
	Sun    light.Light
	Spot   light.Light
	Points []light.Light

	// Pillars are the cubes of the grid; the viewer toggles them.
	Pillars []game_object.GameObject

	meshes []model.Mesh
	fog    posteffects.Fog
	volume posteffects.FogVolumeHandle
}

// Build uploads the demo meshes, creates the stage on the graphics server of rs and adds
// the fog volume.
//
// Parameters:
//   - rs: the render system
//
// Returns:
//   - *Demo: the demo
//   - error: an error if a mesh upload or the fog volume fails
func Build(rs graphics.RenderSystem) (*Demo, error) {
	d := &Demo{fog: rs.Fog()}
	cube := model.Cube("Demo Cube")
	sphere := model.Sphere("Demo Sphere", 16, 24)
	cone := model.Cone("Demo Cone", 24)
	for _, m := range []model.Mesh{cube, sphere, cone} {
		if err := m.Upload(rs.Backend()); err != nil {
			d.Discard(rs.Backend())
			return nil, fmt.Errorf("failed to upload %s: %w", m.Name(), err)
		}
		d.meshes = append(d.meshes, m)
	}

	d.Sun = light.NewLight(light.LightTypeGlobal,
		light.WithTransform(light.GlobalTransform(SunDirection(0))),
		light.WithColor(1, 0.95, 0.85),
		light.WithIntensity(3),
		light.WithAmbientColor(0.05, 0.06, 0.08),
		light.WithBacklight(mgl32.Vec3{0.1, 0.1, 0.15}, 0.3),
		light.WithCastShadows(true),
	)
	d.Spot = light.NewLight(light.LightTypeSpot,
		light.WithTransform(light.SpotTransform(mgl32.Vec3{-6, 8, 6}, mgl32.Vec3{-2, 0, 2}, 20)),
		light.WithColor(1, 0.6, 0.3),
		light.WithIntensity(20),
		light.WithConeAngles(20, 35),
		light.WithCastShadows(true),
	)
	d.Points = []light.Light{
		light.NewLight(light.LightTypePoint,
			light.WithTransform(light.PointTransform(mgl32.Vec3{}, 8)),
			light.WithColor(0.3, 0.5, 1),
			light.WithIntensity(10),
			light.WithCastShadows(true),
		),
		light.NewLight(light.LightTypePoint,
			light.WithTransform(light.PointTransform(mgl32.Vec3{}, 6)),
			light.WithColor(1, 0.4, 0.4),
			light.WithIntensity(8),
		),
	}

	objects := []game_object.GameObject{
		game_object.NewGameObject(
			game_object.WithMesh(cube),
			game_object.WithColor(mgl32.Vec4{0.6, 0.6, 0.6, 1}),
			game_object.WithPosition(mgl32.Vec3{0, -0.5, 0}),
			game_object.WithScale(mgl32.Vec3{25, 0.5, 25}),
		),
		game_object.NewGameObject(
			game_object.WithMesh(sphere),
			game_object.WithColor(mgl32.Vec4{0.9, 0.9, 0.95, 1}),
			game_object.WithCastShadows(true),
			game_object.WithPosition(mgl32.Vec3{4, 1.5, -3}),
			game_object.WithScale(mgl32.Vec3{1.5, 1.5, 1.5}),
		),
		game_object.NewGameObject(
			game_object.WithMesh(cone),
			game_object.WithColor(mgl32.Vec4{0.4, 0.8, 0.4, 1}),
			game_object.WithCastShadows(true),
			game_object.WithPosition(mgl32.Vec3{-4, 2, -4}),
			game_object.WithRotation(mgl32.Vec3{mgl32.DegToRad(-90), 0, 0}),
			game_object.WithScale(mgl32.Vec3{1, 1, 2}),
		),
		game_object.NewGameObject(game_object.WithLight(d.Sun)),
		game_object.NewGameObject(game_object.WithLight(d.Spot)),
		game_object.NewGameObject(game_object.WithLight(d.Points[0]), game_object.WithPosition(mgl32.Vec3{3, 2, 3})),
		game_object.NewGameObject(game_object.WithLight(d.Points[1]), game_object.WithPosition(mgl32.Vec3{-3, 1.5, -1})),
	}
	for x := -2; x <= 2; x++ {
		for z := -2; z <= 2; z++ {
			if x == 0 && z == 0 {
				continue
			}
			height := 0.5 + float32((x+z+4)%3)*0.5
			pillar := game_object.NewGameObject(
				game_object.WithMesh(cube),
				game_object.WithColor(mgl32.Vec4{0.8, 0.3 + 0.1*float32(x+2), 0.3 + 0.1*float32(z+2), 1}),
				game_object.WithCastShadows(true),
				game_object.WithPosition(mgl32.Vec3{float32(x) * 4, height, float32(z) * 4}),
				game_object.WithScale(mgl32.Vec3{0.5, height, 0.5}),
			)
			d.Pillars = append(d.Pillars, pillar)
			objects = append(objects, pillar)
		}
	}

	h, err := rs.Fog().AddVolume(posteffects.NewFogBox(
		mgl32.Translate3D(0, 1, 0).Mul4(mgl32.Scale3D(10, 1, 10)),
		0.3,
		mgl32.Vec3{0.9, 0.95, 1},
	))
	if err != nil {
		d.Discard(rs.Backend())
		return nil, fmt.Errorf("failed to add fog volume: %w", err)
	}
	d.volume = h

	d.Stage = rs.Server().CreateStage("Demo", scene.WithObjects(objects...))
	return d, nil
}

// SunDirection returns the sun direction at angle radians along its orbit. Angle 0 is
// a low morning sun.
func SunDirection(angle float32) mgl32.Vec3 {
	elevation := 0.35 + 0.25*math32.Sin(angle)
	return mgl32.Vec3{
		math32.Cos(angle) * math32.Cos(elevation),
		-math32.Sin(elevation),
		math32.Sin(angle) * math32.Cos(elevation),
	}.Normalize()
}

// Animate moves the sun along its orbit for time seconds.
func (d *Demo) Animate(time float64) {
	d.Sun.SetTransform(light.GlobalTransform(SunDirection(float32(time) * SunOrbitSpeed)))
}

// DrawGizmos draws the light volumes of the enabled local lights.
//
// Parameters:
//   - c: the debug collector of the frame
func (d *Demo) DrawGizmos(c debugdraw.Collector) {
	for _, l := range d.Stage.Lights() {
		if !l.Enabled() {
			continue
		}
		color := l.Color().Vec4(1)
		switch l.Type() {
		case light.LightTypePoint:
			c.DrawSphere(l.Position(), 0.15, color, debugdraw.Solid|debugdraw.CheckDepth)
			c.DrawSphere(l.Position(), l.Range(), color.Mul(0.5), debugdraw.Wireframe)
		case light.LightTypeSpot:
			c.DrawCone(l.VolumeTransform(), color, debugdraw.Wireframe|debugdraw.CheckDepth)
		}
	}
}

// Discard removes the fog volume and releases the meshes. The stage is left as is.
//
// Parameters:
//   - backend: the backend the meshes were uploaded to
func (d *Demo) Discard(backend renderer.GraphicsBackend) {
	if d.volume.Valid() {
		_ = d.fog.RemoveVolume(d.volume)
		d.volume = posteffects.FogVolumeHandle{}
	}
	for _, m := range d.meshes {
		m.Discard(backend)
	}
	d.meshes = nil
}
