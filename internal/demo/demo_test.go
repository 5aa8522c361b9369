package demo

import (
	"testing"

	"github.com/Carmen-Shannon/nebula-go/engine/camera"
	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"github.com/Carmen-Shannon/nebula-go/engine/graphics"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/Carmen-Shannon/nebula-go/engine/shadow"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoRendersHeadless(t *testing.T) {
	cfg := config.Default()
	lib, err := shader.NewLibrary(shader.NewFeatures())
	require.NoError(t, err)
	b, err := renderer.NewRecordingBackend(lib, renderer.WithFramesInFlight(cfg.Renderer.BufferedFrames))
	require.NoError(t, err)
	rs, err := graphics.NewRenderSystem(b, cfg, graphics.WithFixedTimestep(1.0/60))
	require.NoError(t, err)
	defer rs.Shutdown()

	d, err := Build(rs)
	require.NoError(t, err)
	defer d.Discard(b)
	assert.Len(t, d.Pillars, 24)
	assert.Len(t, d.Stage.Lights(), 4)
	boxes, spheres := rs.Fog().VolumeCounts()
	assert.Equal(t, 1, boxes)
	assert.Zero(t, spheres)

	s := rs.Server()
	s.CreateView(camera.NewCamera(
		camera.WithWindowSize(cfg.Window),
		camera.WithLookAt(mgl32.Vec3{0, 12, 24}, mgl32.Vec3{}),
	), d.Stage)
	s.AddPreLogicCallback(func(info graphics.FrameInfo) {
		d.Animate(info.Time)
		d.DrawGizmos(rs.Debug())
	})
	for range 4 {
		_, err := s.NewFrame()
		require.NoError(t, err)
		s.RunPreLogic()
		require.NoError(t, s.Render())
		s.RunPostLogic()
		require.NoError(t, s.EndFrame())
	}
	assert.Empty(t, b.Hazards())
	assert.Empty(t, b.Violations())

	draws := 0
	inShadows := false
	for _, c := range b.FrameCommands(3) {
		switch {
		case c.Op == renderer.OpBeginMarker && c.Name == shadow.ShadowMapsCallback:
			inShadows = true
		case c.Op == renderer.OpEndMarker:
			inShadows = false
		case inShadows && c.Op == renderer.OpDrawInstanced:
			draws++
		}
	}
	assert.Positive(t, draws)

	d.Discard(b)
	boxes, _ = rs.Fog().VolumeCounts()
	assert.Zero(t, boxes)
}

func TestSunDirectionPointsDown(t *testing.T) {
	for _, angle := range []float32{0, 1, 2, 3, 4, 5, 6} {
		dir := SunDirection(angle)
		assert.Less(t, dir.Y(), float32(0))
		assert.InDelta(t, 1, dir.Len(), 1e-5)
	}
}
