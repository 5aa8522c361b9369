package graphics

import (
	"slices"
	"testing"

	"github.com/Carmen-Shannon/nebula-go/engine/camera"
	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"github.com/Carmen-Shannon/nebula-go/engine/debugdraw"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/game_object"
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/Carmen-Shannon/nebula-go/engine/model"
	"github.com/Carmen-Shannon/nebula-go/engine/posteffects"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/Carmen-Shannon/nebula-go/engine/scene"
	"github.com/Carmen-Shannon/nebula-go/engine/shadow"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSystem(t *testing.T, cfg config.Config, options ...RenderSystemOption) (RenderSystem, *renderer.RecordingBackend) {
	t.Helper()
	lib, err := shader.NewLibrary(shader.NewFeatures())
	require.NoError(t, err)
	b, err := renderer.NewRecordingBackend(lib,
		renderer.WithFramesInFlight(cfg.Renderer.BufferedFrames),
		renderer.WithBackbufferSize(uint32(cfg.Window.Width), uint32(cfg.Window.Height)),
	)
	require.NoError(t, err)
	options = append([]RenderSystemOption{WithFixedTimestep(1.0 / 60)}, options...)
	rs, err := NewRenderSystem(b, cfg, options...)
	require.NoError(t, err)
	t.Cleanup(rs.Shutdown)
	return rs, b
}

// demoStage returns a stage with a floor, a cube, a shadowed sun and a point light.
func demoStage(t *testing.T, rs RenderSystem) Stage {
	t.Helper()
	cube := model.Cube("cube")
	require.NoError(t, cube.Upload(rs.Backend()))

	sun := light.NewLight(light.LightTypeGlobal,
		light.WithTransform(light.GlobalTransform(mgl32.Vec3{-0.3, -1, -0.2})),
		light.WithCastShadows(true),
	)
	lamp := light.NewLight(light.LightTypePoint, light.WithTransform(light.PointTransform(mgl32.Vec3{}, 6)))

	return rs.Server().CreateStage("demo", scene.WithObjects(
		game_object.NewGameObject(game_object.WithMesh(cube), game_object.WithScale(mgl32.Vec3{20, 0.2, 20}), game_object.WithPosition(mgl32.Vec3{0, -1, 0})),
		game_object.NewGameObject(game_object.WithMesh(cube), game_object.WithCastShadows(true)),
		game_object.NewGameObject(game_object.WithLight(sun)),
		game_object.NewGameObject(game_object.WithLight(lamp), game_object.WithPosition(mgl32.Vec3{2, 1, 0})),
	))
}

func demoCamera(cfg config.Config) camera.Camera {
	return camera.NewCamera(
		camera.WithWindowSize(cfg.Window),
		camera.WithLookAt(mgl32.Vec3{0, 5, 15}, mgl32.Vec3{}),
	)
}

func runFrame(t *testing.T, s GraphicsServer) FrameInfo {
	t.Helper()
	info, err := s.NewFrame()
	require.NoError(t, err)
	s.RunPreLogic()
	require.NoError(t, s.Render())
	s.RunPostLogic()
	require.NoError(t, s.EndFrame())
	return info
}

// passCommands returns the commands recorded inside the marker of a frame graph callback.
func passCommands(cmds []renderer.Command, name string) []renderer.Command {
	var out []renderer.Command
	depth := 0
	for _, c := range cmds {
		switch {
		case depth == 0 && c.Op == renderer.OpBeginMarker && c.Name == name:
			depth = 1
		case depth > 0 && c.Op == renderer.OpBeginMarker:
			depth++
			out = append(out, c)
		case depth > 0 && c.Op == renderer.OpEndMarker:
			depth--
			if depth > 0 {
				out = append(out, c)
			}
		case depth > 0:
			out = append(out, c)
		}
	}
	return out
}

func countOp(cmds []renderer.Command, op renderer.Op) int {
	n := 0
	for _, c := range cmds {
		if c.Op == op {
			n++
		}
	}
	return n
}

func TestCallbacksFollowTheFrameScript(t *testing.T) {
	rs, _ := newTestSystem(t, config.Default())

	names := rs.Graph().Names()
	require.NotEmpty(t, names)
	assert.Equal(t, shadow.ShadowMapsCallback, names[0])
	assert.Equal(t, PresentCallback, names[len(names)-1])

	order := []string{
		shadow.ShadowMapsCallback,
		GBufferCallback,
		posteffects.HBAORunCallback,
		light.LightsCallback,
		debugdraw.CallbackName,
		PresentCallback,
	}
	last := -1
	for _, name := range order {
		i := slices.Index(names, name)
		require.GreaterOrEqual(t, i, 0, name)
		assert.Greater(t, i, last, name)
		last = i
	}
	require.NoError(t, rs.Script().CheckOrder(rs.Graph()))
}

func TestFramesRecordCleanly(t *testing.T) {
	cfg := config.Default()
	rs, b := newTestSystem(t, cfg)
	stage := demoStage(t, rs)
	v := rs.Server().CreateView(demoCamera(cfg), stage)

	for i := range 5 {
		info := runFrame(t, rs.Server())
		assert.Equal(t, uint64(i), info.FrameIndex)
		assert.Equal(t, i%cfg.Renderer.BufferedFrames, info.BufferIndex)
	}
	require.Empty(t, b.Hazards(), "hazards")
	require.Empty(t, b.Violations(), "layout violations")

	cmds := b.FrameCommands(4)
	gbuffer := passCommands(cmds, GBufferCallback)
	assert.Equal(t, 1, countOp(gbuffer, renderer.OpBeginPass))
	assert.Positive(t, countOp(gbuffer, renderer.OpDrawInstanced))
	assert.Equal(t, 1, countOp(passCommands(cmds, PresentCallback), renderer.OpBlit))
	assert.Len(t, v.Visible(), 2)

	layout, err := b.TextureLayout(b.Backbuffer(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, renderer.LayoutPresent, layout)
	for _, name := range rs.Resources().TextureNames() {
		decl, ok := rs.Script().Declaration(name)
		if !ok {
			continue
		}
		layout, err := b.TextureLayout(rs.Resources().MustTexture(name), 0, 0)
		require.NoError(t, err)
		assert.Equal(t, decl.RestingLayout(), layout, name)
	}
}

func TestDisabledEffectsRecordNothing(t *testing.T) {
	cfg := config.Default()
	cfg.Effects.HBAO.Enabled = false
	rs, b := newTestSystem(t, cfg)
	rs.Server().CreateView(demoCamera(cfg), demoStage(t, rs))

	assert.False(t, rs.EffectEnabled(rs.HBAO().Name()))
	runFrame(t, rs.Server())
	assert.Empty(t, passCommands(b.FrameCommands(0), posteffects.HBAORunCallback))

	cfg.Effects.HBAO.Enabled = true
	rs.ApplyEffects(cfg.Effects)
	assert.True(t, rs.EffectEnabled(rs.HBAO().Name()))
	runFrame(t, rs.Server())
	assert.Positive(t, countOp(passCommands(b.FrameCommands(1), posteffects.HBAORunCallback), renderer.OpCompute))
	require.Empty(t, b.Violations())
}

func TestInactiveStageIsNotRendered(t *testing.T) {
	cfg := config.Default()
	rs, b := newTestSystem(t, cfg)
	stage := demoStage(t, rs)
	stage.SetActive(false)
	rs.Server().CreateView(demoCamera(cfg), stage)

	runFrame(t, rs.Server())
	assert.Zero(t, countOp(b.FrameCommands(0), renderer.OpBlit))
}

func TestContextsAndLogicRunInFrameOrder(t *testing.T) {
	cfg := config.Default()
	rs, _ := newTestSystem(t, cfg)
	s := rs.Server()
	s.CreateView(demoCamera(cfg), demoStage(t, rs))

	var calls []string
	s.RegisterContext(GraphicsContext{
		Name:          "trace",
		OnBeforeFrame: func(FrameInfo) { calls = append(calls, "beforeFrame") },
		OnBeforeView:  func(View, FrameInfo) { calls = append(calls, "beforeView") },
		OnAfterView:   func(View, FrameInfo) { calls = append(calls, "afterView") },
		OnAfterFrame:  func(FrameInfo) { calls = append(calls, "afterFrame") },
	})
	s.AddPreLogicCallback(func(FrameInfo) { calls = append(calls, "pre") })
	s.AddPreLogicViewCallback(func(View, FrameInfo) { calls = append(calls, "preView") })
	s.AddPostLogicCallback(func(FrameInfo) { calls = append(calls, "post") })
	s.AddPostLogicViewCallback(func(View, FrameInfo) { calls = append(calls, "postView") })

	runFrame(t, s)
	assert.Equal(t, []string{
		"beforeFrame", "pre", "preView", "beforeView", "afterView", "post", "postView", "afterFrame",
	}, calls)
}

func TestFixedTimestepAdvancesTime(t *testing.T) {
	rs, _ := newTestSystem(t, config.Default(), WithFixedTimestep(0.5))
	s := rs.Server()

	first := runFrame(t, s)
	second := runFrame(t, s)
	assert.Zero(t, first.Time)
	assert.InDelta(t, 0.5, second.Time, 1e-9)
	assert.InDelta(t, 0.5, second.DeltaTime, 1e-9)
	assert.Equal(t, second, s.Frame())
}

func TestFrameMisusePanics(t *testing.T) {
	rs, _ := newTestSystem(t, config.Default())
	s := rs.Server()

	assert.Panics(t, func() { _ = s.Render() })
	assert.Panics(t, func() { _ = s.EndFrame() })

	_, err := s.NewFrame()
	require.NoError(t, err)
	assert.Panics(t, func() { _, _ = s.NewFrame() })
	require.NoError(t, s.Render())
	require.NoError(t, s.EndFrame())
}

func TestDiscardViewStopsRendering(t *testing.T) {
	cfg := config.Default()
	rs, b := newTestSystem(t, cfg)
	v := rs.Server().CreateView(demoCamera(cfg), demoStage(t, rs))
	require.Len(t, rs.Server().Views(), 1)

	rs.Server().DiscardView(v)
	assert.Empty(t, rs.Server().Views())
	runFrame(t, rs.Server())
	assert.Zero(t, countOp(b.FrameCommands(0), renderer.OpBeginPass))
}

func TestResizeRebuildsTargets(t *testing.T) {
	cfg := config.Default()
	rs, b := newTestSystem(t, cfg)
	rs.Server().CreateView(demoCamera(cfg), demoStage(t, rs))
	runFrame(t, rs.Server())

	require.NoError(t, rs.Resize(640, 360))
	w, h := rs.Size()
	assert.Equal(t, uint32(640), w)
	assert.Equal(t, uint32(360), h)
	dims, err := b.TextureDimensions(rs.Resources().MustTexture(framegraph.LightBuffer))
	require.NoError(t, err)
	assert.Equal(t, 640, int(dims.Width))
	assert.Equal(t, 360, int(dims.Height))

	require.NoError(t, rs.Resize(0, 100))
	w, _ = rs.Size()
	assert.Equal(t, uint32(640), w)

	runFrame(t, rs.Server())
	require.Empty(t, b.Violations())
}

func TestShutdownReleasesResources(t *testing.T) {
	cfg := config.Default()
	rs, b := newTestSystem(t, cfg)
	buffersBefore, texturesBefore, programsBefore, tablesBefore := b.Live()

	rs.Shutdown()
	rs.Shutdown()
	buffers, textures, programs, tables := b.Live()
	assert.Less(t, buffers, buffersBefore)
	assert.Less(t, textures, texturesBefore)
	assert.Less(t, programs, programsBefore)
	assert.Less(t, tables, tablesBefore)
	// only the backbuffer outlives the render system
	assert.Equal(t, 1, textures)
}

func TestNewRenderSystemRejectsBadConfig(t *testing.T) {
	lib, err := shader.NewLibrary(shader.NewFeatures())
	require.NoError(t, err)
	b, err := renderer.NewRecordingBackend(lib)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Renderer.BufferedFrames = 0
	_, err = NewRenderSystem(b, cfg)
	require.Error(t, err)
}
