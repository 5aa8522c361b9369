package shadow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph/harness"
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/Carmen-Shannon/nebula-go/engine/model"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testScene struct {
	casters []*model.ModelInstance
}

func (s *testScene) ShadowCasters() []*model.ModelInstance {
	return s.casters
}

func (s *testScene) GlobalBoundingBox() common.BBox {
	b := common.EmptyBBox()
	for _, c := range s.casters {
		b = b.Union(c.WorldBounds())
	}
	return b
}

// newTestScene lays out a 5x5 grid of cubes on the ground plane.
func newTestScene(t *testing.T, h *harness.Harness) *testScene {
	t.Helper()
	cube := model.Cube("Caster")
	require.NoError(t, cube.Upload(h.Backend))
	s := &testScene{}
	for x := -2; x <= 2; x++ {
		for z := -2; z <= 2; z++ {
			s.casters = append(s.casters, model.NewModelInstance(cube, mgl32.Translate3D(float32(x*4), 0, float32(z*4))))
		}
	}
	return s
}

type lightRecorder struct {
	lights []light.Light
}

func (r *lightRecorder) AttachVisibleLight(l light.Light) {
	r.lights = append(r.lights, l)
}

func shadowSpot(x, z float32) light.Light {
	l := light.NewLight(light.LightTypeSpot,
		light.WithTransform(light.SpotTransform(mgl32.Vec3{x, 6, z}, mgl32.Vec3{x, 0, z}, 10)))
	l.SetCastShadowsThisFrame(true)
	return l
}

func shadowPoint(x, z float32) light.Light {
	l := light.NewLight(light.LightTypePoint, light.WithTransform(light.PointTransform(mgl32.Vec3{x, 1, z}, 5)))
	l.SetCastShadowsThisFrame(true)
	return l
}

func shadowGlobal() light.Light {
	l := light.NewLight(light.LightTypeGlobal, light.WithTransform(light.GlobalTransform(mgl32.Vec3{-1, -2, -1})))
	l.SetCastShadowsThisFrame(true)
	return l
}

func openServer(t *testing.T, h *harness.Harness, options ...ServerOption) *server {
	t.Helper()
	s := NewServer(options...).(*server)
	require.NoError(t, s.Open(h.Backend, h.Resources, harness.BufferedFrames))
	t.Cleanup(s.Close)
	return s
}

// panicError runs fn and returns the error it panicked with, if any.
func panicError(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("%v", r)
			}
		}
	}()
	fn()
	return nil
}

func TestOpenPublishesShadowMaps(t *testing.T) {
	h := harness.New(t)
	buffers, textures, programs, tables := h.Backend.Live()

	s := openServer(t, h)
	for _, name := range []string{framegraph.SpotShadowAtlas, framegraph.PointShadowMaps, framegraph.GlobalShadowMap} {
		_, err := h.Resources.Texture(name)
		assert.NoError(t, err, name)
	}
	b, tx, p, tb := h.Backend.Live()
	assert.Equal(t, textures+8, tx, "three maps, three depth targets and two blur targets")
	assert.Equal(t, programs+5, p)
	assert.Equal(t, tables+harness.BufferedFrames*(MaxNumShadowSpotLights+MaxNumShadowPointLights*CubeFaces+NumCascades)+4, tb)
	assert.Equal(t, buffers+harness.BufferedFrames*(3+MaxNumShadowSpotLights+MaxNumShadowPointLights+1)+2, b)

	s.Close()
	b, tx, p, tb = h.Backend.Live()
	assert.Equal(t, []int{buffers, textures, programs, tables}, []int{b, tx, p, tb})
	_, err := h.Resources.Texture(framegraph.SpotShadowAtlas)
	assert.ErrorIs(t, err, framegraph.ErrResourceNotFound)
}

func TestReopenReleasesThePreviousResources(t *testing.T) {
	h := harness.New(t)
	s := openServer(t, h)
	buffers, textures, programs, tables := h.Backend.Live()

	require.NoError(t, s.Open(h.Backend, h.Resources, harness.BufferedFrames))
	b, tx, p, tb := h.Backend.Live()
	assert.Equal(t, []int{buffers, textures, programs, tables}, []int{b, tx, p, tb})
}

func TestRenderShadowMaps(t *testing.T) {
	h := harness.New(t)
	sink := &lightRecorder{}
	s := openServer(t, h, WithLightServer(sink))
	scene := newTestScene(t, h)

	global := shadowGlobal()
	var spots, points []light.Light
	for i := 0; i < 20; i++ {
		spots = append(spots, shadowSpot(float32(i%5*4-8), float32(i/5*4-8)))
	}
	for i := 0; i < 6; i++ {
		points = append(points, shadowPoint(float32(i*3-8), 2))
	}

	s.BeginFrame(h.Camera, scene)
	s.BeginAttachVisibleLights()
	s.AttachVisibleLight(global)
	for _, l := range spots {
		s.AttachVisibleLight(l)
	}
	for _, l := range points {
		s.AttachVisibleLight(l)
	}
	s.EndAttachVisibleLights()

	assert.Len(t, sink.lights, 27, "every attached light is forwarded")
	assert.Equal(t, global, sink.lights[0])

	slots := map[SlotID]bool{}
	countShadowed := func(lights []light.Light) (shadowed, demoted int) {
		for _, l := range lights {
			if id, ok := s.Slot(l); ok {
				shadowed++
				slots[id] = true
				assert.True(t, l.CastShadowsThisFrame())
				assert.NotEqual(t, light.NoShadowSlot, l.ShadowSlot())
			} else {
				demoted++
				assert.False(t, l.CastShadowsThisFrame())
				assert.Equal(t, light.NoShadowSlot, l.ShadowSlot())
			}
		}
		return shadowed, demoted
	}
	shadowedSpots, demotedSpots := countShadowed(spots)
	shadowedPoints, demotedPoints := countShadowed(points)
	_, globalOK := s.Slot(global)
	assert.True(t, globalOK)
	assert.Equal(t, []int{MaxNumShadowSpotLights, 4}, []int{shadowedSpots, demotedSpots})
	assert.Equal(t, []int{MaxNumShadowPointLights, 2}, []int{shadowedPoints, demotedPoints})
	assert.Len(t, slots, NumShadowCastingLights-1, "slots are distinct")
	assert.Equal(t, NumShadowCastingLights, s.pool.InUse())

	assert.Len(t, s.ShadowLights(light.LightTypeSpot), MaxNumShadowSpotLights)
	assert.Len(t, s.ShadowLights(light.LightTypePoint), MaxNumShadowPointLights)
	assert.Len(t, s.ShadowLights(light.LightTypeGlobal), 1)

	cascades, ok := s.GlobalCascades()
	require.True(t, ok)
	assert.Equal(t, cascades, global.Cascades())
	vps, ok := s.CascadeViewProjections()
	require.True(t, ok)
	for i, vp := range vps {
		assert.NotEqual(t, mgl32.Ident4(), vp, "cascade %d", i)
	}

	h.Frame(t, 0, s.UpdateShadowBuffers)
	h.RequireClean(t)
	assert.Equal(t, 1+MaxNumShadowPointLights*CubeFaces+NumCascades, h.Count(0, renderer.OpBeginPass))
	assert.Equal(t, 4, h.Count(0, renderer.OpCompute), "two blur passes for the points and two for the global light")
	assert.NotZero(t, h.Count(0, renderer.OpDrawInstanced))

	var passes []string
	for _, c := range h.Ops(0, renderer.OpBeginPass) {
		if len(passes) == 0 || passes[len(passes)-1] != c.Name {
			passes = append(passes, c.Name)
		}
	}
	assert.Equal(t, []string{"Spot Shadows", "Point Shadows", "Global Shadows"}, passes)

	s.EndFrame()
	assert.Zero(t, s.pool.InUse())
	_, ok = s.Slot(spots[0])
	assert.False(t, ok)
	_, ok = s.GlobalCascades()
	assert.False(t, ok)
	for _, l := range spots {
		assert.Equal(t, float32(1), l.ShadowIntensity(), "faded intensities are restored")
	}
}

func TestRenderAcrossBufferedFrames(t *testing.T) {
	h := harness.New(t)
	s := openServer(t, h)
	scene := newTestScene(t, h)
	spot, point, global := shadowSpot(0, 0), shadowPoint(4, 4), shadowGlobal()

	for frame := uint64(0); frame < 2*harness.BufferedFrames; frame++ {
		s.BeginFrame(h.Camera, scene)
		s.BeginAttachVisibleLights()
		for _, l := range []light.Light{spot, point, global} {
			l.SetCastShadowsThisFrame(true)
			s.AttachVisibleLight(l)
		}
		s.EndAttachVisibleLights()
		h.Frame(t, frame, s.UpdateShadowBuffers)
		s.EndFrame()
	}
	h.RequireClean(t)
}

func TestEmptyFrameRecordsNothing(t *testing.T) {
	h := harness.New(t)
	s := openServer(t, h)

	s.BeginFrame(h.Camera, nil)
	s.BeginAttachVisibleLights()
	unshadowed := shadowSpot(0, 0)
	unshadowed.SetCastShadowsThisFrame(false)
	s.AttachVisibleLight(unshadowed)
	s.EndAttachVisibleLights()

	h.Frame(t, 0, s.UpdateShadowBuffers)
	assert.Zero(t, h.Count(0, renderer.OpBeginPass))
	_, ok := s.Slot(unshadowed)
	assert.False(t, ok)
	s.EndFrame()
}

func TestLastGlobalLightWins(t *testing.T) {
	h := harness.New(t)
	sink := &lightRecorder{}
	s := openServer(t, h, WithLightServer(sink))

	first, second := shadowGlobal(), shadowGlobal()
	s.BeginFrame(h.Camera, nil)
	s.BeginAttachVisibleLights()
	s.AttachVisibleLight(first)
	s.AttachVisibleLight(second)
	s.AttachVisibleLight(second)
	s.EndAttachVisibleLights()

	assert.Equal(t, []light.Light{second}, sink.lights)
	_, ok := s.Slot(first)
	assert.False(t, ok)
	s.EndFrame()
}

func TestSingleSpotBudgetInterpolates(t *testing.T) {
	h := harness.New(t)
	s := openServer(t, h, WithMaxShadowLights(1, 1))
	s.SetPointOfInterest(mgl32.Vec3{})

	caster := light.NewLight(light.LightTypeSpot,
		light.WithTransform(light.SpotTransform(mgl32.Vec3{0, 0, 4}, mgl32.Vec3{}, 10)))
	other := light.NewLight(light.LightTypeSpot,
		light.WithTransform(light.SpotTransform(mgl32.Vec3{3, 0, 1.5}, mgl32.Vec3{0, 0, 4}, 5)))

	s.BeginFrame(h.Camera, nil)
	s.BeginAttachVisibleLights()
	for _, l := range []light.Light{other, caster} {
		l.SetCastShadowsThisFrame(true)
		s.AttachVisibleLight(l)
	}
	s.EndAttachVisibleLights()

	assert.Equal(t, []light.Light{caster}, s.ShadowLights(light.LightTypeSpot))
	assert.NotEqual(t, caster.Transform(), caster.ShadowTransform())
	assert.False(t, other.CastShadowsThisFrame())

	s.EndFrame()
	assert.Equal(t, caster.Transform(), caster.ShadowTransform(), "the shadow transform is reset")
}

func TestShadowedLightsReachTheLightServer(t *testing.T) {
	h := harness.New(t)
	ls := light.NewServer()
	s := openServer(t, h, WithLightServer(ls), WithMaxShadowLights(1, 1))
	// the light server binds the shadow maps at setup, so it comes after Open
	require.NoError(t, ls.Setup(h.Backend, h.Resources, harness.BufferedFrames))
	t.Cleanup(ls.Discard)
	scene := newTestScene(t, h)

	lights := []light.Light{shadowGlobal(), shadowSpot(-4, 0), shadowSpot(4, 0), shadowPoint(0, 4)}
	s.BeginFrame(h.Camera, scene)
	s.BeginAttachVisibleLights()
	for _, l := range lights {
		s.AttachVisibleLight(l)
	}
	s.EndAttachVisibleLights()

	h.Frame(t, 0, func(ctx *framegraph.FrameContext) error {
		if err := s.UpdateShadowBuffers(ctx); err != nil {
			return err
		}
		return ls.RenderLights(ctx)
	})
	h.RequireClean(t)

	var programs []string
	for _, c := range h.Ops(0, renderer.OpSetShaderProgram) {
		programs = append(programs, c.Name)
	}
	assert.Contains(t, programs, "lights[Global|Alt0]")
	assert.Contains(t, programs, "lights[Spot|Alt0]")
	assert.Contains(t, programs, "lights[Spot]", "the demoted spot is drawn unshadowed")
	assert.Contains(t, programs, "lights[Point|Alt0]")

	s.EndFrame()
	ls.EndFrame()
}

func TestOutOfOrderCallsPanic(t *testing.T) {
	h := harness.New(t)
	s := NewServer()

	err := panicError(func() { s.BeginFrame(h.Camera, nil) })
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, s.UpdateShadowBuffers(h.Context(0)), ErrNotOpen)

	require.NoError(t, s.Open(h.Backend, h.Resources, harness.BufferedFrames))
	t.Cleanup(s.Close)

	assert.Error(t, panicError(func() { s.AttachVisibleLight(shadowSpot(0, 0)) }))
	assert.Error(t, panicError(func() { s.EndFrame() }))

	s.BeginFrame(h.Camera, nil)
	assert.Error(t, panicError(func() { s.BeginFrame(h.Camera, nil) }))
	assert.Error(t, panicError(func() { _ = s.UpdateShadowBuffers(h.Context(0)) }))

	s.BeginAttachVisibleLights()
	assert.Error(t, panicError(func() { s.EndFrame() }))
	s.EndAttachVisibleLights()
	s.EndFrame()

	// a panic leaves the server usable
	s.BeginFrame(h.Camera, nil)
	s.EndFrame()
}

func TestUpdateAfterCloseReturnsErrNotOpen(t *testing.T) {
	h := harness.New(t)
	s := openServer(t, h)
	s.Close()
	assert.True(t, errors.Is(s.UpdateShadowBuffers(h.Context(0)), ErrNotOpen))
}

func TestCasterBudgetDropsInstances(t *testing.T) {
	h := harness.New(t)
	s := openServer(t, h, WithMaxCastersPerLight(3))
	scene := newTestScene(t, h)
	spot := shadowSpot(0, 0)

	s.BeginFrame(h.Camera, scene)
	s.BeginAttachVisibleLights()
	s.AttachVisibleLight(spot)
	s.EndAttachVisibleLights()
	h.Frame(t, 0, s.UpdateShadowBuffers)
	s.EndFrame()

	h.RequireClean(t)
	var instances uint64
	for _, c := range h.Ops(0, renderer.OpDrawInstanced) {
		instances += c.Args[1]
	}
	assert.LessOrEqual(t, instances, uint64(3))
	assert.NotZero(t, instances)
}

func TestAtlasTile(t *testing.T) {
	rect, uv := atlasTile(5, 2048)
	assert.Equal(t, common.NewRect(512, 512, 512, 512), rect)
	pad := float32(ShadowAtlasBorderPixels) / 2048
	assert.InDelta(t, 0.25+pad, uv[0], 1e-6)
	assert.InDelta(t, 0.25+pad, uv[1], 1e-6)
	assert.InDelta(t, 0.25-2*pad, uv[2], 1e-6)
}

func TestShadowBox(t *testing.T) {
	empty := shadowBox(common.EmptyBBox(), mgl32.Vec3{1, 2, 3})
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, empty.Center())
	assert.InDelta(t, sceneBoxPadding, empty.Extents().X(), 1e-5)

	huge := shadowBox(common.BBoxFromCenterExtents(mgl32.Vec3{}, mgl32.Vec3{2000, 1, 1}), mgl32.Vec3{})
	assert.InDelta(t, maxSceneBoxExtent, huge.Extents().X(), 1e-3)
	assert.InDelta(t, 1+sceneBoxPadding, huge.Extents().Y(), 1e-5)
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(config.Shadows{
		MaxSpot:            40,
		MaxPoint:           2,
		CSMSize:            1024,
		Fitting:            "cascade",
		Clamping:           "aabb",
		CascadeDistances:   []float32{1, 2, 3, 4},
		CascadeMaxDistance: 4,
	})
	require.NoError(t, err)
	s := NewServer(opts...).(*server)
	assert.Equal(t, MaxNumShadowSpotLights, s.maxSpot)
	assert.Equal(t, 2, s.maxPoint)
	assert.Equal(t, MaxNumShadowSpotLights+2+1, s.pool.Capacity())
	assert.Equal(t, FitCascade, s.csm.Fitting())
	assert.Equal(t, ClampAABB, s.csm.Clamping())
	assert.Equal(t, float32(512), s.csm.textureWidth)

	_, err = OptionsFromConfig(config.Shadows{Fitting: "sphere"})
	assert.ErrorIs(t, err, ErrInvalidMethod)
	_, err = OptionsFromConfig(config.Shadows{CascadeDistances: []float32{1, 2, 3}})
	assert.ErrorIs(t, err, ErrInvalidMethod)

	_, err = OptionsFromConfig(config.Default().Shadows)
	assert.NoError(t, err)
}
