package posteffects

import (
	"testing"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph/harness"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setup attaches effects to a fresh harness and registers them on one graph.
func setup(t *testing.T, effects ...Effect) (*harness.Harness, framegraph.FrameGraph) {
	t.Helper()
	h := harness.New(t)
	g := framegraph.NewFrameGraph()
	for _, e := range effects {
		require.NoError(t, e.Setup(h.Backend, h.Resources, harness.BufferedFrames), e.Name())
		require.NoError(t, e.Register(g), e.Name())
	}
	return h, g
}

func dispatches(h *harness.Harness, frame uint64) [][]uint64 {
	var out [][]uint64
	for _, c := range h.Ops(frame, renderer.OpCompute) {
		out = append(out, c.Args)
	}
	return out
}

func barrierNames(h *harness.Harness, frame uint64) []string {
	var out []string
	for _, c := range h.Ops(frame, renderer.OpBarrier) {
		out = append(out, c.Name)
	}
	return out
}

// normalized drops the frame index so commands of two frames can be compared.
func normalized(cmds []renderer.Command) []renderer.Command {
	out := make([]renderer.Command, len(cmds))
	for i, c := range cmds {
		c.Frame = 0
		out[i] = c
	}
	return out
}

func TestDispatchCount(t *testing.T) {
	assert.Equal(t, uint32(4), DispatchCount(1280, 320))
	assert.Equal(t, uint32(3), DispatchCount(720, 320))
	assert.Equal(t, uint32(1), DispatchCount(1, 64))
	assert.Equal(t, uint32(0), DispatchCount(0, 64))
}

func TestGPUBlockSizes(t *testing.T) {
	assert.Len(t, (&HBAOConstants{}).Bytes(), HBAOConstantsSize)
	assert.Len(t, (&HBAOBlurConstants{}).Bytes(), HBAOBlurConstantsSize)
	assert.Len(t, (&BlurConstants{}).Bytes(), BlurConstantsSize)
	assert.Len(t, (&SSRConstants{}).Bytes(), SSRConstantsSize)
	assert.Len(t, (&TonemapConstants{}).Bytes(), TonemapConstantsSize)
	assert.Len(t, (&FogUniforms{}).Bytes(), FogUniformsSize)
	assert.Len(t, (&FogLists{}).Bytes(), FogListsSize)
	assert.Len(t, common.SliceToBytes([]ClusterAABB{{}, {}}), 2*ClusterAABBSize)
}

func TestComputeHBAOConstants(t *testing.T) {
	cam := harness.DefaultCamera(1280.0 / 720.0)
	c := ComputeHBAOConstants(DefaultHBAOSettings(), cam, 1280, 720)

	assert.InDelta(t, 0.48, c.R, 1e-6)
	assert.InDelta(t, 0.2304, c.R2, 1e-6)
	assert.InDelta(t, -1/0.2304, c.NegInvR2, 1e-3)
	assert.Equal(t, float32(360), c.MaxRadiusPixels)
	assert.Equal(t, float32(2), c.Strength)
	assert.InDelta(t, 0.2, c.NearZ, 1e-6)
	assert.InDelta(t, math32.Tan(mgl32.DegToRad(10)), c.TanAngleBias, 1e-6)

	cot := 1 / math32.Tan(mgl32.DegToRad(30))
	assert.InDelta(t, cot, c.FocalLength[1], 1e-4)
	assert.InDelta(t, cot*720/1280, c.FocalLength[0], 1e-4)
	assert.InDelta(t, 2/c.FocalLength[0], c.UVToViewA[0], 1e-5)
	assert.InDelta(t, -2/c.FocalLength[1], c.UVToViewA[1], 1e-5)
	assert.Equal(t, mgl32.Vec2{1280, 720}, c.AOResolution)
	assert.Equal(t, float32(HBAONumDirections), c.NumDirections)
	assert.Equal(t, float32(HBAONumSteps), c.NumSteps)
}

func TestComputeHBAOBlurConstants(t *testing.T) {
	c := ComputeHBAOBlurConstants(1280, 720)
	assert.InDelta(t, 1.44269504/(2*17*17), c.BlurFalloff, 1e-7)
	assert.InDelta(t, 2*0.832554611/8, c.BlurDepthThreshold, 1e-6)
	assert.Equal(t, mgl32.Vec2{1280, 720}, c.Resolution)
	assert.InDelta(t, 1.0/1280, c.InvResolution[0], 1e-9)
}

func TestHBAORecordsSeparableDispatches(t *testing.T) {
	ao := NewHBAO(DefaultHBAOSettings())
	h, g := setup(t, ao)

	h.Frame(t, 0, g.Run)
	assert.Equal(t, [][]uint64{{4, 720, 1}, {3, 1280, 1}, {4, 720, 1}, {3, 1280, 1}}, dispatches(h, 0))
	assert.Equal(t, []string{"HBAO X", "HBAO Y", "HBAO BlurX", "HBAO BlurY", "HBAO Done"}, barrierNames(h, 0))
	h.RequireClean(t)
	h.RequireRestingLayouts(t)

	_, err := h.Resources.Texture(HBAOInternal0)
	assert.NoError(t, err)
}

func TestHBAOIsIdempotentForAnUnchangedCamera(t *testing.T) {
	ao := NewHBAO(DefaultHBAOSettings())
	h, g := setup(t, ao)
	impl := ao.(*hbao)

	h.Frame(t, 3, g.Run)
	first, err := h.Backend.BufferContents(impl.frames.Get(0).constants)
	require.NoError(t, err)
	h.Frame(t, 6, g.Run)
	second, err := h.Backend.BufferContents(impl.frames.Get(0).constants)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, normalized(h.Backend.FrameCommands(3)), normalized(h.Backend.FrameCommands(6)))
}

func TestSSRTraceAndResolve(t *testing.T) {
	s := NewSSR(DefaultSSRSettings())
	h, g := setup(t, s)

	h.Frame(t, 0, g.Run)
	assert.Equal(t, [][]uint64{{40, 23, 1}, {40, 23, 1}}, dispatches(h, 0))
	assert.Equal(t, []string{"SSR Trace", "SSR Trace Done", "SSR Resolve", "SSR Resolve Done"}, barrierNames(h, 0))
	h.RequireClean(t)
	h.RequireRestingLayouts(t)
}

func TestViewToTextureSpaceMapsTheViewCenter(t *testing.T) {
	cam := harness.DefaultCamera(16.0 / 9.0)
	m := ViewToTextureSpace(cam.Projection)
	p := m.Mul4x1(mgl32.Vec4{0, 0, -10, 1})
	assert.InDelta(t, 0.5, p[0]/p[3], 1e-5)
	assert.InDelta(t, 0.5, p[1]/p[3], 1e-5)

	up := m.Mul4x1(mgl32.Vec4{0, 1, -10, 1})
	assert.Less(t, up[1]/up[3], float32(0.5), "texture y grows downwards")
}

func TestTonemapCommandSequence(t *testing.T) {
	tm := NewTonemap(DefaultTonemapSettings())
	h, g := setup(t, tm)

	h.Frame(t, 0, g.Run)
	var ops []renderer.Op
	for _, c := range h.Ops(0, renderer.OpBarrier, renderer.OpBlit, renderer.OpBeginPass, renderer.OpDraw, renderer.OpEndPass, renderer.OpCopyTexture) {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []renderer.Op{
		renderer.OpBarrier, renderer.OpBlit, renderer.OpBarrier,
		renderer.OpBarrier, renderer.OpBeginPass, renderer.OpDraw, renderer.OpEndPass, renderer.OpBarrier,
		renderer.OpBarrier, renderer.OpCopyTexture, renderer.OpBarrier,
	}, ops)
	assert.Equal(t, []string{
		"Tonemap Downsample", "Tonemap Downsample (reverse)",
		"Tonemap AverageLum", "Tonemap AverageLum (reverse)",
		"Tonemap Copy", "Tonemap Copy (reverse)",
	}, barrierNames(h, 0))
	h.RequireClean(t)
	h.RequireRestingLayouts(t)
}

func TestTonemapUploadsAdaptationSpeed(t *testing.T) {
	tm := NewTonemap(TonemapSettings{AdaptationSpeed: 3})
	h, g := setup(t, tm)

	h.Frame(t, 0, g.Run)
	data, err := h.Backend.BufferContents(tm.(*tonemap).frames.Get(0).constants)
	require.NoError(t, err)
	want := TonemapConstants{TimeAndSpeed: mgl32.Vec4{float32(h.Context(0).DeltaTime), 3}}
	assert.Equal(t, want.Bytes(), data[:TonemapConstantsSize])
}

func TestFogVolumeCapacity(t *testing.T) {
	f := NewFog(DefaultFogSettings())
	for i := 0; i < MaxFogVolumes; i++ {
		_, err := f.AddVolume(NewFogBox(mgl32.Ident4(), 1, mgl32.Vec3{1, 1, 1}))
		require.NoError(t, err)
	}
	_, err := f.AddVolume(NewFogBox(mgl32.Ident4(), 1, mgl32.Vec3{1, 1, 1}))
	assert.ErrorIs(t, err, common.ErrCapacityExceeded)

	sphere, err := f.AddVolume(NewFogSphere(mgl32.Vec3{}, 2, 1, mgl32.Vec3{1, 1, 1}))
	require.NoError(t, err)
	err = f.SetVolume(sphere, NewFogBox(mgl32.Ident4(), 1, mgl32.Vec3{1, 1, 1}))
	assert.ErrorIs(t, err, common.ErrCapacityExceeded)

	boxes, spheres := f.VolumeCounts()
	assert.Equal(t, MaxFogVolumes, boxes)
	assert.Equal(t, 1, spheres)

	require.NoError(t, f.RemoveVolume(sphere))
	assert.ErrorIs(t, f.RemoveVolume(sphere), common.ErrInvalidHandle)
	_, ok := f.Volume(sphere)
	assert.False(t, ok)
}

func TestFogSetVolumeMovesBetweenKinds(t *testing.T) {
	f := NewFog(DefaultFogSettings())
	v, err := f.AddVolume(NewFogSphere(mgl32.Vec3{1, 2, 3}, 2, 1, mgl32.Vec3{1, 1, 1}))
	require.NoError(t, err)
	require.NoError(t, f.SetVolume(v, NewFogBox(mgl32.Ident4(), 1, mgl32.Vec3{1, 1, 1})))

	boxes, spheres := f.VolumeCounts()
	assert.Equal(t, 1, boxes)
	assert.Equal(t, 0, spheres)
	got, ok := f.Volume(v)
	require.True(t, ok)
	assert.Equal(t, FogVolumeBox, got.Kind)
}

func TestBuildFogLists(t *testing.T) {
	view := mgl32.Translate3D(0, 0, -10)
	volumes := []FogVolume{
		NewFogBox(mgl32.Scale3D(2, 2, 2), 0.5, mgl32.Vec3{1, 0.5, 0.25}),
		NewFogSphere(mgl32.Vec3{3, 0, 0}, 4, 0.25, mgl32.Vec3{1, 1, 1}),
	}
	var lists FogLists
	boxes, spheres := BuildFogLists(volumes, view, &lists)
	require.Equal(t, 1, boxes)
	require.Equal(t, 1, spheres)

	box := lists.Boxes[0]
	assert.InDelta(t, -2, box.BBoxMin[0], 1e-5)
	assert.InDelta(t, -12, box.BBoxMin[2], 1e-5)
	assert.InDelta(t, 2, box.BBoxMax[0], 1e-5)
	assert.InDelta(t, -8, box.BBoxMax[2], 1e-5)
	assert.Equal(t, mgl32.Vec4{1, 0.5, 0.25, 0.5}, box.Absorption)
	assert.Equal(t, float32(FogVolumeFalloff), box.Falloff)

	// the inverse transform maps the view-space box back onto the unit cube
	corner := box.InvTransform.Mul4x1(mgl32.Vec4{2, 2, -8, 1})
	assert.InDelta(t, 1, corner[0], 1e-5)
	assert.InDelta(t, 1, corner[2], 1e-5)

	sphere := lists.Spheres[0]
	assert.True(t, sphere.PositionRadius.ApproxEqual(mgl32.Vec4{3, 0, -10, 4}))
	assert.Equal(t, float32(0.25), sphere.Absorption[3])
}

func TestComputeClusterAABBs(t *testing.T) {
	cam := harness.DefaultCamera(1280.0 / 720.0)
	aabbs := ComputeClusterAABBs(cam.InvProjection, 1280, 720, cam.Near, cam.Far)

	dims := ClusterDimensions(1280, 720)
	assert.Equal(t, [3]uint32{20, 12, FogClusterSlices}, dims)
	require.Len(t, aabbs, int(dims[0]*dims[1]*dims[2]))

	for i, a := range aabbs {
		require.LessOrEqual(t, a.Min[0], a.Max[0], i)
		require.LessOrEqual(t, a.Min[1], a.Max[1], i)
		require.LessOrEqual(t, a.Min[2], a.Max[2], i)
	}

	first := aabbs[0]
	assert.InDelta(t, -cam.Near, first.Max[2], 1e-4)
	assert.InEpsilon(t, -ClusterSliceDepth(1, cam.Near, cam.Far), first.Min[2], 1e-3)

	last := aabbs[len(aabbs)-1]
	assert.InEpsilon(t, -cam.Far, last.Min[2], 1e-3)

	// the top left tile lies left of and above the view axis
	assert.Less(t, first.Max[0], float32(0))
	assert.Greater(t, first.Min[1], float32(0))
}

func TestFogSkipsTheListCopyWithoutVolumes(t *testing.T) {
	f := NewFog(DefaultFogSettings())
	h, g := setup(t, f)

	h.Frame(t, 0, g.Run)
	assert.Zero(t, h.Count(0, renderer.OpCopyBuffer))
	assert.Equal(t, [][]uint64{{90, 1, 1}, {5, 180, 1}, {1, 180, 1}, {1, 320, 1}}, dispatches(h, 0))
	h.RequireClean(t)
	h.RequireRestingLayouts(t)
}

func TestFogCopiesVolumesAndCachesClusters(t *testing.T) {
	f := NewFog(DefaultFogSettings())
	h, g := setup(t, f)
	_, err := f.AddVolume(NewFogBox(mgl32.Scale3D(5, 5, 5), 1, mgl32.Vec3{1, 1, 1}))
	require.NoError(t, err)
	_, err = f.AddVolume(NewFogSphere(mgl32.Vec3{0, 2, 0}, 3, 1, mgl32.Vec3{1, 1, 1}))
	require.NoError(t, err)

	clusterUploads := func(frame uint64) int {
		n := 0
		for _, c := range h.Ops(frame, renderer.OpUploadBuffer) {
			if c.Name == "Fog Clusters[0]" {
				n++
			}
		}
		return n
	}

	for frame := uint64(0); frame < 6; frame++ {
		h.Frame(t, frame, g.Run)
	}
	copies := h.Ops(0, renderer.OpCopyBuffer)
	require.Len(t, copies, 1)
	assert.Equal(t, []uint64{0, 0, FogListsSize}, copies[0].Args)
	assert.Contains(t, barrierNames(h, 0), "Fog Copy")

	assert.Positive(t, clusterUploads(0))
	assert.Zero(t, clusterUploads(3), "cluster boxes are reused while the projection is unchanged")
	h.RequireClean(t)
	h.RequireRestingLayouts(t)

	data, err := h.Backend.BufferContents(f.(*fog).frames.Get(0).uniforms)
	require.NoError(t, err)
	var want FogUniforms
	want.NumFogBoxes, want.NumFogSpheres = 1, 1
	assert.Equal(t, want.Bytes()[:8], data[:8])
}

func TestEffectsShareAFrameCleanly(t *testing.T) {
	effects := []Effect{
		NewHBAO(DefaultHBAOSettings()),
		NewSSR(DefaultSSRSettings()),
		NewFog(DefaultFogSettings()),
		NewTonemap(DefaultTonemapSettings()),
	}
	h, g := setup(t, effects...)
	assert.Empty(t, g.Validate())

	for frame := uint64(0); frame < 2*harness.BufferedFrames; frame++ {
		h.Frame(t, frame, g.Run)
	}
	h.RequireClean(t)
	h.RequireRestingLayouts(t)
}

func TestResizeAndDiscard(t *testing.T) {
	effects := []Effect{
		NewHBAO(DefaultHBAOSettings()),
		NewSSR(DefaultSSRSettings()),
		NewFog(DefaultFogSettings()),
		NewTonemap(DefaultTonemapSettings()),
	}
	for _, e := range effects {
		t.Run(e.Name(), func(t *testing.T) {
			assert.ErrorIs(t, e.Resize(640, 480), ErrNotSetup)

			h := harness.New(t)
			b0, t0, p0, r0 := h.Backend.Live()

			require.NoError(t, e.Setup(h.Backend, h.Resources, harness.BufferedFrames))
			b1, t1, p1, r1 := h.Backend.Live()
			require.NoError(t, e.Resize(1280, 720))
			b2, t2, p2, r2 := h.Backend.Live()
			assert.Equal(t, []int{b1, t1, p1, r1}, []int{b2, t2, p2, r2}, "resize recreates the same resources")

			e.Discard()
			b3, t3, p3, r3 := h.Backend.Live()
			assert.Equal(t, []int{b0, t0, p0, r0}, []int{b3, t3, p3, r3}, "discard releases everything")
		})
	}
}

func TestCallbacksFailWhenNotSetup(t *testing.T) {
	f := NewFog(DefaultFogSettings())
	h, g := setup(t, f)
	f.Discard()

	require.NoError(t, h.Backend.BeginFrame(0, 0))
	err := g.Run(h.Context(0))
	assert.ErrorIs(t, err, ErrNotSetup)
	_ = h.Backend.EndFrame()
}
