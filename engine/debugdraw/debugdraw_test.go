package debugdraw

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph/harness"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var red = mgl32.Vec4{1, 0, 0, 1}

func setup(t *testing.T, h *harness.Harness, options ...CollectorOption) Collector {
	t.Helper()
	c := NewCollector(options...)
	require.NoError(t, c.Setup(h.Backend, h.Resources, harness.BufferedFrames))
	t.Cleanup(c.Discard)
	return c
}

func TestDrawListsGroupConsecutivePrimitives(t *testing.T) {
	c := NewCollector()
	c.DrawLine(mgl32.Vec3{}, mgl32.Vec3{1, 0, 0}, red, 0)
	c.DrawLine(mgl32.Vec3{}, mgl32.Vec3{0, 1, 0}, red, 0)
	c.DrawPoint(mgl32.Vec3{}, red, 0)
	c.DrawLine(mgl32.Vec3{}, mgl32.Vec3{0, 0, 1}, red, CheckDepth)
	c.DrawText(mgl32.Vec3{}, "origin", 12, red, 0)

	lists := c.DrawLists()
	require.Len(t, lists, 3)
	assert.Len(t, lists[0].Vertices, 4)
	assert.Equal(t, PrimitivePoints, lists[1].Primitive)
	assert.Equal(t, LayerDepthTested, lists[2].Layer)
	require.Len(t, c.TextDraws(), 1)
	assert.Equal(t, "origin", c.TextDraws()[0].Text)

	c.NewFrame()
	assert.Empty(t, c.DrawLists())
	assert.Empty(t, c.TextDraws())
}

func TestShapeVertexCounts(t *testing.T) {
	count := func(draw func(c Collector)) int {
		c := NewCollector()
		draw(c)
		n := 0
		for _, l := range c.DrawLists() {
			n += len(l.Vertices)
		}
		return n
	}
	box := common.BBox{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{1, 2, 3}}

	assert.Equal(t, 24, count(func(c Collector) { c.DrawBox(box, red, Wireframe) }))
	assert.Equal(t, 36, count(func(c Collector) { c.DrawBox(box, red, Solid) }))
	assert.Equal(t, 3*circleSegments*2, count(func(c Collector) { c.DrawSphere(mgl32.Vec3{}, 2, red, 0) }))
	assert.Equal(t, circleSegments*2+8, count(func(c Collector) { c.DrawCone(mgl32.Ident4(), red, 0) }))
	assert.Equal(t, 5*4, count(func(c Collector) { c.DrawGrid(mgl32.Vec3{}, 1, 4, red, 0) }))
	assert.Zero(t, count(func(c Collector) { c.DrawGrid(mgl32.Vec3{}, 1, 0, red, 0) }))
}

func TestDrawBoxCornersMatchBox(t *testing.T) {
	c := NewCollector()
	box := common.BBox{Min: mgl32.Vec3{-1, 0, 2}, Max: mgl32.Vec3{3, 4, 6}}
	c.DrawBox(box, red, 0)

	got := common.EmptyBBox()
	for _, v := range c.DrawLists()[0].Vertices {
		got = got.Extend(v.Position.Vec3())
	}
	for i := 0; i < 3; i++ {
		assert.InDelta(t, box.Min[i], got.Min[i], 1e-5)
		assert.InDelta(t, box.Max[i], got.Max[i], 1e-5)
	}
}

func TestChunkSizes(t *testing.T) {
	assert.Equal(t, 3276, VerticesPerChunk(1<<16, PrimitiveLines))
	assert.Equal(t, 3276, VerticesPerChunk(1<<16, PrimitiveTriangles))
	assert.Equal(t, 30, VerticesPerChunk(620, PrimitiveLines), "31 vertices round down to whole lines")
	assert.Equal(t, 3, VerticesPerChunk(10, PrimitiveTriangles), "at least one primitive")

	assert.Equal(t, 0, ChunkCount(0, 1<<16, PrimitiveLines))
	assert.Equal(t, 1, ChunkCount(3276, 1<<16, PrimitiveLines))
	assert.Equal(t, 4, ChunkCount(10000, 1<<16, PrimitiveLines))
}

func TestRenderUploadsEveryVertexInBoundedChunks(t *testing.T) {
	const maxUpload = 30 * VertexSize
	h := harness.New(t, renderer.WithUploadMaxSize(maxUpload))
	c := setup(t, h)

	rng := rand.New(rand.NewSource(7))
	randomPoint := func() mgl32.Vec3 {
		return mgl32.Vec3{rng.Float32()*20 - 10, rng.Float32() * 5, rng.Float32()*20 - 10}
	}
	for i := 0; i < 200; i++ {
		flags := RenderFlags(0)
		if rng.Intn(2) == 0 {
			flags |= CheckDepth
		}
		switch rng.Intn(4) {
		case 0:
			c.DrawPoint(randomPoint(), red, flags)
		case 1:
			c.DrawLine(randomPoint(), randomPoint(), red, flags)
		case 2:
			c.DrawBox(common.BBoxFromCenterExtents(randomPoint(), mgl32.Vec3{1, 1, 1}), red, flags|Solid)
		case 3:
			c.DrawSphere(randomPoint(), 1, red, flags)
		}
	}

	type batchKey struct {
		primitive PrimitiveType
		layer     Layer
	}
	want := 0
	perBatch := map[batchKey]int{}
	for _, l := range c.DrawLists() {
		want += len(l.Vertices)
		key := batchKey{l.Primitive, l.Layer}
		if l.Primitive == PrimitivePoints {
			key.layer = LayerDefault
		}
		perBatch[key] += len(l.Vertices)
	}
	wantChunks := 0
	for key, n := range perBatch {
		wantChunks += ChunkCount(n, maxUpload, key.primitive)
	}

	h.Frame(t, 1, c.Render)

	uploaded, drawn := 0, 0
	next := 0
	for _, cmd := range h.Ops(1, renderer.OpUploadBuffer, renderer.OpDraw) {
		switch cmd.Op {
		case renderer.OpUploadBuffer:
			if !strings.HasPrefix(cmd.Name, "DebugDraw") {
				continue
			}
			assert.LessOrEqual(t, cmd.Args[1], uint64(maxUpload))
			uploaded += int(cmd.Args[1] / VertexSize)
		case renderer.OpDraw:
			assert.Equal(t, uint64(next), cmd.Args[1], "draws cover consecutive ranges")
			next += int(cmd.Args[0])
			drawn += int(cmd.Args[0])
		}
	}
	assert.Equal(t, want, uploaded)
	assert.Equal(t, want, drawn)
	assert.Equal(t, wantChunks, h.Count(1, renderer.OpDraw))
	assert.Zero(t, c.DroppedVertices())
	h.RequireClean(t)
	h.RequireRestingLayouts(t)
}

func TestRenderSurroundsEveryUploadWithBarriers(t *testing.T) {
	h := harness.New(t, renderer.WithUploadMaxSize(20*VertexSize))
	c := setup(t, h)
	for i := 0; i < 25; i++ {
		c.DrawLine(mgl32.Vec3{}, mgl32.Vec3{float32(i), 1, 0}, red, 0)
	}

	h.Frame(t, 1, c.Render)

	var seq []string
	for _, cmd := range h.Ops(1, renderer.OpBarrier, renderer.OpUploadBuffer, renderer.OpDraw) {
		if cmd.Op == renderer.OpUploadBuffer && !strings.HasPrefix(cmd.Name, "DebugDraw") {
			continue
		}
		if cmd.Op == renderer.OpBarrier {
			seq = append(seq, cmd.Name)
			continue
		}
		seq = append(seq, string(cmd.Op))
	}
	assert.Equal(t, []string{
		"DebugDraw Targets",
		"DebugDraw Upload", "UploadBuffer", "DebugDraw Upload (reverse)", "Draw",
		"DebugDraw Upload", "UploadBuffer", "DebugDraw Upload (reverse)", "Draw",
		"DebugDraw Upload", "UploadBuffer", "DebugDraw Upload (reverse)", "Draw",
		"DebugDraw Targets (reverse)",
	}, seq)
	h.RequireClean(t)
}

func TestRenderOrdersBatches(t *testing.T) {
	h := harness.New(t)
	c := setup(t, h, WithGrid(mgl32.Vec3{}, 1, 10))

	c.DrawLine(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1}, red, CheckDepth)
	c.DrawBox(common.BBoxFromCenterExtents(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1}), red, Solid|CheckDepth)
	c.DrawLine(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1}, red, 0)
	c.DrawBox(common.BBoxFromCenterExtents(mgl32.Vec3{}, mgl32.Vec3{1, 1, 1}), red, Solid)
	c.DrawPoint(mgl32.Vec3{}, red, CheckDepth)

	h.Frame(t, 1, c.Render)

	var passes []string
	for _, cmd := range h.Ops(1, renderer.OpBeginPass) {
		passes = append(passes, cmd.Name)
	}
	assert.Equal(t, []string{
		"DebugDraw grid",
		"DebugDraw points",
		"DebugDraw triangles",
		"DebugDraw lines",
		"DebugDraw lines depth",
		"DebugDraw triangles depth",
	}, passes)
	h.RequireClean(t)
}

func TestRenderDropsVerticesOverCapacity(t *testing.T) {
	h := harness.New(t)
	c := setup(t, h, WithCapacity(30))
	for i := 0; i < 20; i++ {
		c.DrawLine(mgl32.Vec3{}, mgl32.Vec3{1, 0, 0}, red, 0)
	}

	h.Frame(t, 1, c.Render)

	drawn := 0
	for _, cmd := range h.Ops(1, renderer.OpDraw) {
		drawn += int(cmd.Args[0])
	}
	assert.Equal(t, 30, drawn)
	assert.Equal(t, 10, c.DroppedVertices())
	h.RequireClean(t)
}

func TestRenderAcrossBufferedFrames(t *testing.T) {
	h := harness.New(t)
	c := setup(t, h)
	for frame := uint64(1); frame <= 7; frame++ {
		c.NewFrame()
		c.DrawSphere(mgl32.Vec3{0, float32(frame), 0}, 1, red, CheckDepth)
		h.Frame(t, frame, c.Render)
	}
	h.RequireClean(t)
	h.RequireRestingLayouts(t)
}

func TestRenderWithoutVerticesRecordsNothing(t *testing.T) {
	h := harness.New(t)
	c := setup(t, h)
	h.Frame(t, 1, c.Render)
	assert.Zero(t, h.Count(1, renderer.OpBeginPass))
	assert.Zero(t, h.Count(1, renderer.OpBarrier))
}
