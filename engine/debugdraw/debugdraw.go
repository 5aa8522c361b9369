package debugdraw

import (
	"sync"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/model"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/ringbuffer"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// VertexData is one debug vertex: a float32x4 position and a packed UByte4N color. 20 bytes.
type VertexData struct {
	Position mgl32.Vec4
	Color    uint32
}

// VertexSize is the size in bytes of VertexData.
const VertexSize = 20

// MaxVertices is the capacity of the per-frame debug vertex buffer.
const MaxVertices = 100000 * 3

// PrimitiveType is the primitive a draw list is assembled as.
type PrimitiveType int

const (
	PrimitivePoints PrimitiveType = iota
	PrimitiveLines
	PrimitiveTriangles
)

// VerticesPerPrimitive returns the number of vertices one primitive of p consumes.
func (p PrimitiveType) VerticesPerPrimitive() int {
	switch p {
	case PrimitiveLines:
		return 2
	case PrimitiveTriangles:
		return 3
	}
	return 1
}

func (p PrimitiveType) topology() renderer.PrimitiveTopology {
	switch p {
	case PrimitiveLines:
		return renderer.TopologyLineList
	case PrimitiveTriangles:
		return renderer.TopologyTriangleList
	}
	return renderer.TopologyPointList
}

// Layer splits primitives into always visible and depth tested draws.
type Layer int

const (
	LayerDefault Layer = iota
	LayerDepthTested
)

// RenderFlags modify a draw call.
type RenderFlags uint32

const (
	// CheckDepth puts the primitive on the depth tested layer.
	CheckDepth RenderFlags = 1 << iota

	// Wireframe draws shapes as lines. It is the default when Solid is not set.
	Wireframe

	// Solid draws shapes as triangles.
	Solid
)

func (f RenderFlags) layer() Layer {
	if f&CheckDepth != 0 {
		return LayerDepthTested
	}
	return LayerDefault
}

// DrawList is a run of vertices sharing a primitive type and layer.
type DrawList struct {
	Primitive PrimitiveType
	Layer     Layer
	Vertices  []VertexData
}

// TextDraw is a text label forwarded to the UI layer.
type TextDraw struct {
	Position mgl32.Vec3
	Text     string
	Size     float32
	Color    mgl32.Vec4
	Flags    RenderFlags
}

// category is one of the fixed render batches, drawn in declaration order.
type category struct {
	name      string
	primitive PrimitiveType
	layer     Layer
	anyLayer  bool
}

var categories = [5]category{
	{name: "points", primitive: PrimitivePoints, anyLayer: true},
	{name: "triangles", primitive: PrimitiveTriangles, layer: LayerDefault},
	{name: "lines", primitive: PrimitiveLines, layer: LayerDefault},
	{name: "lines depth", primitive: PrimitiveLines, layer: LayerDepthTested},
	{name: "triangles depth", primitive: PrimitiveTriangles, layer: LayerDepthTested},
}

// Collector accumulates immediate-mode debug primitives and renders them once per frame.
// Draw calls only enqueue vertices; no GPU work happens until Render.
type Collector interface {
	// NewFrame clears the draw lists and text draws of the previous frame.
	NewFrame()

	// DrawPoint enqueues a point.
	//
	// Parameters:
	//   - p: the world-space position
	//   - color: RGBA color
	//   - flags: CheckDepth selects the depth tested layer
	DrawPoint(p mgl32.Vec3, color mgl32.Vec4, flags RenderFlags)

	// DrawLine enqueues a line segment.
	//
	// Parameters:
	//   - a, b: the world-space end points
	//   - color: RGBA color
	//   - flags: CheckDepth selects the depth tested layer
	DrawLine(a, b mgl32.Vec3, color mgl32.Vec4, flags RenderFlags)

	// DrawBox enqueues an axis-aligned box, as 12 lines or, with Solid, 12 triangles.
	//
	// Parameters:
	//   - box: the world-space box
	//   - color: RGBA color
	//   - flags: CheckDepth, Wireframe or Solid
	DrawBox(box common.BBox, color mgl32.Vec4, flags RenderFlags)

	// DrawOrientedBox enqueues the cube [-1, 1]^3 transformed by transform.
	//
	// Parameters:
	//   - transform: the box-to-world transform
	//   - color: RGBA color
	//   - flags: CheckDepth, Wireframe or Solid
	DrawOrientedBox(transform mgl32.Mat4, color mgl32.Vec4, flags RenderFlags)

	// DrawSphere enqueues a sphere, as three great circles or, with Solid, a triangle mesh.
	//
	// Parameters:
	//   - center: the world-space center
	//   - radius: the sphere radius
	//   - color: RGBA color
	//   - flags: CheckDepth, Wireframe or Solid
	DrawSphere(center mgl32.Vec3, radius float32, color mgl32.Vec4, flags RenderFlags)

	// DrawCone enqueues the unit cone (apex at the origin, base at z = -1) transformed by transform.
	//
	// Parameters:
	//   - transform: the cone-to-world transform
	//   - color: RGBA color
	//   - flags: CheckDepth, Wireframe or Solid
	DrawCone(transform mgl32.Mat4, color mgl32.Vec4, flags RenderFlags)

	// DrawGrid enqueues a square line grid on the XZ plane.
	//
	// Parameters:
	//   - center: the grid center
	//   - cellSize: the edge length of one cell
	//   - cells: the number of cells per side
	//   - color: RGBA color
	//   - flags: CheckDepth selects the depth tested layer
	DrawGrid(center mgl32.Vec3, cellSize float32, cells int, color mgl32.Vec4, flags RenderFlags)

	// DrawText enqueues a label for the UI layer. It produces no vertices.
	DrawText(p mgl32.Vec3, text string, size float32, color mgl32.Vec4, flags RenderFlags)

	// DrawLists returns a copy of the current frame's draw lists in submission order.
	DrawLists() []DrawList

	// TextDraws returns a copy of the current frame's text labels.
	TextDraws() []TextDraw

	// Setup creates the per-frame vertex buffers and resource tables.
	//
	// Parameters:
	//   - backend: the backend the resources are created on
	//   - resources: the frame resources holding the FrameConstants ring
	//   - bufferedFrames: the number of frames in flight
	//
	// Returns:
	//   - error: error if a resource cannot be created
	Setup(backend renderer.GraphicsBackend, resources *framegraph.Resources, bufferedFrames int) error

	// Register adds the DebugDraw callback to graph.
	Register(graph framegraph.FrameGraph) error

	// Render uploads the current frame's vertices in bounded chunks and draws them into the
	// light buffer: the optional grid first, then the fixed categories.
	//
	// Parameters:
	//   - ctx: the frame context
	//
	// Returns:
	//   - error: error if an upload fails
	Render(ctx *framegraph.FrameContext) error

	// DroppedVertices returns the number of vertices the last Render dropped because the
	// frame exceeded MaxVertices.
	DroppedVertices() int

	// Discard destroys the resources created by Setup.
	Discard()
}

type frameSlot struct {
	vertices renderer.BufferHandle
	tables   [2]renderer.ResourceTableHandle
}

// collector is the implementation of the Collector interface.
type collector struct {
	mu sync.Mutex

	log       *zap.Logger
	lists     []DrawList
	texts     []TextDraw
	scratch   []VertexData
	dropped   int
	capacity  int
	grid       bool
	gridCenter mgl32.Vec3
	gridSize   float32
	gridCells int
	gridColor mgl32.Vec4

	backend   renderer.GraphicsBackend
	resources *framegraph.Resources
	programs  [2]renderer.ShaderProgramHandle
	frames    *ringbuffer.Ring[frameSlot]
}

var _ Collector = &collector{}

// NewCollector creates a debug primitive Collector.
//
// Parameters:
//   - options: functional options such as WithGrid and WithLogger
//
// Returns:
//   - Collector: the collector
func NewCollector(options ...CollectorOption) Collector {
	c := &collector{
		log:       zap.NewNop(),
		capacity:  MaxVertices,
		gridColor: mgl32.Vec4{0.5, 0.5, 0.5, 1},
		frames:    ringbuffer.New[frameSlot](),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *collector) NewFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists = c.lists[:0]
	c.texts = c.texts[:0]
}

// appendVertices adds vertices to the last draw list when it has the same primitive and layer,
// otherwise it starts a new list.
func (c *collector) appendVertices(p PrimitiveType, layer Layer, verts ...VertexData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.lists); n > 0 && c.lists[n-1].Primitive == p && c.lists[n-1].Layer == layer {
		c.lists[n-1].Vertices = append(c.lists[n-1].Vertices, verts...)
		return
	}
	c.lists = append(c.lists, DrawList{Primitive: p, Layer: layer, Vertices: verts})
}

func vertex(p mgl32.Vec3, color uint32) VertexData {
	return VertexData{Position: p.Vec4(1), Color: color}
}

func (c *collector) DrawPoint(p mgl32.Vec3, color mgl32.Vec4, flags RenderFlags) {
	c.appendVertices(PrimitivePoints, flags.layer(), vertex(p, common.PackColor(color)))
}

func (c *collector) DrawLine(a, b mgl32.Vec3, color mgl32.Vec4, flags RenderFlags) {
	packed := common.PackColor(color)
	c.appendVertices(PrimitiveLines, flags.layer(), vertex(a, packed), vertex(b, packed))
}

var boxEdges = [12][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0},
	{4, 5}, {5, 6}, {6, 7}, {7, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

var unitCorners = [8]mgl32.Vec3{
	{-1, -1, -1}, {1, -1, -1}, {1, 1, -1}, {-1, 1, -1},
	{-1, -1, 1}, {1, -1, 1}, {1, 1, 1}, {-1, 1, 1},
}

func (c *collector) DrawBox(box common.BBox, color mgl32.Vec4, flags RenderFlags) {
	center, ext := box.Center(), box.Extents()
	m := mgl32.Translate3D(center[0], center[1], center[2]).Mul4(mgl32.Scale3D(ext[0], ext[1], ext[2]))
	c.DrawOrientedBox(m, color, flags)
}

func (c *collector) DrawOrientedBox(transform mgl32.Mat4, color mgl32.Vec4, flags RenderFlags) {
	packed := common.PackColor(color)
	if flags&Solid != 0 {
		c.appendMesh(model.CubePositions(), transform, packed, flags)
		return
	}
	verts := make([]VertexData, 0, 24)
	for _, e := range boxEdges {
		verts = append(verts,
			vertex(common.TransformPoint(transform, unitCorners[e[0]]), packed),
			vertex(common.TransformPoint(transform, unitCorners[e[1]]), packed),
		)
	}
	c.appendVertices(PrimitiveLines, flags.layer(), verts...)
}

func (c *collector) appendMesh(positions []mgl32.Vec3, transform mgl32.Mat4, packed uint32, flags RenderFlags) {
	verts := make([]VertexData, len(positions))
	for i, p := range positions {
		verts[i] = vertex(common.TransformPoint(transform, p), packed)
	}
	c.appendVertices(PrimitiveTriangles, flags.layer(), verts...)
}

const circleSegments = 24

func (c *collector) DrawSphere(center mgl32.Vec3, radius float32, color mgl32.Vec4, flags RenderFlags) {
	packed := common.PackColor(color)
	m := mgl32.Translate3D(center[0], center[1], center[2]).Mul4(mgl32.Scale3D(radius, radius, radius))
	if flags&Solid != 0 {
		c.appendMesh(model.SpherePositions(8, 12), m, packed, flags)
		return
	}
	verts := make([]VertexData, 0, 3*circleSegments*2)
	for axis := 0; axis < 3; axis++ {
		for i := 0; i < circleSegments; i++ {
			verts = append(verts,
				vertex(common.TransformPoint(m, circlePoint(axis, i)), packed),
				vertex(common.TransformPoint(m, circlePoint(axis, i+1)), packed),
			)
		}
	}
	c.appendVertices(PrimitiveLines, flags.layer(), verts...)
}

// circlePoint returns point i of a unit circle around the given axis.
func circlePoint(axis, i int) mgl32.Vec3 {
	a := 2 * math32.Pi * float32(i) / circleSegments
	s, co := math32.Sin(a), math32.Cos(a)
	switch axis {
	case 0:
		return mgl32.Vec3{0, co, s}
	case 1:
		return mgl32.Vec3{co, 0, s}
	}
	return mgl32.Vec3{co, s, 0}
}

func (c *collector) DrawCone(transform mgl32.Mat4, color mgl32.Vec4, flags RenderFlags) {
	packed := common.PackColor(color)
	if flags&Solid != 0 {
		c.appendMesh(model.ConePositions(circleSegments), transform, packed, flags)
		return
	}
	apex := common.TransformPoint(transform, mgl32.Vec3{})
	verts := make([]VertexData, 0, circleSegments*2+8)
	for i := 0; i < circleSegments; i++ {
		a, b := circlePoint(2, i), circlePoint(2, i+1)
		a[2], b[2] = -1, -1
		verts = append(verts,
			vertex(common.TransformPoint(transform, a), packed),
			vertex(common.TransformPoint(transform, b), packed),
		)
		if i%(circleSegments/4) == 0 {
			verts = append(verts, vertex(apex, packed), vertex(common.TransformPoint(transform, a), packed))
		}
	}
	c.appendVertices(PrimitiveLines, flags.layer(), verts...)
}

// gridVertices builds the line list of a grid without enqueueing it.
func gridVertices(center mgl32.Vec3, cellSize float32, cells int, packed uint32) []VertexData {
	if cells <= 0 || cellSize <= 0 {
		return nil
	}
	half := cellSize * float32(cells) / 2
	verts := make([]VertexData, 0, (cells+1)*4)
	for i := 0; i <= cells; i++ {
		o := -half + float32(i)*cellSize
		verts = append(verts,
			vertex(center.Add(mgl32.Vec3{o, 0, -half}), packed),
			vertex(center.Add(mgl32.Vec3{o, 0, half}), packed),
			vertex(center.Add(mgl32.Vec3{-half, 0, o}), packed),
			vertex(center.Add(mgl32.Vec3{half, 0, o}), packed),
		)
	}
	return verts
}

func (c *collector) DrawGrid(center mgl32.Vec3, cellSize float32, cells int, color mgl32.Vec4, flags RenderFlags) {
	verts := gridVertices(center, cellSize, cells, common.PackColor(color))
	if len(verts) == 0 {
		return
	}
	c.appendVertices(PrimitiveLines, flags.layer(), verts...)
}

func (c *collector) DrawText(p mgl32.Vec3, text string, size float32, color mgl32.Vec4, flags RenderFlags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, TextDraw{Position: p, Text: text, Size: size, Color: color, Flags: flags})
}

func (c *collector) DrawLists() []DrawList {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]DrawList, len(c.lists))
	for i, l := range c.lists {
		out[i] = DrawList{Primitive: l.Primitive, Layer: l.Layer, Vertices: append([]VertexData(nil), l.Vertices...)}
	}
	return out
}

func (c *collector) TextDraws() []TextDraw {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TextDraw(nil), c.texts...)
}

func (c *collector) DroppedVertices() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
