package debugdraw

import (
	"fmt"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"go.uber.org/zap"
)

// CallbackName is the frame graph callback registered by Register.
const CallbackName = "DebugDraw"

const (
	programOverlay = iota
	programDepthTested
)

// batch is a run of vertices drawn with one program and topology.
type batch struct {
	name      string
	primitive PrimitiveType
	program   int
	vertices  []VertexData
}

// VerticesPerChunk returns how many vertices of primitive p fit into one upload of maxUpload
// bytes. The count is rounded down to whole primitives and is at least one primitive.
func VerticesPerChunk(maxUpload uint64, p PrimitiveType) int {
	per := p.VerticesPerPrimitive()
	n := int(maxUpload / VertexSize)
	n -= n % per
	return max(n, per)
}

// ChunkCount returns the number of uploads needed for vertexCount vertices of primitive p.
func ChunkCount(vertexCount int, maxUpload uint64, p PrimitiveType) int {
	if vertexCount <= 0 {
		return 0
	}
	chunk := VerticesPerChunk(maxUpload, p)
	return (vertexCount + chunk - 1) / chunk
}

func (c *collector) Setup(backend renderer.GraphicsBackend, resources *framegraph.Resources, bufferedFrames int) error {
	c.Discard()

	depth := renderer.FormatD32F
	for i, mask := range []string{"", shader.FeatureAlt0} {
		h, err := backend.CreateShaderProgram(renderer.ShaderProgramDesc{
			Shader:       shader.ProgramIm3d,
			Mask:         shader.BuiltinMask(mask),
			Topology:     renderer.TopologyLineList,
			VertexLayout: renderer.VertexLayoutPositionColor,
			ColorTargets: []renderer.TextureFormat{renderer.FormatRGBA16F},
			DepthFormat:  &depth,
			DepthTest:    i == programDepthTested,
			Blend:        renderer.BlendAlpha,
		})
		if err != nil {
			c.destroyPrograms(backend)
			return fmt.Errorf("failed to create debug program %q: %w", mask, err)
		}
		c.programs[i] = h
	}

	constants, err := resources.BufferRing(framegraph.FrameConstantsRing)
	if err != nil {
		c.destroyPrograms(backend)
		return err
	}
	if len(constants) < bufferedFrames {
		c.destroyPrograms(backend)
		return fmt.Errorf("frame constants ring has %d slots, need %d", len(constants), bufferedFrames)
	}

	create := func(i int) (frameSlot, error) {
		var slot frameSlot
		buf, err := backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("DebugDraw Vertices[%d]", i),
			Size:  uint64(c.capacity) * VertexSize,
			Usage: renderer.BufferUsageVertex | renderer.BufferUsageCopyDst,
		})
		if err != nil {
			return slot, err
		}
		slot.vertices = buf
		for p, prog := range c.programs {
			table, err := backend.CreateResourceTable(renderer.ResourceTableDesc{
				Name:    fmt.Sprintf("DebugDraw[%d.%d]", i, p),
				Program: prog,
			})
			if err == nil {
				err = backend.ResourceTableSetConstantBuffer(table, 0, constants[i], 0, framegraph.FrameConstantsSize)
			}
			if err == nil {
				err = backend.CommitResourceTable(table)
			}
			if err != nil {
				destroySlot(backend, slot)
				return slot, err
			}
			slot.tables[p] = table
		}
		return slot, nil
	}
	if err := c.frames.Resize(bufferedFrames, create, func(s frameSlot) { destroySlot(backend, s) }); err != nil {
		c.destroyPrograms(backend)
		return fmt.Errorf("failed to create debug draw buffers: %w", err)
	}

	c.mu.Lock()
	c.backend, c.resources = backend, resources
	c.mu.Unlock()
	return nil
}

func destroySlot(backend renderer.GraphicsBackend, s frameSlot) {
	for _, t := range s.tables {
		if t.Valid() {
			_ = backend.DestroyResourceTable(t)
		}
	}
	if s.vertices.Valid() {
		_ = backend.DestroyBuffer(s.vertices)
	}
}

func (c *collector) destroyPrograms(backend renderer.GraphicsBackend) {
	for i, p := range c.programs {
		if p.Valid() {
			_ = backend.DestroyShaderProgram(p)
		}
		c.programs[i] = renderer.ShaderProgramHandle{}
	}
}

func (c *collector) Register(graph framegraph.FrameGraph) error {
	return graph.AddCallback(CallbackName, c.Render,
		framegraph.Reads(framegraph.ZBuffer),
		framegraph.Writes(framegraph.LightBuffer),
	)
}

// collect builds this frame's batches in render order and applies the vertex capacity.
// The caller holds c.mu.
func (c *collector) collect() []batch {
	var batches []batch
	if c.grid {
		verts := gridVertices(c.gridCenter, c.gridSize, c.gridCells, common.PackColor(c.gridColor))
		if len(verts) > 0 {
			batches = append(batches, batch{name: "grid", primitive: PrimitiveLines, program: programDepthTested, vertices: verts})
		}
	}
	for _, cat := range categories {
		var verts []VertexData
		for _, l := range c.lists {
			if l.Primitive == cat.primitive && (cat.anyLayer || l.Layer == cat.layer) {
				verts = append(verts, l.Vertices...)
			}
		}
		if len(verts) == 0 {
			continue
		}
		program := programOverlay
		if cat.layer == LayerDepthTested {
			program = programDepthTested
		}
		batches = append(batches, batch{name: cat.name, primitive: cat.primitive, program: program, vertices: verts})
	}

	c.dropped = 0
	remaining := c.capacity
	for i := range batches {
		b := &batches[i]
		keep := min(len(b.vertices), remaining)
		keep -= keep % b.primitive.VerticesPerPrimitive()
		c.dropped += len(b.vertices) - keep
		b.vertices = b.vertices[:keep]
		remaining -= keep
	}
	return batches
}

func (c *collector) Render(ctx *framegraph.FrameContext) error {
	c.mu.Lock()
	batches := c.collect()
	dropped := c.dropped
	backend, resources := c.backend, c.resources
	c.mu.Unlock()

	if dropped > 0 {
		c.log.Warn("debug vertex capacity exceeded",
			zap.Int("dropped", dropped),
			zap.Int("capacity", c.capacity),
			zap.Uint64("frame", ctx.FrameIndex),
		)
	}
	total := 0
	for _, b := range batches {
		total += len(b.vertices)
	}
	if total == 0 {
		return nil
	}
	if backend == nil {
		return fmt.Errorf("debug draw used before Setup")
	}

	slot := c.frames.Get(ctx.BufferIndex)
	light := resources.MustTexture(framegraph.LightBuffer)
	depth := resources.MustTexture(framegraph.ZBuffer)
	targets := renderer.Barrier{
		Name:      "DebugDraw Targets",
		FromStage: renderer.StagePixelShader,
		ToStage:   renderer.StageColorWrite | renderer.StageDepthStencil,
		Textures: []renderer.TextureBarrier{
			{Texture: light, FromLayout: renderer.LayoutShaderRead, ToLayout: renderer.LayoutColorRender, FromAccess: renderer.AccessShaderRead, ToAccess: renderer.AccessColorWrite},
			{Texture: depth, FromLayout: renderer.LayoutShaderRead, ToLayout: renderer.LayoutDepthStencilRender, FromAccess: renderer.AccessShaderRead, ToAccess: renderer.AccessShaderRead},
		},
	}
	backend.InsertBarrier(targets)
	defer backend.InsertBarrier(targets.Reverse())

	maxUpload := backend.BufferUploadMaxSize()
	viewport := renderer.Viewport{Width: float32(ctx.Width), Height: float32(ctx.Height), MaxDepth: 1}
	offset := 0
	for _, b := range batches {
		chunk := VerticesPerChunk(maxUpload, b.primitive)
		for start := 0; start < len(b.vertices); start += chunk {
			end := min(start+chunk, len(b.vertices))
			n := end - start
			rng := renderer.BufferBarrier{Buffer: slot.vertices, Offset: uint64(offset) * VertexSize, Size: uint64(n) * VertexSize}

			toTransfer := renderer.Barrier{
				Name:      "DebugDraw Upload",
				FromStage: renderer.StageVertexInput,
				ToStage:   renderer.StageTransfer,
				Buffers:   []renderer.BufferBarrier{{Buffer: rng.Buffer, Offset: rng.Offset, Size: rng.Size, FromAccess: renderer.AccessVertexRead, ToAccess: renderer.AccessTransferWrite}},
			}
			backend.InsertBarrier(toTransfer)
			if err := backend.UploadBuffer(slot.vertices, rng.Offset, common.SliceToBytes(b.vertices[start:end])); err != nil {
				return fmt.Errorf("debug %s chunk at vertex %d: %w", b.name, start, err)
			}
			backend.InsertBarrier(toTransfer.Reverse())

			backend.BeginPass(renderer.PassDesc{
				Name:         "DebugDraw " + b.name,
				ColorTargets: []renderer.TextureHandle{light},
				DepthTarget:  depth,
			})
			backend.SetShaderProgram(c.programs[b.program])
			backend.SetResourceTable(slot.tables[b.program], 0)
			backend.SetPrimitiveTopology(b.primitive.topology())
			backend.SetViewport(viewport)
			backend.SetVertexBuffer(slot.vertices, 0)
			backend.Draw(uint32(n), uint32(offset))
			backend.EndPass()

			offset += n
		}
	}
	return nil
}

func (c *collector) Discard() {
	c.mu.Lock()
	backend := c.backend
	c.backend, c.resources = nil, nil
	c.mu.Unlock()

	c.frames.Discard()
	if backend != nil {
		c.destroyPrograms(backend)
	}
}
