package graphics

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/model"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/Carmen-Shannon/nebula-go/engine/ringbuffer"
	"go.uber.org/zap"
)

// GBufferCallback is the frame graph callback that fills the depth, normal and albedo buffers.
const GBufferCallback = "GBuffer"

// DefaultMaxInstances is the number of instances the geometry pass draws per frame.
const DefaultMaxInstances = 16384

// ErrNotSetup is returned when a pass records before Setup.
var ErrNotSetup = errors.New("graphics pass used before Setup")

type geometryFrame struct {
	instances renderer.BufferHandle
	table     renderer.ResourceTableHandle
}

type geometryBatch struct {
	mesh  model.Mesh
	first uint32
	count uint32
}

// geometry is the deferred geometry pass. The view hands it the visible instances of the
// frame; it packs them per mesh into the instance buffer of the buffered frame and draws one
// instanced batch per mesh.
type geometry struct {
	mu sync.Mutex

	log          *zap.Logger
	maxInstances int

	backend   renderer.GraphicsBackend
	resources *framegraph.Resources
	program   renderer.ShaderProgramHandle
	frames    *ringbuffer.Ring[geometryFrame]

	visible []*model.ModelInstance
}

func newGeometry(log *zap.Logger, maxInstances int) *geometry {
	return &geometry{
		log:          log.Named("gbuffer"),
		maxInstances: maxInstances,
		frames:       ringbuffer.New[geometryFrame](),
	}
}

func (g *geometry) Setup(backend renderer.GraphicsBackend, resources *framegraph.Resources, bufferedFrames int) error {
	g.Discard()

	for _, name := range []string{framegraph.ZBuffer, framegraph.NormalBuffer, framegraph.AlbedoBuffer} {
		if _, err := resources.Texture(name); err != nil {
			g.log.Error("geometry pass cannot find a frame texture", zap.String("name", name))
			return err
		}
	}
	constants, err := resources.BufferRing(framegraph.FrameConstantsRing)
	if err != nil {
		return err
	}
	if len(constants) < bufferedFrames {
		return fmt.Errorf("frame constants ring has %d slots, need %d", len(constants), bufferedFrames)
	}

	depth := renderer.FormatD32F
	program, err := backend.CreateShaderProgram(renderer.ShaderProgramDesc{
		Shader:       shader.ProgramGBuffer,
		Topology:     renderer.TopologyTriangleList,
		VertexLayout: renderer.VertexLayoutPosition,
		ColorTargets: []renderer.TextureFormat{renderer.FormatRGBA16F, renderer.FormatRGBA8},
		DepthFormat:  &depth,
		DepthTest:    true,
		DepthWrite:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to create gbuffer program: %w", err)
	}

	create := func(i int) (geometryFrame, error) {
		var f geometryFrame
		var err error
		f.instances, err = backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("GBuffer Instances[%d]", i),
			Size:  uint64(g.maxInstances) * model.GPUInstanceSize,
			Usage: renderer.BufferUsageStorage | renderer.BufferUsageCopyDst,
		})
		if err != nil {
			return f, err
		}
		f.table, err = backend.CreateResourceTable(renderer.ResourceTableDesc{
			Name:    fmt.Sprintf("GBuffer[%d]", i),
			Program: program,
		})
		if err != nil {
			destroyGeometryFrame(backend, f)
			return f, err
		}
		if err := errors.Join(
			backend.ResourceTableSetConstantBuffer(f.table, 0, constants[i], 0, framegraph.FrameConstantsSize),
			backend.ResourceTableSetBuffer(f.table, 1, f.instances),
			backend.CommitResourceTable(f.table),
		); err != nil {
			destroyGeometryFrame(backend, f)
			return f, fmt.Errorf("gbuffer table %d: %w", i, err)
		}
		return f, nil
	}
	if err := g.frames.Resize(bufferedFrames, create, func(f geometryFrame) { destroyGeometryFrame(backend, f) }); err != nil {
		_ = backend.DestroyShaderProgram(program)
		return fmt.Errorf("failed to create gbuffer frame resources: %w", err)
	}

	g.mu.Lock()
	g.backend, g.resources, g.program = backend, resources, program
	g.mu.Unlock()
	return nil
}

func destroyGeometryFrame(backend renderer.GraphicsBackend, f geometryFrame) {
	if f.table.Valid() {
		_ = backend.DestroyResourceTable(f.table)
	}
	if f.instances.Valid() {
		_ = backend.DestroyBuffer(f.instances)
	}
}

func (g *geometry) Register(graph framegraph.FrameGraph) error {
	return graph.AddCallback(GBufferCallback, g.Render,
		framegraph.Writes(framegraph.ZBuffer),
		framegraph.Writes(framegraph.NormalBuffer),
		framegraph.Writes(framegraph.AlbedoBuffer),
	)
}

// SetVisible replaces the instances drawn by the next Render.
func (g *geometry) SetVisible(instances []*model.ModelInstance) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.visible = instances
}

// pack groups the visible instances by mesh, applying the instance budget.
func (g *geometry) pack(visible []*model.ModelInstance) ([]geometryBatch, []byte, int) {
	meshes, groups := model.GroupByMesh(visible)
	var batches []geometryBatch
	var data []byte
	packed, dropped := 0, 0
	for _, m := range meshes {
		group := groups[m]
		room := g.maxInstances - packed
		if len(group) > room {
			dropped += len(group) - room
			group = group[:room]
		}
		if len(group) == 0 {
			continue
		}
		batches = append(batches, geometryBatch{mesh: m, first: uint32(packed), count: uint32(len(group))})
		for _, inst := range group {
			gpu := inst.GPUInstance()
			data = append(data, gpu.Marshal()...)
		}
		packed += len(group)
	}
	return batches, data, dropped
}

func (g *geometry) Render(ctx *framegraph.FrameContext) error {
	g.mu.Lock()
	backend, resources, program := g.backend, g.resources, g.program
	visible := g.visible
	g.mu.Unlock()
	if backend == nil {
		return ErrNotSetup
	}

	batches, data, dropped := g.pack(visible)
	if dropped > 0 {
		g.log.Warn("instance budget exceeded", zap.Int("dropped", dropped), zap.Int("max", g.maxInstances))
	}
	frame := g.frames.Get(ctx.BufferIndex)
	if len(data) > 0 {
		if err := renderer.UploadChunked(backend, frame.instances, 0, data); err != nil {
			return fmt.Errorf("failed to upload instances: %w", err)
		}
	}

	normal := resources.MustTexture(framegraph.NormalBuffer)
	albedo := resources.MustTexture(framegraph.AlbedoBuffer)
	depth := resources.MustTexture(framegraph.ZBuffer)
	barrier := renderer.Barrier{
		Name:      "GBuffer Targets",
		FromStage: renderer.StagePixelShader | renderer.StageComputeShader,
		ToStage:   renderer.StageColorWrite | renderer.StageDepthStencil,
		Textures: []renderer.TextureBarrier{
			renderer.Transition(normal, renderer.AllSubresources, renderer.LayoutShaderRead, renderer.LayoutColorRender),
			renderer.Transition(albedo, renderer.AllSubresources, renderer.LayoutShaderRead, renderer.LayoutColorRender),
			renderer.Transition(depth, renderer.AllSubresources, renderer.LayoutShaderRead, renderer.LayoutDepthStencilRender),
		},
	}
	backend.InsertBarrier(barrier)
	backend.BeginPass(renderer.PassDesc{
		Name:         GBufferCallback,
		ColorTargets: []renderer.TextureHandle{normal, albedo},
		DepthTarget:  depth,
		Clear:        true,
		ClearDepth:   1,
	})
	backend.SetViewport(renderer.ViewportFromRect(common.NewRect(0, 0, int32(ctx.Width), int32(ctx.Height))))
	if len(batches) > 0 {
		backend.SetShaderProgram(program)
		backend.SetResourceTable(frame.table, 0)
		for _, b := range batches {
			vb := b.mesh.VertexBuffer()
			if !vb.Valid() {
				continue
			}
			backend.SetVertexBuffer(vb, 0)
			backend.DrawInstanced(b.mesh.VertexCount(), b.count, 0, b.first)
		}
	}
	backend.EndPass()
	backend.InsertBarrier(barrier.Reverse())
	return nil
}

func (g *geometry) Discard() {
	g.mu.Lock()
	backend, program := g.backend, g.program
	g.backend, g.resources, g.program = nil, nil, renderer.ShaderProgramHandle{}
	g.visible = nil
	g.mu.Unlock()

	g.frames.Discard()
	if backend != nil && program.Valid() {
		_ = backend.DestroyShaderProgram(program)
	}
}
