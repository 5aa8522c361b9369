package posteffects

import (
	"fmt"

	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/Carmen-Shannon/nebula-go/engine/ringbuffer"
	"github.com/go-gl/mathgl/mgl32"
)

// Callback names of the SSR effect.
const (
	SSRPrepareCallback = "SSR-Prepare"
	SSRTraceCallback   = "SSR-Trace"
	SSRResolveCallback = "SSR-Resolve"
)

// SSRTileSize is the pixel tile covered by one SSR work group.
const SSRTileSize = 32

// SSRSettings control the ray march of the reflection trace.
type SSRSettings struct {
	MaxSteps    float32
	Stride      float32
	Thickness   float32
	MaxDistance float32
}

// DefaultSSRSettings returns the settings the engine ships with.
func DefaultSSRSettings() SSRSettings {
	return SSRSettings{MaxSteps: 64, Stride: 0.25, Thickness: 0.5, MaxDistance: 25}
}

// SSR is the screen-space reflection effect. The trace writes hit coordinates into the
// SSRTraceBuffer and the resolve samples the LightBuffer at those hits into the SSRBuffer.
type SSR interface {
	Effect

	// Settings returns the current trace settings.
	Settings() SSRSettings

	// SetSettings replaces the trace settings; they apply from the next SSR-Prepare.
	SetSettings(s SSRSettings)
}

type ssrSlot struct {
	constants renderer.BufferHandle
	trace     renderer.ResourceTableHandle
	resolve   renderer.ResourceTableHandle
}

type ssr struct {
	base

	settings SSRSettings
	width    uint32
	height   uint32
	tracer   renderer.ShaderProgramHandle
	resolver renderer.ShaderProgramHandle
	frames   *ringbuffer.Ring[ssrSlot]
}

var _ SSR = &ssr{}

// NewSSR creates the screen-space reflection effect.
//
// Parameters:
//   - settings: the ray march settings
//   - options: functional options such as WithLogger
//
// Returns:
//   - SSR: the effect, ready for Setup
func NewSSR(settings SSRSettings, options ...Option) SSR {
	s := &ssr{settings: settings, frames: ringbuffer.New[ssrSlot]()}
	s.init("SSR", options)
	return s
}

// ViewToTextureSpace maps view-space positions to texture coordinates in [0, 1] with y down.
func ViewToTextureSpace(projection mgl32.Mat4) mgl32.Mat4 {
	scaleBias := mgl32.Mat4{
		0.5, 0, 0, 0,
		0, -0.5, 0, 0,
		0, 0, 1, 0,
		0.5, 0.5, 0, 1,
	}
	return scaleBias.Mul4(projection)
}

// ComputeSSRConstants builds the uniform block of the trace and resolve passes.
func ComputeSSRConstants(s SSRSettings, camera framegraph.CameraData) SSRConstants {
	return SSRConstants{
		ViewToTextureSpace: ViewToTextureSpace(camera.Projection),
		Trace:              mgl32.Vec4{s.MaxSteps, s.Stride, s.Thickness, s.MaxDistance},
	}
}

func (s *ssr) Settings() SSRSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *ssr) SetSettings(settings SSRSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

func (s *ssr) Setup(backend renderer.GraphicsBackend, resources *framegraph.Resources, bufferedFrames int) error {
	s.Discard()

	width, height, err := screenSize(backend, resources, framegraph.SSRTraceBuffer)
	if err != nil {
		return err
	}
	var tex [5]renderer.TextureHandle
	for i, name := range []string{framegraph.ZBuffer, framegraph.NormalBuffer, framegraph.SSRTraceBuffer, framegraph.LightBuffer, framegraph.SSRBuffer} {
		if tex[i], err = resources.Texture(name); err != nil {
			return err
		}
	}
	depth, normal, trace, light, out := tex[0], tex[1], tex[2], tex[3], tex[4]
	frame, err := resources.BufferRing(framegraph.FrameConstantsRing)
	if err != nil {
		return err
	}
	if len(frame) < bufferedFrames {
		return fmt.Errorf("frame constants ring has %d slots, need %d", len(frame), bufferedFrames)
	}

	if s.tracer, err = s.computeProgram(backend, shader.ProgramSSR, shader.FeatureAlt0); err != nil {
		return err
	}
	if s.resolver, err = s.computeProgram(backend, shader.ProgramSSR, shader.FeatureAlt1); err != nil {
		s.destroyPrograms(backend)
		return err
	}

	create := func(i int) (ssrSlot, error) {
		var slot ssrSlot
		var err error
		slot.constants, err = backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("SSR Constants[%d]", i),
			Size:  SSRConstantsSize,
			Usage: renderer.BufferUsageConstant | renderer.BufferUsageCopyDst,
		})
		if err != nil {
			return slot, err
		}
		bindShared := func(t renderer.ResourceTableHandle) error {
			return firstErr(
				backend.ResourceTableSetConstantBuffer(t, 0, frame[i], 0, framegraph.FrameConstantsSize),
				backend.ResourceTableSetConstantBuffer(t, 1, slot.constants, 0, SSRConstantsSize),
				backend.ResourceTableSetTexture(t, 2, depth),
				backend.ResourceTableSetTexture(t, 3, normal),
			)
		}
		slot.trace, err = createTable(backend, fmt.Sprintf("SSR Trace[%d]", i), s.tracer, func(t renderer.ResourceTableHandle) error {
			return firstErr(bindShared(t), backend.ResourceTableSetRWTexture(t, 4, trace, 0))
		})
		if err == nil {
			slot.resolve, err = createTable(backend, fmt.Sprintf("SSR Resolve[%d]", i), s.resolver, func(t renderer.ResourceTableHandle) error {
				return firstErr(
					bindShared(t),
					backend.ResourceTableSetTexture(t, 4, trace),
					backend.ResourceTableSetTexture(t, 5, light),
					backend.ResourceTableSetRWTexture(t, 6, out, 0),
				)
			})
		}
		if err != nil {
			destroySSRSlot(backend, slot)
			return slot, err
		}
		return slot, nil
	}
	if err := s.frames.Resize(bufferedFrames, create, func(slot ssrSlot) { destroySSRSlot(backend, slot) }); err != nil {
		s.destroyPrograms(backend)
		return fmt.Errorf("failed to create SSR frame resources: %w", err)
	}

	s.mu.Lock()
	s.width, s.height = width, height
	s.mu.Unlock()
	s.attach(backend, resources, bufferedFrames)
	return nil
}

func destroySSRSlot(backend renderer.GraphicsBackend, slot ssrSlot) {
	destroyTables(backend, slot.trace, slot.resolve)
	destroyBuffers(backend, slot.constants)
}

func (s *ssr) Register(graph framegraph.FrameGraph) error {
	if err := graph.AddCallback(SSRPrepareCallback, s.prepare); err != nil {
		return err
	}
	if err := graph.AddCallback(SSRTraceCallback, s.trace,
		framegraph.Reads(framegraph.ZBuffer),
		framegraph.Reads(framegraph.NormalBuffer),
		framegraph.Writes(framegraph.SSRTraceBuffer),
	); err != nil {
		return err
	}
	return graph.AddCallback(SSRResolveCallback, s.resolve,
		framegraph.Reads(framegraph.SSRTraceBuffer),
		framegraph.Reads(framegraph.LightBuffer),
		framegraph.Writes(framegraph.SSRBuffer),
	)
}

func (s *ssr) prepare(ctx *framegraph.FrameContext) error {
	backend, _, _ := s.attached()
	if backend == nil {
		return ErrNotSetup
	}
	constants := ComputeSSRConstants(s.Settings(), ctx.Camera)
	if err := backend.UploadBuffer(s.frames.Get(ctx.BufferIndex).constants, 0, constants.Bytes()); err != nil {
		return fmt.Errorf("failed to upload SSR constants: %w", err)
	}
	return nil
}

func (s *ssr) dims() (uint32, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DispatchCount(s.width, SSRTileSize), DispatchCount(s.height, SSRTileSize)
}

func (s *ssr) trace(ctx *framegraph.FrameContext) error {
	backend, resources, _ := s.attached()
	if backend == nil {
		return ErrNotSetup
	}
	trace := resources.MustTexture(framegraph.SSRTraceBuffer)
	all := renderer.AllSubresources
	x, y := s.dims()

	backend.InsertBarrier(computeBarrier("SSR Trace", renderer.Transition(trace, all, renderer.LayoutShaderRead, renderer.LayoutGeneral)))
	backend.SetShaderProgram(s.tracer)
	backend.SetResourceTable(s.frames.Get(ctx.BufferIndex).trace, 0)
	backend.Compute(x, y, 1)
	backend.InsertBarrier(computeBarrier("SSR Trace Done", renderer.Transition(trace, all, renderer.LayoutGeneral, renderer.LayoutShaderRead)))
	return nil
}

func (s *ssr) resolve(ctx *framegraph.FrameContext) error {
	backend, resources, _ := s.attached()
	if backend == nil {
		return ErrNotSetup
	}
	out := resources.MustTexture(framegraph.SSRBuffer)
	all := renderer.AllSubresources
	x, y := s.dims()

	backend.InsertBarrier(computeBarrier("SSR Resolve", renderer.Transition(out, all, renderer.LayoutShaderRead, renderer.LayoutGeneral)))
	backend.SetShaderProgram(s.resolver)
	backend.SetResourceTable(s.frames.Get(ctx.BufferIndex).resolve, 0)
	backend.Compute(x, y, 1)
	backend.InsertBarrier(computeBarrier("SSR Resolve Done", renderer.Transition(out, all, renderer.LayoutGeneral, renderer.LayoutShaderRead)))
	return nil
}

func (s *ssr) Resize(width, height uint32) error {
	return s.resize(width, height, s.Setup)
}

func (s *ssr) Discard() {
	backend := s.detach()
	if backend == nil {
		return
	}
	s.frames.Discard()
	s.destroyPrograms(backend)
	s.tracer, s.resolver = renderer.ShaderProgramHandle{}, renderer.ShaderProgramHandle{}
}
