package posteffects

import (
	"fmt"

	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/Carmen-Shannon/nebula-go/engine/ringbuffer"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Callback and texture names of the HBAO effect.
const (
	HBAOPrepareCallback = "HBAO-Prepare"
	HBAORunCallback     = "HBAO-Run"
	HBAOInternal0       = "HBAO-Internal0"
	HBAOInternal1       = "HBAO-Internal1"
)

// HBAO tuning that is fixed policy rather than configuration.
const (
	HBAOTileWidth     = 320
	HBAONumDirections = 6
	HBAONumSteps      = 3

	hbaoBlurRadius    = 33
	hbaoBlurSharpness = 8.0
	hbaoSceneScale    = 1.0
)

// HBAOSettings are the tunable parameters of the ambient occlusion pass.
type HBAOSettings struct {
	// Radius is the world-space sampling radius in centimeters.
	Radius float32

	// Strength scales the occlusion term.
	Strength float32

	// AngleBiasDegrees ignores horizons flatter than this angle.
	AngleBiasDegrees float32
}

// DefaultHBAOSettings returns the settings the engine ships with.
func DefaultHBAOSettings() HBAOSettings {
	return HBAOSettings{Radius: 12, Strength: 2, AngleBiasDegrees: 10}
}

// HBAO is the horizon based ambient occlusion effect. It writes the SSAOBuffer from the ZBuffer.
type HBAO interface {
	Effect

	// Settings returns the current settings.
	Settings() HBAOSettings

	// SetSettings replaces the settings; they apply from the next HBAO-Prepare.
	SetSettings(s HBAOSettings)
}

type hbaoSlot struct {
	constants renderer.BufferHandle
	blur      renderer.BufferHandle

	// tables are X, Y, BlurX and BlurY, in dispatch order.
	tables [4]renderer.ResourceTableHandle
}

type hbao struct {
	base

	settings HBAOSettings
	width    uint32
	height   uint32
	internal [2]renderer.TextureHandle
	variants [4]renderer.ShaderProgramHandle
	frames   *ringbuffer.Ring[hbaoSlot]
}

var _ HBAO = &hbao{}

// NewHBAO creates the ambient occlusion effect.
//
// Parameters:
//   - settings: radius, strength and angle bias
//   - options: functional options such as WithLogger
//
// Returns:
//   - HBAO: the effect, ready for Setup
func NewHBAO(settings HBAOSettings, options ...Option) HBAO {
	h := &hbao{settings: settings, frames: ringbuffer.New[hbaoSlot]()}
	h.init("HBAO", options)
	return h
}

// ComputeHBAOConstants derives the occlusion constants for a camera and an AO resolution.
//
// Parameters:
//   - s: the effect settings
//   - camera: the camera being rendered
//   - width, height: the AO resolution in pixels
//
// Returns:
//   - HBAOConstants: the uniform block
func ComputeHBAOConstants(s HBAOSettings, camera framegraph.CameraData, width, height uint32) HBAOConstants {
	w, h := float32(max(width, 1)), float32(max(height, 1))
	r := s.Radius * 4 / 100
	r2 := r * r

	cot := 1 / math32.Tan(camera.FovY*0.5)
	focal := mgl32.Vec2{cot * (h / w), cot}

	return HBAOConstants{
		UVToViewA:       mgl32.Vec2{2 / focal[0], -2 / focal[1]},
		UVToViewB:       mgl32.Vec2{-1 / focal[0], 1 / focal[1]},
		AOResolution:    mgl32.Vec2{w, h},
		InvAOResolution: mgl32.Vec2{1 / w, 1 / h},
		FocalLength:     focal,
		R:               r,
		R2:              r2,
		NegInvR2:        -1 / r2,
		MaxRadiusPixels: 0.5 * min(w, h),
		Strength:        s.Strength,
		TanAngleBias:    math32.Tan(mgl32.DegToRad(s.AngleBiasDegrees)),
		NearZ:           camera.Near + 0.1,
		NumSteps:        HBAONumSteps,
		NumDirections:   HBAONumDirections,
	}
}

// ComputeHBAOBlurConstants returns the cross bilateral blur constants for an AO resolution.
func ComputeHBAOBlurConstants(width, height uint32) HBAOBlurConstants {
	w, h := float32(max(width, 1)), float32(max(height, 1))
	sigma := float32(hbaoBlurRadius+1) * 0.5
	return HBAOBlurConstants{
		InvResolution:      mgl32.Vec2{1 / w, 1 / h},
		BlurFalloff:        1.44269504 / (2 * sigma * sigma),
		BlurDepthThreshold: 2 * 0.832554611 * (hbaoSceneScale / hbaoBlurSharpness),
		Resolution:         mgl32.Vec2{w, h},
	}
}

func (h *hbao) Settings() HBAOSettings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings
}

func (h *hbao) SetSettings(s HBAOSettings) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settings = s
}

func (h *hbao) Setup(backend renderer.GraphicsBackend, resources *framegraph.Resources, bufferedFrames int) error {
	h.Discard()

	width, height, err := screenSize(backend, resources, framegraph.ZBuffer)
	if err != nil {
		return err
	}
	depth, err := resources.Texture(framegraph.ZBuffer)
	if err != nil {
		return err
	}
	ssao, err := resources.Texture(framegraph.SSAOBuffer)
	if err != nil {
		return err
	}

	for i, name := range []string{HBAOInternal0, HBAOInternal1} {
		tex, err := backend.CreateTexture(renderer.TextureDesc{
			Name:          name,
			Format:        renderer.FormatRGBA16F,
			Width:         width,
			Height:        height,
			Usage:         renderer.TextureUsageReadWrite | renderer.TextureUsageSample,
			InitialLayout: renderer.LayoutShaderRead,
		})
		if err != nil {
			h.release(backend, resources)
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
		h.internal[i] = tex
		resources.RegisterTexture(name, tex)
	}

	variations := []struct {
		shader, feature string
	}{
		{shader.ProgramHBAO, shader.FeatureAlt0},
		{shader.ProgramHBAO, shader.FeatureAlt1},
		{shader.ProgramHBAOBlur, shader.FeatureAlt0},
		{shader.ProgramHBAOBlur, shader.FeatureAlt1},
	}
	for i, v := range variations {
		p, err := h.computeProgram(backend, v.shader, v.feature)
		if err != nil {
			h.release(backend, resources)
			return err
		}
		h.variants[i] = p
	}

	in0, in1 := h.internal[0], h.internal[1]
	create := func(i int) (hbaoSlot, error) {
		var slot hbaoSlot
		var err error
		slot.constants, err = backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("HBAO Constants[%d]", i),
			Size:  HBAOConstantsSize,
			Usage: renderer.BufferUsageConstant | renderer.BufferUsageCopyDst,
		})
		if err != nil {
			return slot, err
		}
		slot.blur, err = backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("HBAO Blur Constants[%d]", i),
			Size:  HBAOBlurConstantsSize,
			Usage: renderer.BufferUsageConstant | renderer.BufferUsageCopyDst,
		})
		if err != nil {
			destroyHBAOSlot(backend, slot)
			return slot, err
		}

		binders := [4]func(t renderer.ResourceTableHandle) error{
			func(t renderer.ResourceTableHandle) error {
				return firstErr(
					backend.ResourceTableSetConstantBuffer(t, 0, slot.constants, 0, HBAOConstantsSize),
					backend.ResourceTableSetTexture(t, 1, depth),
					backend.ResourceTableSetRWTexture(t, 3, in0, 0),
				)
			},
			func(t renderer.ResourceTableHandle) error {
				return firstErr(
					backend.ResourceTableSetConstantBuffer(t, 0, slot.constants, 0, HBAOConstantsSize),
					backend.ResourceTableSetTexture(t, 1, depth),
					backend.ResourceTableSetTexture(t, 2, in0),
					backend.ResourceTableSetRWTexture(t, 3, in1, 0),
				)
			},
			func(t renderer.ResourceTableHandle) error {
				return firstErr(
					backend.ResourceTableSetConstantBuffer(t, 0, slot.blur, 0, HBAOBlurConstantsSize),
					backend.ResourceTableSetTexture(t, 1, in1),
					backend.ResourceTableSetRWTexture(t, 2, in0, 0),
				)
			},
			func(t renderer.ResourceTableHandle) error {
				return firstErr(
					backend.ResourceTableSetConstantBuffer(t, 0, slot.blur, 0, HBAOBlurConstantsSize),
					backend.ResourceTableSetTexture(t, 1, in0),
					backend.ResourceTableSetRWTexture(t, 2, ssao, 0),
				)
			},
		}
		for j, bind := range binders {
			t, err := createTable(backend, fmt.Sprintf("HBAO[%d.%d]", i, j), h.variants[j], bind)
			if err != nil {
				destroyHBAOSlot(backend, slot)
				return slot, err
			}
			slot.tables[j] = t
		}
		return slot, nil
	}
	if err := h.frames.Resize(bufferedFrames, create, func(s hbaoSlot) { destroyHBAOSlot(backend, s) }); err != nil {
		h.release(backend, resources)
		return fmt.Errorf("failed to create HBAO frame resources: %w", err)
	}

	h.mu.Lock()
	h.width, h.height = width, height
	h.mu.Unlock()
	h.attach(backend, resources, bufferedFrames)
	h.log.Debug("setup complete")
	return nil
}

func destroyHBAOSlot(backend renderer.GraphicsBackend, s hbaoSlot) {
	destroyTables(backend, s.tables[:]...)
	destroyBuffers(backend, s.constants, s.blur)
}

// release destroys everything Setup created.
func (h *hbao) release(backend renderer.GraphicsBackend, resources *framegraph.Resources) {
	h.frames.Discard()
	h.destroyPrograms(backend)
	h.variants = [4]renderer.ShaderProgramHandle{}
	for i, name := range []string{HBAOInternal0, HBAOInternal1} {
		if h.internal[i].Valid() {
			_ = backend.DestroyTexture(h.internal[i])
			if resources != nil {
				resources.RemoveTexture(name)
			}
		}
		h.internal[i] = renderer.TextureHandle{}
	}
}

func (h *hbao) Register(graph framegraph.FrameGraph) error {
	if err := graph.AddCallback(HBAOPrepareCallback, h.prepare); err != nil {
		return err
	}
	return graph.AddCallback(HBAORunCallback, h.run,
		framegraph.Reads(framegraph.ZBuffer),
		framegraph.Writes(framegraph.SSAOBuffer),
	)
}

func (h *hbao) prepare(ctx *framegraph.FrameContext) error {
	backend, _, _ := h.attached()
	if backend == nil {
		return ErrNotSetup
	}
	h.mu.Lock()
	settings, width, height := h.settings, h.width, h.height
	h.mu.Unlock()

	slot := h.frames.Get(ctx.BufferIndex)
	constants := ComputeHBAOConstants(settings, ctx.Camera, width, height)
	if err := backend.UploadBuffer(slot.constants, 0, constants.Bytes()); err != nil {
		return fmt.Errorf("failed to upload HBAO constants: %w", err)
	}
	blur := ComputeHBAOBlurConstants(width, height)
	if err := backend.UploadBuffer(slot.blur, 0, blur.Bytes()); err != nil {
		return fmt.Errorf("failed to upload HBAO blur constants: %w", err)
	}
	return nil
}

func (h *hbao) run(ctx *framegraph.FrameContext) error {
	backend, resources, _ := h.attached()
	if backend == nil {
		return ErrNotSetup
	}
	h.mu.Lock()
	width, height := h.width, h.height
	h.mu.Unlock()

	slot := h.frames.Get(ctx.BufferIndex)
	in0, in1 := h.internal[0], h.internal[1]
	ssao := resources.MustTexture(framegraph.SSAOBuffer)
	all := renderer.AllSubresources
	read, general := renderer.LayoutShaderRead, renderer.LayoutGeneral

	// each stage writes one texture in General and samples the previous output in ShaderRead
	stages := []struct {
		barrier renderer.Barrier
		x, y    uint32
	}{
		{
			computeBarrier("HBAO X", renderer.Transition(in0, all, read, general)),
			DispatchCount(width, HBAOTileWidth), height,
		},
		{
			computeBarrier("HBAO Y",
				renderer.Transition(in0, all, general, read),
				renderer.Transition(in1, all, read, general)),
			DispatchCount(height, HBAOTileWidth), width,
		},
		{
			computeBarrier("HBAO BlurX",
				renderer.Transition(in1, all, general, read),
				renderer.Transition(in0, all, read, general)),
			DispatchCount(width, HBAOTileWidth), height,
		},
		{
			computeBarrier("HBAO BlurY",
				renderer.Transition(in0, all, general, read),
				renderer.Transition(ssao, all, read, general)),
			DispatchCount(height, HBAOTileWidth), width,
		},
	}
	for i, s := range stages {
		backend.InsertBarrier(s.barrier)
		backend.SetShaderProgram(h.variants[i])
		backend.SetResourceTable(slot.tables[i], 0)
		backend.Compute(s.x, s.y, 1)
	}
	backend.InsertBarrier(computeBarrier("HBAO Done", renderer.Transition(ssao, all, general, read)))
	return nil
}

func (h *hbao) Resize(width, height uint32) error {
	return h.resize(width, height, h.Setup)
}

func (h *hbao) Discard() {
	_, resources, _ := h.attached()
	backend := h.detach()
	if backend == nil {
		return
	}
	h.release(backend, resources)
	h.log.Debug("discarded")
}

// firstErr returns the first non-nil error of a chain of binding calls.
func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
