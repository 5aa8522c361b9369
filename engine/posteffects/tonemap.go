package posteffects

import (
	"fmt"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/Carmen-Shannon/nebula-go/engine/ringbuffer"
	"github.com/go-gl/mathgl/mgl32"
)

// Callback and texture names of the tonemap effect.
const (
	TonemapDownsampleCallback = "Tonemap-Downsample"
	TonemapAverageLumCallback = "Tonemap-AverageLum"
	TonemapCopyCallback       = "Tonemap-Copy"
	TonemapDownsample2x2      = "Tonemapping-Downsample2x2"
	TonemapCopy               = "Tonemapping-Copy"
)

// TonemapSettings control eye adaptation.
type TonemapSettings struct {
	// AdaptationSpeed is how fast the average luminance follows the scene, per second.
	AdaptationSpeed float32
}

// DefaultTonemapSettings returns the settings the engine ships with.
func DefaultTonemapSettings() TonemapSettings {
	return TonemapSettings{AdaptationSpeed: 1}
}

// Tonemap computes the adapted average luminance of the LightBuffer into the 1x1
// AverageLumBuffer. The LightBuffer is blitted to a 2x2 texture, averaged together with last
// frame's result and the result is copied aside for the next frame.
type Tonemap interface {
	Effect

	// Settings returns the current settings.
	Settings() TonemapSettings

	// SetSettings replaces the settings; they apply from the next Tonemap-AverageLum.
	SetSettings(s TonemapSettings)
}

type tonemapSlot struct {
	constants renderer.BufferHandle
	table     renderer.ResourceTableHandle
}

type tonemap struct {
	base

	settings    TonemapSettings
	downsample  renderer.TextureHandle
	copyTexture renderer.TextureHandle
	program     renderer.ShaderProgramHandle
	frames      *ringbuffer.Ring[tonemapSlot]
}

var _ Tonemap = &tonemap{}

// NewTonemap creates the eye adaptation effect.
//
// Parameters:
//   - settings: the adaptation settings
//   - options: functional options such as WithLogger
//
// Returns:
//   - Tonemap: the effect, ready for Setup
func NewTonemap(settings TonemapSettings, options ...Option) Tonemap {
	t := &tonemap{settings: settings, frames: ringbuffer.New[tonemapSlot]()}
	t.init("Tonemap", options)
	return t
}

func (t *tonemap) Settings() TonemapSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

func (t *tonemap) SetSettings(s TonemapSettings) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settings = s
}

func (t *tonemap) Setup(backend renderer.GraphicsBackend, resources *framegraph.Resources, bufferedFrames int) error {
	t.Discard()

	if _, err := resources.Texture(framegraph.LightBuffer); err != nil {
		return err
	}
	if _, err := resources.Texture(framegraph.AverageLumBuffer); err != nil {
		return err
	}

	var err error
	t.downsample, err = backend.CreateTexture(renderer.TextureDesc{
		Name:          TonemapDownsample2x2,
		Format:        renderer.FormatRGBA16F,
		Width:         2,
		Height:        2,
		Usage:         renderer.TextureUsageRenderTarget | renderer.TextureUsageSample | renderer.TextureUsageCopyDst,
		InitialLayout: renderer.LayoutShaderRead,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", TonemapDownsample2x2, err)
	}
	t.copyTexture, err = backend.CreateTexture(renderer.TextureDesc{
		Name:          TonemapCopy,
		Format:        renderer.FormatR16F,
		Width:         1,
		Height:        1,
		Usage:         renderer.TextureUsageSample | renderer.TextureUsageCopyDst,
		InitialLayout: renderer.LayoutShaderRead,
	})
	if err != nil {
		t.release(backend)
		return fmt.Errorf("failed to create %s: %w", TonemapCopy, err)
	}

	t.program, err = backend.CreateShaderProgram(renderer.ShaderProgramDesc{
		Shader:       shader.ProgramTonemap,
		Topology:     renderer.TopologyTriangleList,
		VertexLayout: renderer.VertexLayoutNone,
		ColorTargets: []renderer.TextureFormat{renderer.FormatR16F},
	})
	if err != nil {
		t.release(backend)
		return fmt.Errorf("failed to create tonemap program: %w", err)
	}
	t.programs = append(t.programs, t.program)

	create := func(i int) (tonemapSlot, error) {
		var slot tonemapSlot
		var err error
		slot.constants, err = backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("Tonemap Constants[%d]", i),
			Size:  TonemapConstantsSize,
			Usage: renderer.BufferUsageConstant | renderer.BufferUsageCopyDst,
		})
		if err != nil {
			return slot, err
		}
		slot.table, err = createTable(backend, fmt.Sprintf("Tonemap[%d]", i), t.program, func(table renderer.ResourceTableHandle) error {
			return firstErr(
				backend.ResourceTableSetConstantBuffer(table, 0, slot.constants, 0, TonemapConstantsSize),
				backend.ResourceTableSetTexture(table, 1, t.downsample),
				backend.ResourceTableSetTexture(table, 2, t.copyTexture),
			)
		})
		if err != nil {
			destroyBuffers(backend, slot.constants)
			return slot, err
		}
		return slot, nil
	}
	destroy := func(s tonemapSlot) {
		destroyTables(backend, s.table)
		destroyBuffers(backend, s.constants)
	}
	if err := t.frames.Resize(bufferedFrames, create, destroy); err != nil {
		t.release(backend)
		return fmt.Errorf("failed to create tonemap frame resources: %w", err)
	}

	t.attach(backend, resources, bufferedFrames)
	return nil
}

func (t *tonemap) release(backend renderer.GraphicsBackend) {
	t.frames.Discard()
	t.destroyPrograms(backend)
	t.program = renderer.ShaderProgramHandle{}
	for _, tex := range []renderer.TextureHandle{t.downsample, t.copyTexture} {
		if tex.Valid() {
			_ = backend.DestroyTexture(tex)
		}
	}
	t.downsample, t.copyTexture = renderer.TextureHandle{}, renderer.TextureHandle{}
}

func (t *tonemap) Register(graph framegraph.FrameGraph) error {
	if err := graph.AddCallback(TonemapDownsampleCallback, t.downsamplePass,
		framegraph.Reads(framegraph.LightBuffer),
	); err != nil {
		return err
	}
	if err := graph.AddCallback(TonemapAverageLumCallback, t.averageLumPass,
		framegraph.Writes(framegraph.AverageLumBuffer),
	); err != nil {
		return err
	}
	return graph.AddCallback(TonemapCopyCallback, t.copyPass,
		framegraph.Reads(framegraph.AverageLumBuffer),
	)
}

func (t *tonemap) downsamplePass(ctx *framegraph.FrameContext) error {
	backend, resources, _ := t.attached()
	if backend == nil {
		return ErrNotSetup
	}
	light := resources.MustTexture(framegraph.LightBuffer)
	sub := renderer.Subresource{NumMips: 1, NumLayers: 1}

	b := renderer.Barrier{
		Name:      "Tonemap Downsample",
		FromStage: renderer.StagePixelShader,
		ToStage:   renderer.StageTransfer,
		Textures: []renderer.TextureBarrier{
			renderer.Transition(t.downsample, sub, renderer.LayoutShaderRead, renderer.LayoutTransferDst),
			renderer.Transition(light, sub, renderer.LayoutShaderRead, renderer.LayoutTransferSrc),
		},
	}
	backend.InsertBarrier(b)
	backend.Blit(light, t.downsample)
	backend.InsertBarrier(b.Reverse())
	return nil
}

func (t *tonemap) averageLumPass(ctx *framegraph.FrameContext) error {
	backend, resources, _ := t.attached()
	if backend == nil {
		return ErrNotSetup
	}
	avg := resources.MustTexture(framegraph.AverageLumBuffer)
	slot := t.frames.Get(ctx.BufferIndex)

	constants := TonemapConstants{TimeAndSpeed: mgl32.Vec4{float32(ctx.DeltaTime), t.Settings().AdaptationSpeed}}
	if err := backend.UploadBuffer(slot.constants, 0, constants.Bytes()); err != nil {
		return fmt.Errorf("failed to upload tonemap constants: %w", err)
	}

	b := renderer.Barrier{
		Name:      "Tonemap AverageLum",
		FromStage: renderer.StagePixelShader,
		ToStage:   renderer.StageColorWrite,
		Textures: []renderer.TextureBarrier{
			renderer.Transition(avg, renderer.AllSubresources, renderer.LayoutShaderRead, renderer.LayoutColorRender),
		},
	}
	backend.InsertBarrier(b)
	backend.BeginPass(renderer.PassDesc{Name: "Tonemap AverageLum", ColorTargets: []renderer.TextureHandle{avg}})
	backend.SetShaderProgram(t.program)
	backend.SetResourceTable(slot.table, 0)
	backend.SetViewport(renderer.Viewport{Width: 1, Height: 1, MaxDepth: 1})
	backend.Draw(3, 0)
	backend.EndPass()
	backend.InsertBarrier(b.Reverse())
	return nil
}

func (t *tonemap) copyPass(ctx *framegraph.FrameContext) error {
	backend, resources, _ := t.attached()
	if backend == nil {
		return ErrNotSetup
	}
	avg := resources.MustTexture(framegraph.AverageLumBuffer)
	sub := renderer.Subresource{NumMips: 1, NumLayers: 1}

	b := renderer.Barrier{
		Name:      "Tonemap Copy",
		FromStage: renderer.StagePixelShader,
		ToStage:   renderer.StageTransfer,
		Textures: []renderer.TextureBarrier{
			renderer.Transition(t.copyTexture, sub, renderer.LayoutShaderRead, renderer.LayoutTransferDst),
			renderer.Transition(avg, sub, renderer.LayoutShaderRead, renderer.LayoutTransferSrc),
		},
	}
	backend.InsertBarrier(b)
	backend.CopyTexture(avg, common.NewRect(0, 0, 1, 1), t.copyTexture, 0, 0)
	backend.InsertBarrier(b.Reverse())
	return nil
}

func (t *tonemap) Resize(width, height uint32) error {
	return t.resize(width, height, t.Setup)
}

func (t *tonemap) Discard() {
	backend := t.detach()
	if backend == nil {
		return
	}
	t.release(backend)
}
