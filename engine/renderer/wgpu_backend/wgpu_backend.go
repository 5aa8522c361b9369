package wgpu_backend

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

type wgpuBuffer struct {
	desc renderer.BufferDesc
	buf  *wgpu.Buffer
}

type wgpuTexture struct {
	desc   renderer.TextureDesc
	format wgpu.TextureFormat
	tex    *wgpu.Texture

	// view covers every mip and layer and is used for sampling.
	view *wgpu.TextureView

	// storageViews are single-mip views keyed by mip, renderViews single-layer views keyed by layer.
	storageViews map[uint32]*wgpu.TextureView
	renderViews  map[uint32]*wgpu.TextureView
}

func (t *wgpuTexture) release() {
	for _, v := range t.storageViews {
		v.Release()
	}
	for _, v := range t.renderViews {
		v.Release()
	}
	t.view.Release()
	t.tex.Release()
}

type wgpuProgram struct {
	desc       renderer.ShaderProgramDesc
	info       shader.ProgramInfo
	reflection shader.Reflection
	label      string

	module       *wgpu.ShaderModule
	groupLayouts []*wgpu.BindGroupLayout
	layout       *wgpu.PipelineLayout

	compute *wgpu.ComputePipeline
	render  map[renderer.PrimitiveTopology]*wgpu.RenderPipeline
}

func (p *wgpuProgram) release() {
	for _, rp := range p.render {
		rp.Release()
	}
	if p.compute != nil {
		p.compute.Release()
	}
	p.layout.Release()
	for _, l := range p.groupLayouts {
		l.Release()
	}
	p.module.Release()
}

type wgpuTable struct {
	desc    renderer.ResourceTableDesc
	program *wgpuProgram
	entries map[int]wgpu.BindGroupEntry
	group   *wgpu.BindGroup
}

// Backend implements renderer.GraphicsBackend on WebGPU. Commands of one frame are recorded
// into a single command encoder that is submitted by EndFrame.
type Backend struct {
	mu sync.Mutex

	log            *zap.Logger
	library        *shader.Library
	presentMode    wgpu.PresentMode
	forceFallback  bool
	uploadMaxSize  uint64
	width, height  uint32
	surfaceFormat  wgpu.TextureFormat
	surfaceAlpha   wgpu.CompositeAlphaMode
	surfaceEnabled bool

	instance *wgpu.Instance
	surface  *wgpu.Surface
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	buffers  *common.Arena[*wgpuBuffer]
	textures *common.Arena[*wgpuTexture]
	programs *common.Arena[*wgpuProgram]
	tables   *common.Arena[*wgpuTable]

	samplers   map[renderer.SamplerKind]*wgpu.Sampler
	blit       *blitter
	backbuffer renderer.TextureHandle

	encoder   *wgpu.CommandEncoder
	pass      *wgpu.RenderPassEncoder
	inFrame   bool
	frame     uint64
	program   *wgpuProgram
	topology  renderer.PrimitiveTopology
	bound     map[int]*wgpuTable
	vertexBuf *wgpu.Buffer
	vertexOff uint64
	viewport  *renderer.Viewport
	scissor   *common.Rect
	markers   int
	err       error
}

var _ renderer.GraphicsBackend = &Backend{}

// NewBackend creates a WebGPU backend rendering to the given surface.
//
// Parameters:
//   - surfaceDescriptor: the platform surface descriptor, usually from the window
//   - lib: the shader library programs are compiled from
//   - width, height: the initial surface size in pixels
//   - options: functional options such as WithPresentMode
//
// Returns:
//   - *Backend: the backend
//   - error: an error if no adapter or device could be acquired
func NewBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, lib *shader.Library, width, height uint32, options ...BackendOption) (*Backend, error) {
	runtime.LockOSThread()
	b := &Backend{
		log:           zap.NewNop(),
		library:       lib,
		presentMode:   wgpu.PresentModeFifo,
		uploadMaxSize: 1 << 20,
		buffers:       common.NewArena[*wgpuBuffer](),
		textures:      common.NewArena[*wgpuTexture](),
		programs:      common.NewArena[*wgpuProgram](),
		tables:        common.NewArena[*wgpuTable](),
		samplers:      make(map[renderer.SamplerKind]*wgpu.Sampler),
		bound:         make(map[int]*wgpuTable),
	}
	for _, opt := range options {
		opt(b)
	}

	b.instance = wgpu.CreateInstance(nil)
	if surfaceDescriptor != nil {
		b.surface = b.instance.CreateSurface(surfaceDescriptor)
		b.surfaceEnabled = true
	}

	a, err := b.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: b.forceFallback,
		CompatibleSurface:    b.surface,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request adapter: %w", err)
	}
	b.adapter = a

	limits := wgpu.DefaultLimits()
	limits.MaxBindGroups = 4
	limits.MaxStorageTexturesPerShaderStage = 8

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label:          "Nebula Device",
		RequiredLimits: &wgpu.RequiredLimits{Limits: limits},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request device: %w", err)
	}
	b.device = d
	b.queue = d.GetQueue()

	if err := b.createSamplers(); err != nil {
		return nil, err
	}
	if b.blit, err = newBlitter(d); err != nil {
		return nil, err
	}
	if err := b.Resize(width, height); err != nil {
		return nil, err
	}
	b.log.Info("wgpu backend ready",
		zap.Uint32("width", width),
		zap.Uint32("height", height),
		zap.Bool("surface", b.surfaceEnabled))
	return b, nil
}

// createSamplers creates the fixed samplers. Sampled bindings are laid out non-filtering,
// so only the comparison sampler filters.
func (b *Backend) createSamplers() error {
	descs := map[renderer.SamplerKind]*wgpu.SamplerDescriptor{
		renderer.SamplerLinearClamp: {Label: "Linear Clamp"},
		renderer.SamplerPointClamp:  {Label: "Point Clamp"},
		renderer.SamplerComparison:  {Label: "Comparison", Compare: wgpu.CompareFunctionLessEqual},
	}
	for kind, d := range descs {
		d.AddressModeU = wgpu.AddressModeClampToEdge
		d.AddressModeV = wgpu.AddressModeClampToEdge
		d.AddressModeW = wgpu.AddressModeClampToEdge
		d.MagFilter = wgpu.FilterModeNearest
		d.MinFilter = wgpu.FilterModeNearest
		d.MipmapFilter = wgpu.MipmapFilterModeNearest
		d.LodMaxClamp = 32
		d.MaxAnisotropy = 1
		if kind == renderer.SamplerComparison {
			d.MagFilter = wgpu.FilterModeLinear
			d.MinFilter = wgpu.FilterModeLinear
		}
		s, err := b.device.CreateSampler(d)
		if err != nil {
			return fmt.Errorf("failed to create sampler %s: %w", d.Label, err)
		}
		b.samplers[kind] = s
	}
	return nil
}

func (b *Backend) fail(err error) {
	if b.err == nil {
		b.err = err
	}
	b.log.Debug("command rejected", zap.Error(err))
}

func (b *Backend) CreateBuffer(desc renderer.BufferDesc) (renderer.BufferHandle, error) {
	if desc.Size == 0 {
		return renderer.BufferHandle{}, fmt.Errorf("buffer %q: zero size", desc.Name)
	}
	if uint64(len(desc.Data)) > desc.Size {
		return renderer.BufferHandle{}, fmt.Errorf("buffer %q: %w", desc.Name, renderer.ErrOutOfBounds)
	}
	// WriteBuffer and bindings require 4-byte aligned sizes.
	size := (desc.Size + 3) &^ 3
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Name,
		Size:  size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return renderer.BufferHandle{}, fmt.Errorf("failed to create buffer %q: %w", desc.Name, err)
	}
	if len(desc.Data) > 0 {
		b.queue.WriteBuffer(buf, 0, padTo4(desc.Data))
	}
	return renderer.BufferHandle{Handle: b.buffers.Alloc(&wgpuBuffer{desc: desc, buf: buf})}, nil
}

func padTo4(data []byte) []byte {
	if len(data)%4 == 0 {
		return data
	}
	out := make([]byte, (len(data)+3)&^3)
	copy(out, data)
	return out
}

func (b *Backend) DestroyBuffer(h renderer.BufferHandle) error {
	buf, ok := b.buffers.Get(h.Handle)
	if !ok {
		return common.ErrInvalidHandle
	}
	buf.buf.Release()
	return b.buffers.Free(h.Handle)
}

func (b *Backend) UploadBuffer(h renderer.BufferHandle, offset uint64, data []byte) error {
	buf, ok := b.buffers.Get(h.Handle)
	if !ok {
		return fmt.Errorf("upload: %w", common.ErrInvalidHandle)
	}
	if uint64(len(data)) > b.uploadMaxSize {
		return fmt.Errorf("upload of %d bytes to %q: %w", len(data), buf.desc.Name, renderer.ErrUploadTooLarge)
	}
	if offset+uint64(len(data)) > buf.desc.Size {
		return fmt.Errorf("upload to %q at %d+%d: %w", buf.desc.Name, offset, len(data), renderer.ErrOutOfBounds)
	}
	if offset%4 != 0 {
		return fmt.Errorf("upload to %q: offset %d is not 4-byte aligned", buf.desc.Name, offset)
	}
	if len(data) == 0 {
		return nil
	}
	b.queue.WriteBuffer(buf.buf, offset, padTo4(data))
	return nil
}

func (b *Backend) BufferUploadMaxSize() uint64 {
	return b.uploadMaxSize
}

func (b *Backend) CreateTexture(desc renderer.TextureDesc) (renderer.TextureHandle, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return renderer.TextureHandle{}, fmt.Errorf("texture %q: zero size", desc.Name)
	}
	if desc.Type == renderer.TextureCube && desc.LayerCount()%6 != 0 {
		return renderer.TextureHandle{}, fmt.Errorf("texture %q: cube textures need a multiple of 6 layers", desc.Name)
	}
	format := deviceFormat(desc.Format)
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: desc.Name,
		Size: wgpu.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: desc.LayerCount(),
		},
		MipLevelCount: desc.MipCount(),
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         textureUsage(desc.Usage),
	})
	if err != nil {
		return renderer.TextureHandle{}, fmt.Errorf("failed to create texture %q: %w", desc.Name, err)
	}

	dim := wgpu.TextureViewDimension2D
	switch desc.Type {
	case renderer.Texture2DArray:
		dim = wgpu.TextureViewDimension2DArray
	case renderer.TextureCube:
		dim = wgpu.TextureViewDimensionCube
		if desc.LayerCount() > 6 {
			dim = wgpu.TextureViewDimensionCubeArray
		}
	}
	view, err := tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           desc.Name + " View",
		Format:          format,
		Dimension:       dim,
		BaseMipLevel:    0,
		MipLevelCount:   desc.MipCount(),
		BaseArrayLayer:  0,
		ArrayLayerCount: desc.LayerCount(),
		Aspect:          wgpu.TextureAspectAll,
	})
	if err != nil {
		tex.Release()
		return renderer.TextureHandle{}, fmt.Errorf("failed to create view of %q: %w", desc.Name, err)
	}
	t := &wgpuTexture{
		desc:         desc,
		format:       format,
		tex:          tex,
		view:         view,
		storageViews: make(map[uint32]*wgpu.TextureView),
		renderViews:  make(map[uint32]*wgpu.TextureView),
	}
	return renderer.TextureHandle{Handle: b.textures.Alloc(t)}, nil
}

// storageView returns a view of one mip across all layers, as storage bindings require.
func (b *Backend) storageView(t *wgpuTexture, mip uint32) (*wgpu.TextureView, error) {
	if v, ok := t.storageViews[mip]; ok {
		return v, nil
	}
	if mip >= t.desc.MipCount() {
		return nil, fmt.Errorf("texture %q has no mip %d: %w", t.desc.Name, mip, renderer.ErrOutOfBounds)
	}
	dim := wgpu.TextureViewDimension2D
	if t.desc.LayerCount() > 1 {
		dim = wgpu.TextureViewDimension2DArray
	}
	v, err := t.tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           fmt.Sprintf("%s Mip %d", t.desc.Name, mip),
		Format:          t.format,
		Dimension:       dim,
		BaseMipLevel:    mip,
		MipLevelCount:   1,
		BaseArrayLayer:  0,
		ArrayLayerCount: t.desc.LayerCount(),
		Aspect:          wgpu.TextureAspectAll,
	})
	if err != nil {
		return nil, err
	}
	t.storageViews[mip] = v
	return v, nil
}

// renderView returns a 2D view of one layer of mip 0 for use as a pass attachment.
func (b *Backend) renderView(t *wgpuTexture, layer uint32) (*wgpu.TextureView, error) {
	if v, ok := t.renderViews[layer]; ok {
		return v, nil
	}
	if layer >= t.desc.LayerCount() {
		return nil, fmt.Errorf("texture %q has no layer %d: %w", t.desc.Name, layer, renderer.ErrOutOfBounds)
	}
	v, err := t.tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           fmt.Sprintf("%s Layer %d", t.desc.Name, layer),
		Format:          t.format,
		Dimension:       wgpu.TextureViewDimension2D,
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  layer,
		ArrayLayerCount: 1,
		Aspect:          wgpu.TextureAspectAll,
	})
	if err != nil {
		return nil, err
	}
	t.renderViews[layer] = v
	return v, nil
}

func (b *Backend) DestroyTexture(h renderer.TextureHandle) error {
	t, ok := b.textures.Get(h.Handle)
	if !ok {
		return common.ErrInvalidHandle
	}
	t.release()
	return b.textures.Free(h.Handle)
}

func (b *Backend) TextureDimensions(h renderer.TextureHandle) (common.Dimensions, error) {
	t, ok := b.textures.Get(h.Handle)
	if !ok {
		return common.Dimensions{}, common.ErrInvalidHandle
	}
	return common.Dimensions{Width: t.desc.Width, Height: t.desc.Height, Depth: t.desc.LayerCount()}, nil
}

func (b *Backend) CreateShaderProgram(desc renderer.ShaderProgramDesc) (renderer.ShaderProgramHandle, error) {
	info, ok := b.library.Program(desc.Shader)
	if !ok {
		return renderer.ShaderProgramHandle{}, fmt.Errorf("%w: %q", shader.ErrUnknownShader, desc.Shader)
	}
	source, err := b.library.Source(desc.Shader, desc.Mask)
	if err != nil {
		return renderer.ShaderProgramHandle{}, err
	}
	refl := shader.Reflect(source)

	label := desc.Shader
	if m := b.library.Features().String(desc.Mask); m != "" {
		label += "[" + m + "]"
	}
	p := &wgpuProgram{
		desc:       desc,
		info:       info,
		reflection: refl,
		label:      label,
		render:     make(map[renderer.PrimitiveTopology]*wgpu.RenderPipeline),
	}

	p.module, err = b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: source},
	})
	if err != nil {
		return renderer.ShaderProgramHandle{}, fmt.Errorf("failed to compile %s: %w", label, err)
	}

	visibility := wgpu.ShaderStageVertex | wgpu.ShaderStageFragment
	if info.Kind == shader.ProgramKindCompute {
		visibility = wgpu.ShaderStageCompute
	}
	layoutDescs, err := groupLayouts(label, refl, visibility)
	if err != nil {
		p.module.Release()
		return renderer.ShaderProgramHandle{}, err
	}
	for i := range layoutDescs {
		l, err := b.device.CreateBindGroupLayout(&layoutDescs[i])
		if err != nil {
			p.release()
			return renderer.ShaderProgramHandle{}, fmt.Errorf("failed to create layout for %s group %d: %w", label, i, err)
		}
		p.groupLayouts = append(p.groupLayouts, l)
	}
	p.layout, err = b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + " Layout",
		BindGroupLayouts: p.groupLayouts,
	})
	if err != nil {
		for _, l := range p.groupLayouts {
			l.Release()
		}
		p.module.Release()
		return renderer.ShaderProgramHandle{}, fmt.Errorf("failed to create pipeline layout for %s: %w", label, err)
	}

	switch info.Kind {
	case shader.ProgramKindCompute:
		if !refl.IsCompute() {
			p.release()
			return renderer.ShaderProgramHandle{}, fmt.Errorf("program %q: missing compute entry point", desc.Shader)
		}
		p.compute, err = b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label:  label,
			Layout: p.layout,
			Compute: wgpu.ProgrammableStageDescriptor{
				Module:     p.module,
				EntryPoint: refl.ComputeEntry,
			},
		})
		if err != nil {
			p.release()
			return renderer.ShaderProgramHandle{}, fmt.Errorf("failed to create compute pipeline %s: %w", label, err)
		}
	case shader.ProgramKindGraphics:
		if refl.VertexEntry == "" || refl.FragmentEntry == "" {
			p.release()
			return renderer.ShaderProgramHandle{}, fmt.Errorf("program %q: missing vertex or fragment entry point", desc.Shader)
		}
		if _, err := b.renderPipeline(p, desc.Topology); err != nil {
			p.release()
			return renderer.ShaderProgramHandle{}, err
		}
	}

	b.log.Debug("program compiled", zap.String("program", label), zap.Int("bindings", len(refl.Bindings)))
	return renderer.ShaderProgramHandle{Handle: b.programs.Alloc(p)}, nil
}

// renderPipeline returns the pipeline of a graphics program for one topology, creating it on first use.
func (b *Backend) renderPipeline(p *wgpuProgram, t renderer.PrimitiveTopology) (*wgpu.RenderPipeline, error) {
	if rp, ok := p.render[t]; ok {
		return rp, nil
	}
	targets := make([]wgpu.ColorTargetState, 0, len(p.desc.ColorTargets))
	for _, f := range p.desc.ColorTargets {
		targets = append(targets, wgpu.ColorTargetState{
			Format:    deviceFormat(f),
			Blend:     blendState(p.desc.Blend),
			WriteMask: wgpu.ColorWriteMaskAll,
		})
	}
	var depth *wgpu.DepthStencilState
	if p.desc.DepthFormat != nil {
		compare := wgpu.CompareFunctionLessEqual
		if !p.desc.DepthTest {
			compare = wgpu.CompareFunctionAlways
		}
		depth = &wgpu.DepthStencilState{
			Format:            deviceFormat(*p.desc.DepthFormat),
			DepthWriteEnabled: p.desc.DepthWrite,
			DepthCompare:      compare,
			StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		}
	}
	rp, err := b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  fmt.Sprintf("%s %s", p.label, t),
		Layout: p.layout,
		Vertex: wgpu.VertexState{
			Module:     p.module,
			EntryPoint: p.reflection.VertexEntry,
			Buffers:    vertexLayouts(p.desc.VertexLayout),
		},
		Fragment: &wgpu.FragmentState{
			Module:     p.module,
			EntryPoint: p.reflection.FragmentEntry,
			Targets:    targets,
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  topology(t),
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		DepthStencil: depth,
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create render pipeline %s: %w", p.label, err)
	}
	p.render[t] = rp
	return rp, nil
}

func (b *Backend) DestroyShaderProgram(h renderer.ShaderProgramHandle) error {
	p, ok := b.programs.Get(h.Handle)
	if !ok {
		return common.ErrInvalidHandle
	}
	p.release()
	return b.programs.Free(h.Handle)
}

func (b *Backend) CreateResourceTable(desc renderer.ResourceTableDesc) (renderer.ResourceTableHandle, error) {
	p, ok := b.programs.Get(desc.Program.Handle)
	if !ok {
		return renderer.ResourceTableHandle{}, fmt.Errorf("resource table %q: %w", desc.Name, common.ErrInvalidHandle)
	}
	if desc.Group < 0 || desc.Group >= len(p.groupLayouts) {
		return renderer.ResourceTableHandle{}, fmt.Errorf("resource table %q: program %s has no group %d", desc.Name, p.label, desc.Group)
	}
	return renderer.ResourceTableHandle{Handle: b.tables.Alloc(&wgpuTable{
		desc:    desc,
		program: p,
		entries: make(map[int]wgpu.BindGroupEntry),
	})}, nil
}

func (b *Backend) declaration(t *wgpuTable, binding int, accepts ...shader.BindingKind) error {
	for _, bd := range t.program.reflection.Group(t.desc.Group) {
		if bd.Binding != binding {
			continue
		}
		for _, k := range accepts {
			if bd.Kind == k {
				return nil
			}
		}
		return fmt.Errorf("resource table %q: binding %d (%s) has an incompatible kind", t.desc.Name, binding, bd.Name)
	}
	return fmt.Errorf("resource table %q: %s has no binding %d in group %d", t.desc.Name, t.program.label, binding, t.desc.Group)
}

func (b *Backend) setEntry(table renderer.ResourceTableHandle, binding int, entry func(t *wgpuTable) (wgpu.BindGroupEntry, error), accepts ...shader.BindingKind) error {
	t, ok := b.tables.Get(table.Handle)
	if !ok {
		return fmt.Errorf("resource table: %w", common.ErrInvalidHandle)
	}
	if err := b.declaration(t, binding, accepts...); err != nil {
		return err
	}
	e, err := entry(t)
	if err != nil {
		return fmt.Errorf("resource table %q binding %d: %w", t.desc.Name, binding, err)
	}
	e.Binding = uint32(binding)

	b.mu.Lock()
	defer b.mu.Unlock()
	t.entries[binding] = e
	if t.group != nil {
		t.group.Release()
		t.group = nil
	}
	return nil
}

func (b *Backend) bufferEntry(h renderer.BufferHandle, offset, size uint64) func(*wgpuTable) (wgpu.BindGroupEntry, error) {
	return func(*wgpuTable) (wgpu.BindGroupEntry, error) {
		buf, ok := b.buffers.Get(h.Handle)
		if !ok {
			return wgpu.BindGroupEntry{}, common.ErrInvalidHandle
		}
		if size == 0 {
			size = wgpu.WholeSize
		}
		return wgpu.BindGroupEntry{Buffer: buf.buf, Offset: offset, Size: size}, nil
	}
}

func (b *Backend) ResourceTableSetTexture(table renderer.ResourceTableHandle, binding int, tex renderer.TextureHandle) error {
	return b.setEntry(table, binding, func(*wgpuTable) (wgpu.BindGroupEntry, error) {
		t, ok := b.textures.Get(tex.Handle)
		if !ok {
			return wgpu.BindGroupEntry{}, common.ErrInvalidHandle
		}
		return wgpu.BindGroupEntry{TextureView: t.view}, nil
	}, shader.BindingTexture, shader.BindingDepthTexture)
}

func (b *Backend) ResourceTableSetRWTexture(table renderer.ResourceTableHandle, binding int, tex renderer.TextureHandle, mip uint32) error {
	return b.setEntry(table, binding, func(*wgpuTable) (wgpu.BindGroupEntry, error) {
		t, ok := b.textures.Get(tex.Handle)
		if !ok {
			return wgpu.BindGroupEntry{}, common.ErrInvalidHandle
		}
		if t.desc.Usage&renderer.TextureUsageReadWrite == 0 {
			return wgpu.BindGroupEntry{}, fmt.Errorf("texture %q was not created with read-write usage", t.desc.Name)
		}
		v, err := b.storageView(t, mip)
		if err != nil {
			return wgpu.BindGroupEntry{}, err
		}
		return wgpu.BindGroupEntry{TextureView: v}, nil
	}, shader.BindingStorageTexture)
}

func (b *Backend) ResourceTableSetBuffer(table renderer.ResourceTableHandle, binding int, buf renderer.BufferHandle) error {
	return b.setEntry(table, binding, b.bufferEntry(buf, 0, 0), shader.BindingStorage)
}

func (b *Backend) ResourceTableSetRWBuffer(table renderer.ResourceTableHandle, binding int, buf renderer.BufferHandle) error {
	return b.setEntry(table, binding, b.bufferEntry(buf, 0, 0), shader.BindingRWStorage)
}

func (b *Backend) ResourceTableSetConstantBuffer(table renderer.ResourceTableHandle, binding int, buf renderer.BufferHandle, offset, size uint64) error {
	return b.setEntry(table, binding, b.bufferEntry(buf, offset, size), shader.BindingUniform)
}

func (b *Backend) ResourceTableSetSampler(table renderer.ResourceTableHandle, binding int, kind renderer.SamplerKind) error {
	accepts := shader.BindingSampler
	if kind == renderer.SamplerComparison {
		accepts = shader.BindingComparisonSampler
	}
	return b.setEntry(table, binding, func(*wgpuTable) (wgpu.BindGroupEntry, error) {
		s, ok := b.samplers[kind]
		if !ok {
			return wgpu.BindGroupEntry{}, fmt.Errorf("unknown sampler kind %d", kind)
		}
		return wgpu.BindGroupEntry{Sampler: s}, nil
	}, accepts)
}

func (b *Backend) CommitResourceTable(table renderer.ResourceTableHandle) error {
	t, ok := b.tables.Get(table.Handle)
	if !ok {
		return fmt.Errorf("commit: %w", common.ErrInvalidHandle)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	decls := t.program.reflection.Group(t.desc.Group)
	entries := make([]wgpu.BindGroupEntry, 0, len(decls))
	for _, bd := range decls {
		e, ok := t.entries[bd.Binding]
		if !ok {
			return fmt.Errorf("resource table %q: binding %d (%s) is not set", t.desc.Name, bd.Binding, bd.Name)
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Binding < entries[j].Binding })

	group, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   t.desc.Name,
		Layout:  t.program.groupLayouts[t.desc.Group],
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("failed to commit resource table %q: %w", t.desc.Name, err)
	}
	if t.group != nil {
		t.group.Release()
	}
	t.group = group
	return nil
}

func (b *Backend) DestroyResourceTable(table renderer.ResourceTableHandle) error {
	t, ok := b.tables.Get(table.Handle)
	if !ok {
		return common.ErrInvalidHandle
	}
	if t.group != nil {
		t.group.Release()
	}
	return b.tables.Free(table.Handle)
}

func (b *Backend) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("resize to %dx%d: zero size", width, height)
	}
	if b.surfaceEnabled {
		capabilities := b.surface.GetCapabilities(b.adapter)
		b.surfaceFormat = capabilities.Formats[0]
		b.surfaceAlpha = capabilities.AlphaModes[0]
		b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
			Usage:       wgpu.TextureUsageRenderAttachment,
			Format:      b.surfaceFormat,
			Width:       width,
			Height:      height,
			PresentMode: b.presentMode,
			AlphaMode:   b.surfaceAlpha,
		})
	}
	if b.backbuffer.Valid() {
		if err := b.DestroyTexture(b.backbuffer); err != nil {
			return err
		}
	}
	h, err := b.CreateTexture(renderer.TextureDesc{
		Name:          "Backbuffer",
		Format:        renderer.FormatRGBA8,
		Width:         width,
		Height:        height,
		Usage:         renderer.TextureUsageRenderTarget | renderer.TextureUsageCopyDst | renderer.TextureUsageSample,
		InitialLayout: renderer.LayoutPresent,
	})
	if err != nil {
		return fmt.Errorf("failed to create backbuffer: %w", err)
	}
	b.backbuffer = h
	b.width, b.height = width, height
	return nil
}

func (b *Backend) Backbuffer() renderer.TextureHandle {
	return b.backbuffer
}

func (b *Backend) Close() error {
	b.tables.Each(func(h common.Handle, t *wgpuTable) {
		_ = b.DestroyResourceTable(renderer.ResourceTableHandle{Handle: h})
	})
	b.programs.Each(func(h common.Handle, _ *wgpuProgram) {
		_ = b.DestroyShaderProgram(renderer.ShaderProgramHandle{Handle: h})
	})
	b.textures.Each(func(h common.Handle, _ *wgpuTexture) {
		_ = b.DestroyTexture(renderer.TextureHandle{Handle: h})
	})
	b.buffers.Each(func(h common.Handle, _ *wgpuBuffer) {
		_ = b.DestroyBuffer(renderer.BufferHandle{Handle: h})
	})
	b.backbuffer = renderer.TextureHandle{}
	for _, s := range b.samplers {
		s.Release()
	}
	if b.blit != nil {
		b.blit.release()
	}
	if b.queue != nil {
		b.queue.Release()
	}
	if b.device != nil {
		b.device.Release()
	}
	if b.adapter != nil {
		b.adapter.Release()
	}
	if b.surface != nil {
		b.surface.Release()
	}
	if b.instance != nil {
		b.instance.Release()
	}
	return nil
}

var errNoEncoder = errors.New("no command encoder: call BeginFrame first")
