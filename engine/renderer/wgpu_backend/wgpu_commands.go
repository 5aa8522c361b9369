package wgpu_backend

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

func (b *Backend) BeginFrame(frameIndex uint64, bufferIndex int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inFrame {
		return errors.New("BeginFrame called twice without EndFrame")
	}
	encoder, err := b.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{
		Label: fmt.Sprintf("Frame %d", frameIndex),
	})
	if err != nil {
		return fmt.Errorf("failed to create frame encoder: %w", err)
	}
	b.encoder = encoder
	b.inFrame = true
	b.frame = frameIndex
	b.err = nil
	b.program = nil
	b.topology = renderer.TopologyTriangleList
	clear(b.bound)
	return nil
}

func (b *Backend) EndFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inFrame {
		return renderer.ErrNotInFrame
	}
	b.inFrame = false
	if b.pass != nil {
		b.fail(errors.New("EndFrame inside a render pass"))
		b.pass.End()
		b.pass = nil
	}
	for ; b.markers > 0; b.markers-- {
		b.fail(errors.New("debug marker left open"))
		b.encoder.PopDebugGroup()
	}

	var surfaceTex *wgpu.Texture
	if b.surfaceEnabled {
		var err error
		surfaceTex, err = b.present()
		if err != nil {
			b.fail(err)
		}
	}

	commandBuffer, err := b.encoder.Finish(nil)
	b.encoder.Release()
	b.encoder = nil
	if err != nil {
		if surfaceTex != nil {
			surfaceTex.Release()
		}
		return fmt.Errorf("failed to finish frame %d: %w", b.frame, err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	if surfaceTex != nil {
		b.surface.Present()
		surfaceTex.Release()
	}
	return b.err
}

// present records the copy of the backbuffer into the acquired surface texture.
func (b *Backend) present() (*wgpu.Texture, error) {
	bb, ok := b.textures.Get(b.backbuffer.Handle)
	if !ok {
		return nil, errors.New("backbuffer destroyed")
	}
	surfaceTex, err := b.surface.GetCurrentTexture()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire surface texture: %w", err)
	}
	view, err := surfaceTex.CreateView(nil)
	if err != nil {
		surfaceTex.Release()
		return nil, fmt.Errorf("failed to create surface view: %w", err)
	}
	defer view.Release()
	if err := b.blit.encode(b.encoder, bb.view, view, b.surfaceFormat); err != nil {
		surfaceTex.Release()
		return nil, err
	}
	return surfaceTex, nil
}

func (b *Backend) BeginPass(desc renderer.PassDesc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inFrame {
		b.fail(renderer.ErrNotInFrame)
		return
	}
	if b.pass != nil {
		b.fail(fmt.Errorf("pass %q begun inside another pass", desc.Name))
		return
	}
	load := wgpu.LoadOpLoad
	if desc.Clear {
		load = wgpu.LoadOpClear
	}

	rp := &wgpu.RenderPassDescriptor{Label: desc.Name}
	for _, ct := range desc.ColorTargets {
		t, ok := b.textures.Get(ct.Handle)
		if !ok {
			b.fail(fmt.Errorf("pass %q: %w", desc.Name, common.ErrInvalidHandle))
			return
		}
		view, err := b.renderView(t, desc.Layer)
		if err != nil {
			b.fail(fmt.Errorf("pass %q: %w", desc.Name, err))
			return
		}
		rp.ColorAttachments = append(rp.ColorAttachments, wgpu.RenderPassColorAttachment{
			View:    view,
			LoadOp:  load,
			StoreOp: wgpu.StoreOpStore,
			ClearValue: wgpu.Color{
				R: float64(desc.ClearColor[0]),
				G: float64(desc.ClearColor[1]),
				B: float64(desc.ClearColor[2]),
				A: float64(desc.ClearColor[3]),
			},
		})
	}
	if desc.DepthTarget.Valid() {
		t, ok := b.textures.Get(desc.DepthTarget.Handle)
		if !ok {
			b.fail(fmt.Errorf("pass %q depth: %w", desc.Name, common.ErrInvalidHandle))
			return
		}
		view, err := b.renderView(t, desc.Layer)
		if err != nil {
			b.fail(fmt.Errorf("pass %q depth: %w", desc.Name, err))
			return
		}
		rp.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
			View:            view,
			DepthLoadOp:     load,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: desc.ClearDepth,
		}
	}
	b.pass = b.encoder.BeginRenderPass(rp)
	if b.viewport != nil {
		b.applyViewport(*b.viewport)
		b.viewport = nil
	}
	if b.scissor != nil {
		b.applyScissor(*b.scissor)
		b.scissor = nil
	}
}

func (b *Backend) EndPass() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pass == nil {
		b.fail(errors.New("EndPass without BeginPass"))
		return
	}
	b.pass.End()
	b.pass.Release()
	b.pass = nil
}

func (b *Backend) SetShaderProgram(h renderer.ShaderProgramHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.programs.Get(h.Handle)
	if !ok {
		b.fail(fmt.Errorf("SetShaderProgram: %w", common.ErrInvalidHandle))
		return
	}
	b.program = p
	b.topology = p.desc.Topology
	clear(b.bound)
}

func (b *Backend) SetResourceTable(table renderer.ResourceTableHandle, group int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tables.Get(table.Handle)
	if !ok {
		b.fail(fmt.Errorf("SetResourceTable: %w", common.ErrInvalidHandle))
		return
	}
	if t.group == nil {
		b.fail(fmt.Errorf("resource table %q bound before commit", t.desc.Name))
		return
	}
	if t.program != b.program || t.desc.Group != group {
		b.fail(fmt.Errorf("resource table %q is not laid out for the bound program at group %d", t.desc.Name, group))
		return
	}
	b.bound[group] = t
}

func (b *Backend) SetVertexBuffer(buf renderer.BufferHandle, offset uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	vb, ok := b.buffers.Get(buf.Handle)
	if !ok {
		b.fail(fmt.Errorf("SetVertexBuffer: %w", common.ErrInvalidHandle))
		return
	}
	if vb.desc.Usage&renderer.BufferUsageVertex == 0 {
		b.fail(fmt.Errorf("buffer %q is not a vertex buffer", vb.desc.Name))
		return
	}
	b.vertexBuf = vb.buf
	b.vertexOff = offset
}

func (b *Backend) SetPrimitiveTopology(t renderer.PrimitiveTopology) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topology = t
}

func (b *Backend) SetViewport(v renderer.Viewport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pass == nil {
		b.viewport = &v
		return
	}
	b.applyViewport(v)
}

func (b *Backend) applyViewport(v renderer.Viewport) {
	maxDepth := v.MaxDepth
	if maxDepth == 0 {
		maxDepth = 1
	}
	b.pass.SetViewport(v.X, v.Y, v.Width, v.Height, v.MinDepth, maxDepth)
}

func (b *Backend) SetScissor(r common.Rect) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pass == nil {
		b.scissor = &r
		return
	}
	b.applyScissor(r)
}

func (b *Backend) applyScissor(r common.Rect) {
	if r.Empty() {
		return
	}
	b.pass.SetScissorRect(uint32(max(r.Left, 0)), uint32(max(r.Top, 0)), uint32(r.Width()), uint32(r.Height()))
}

// bindGroups checks the bound program against kind and returns the bind groups for every group it uses.
func (b *Backend) bindGroups(kind shader.ProgramKind, op string) ([]*wgpu.BindGroup, bool) {
	if !b.inFrame {
		b.fail(fmt.Errorf("%s: %w", op, renderer.ErrNotInFrame))
		return nil, false
	}
	if b.program == nil {
		b.fail(fmt.Errorf("%s: %w", op, renderer.ErrNoProgram))
		return nil, false
	}
	if b.program.info.Kind != kind {
		b.fail(fmt.Errorf("%s: program %s has the wrong kind", op, b.program.label))
		return nil, false
	}
	groups := make([]*wgpu.BindGroup, len(b.program.groupLayouts))
	for g := range groups {
		t, ok := b.bound[g]
		if !ok {
			b.fail(fmt.Errorf("%s: program %s group %d has no resource table", op, b.program.label, g))
			return nil, false
		}
		groups[g] = t.group
	}
	return groups, true
}

func (b *Backend) prepareDraw(op string) bool {
	if b.pass == nil {
		b.fail(fmt.Errorf("%s outside a render pass", op))
		return false
	}
	groups, ok := b.bindGroups(shader.ProgramKindGraphics, op)
	if !ok {
		return false
	}
	rp, err := b.renderPipeline(b.program, b.topology)
	if err != nil {
		b.fail(err)
		return false
	}
	b.pass.SetPipeline(rp)
	for g, bg := range groups {
		b.pass.SetBindGroup(uint32(g), bg, nil)
	}
	if b.program.desc.VertexLayout != renderer.VertexLayoutNone {
		if b.vertexBuf == nil {
			b.fail(fmt.Errorf("%s: program %s needs a vertex buffer", op, b.program.label))
			return false
		}
		b.pass.SetVertexBuffer(0, b.vertexBuf, b.vertexOff, wgpu.WholeSize)
	}
	return true
}

func (b *Backend) Draw(vertexCount, firstVertex uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.prepareDraw("Draw") {
		return
	}
	b.pass.Draw(vertexCount, 1, firstVertex, 0)
}

func (b *Backend) DrawInstanced(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.prepareDraw("DrawInstanced") {
		return
	}
	b.pass.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

func (b *Backend) Compute(x, y, z uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pass != nil {
		b.fail(errors.New("Compute inside a render pass"))
		return
	}
	groups, ok := b.bindGroups(shader.ProgramKindCompute, "Compute")
	if !ok {
		return
	}
	if x == 0 || y == 0 || z == 0 {
		b.fail(fmt.Errorf("Compute with an empty dispatch %dx%dx%d", x, y, z))
		return
	}
	pass := b.encoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: b.program.label})
	pass.SetPipeline(b.program.compute)
	for g, bg := range groups {
		pass.SetBindGroup(uint32(g), bg, nil)
	}
	pass.DispatchWorkgroups(x, y, z)
	pass.End()
	pass.Release()
}

// InsertBarrier validates the barrier and records it as a debug marker. WebGPU tracks
// resource states itself, so no explicit transition is encoded.
func (b *Backend) InsertBarrier(barrier renderer.Barrier) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inFrame {
		b.fail(fmt.Errorf("barrier %q: %w", barrier.Name, renderer.ErrNotInFrame))
		return
	}
	if b.pass != nil {
		b.fail(fmt.Errorf("barrier %q inside a render pass", barrier.Name))
		return
	}
	if err := barrier.Validate(); err != nil {
		b.fail(err)
		return
	}
	for _, tb := range barrier.Textures {
		if _, ok := b.textures.Get(tb.Texture.Handle); !ok {
			b.fail(fmt.Errorf("barrier %q: %w", barrier.Name, common.ErrInvalidHandle))
			return
		}
	}
	for _, bb := range barrier.Buffers {
		if _, ok := b.buffers.Get(bb.Buffer.Handle); !ok {
			b.fail(fmt.Errorf("barrier %q: %w", barrier.Name, common.ErrInvalidHandle))
			return
		}
	}
	b.encoder.InsertDebugMarker(barrier.Name)
}

func (b *Backend) transferCheck(op string) bool {
	if !b.inFrame || b.pass != nil {
		b.fail(fmt.Errorf("%s must be recorded inside a frame and outside a pass", op))
		return false
	}
	return true
}

func (b *Backend) Blit(src, dst renderer.TextureHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.transferCheck("Blit") {
		return
	}
	s, ok1 := b.textures.Get(src.Handle)
	d, ok2 := b.textures.Get(dst.Handle)
	if !ok1 || !ok2 {
		b.fail(fmt.Errorf("Blit: %w", common.ErrInvalidHandle))
		return
	}
	srcView, err := b.renderView(s, 0)
	if err != nil {
		b.fail(err)
		return
	}
	dstView, err := b.renderView(d, 0)
	if err != nil {
		b.fail(err)
		return
	}
	if err := b.blit.encode(b.encoder, srcView, dstView, d.format); err != nil {
		b.fail(err)
	}
}

func (b *Backend) CopyTexture(src renderer.TextureHandle, srcRect common.Rect, dst renderer.TextureHandle, dstX, dstY int32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.transferCheck("CopyTexture") {
		return
	}
	if srcRect.Empty() {
		b.fail(errors.New("CopyTexture with an empty source rectangle"))
		return
	}
	s, ok1 := b.textures.Get(src.Handle)
	d, ok2 := b.textures.Get(dst.Handle)
	if !ok1 || !ok2 {
		b.fail(fmt.Errorf("CopyTexture: %w", common.ErrInvalidHandle))
		return
	}
	b.encoder.CopyTextureToTexture(
		&wgpu.ImageCopyTexture{
			Texture: s.tex,
			Origin:  wgpu.Origin3D{X: uint32(srcRect.Left), Y: uint32(srcRect.Top)},
			Aspect:  wgpu.TextureAspectAll,
		},
		&wgpu.ImageCopyTexture{
			Texture: d.tex,
			Origin:  wgpu.Origin3D{X: uint32(dstX), Y: uint32(dstY)},
			Aspect:  wgpu.TextureAspectAll,
		},
		&wgpu.Extent3D{
			Width:              uint32(srcRect.Width()),
			Height:             uint32(srcRect.Height()),
			DepthOrArrayLayers: 1,
		},
	)
}

func (b *Backend) CopyBuffer(src renderer.BufferHandle, srcOffset uint64, dst renderer.BufferHandle, dstOffset uint64, size uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.transferCheck("CopyBuffer") {
		return
	}
	s, ok1 := b.buffers.Get(src.Handle)
	d, ok2 := b.buffers.Get(dst.Handle)
	if !ok1 || !ok2 {
		b.fail(fmt.Errorf("CopyBuffer: %w", common.ErrInvalidHandle))
		return
	}
	if srcOffset+size > s.desc.Size || dstOffset+size > d.desc.Size {
		b.fail(fmt.Errorf("CopyBuffer %q -> %q: %w", s.desc.Name, d.desc.Name, renderer.ErrOutOfBounds))
		return
	}
	b.encoder.CopyBufferToBuffer(s.buf, srcOffset, d.buf, dstOffset, size)
}

func (b *Backend) BeginMarker(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.encoder == nil {
		b.fail(errNoEncoder)
		return
	}
	b.markers++
	b.encoder.PushDebugGroup(name)
}

func (b *Backend) EndMarker() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.markers == 0 {
		b.fail(errors.New("EndMarker without BeginMarker"))
		return
	}
	b.markers--
	b.encoder.PopDebugGroup()
}
