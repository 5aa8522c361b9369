package renderer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"go.uber.org/zap"
)

// Op names a recorded backend call.
type Op string

const (
	OpCreateBuffer        Op = "CreateBuffer"
	OpUploadBuffer        Op = "UploadBuffer"
	OpCreateTexture       Op = "CreateTexture"
	OpCreateShaderProgram Op = "CreateShaderProgram"
	OpBeginFrame          Op = "BeginFrame"
	OpEndFrame            Op = "EndFrame"
	OpBeginPass           Op = "BeginPass"
	OpEndPass             Op = "EndPass"
	OpSetShaderProgram    Op = "SetShaderProgram"
	OpSetResourceTable    Op = "SetResourceTable"
	OpSetVertexBuffer     Op = "SetVertexBuffer"
	OpSetTopology         Op = "SetPrimitiveTopology"
	OpSetViewport         Op = "SetViewport"
	OpSetScissor          Op = "SetScissor"
	OpDraw                Op = "Draw"
	OpDrawInstanced       Op = "DrawInstanced"
	OpCompute             Op = "Compute"
	OpBarrier             Op = "Barrier"
	OpBlit                Op = "Blit"
	OpCopyTexture         Op = "CopyTexture"
	OpCopyBuffer          Op = "CopyBuffer"
	OpBeginMarker         Op = "BeginMarker"
	OpEndMarker           Op = "EndMarker"
)

// Command is one recorded backend call.
type Command struct {
	Op    Op     `yaml:"op"`
	Frame uint64 `yaml:"frame"`

	// Name is the resource, pass, marker or barrier name.
	Name string `yaml:"name,omitempty"`

	// Target is the program, table or texture the command acts on, rendered as a string.
	Target string   `yaml:"target,omitempty"`
	Args   []uint64 `yaml:"args,omitempty,flow"`
	Detail string   `yaml:"detail,omitempty"`
}

// Hazard is a CPU upload into a buffer range the GPU may still be reading.
type Hazard struct {
	Frame  uint64
	Buffer string
	Reason string
}

// Violation is a texture used in a layout other than the one it was transitioned to.
type Violation struct {
	Frame   uint64
	Texture string
	Detail  string
}

type byteRange struct {
	offset, size uint64
}

func (r byteRange) overlaps(o byteRange) bool {
	return r.offset < o.offset+o.size && o.offset < r.offset+r.size
}

type recBuffer struct {
	desc BufferDesc
	data []byte

	used    bool
	lastUse uint64

	frameUploads    []byteRange
	usedSinceUpload bool
}

type recTexture struct {
	desc    TextureDesc
	layouts []ImageLayout
}

func (t *recTexture) index(mip, layer uint32) int {
	return int(mip*t.desc.LayerCount() + layer)
}

type recProgram struct {
	desc       ShaderProgramDesc
	info       shader.ProgramInfo
	reflection shader.Reflection
	label      string
}

type tableEntry struct {
	kind    shader.BindingKind
	buffer  BufferHandle
	texture TextureHandle
}

type recTable struct {
	desc      ResourceTableDesc
	bindings  map[int]tableEntry
	committed bool
}

// RecordingBackend is a headless GraphicsBackend. It validates usage, keeps buffer contents
// in memory and records every command for inspection and capture.
type RecordingBackend struct {
	mu sync.Mutex

	log            *zap.Logger
	library        *shader.Library
	framesInFlight int
	uploadMaxSize  uint64
	width, height  uint32

	buffers  *common.Arena[*recBuffer]
	textures *common.Arena[*recTexture]
	programs *common.Arena[*recProgram]
	tables   *common.Arena[*recTable]

	backbuffer TextureHandle

	commands   []Command
	hazards    []Hazard
	violations []Violation

	inFrame     bool
	frame       uint64
	bufferIndex int
	inPass      bool
	program     ShaderProgramHandle
	bound       map[int]ResourceTableHandle
	markers     int
	err         error
}

var _ GraphicsBackend = &RecordingBackend{}

// NewRecordingBackend creates a headless backend that compiles programs from lib.
//
// Parameters:
//   - lib: the shader library programs are looked up in
//   - options: functional options such as WithFramesInFlight
//
// Returns:
//   - *RecordingBackend: the backend
//   - error: an error if the backbuffer cannot be created
func NewRecordingBackend(lib *shader.Library, options ...RecordingBackendOption) (*RecordingBackend, error) {
	b := &RecordingBackend{
		log:            zap.NewNop(),
		library:        lib,
		framesInFlight: 3,
		uploadMaxSize:  1 << 16,
		width:          1280,
		height:         720,
		buffers:        common.NewArena[*recBuffer](),
		textures:       common.NewArena[*recTexture](),
		programs:       common.NewArena[*recProgram](),
		tables:         common.NewArena[*recTable](),
		bound:          make(map[int]ResourceTableHandle),
	}
	for _, opt := range options {
		opt(b)
	}
	if err := b.Resize(b.width, b.height); err != nil {
		return nil, err
	}
	return b, nil
}

// Commands returns a copy of every command recorded so far.
func (b *RecordingBackend) Commands() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Command(nil), b.commands...)
}

// FrameCommands returns the commands recorded during one frame.
func (b *RecordingBackend) FrameCommands(frame uint64) []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Command
	for _, c := range b.commands {
		if c.Frame == frame && c.Op != OpCreateBuffer && c.Op != OpCreateTexture && c.Op != OpCreateShaderProgram {
			out = append(out, c)
		}
	}
	return out
}

// ResetCommands drops the recorded command log.
func (b *RecordingBackend) ResetCommands() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = nil
}

// Hazards returns the upload hazards detected so far.
func (b *RecordingBackend) Hazards() []Hazard {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Hazard(nil), b.hazards...)
}

// Violations returns the layout violations detected so far.
func (b *RecordingBackend) Violations() []Violation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Violation(nil), b.violations...)
}

// BufferContents returns a copy of the CPU-side contents of a buffer.
func (b *RecordingBackend) BufferContents(h BufferHandle) ([]byte, error) {
	buf, ok := b.buffers.Get(h.Handle)
	if !ok {
		return nil, common.ErrInvalidHandle
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), buf.data...), nil
}

// TextureLayout returns the tracked layout of one texture subresource.
func (b *RecordingBackend) TextureLayout(h TextureHandle, mip, layer uint32) (ImageLayout, error) {
	tex, ok := b.textures.Get(h.Handle)
	if !ok {
		return LayoutUndefined, common.ErrInvalidHandle
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if mip >= tex.desc.MipCount() || layer >= tex.desc.LayerCount() {
		return LayoutUndefined, ErrOutOfBounds
	}
	return tex.layouts[tex.index(mip, layer)], nil
}

// Live returns the number of live buffers, textures, programs and tables.
func (b *RecordingBackend) Live() (buffers, textures, programs, tables int) {
	return b.buffers.Len(), b.textures.Len(), b.programs.Len(), b.tables.Len()
}

func (b *RecordingBackend) record(c Command) {
	c.Frame = b.frame
	b.commands = append(b.commands, c)
}

func (b *RecordingBackend) fail(err error) {
	if b.err == nil {
		b.err = err
	}
	b.log.Debug("command rejected", zap.Error(err))
}

func (b *RecordingBackend) CreateBuffer(desc BufferDesc) (BufferHandle, error) {
	if desc.Size == 0 {
		return BufferHandle{}, fmt.Errorf("buffer %q: zero size", desc.Name)
	}
	if uint64(len(desc.Data)) > desc.Size {
		return BufferHandle{}, fmt.Errorf("buffer %q: %w", desc.Name, ErrOutOfBounds)
	}
	data := make([]byte, desc.Size)
	copy(data, desc.Data)
	h := BufferHandle{b.buffers.Alloc(&recBuffer{desc: desc, data: data})}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(Command{Op: OpCreateBuffer, Name: desc.Name, Target: h.String(), Args: []uint64{desc.Size, uint64(desc.Usage)}})
	return h, nil
}

func (b *RecordingBackend) DestroyBuffer(h BufferHandle) error {
	return b.buffers.Free(h.Handle)
}

func (b *RecordingBackend) UploadBuffer(h BufferHandle, offset uint64, data []byte) error {
	buf, ok := b.buffers.Get(h.Handle)
	if !ok {
		return fmt.Errorf("upload: %w", common.ErrInvalidHandle)
	}
	if uint64(len(data)) > b.uploadMaxSize {
		return fmt.Errorf("upload of %d bytes to %q: %w", len(data), buf.desc.Name, ErrUploadTooLarge)
	}
	if offset+uint64(len(data)) > buf.desc.Size {
		return fmt.Errorf("upload to %q at %d+%d: %w", buf.desc.Name, offset, len(data), ErrOutOfBounds)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r := byteRange{offset: offset, size: uint64(len(data))}
	if b.inFrame {
		if buf.used && buf.lastUse < b.frame && buf.lastUse+uint64(b.framesInFlight) > b.frame {
			b.hazards = append(b.hazards, Hazard{
				Frame:  b.frame,
				Buffer: buf.desc.Name,
				Reason: fmt.Sprintf("written while frame %d may still read it", buf.lastUse),
			})
		}
		if buf.usedSinceUpload {
			for _, prev := range buf.frameUploads {
				if prev.overlaps(r) {
					b.hazards = append(b.hazards, Hazard{
						Frame:  b.frame,
						Buffer: buf.desc.Name,
						Reason: fmt.Sprintf("range %d+%d overwritten after use in the same frame", offset, len(data)),
					})
					break
				}
			}
		}
		buf.frameUploads = append(buf.frameUploads, r)
	}
	copy(buf.data[offset:], data)
	b.record(Command{Op: OpUploadBuffer, Name: buf.desc.Name, Target: h.String(), Args: []uint64{offset, r.size}})
	return nil
}

func (b *RecordingBackend) BufferUploadMaxSize() uint64 {
	return b.uploadMaxSize
}

func (b *RecordingBackend) CreateTexture(desc TextureDesc) (TextureHandle, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return TextureHandle{}, fmt.Errorf("texture %q: zero size", desc.Name)
	}
	if desc.Type == TextureCube && desc.LayerCount()%6 != 0 {
		return TextureHandle{}, fmt.Errorf("texture %q: cube textures need a multiple of 6 layers", desc.Name)
	}
	t := &recTexture{desc: desc, layouts: make([]ImageLayout, desc.MipCount()*desc.LayerCount())}
	for i := range t.layouts {
		t.layouts[i] = desc.InitialLayout
	}
	h := TextureHandle{b.textures.Alloc(t)}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(Command{
		Op:     OpCreateTexture,
		Name:   desc.Name,
		Target: h.String(),
		Args:   []uint64{uint64(desc.Width), uint64(desc.Height), uint64(desc.LayerCount())},
		Detail: desc.Format.String(),
	})
	return h, nil
}

func (b *RecordingBackend) DestroyTexture(h TextureHandle) error {
	return b.textures.Free(h.Handle)
}

func (b *RecordingBackend) TextureDimensions(h TextureHandle) (common.Dimensions, error) {
	t, ok := b.textures.Get(h.Handle)
	if !ok {
		return common.Dimensions{}, common.ErrInvalidHandle
	}
	return common.Dimensions{Width: t.desc.Width, Height: t.desc.Height, Depth: t.desc.LayerCount()}, nil
}

func (b *RecordingBackend) CreateShaderProgram(desc ShaderProgramDesc) (ShaderProgramHandle, error) {
	info, ok := b.library.Program(desc.Shader)
	if !ok {
		return ShaderProgramHandle{}, fmt.Errorf("%w: %q", shader.ErrUnknownShader, desc.Shader)
	}
	refl, err := b.library.Reflect(desc.Shader, desc.Mask)
	if err != nil {
		return ShaderProgramHandle{}, err
	}
	if info.Kind == shader.ProgramKindGraphics && (refl.VertexEntry == "" || refl.FragmentEntry == "") {
		return ShaderProgramHandle{}, fmt.Errorf("program %q: missing vertex or fragment entry point", desc.Shader)
	}
	if info.Kind == shader.ProgramKindCompute && !refl.IsCompute() {
		return ShaderProgramHandle{}, fmt.Errorf("program %q: missing compute entry point", desc.Shader)
	}

	label := desc.Shader
	if m := b.library.Features().String(desc.Mask); m != "" {
		label += "[" + m + "]"
	}
	h := ShaderProgramHandle{b.programs.Alloc(&recProgram{desc: desc, info: info, reflection: refl, label: label})}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(Command{Op: OpCreateShaderProgram, Name: label, Target: h.String()})
	return h, nil
}

func (b *RecordingBackend) DestroyShaderProgram(h ShaderProgramHandle) error {
	return b.programs.Free(h.Handle)
}

func (b *RecordingBackend) CreateResourceTable(desc ResourceTableDesc) (ResourceTableHandle, error) {
	p, ok := b.programs.Get(desc.Program.Handle)
	if !ok {
		return ResourceTableHandle{}, fmt.Errorf("resource table %q: %w", desc.Name, common.ErrInvalidHandle)
	}
	if desc.Group < 0 || desc.Group > p.reflection.MaxGroup() {
		return ResourceTableHandle{}, fmt.Errorf("resource table %q: program %s has no group %d", desc.Name, p.label, desc.Group)
	}
	return ResourceTableHandle{b.tables.Alloc(&recTable{desc: desc, bindings: make(map[int]tableEntry)})}, nil
}

func (b *RecordingBackend) setEntry(table ResourceTableHandle, binding int, e tableEntry, accepts ...shader.BindingKind) error {
	t, ok := b.tables.Get(table.Handle)
	if !ok {
		return fmt.Errorf("resource table: %w", common.ErrInvalidHandle)
	}
	p, ok := b.programs.Get(t.desc.Program.Handle)
	if !ok {
		return fmt.Errorf("resource table %q: program destroyed", t.desc.Name)
	}
	var decl *shader.Binding
	for _, bd := range p.reflection.Group(t.desc.Group) {
		if bd.Binding == binding {
			decl = &bd
			break
		}
	}
	if decl == nil {
		return fmt.Errorf("resource table %q: %s has no binding %d in group %d", t.desc.Name, p.label, binding, t.desc.Group)
	}
	match := false
	for _, k := range accepts {
		if decl.Kind == k {
			match = true
		}
	}
	if !match {
		return fmt.Errorf("resource table %q: binding %d (%s) has an incompatible kind", t.desc.Name, binding, decl.Name)
	}
	if e.buffer.Valid() {
		if _, ok := b.buffers.Get(e.buffer.Handle); !ok {
			return fmt.Errorf("resource table %q binding %d: %w", t.desc.Name, binding, common.ErrInvalidHandle)
		}
	}
	if e.texture.Valid() {
		if _, ok := b.textures.Get(e.texture.Handle); !ok {
			return fmt.Errorf("resource table %q binding %d: %w", t.desc.Name, binding, common.ErrInvalidHandle)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	e.kind = decl.Kind
	t.bindings[binding] = e
	t.committed = false
	return nil
}

func (b *RecordingBackend) ResourceTableSetTexture(table ResourceTableHandle, binding int, tex TextureHandle) error {
	return b.setEntry(table, binding, tableEntry{texture: tex}, shader.BindingTexture, shader.BindingDepthTexture)
}

func (b *RecordingBackend) ResourceTableSetRWTexture(table ResourceTableHandle, binding int, tex TextureHandle, mip uint32) error {
	return b.setEntry(table, binding, tableEntry{texture: tex}, shader.BindingStorageTexture)
}

func (b *RecordingBackend) ResourceTableSetBuffer(table ResourceTableHandle, binding int, buf BufferHandle) error {
	return b.setEntry(table, binding, tableEntry{buffer: buf}, shader.BindingStorage)
}

func (b *RecordingBackend) ResourceTableSetRWBuffer(table ResourceTableHandle, binding int, buf BufferHandle) error {
	return b.setEntry(table, binding, tableEntry{buffer: buf}, shader.BindingRWStorage)
}

func (b *RecordingBackend) ResourceTableSetConstantBuffer(table ResourceTableHandle, binding int, buf BufferHandle, offset, size uint64) error {
	return b.setEntry(table, binding, tableEntry{buffer: buf}, shader.BindingUniform)
}

func (b *RecordingBackend) ResourceTableSetSampler(table ResourceTableHandle, binding int, kind SamplerKind) error {
	accepts := shader.BindingSampler
	if kind == SamplerComparison {
		accepts = shader.BindingComparisonSampler
	}
	return b.setEntry(table, binding, tableEntry{}, accepts)
}

func (b *RecordingBackend) CommitResourceTable(table ResourceTableHandle) error {
	t, ok := b.tables.Get(table.Handle)
	if !ok {
		return fmt.Errorf("commit: %w", common.ErrInvalidHandle)
	}
	p, ok := b.programs.Get(t.desc.Program.Handle)
	if !ok {
		return fmt.Errorf("resource table %q: program destroyed", t.desc.Name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bd := range p.reflection.Group(t.desc.Group) {
		if _, ok := t.bindings[bd.Binding]; !ok {
			return fmt.Errorf("resource table %q: binding %d (%s) is not set", t.desc.Name, bd.Binding, bd.Name)
		}
	}
	t.committed = true
	return nil
}

func (b *RecordingBackend) DestroyResourceTable(table ResourceTableHandle) error {
	return b.tables.Free(table.Handle)
}

func (b *RecordingBackend) Resize(width, height uint32) error {
	if b.backbuffer.Valid() {
		if err := b.DestroyTexture(b.backbuffer); err != nil {
			return err
		}
	}
	h, err := b.CreateTexture(TextureDesc{
		Name:          "Backbuffer",
		Format:        FormatRGBA8,
		Width:         width,
		Height:        height,
		Usage:         TextureUsageRenderTarget | TextureUsageCopyDst,
		InitialLayout: LayoutPresent,
	})
	if err != nil {
		return fmt.Errorf("failed to create backbuffer: %w", err)
	}
	b.backbuffer = h
	b.width, b.height = width, height
	return nil
}

func (b *RecordingBackend) Backbuffer() TextureHandle {
	return b.backbuffer
}

func (b *RecordingBackend) BeginFrame(frameIndex uint64, bufferIndex int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inFrame {
		return errors.New("BeginFrame called twice without EndFrame")
	}
	b.inFrame = true
	b.frame = frameIndex
	b.bufferIndex = bufferIndex
	b.err = nil
	b.program = ShaderProgramHandle{}
	clear(b.bound)
	b.buffers.Each(func(_ common.Handle, buf *recBuffer) {
		buf.frameUploads = buf.frameUploads[:0]
		buf.usedSinceUpload = false
	})
	b.record(Command{Op: OpBeginFrame, Args: []uint64{uint64(bufferIndex)}})
	return nil
}

func (b *RecordingBackend) EndFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inFrame {
		return ErrNotInFrame
	}
	if b.inPass {
		b.fail(errors.New("EndFrame inside a render pass"))
		b.inPass = false
	}
	if b.markers != 0 {
		b.fail(fmt.Errorf("%d debug markers left open", b.markers))
		b.markers = 0
	}
	b.record(Command{Op: OpEndFrame})
	b.inFrame = false
	return b.err
}

func (b *RecordingBackend) checkLayout(h TextureHandle, want ImageLayout, sub Subresource, use string) {
	t, ok := b.textures.Get(h.Handle)
	if !ok {
		b.fail(fmt.Errorf("%s: %w", use, common.ErrInvalidHandle))
		return
	}
	t.eachSubresource(sub, func(i int) {
		if t.layouts[i] != want {
			b.violations = append(b.violations, Violation{
				Frame:   b.frame,
				Texture: t.desc.Name,
				Detail:  fmt.Sprintf("%s expects %s, texture is %s", use, want, t.layouts[i]),
			})
		}
	})
}

func (t *recTexture) eachSubresource(sub Subresource, fn func(i int)) {
	mips := sub.NumMips
	if mips == 0 {
		mips = t.desc.MipCount() - min(sub.Mip, t.desc.MipCount())
	}
	layers := sub.NumLayers
	if layers == 0 {
		layers = t.desc.LayerCount() - min(sub.Layer, t.desc.LayerCount())
	}
	for m := sub.Mip; m < sub.Mip+mips && m < t.desc.MipCount(); m++ {
		for l := sub.Layer; l < sub.Layer+layers && l < t.desc.LayerCount(); l++ {
			fn(t.index(m, l))
		}
	}
}

func (b *RecordingBackend) BeginPass(desc PassDesc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inFrame {
		b.fail(ErrNotInFrame)
		return
	}
	if b.inPass {
		b.fail(fmt.Errorf("pass %q begun inside another pass", desc.Name))
		return
	}
	targets := make([]string, 0, len(desc.ColorTargets)+1)
	for _, ct := range desc.ColorTargets {
		b.checkLayout(ct, LayoutColorRender, Layers(desc.Layer, 1), "pass "+desc.Name)
		targets = append(targets, ct.String())
	}
	if desc.DepthTarget.Valid() {
		b.checkLayout(desc.DepthTarget, LayoutDepthStencilRender, Layers(desc.Layer, 1), "pass "+desc.Name)
		targets = append(targets, desc.DepthTarget.String())
	}
	b.inPass = true
	b.record(Command{Op: OpBeginPass, Name: desc.Name, Target: fmt.Sprint(targets), Args: []uint64{uint64(desc.Layer)}})
}

func (b *RecordingBackend) EndPass() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inPass {
		b.fail(errors.New("EndPass without BeginPass"))
		return
	}
	b.inPass = false
	b.record(Command{Op: OpEndPass})
}

func (b *RecordingBackend) SetShaderProgram(h ShaderProgramHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.programs.Get(h.Handle)
	if !ok {
		b.fail(fmt.Errorf("SetShaderProgram: %w", common.ErrInvalidHandle))
		return
	}
	b.program = h
	clear(b.bound)
	b.record(Command{Op: OpSetShaderProgram, Name: p.label, Target: h.String()})
}

func (b *RecordingBackend) SetResourceTable(table ResourceTableHandle, group int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tables.Get(table.Handle)
	if !ok {
		b.fail(fmt.Errorf("SetResourceTable: %w", common.ErrInvalidHandle))
		return
	}
	if !t.committed {
		b.fail(fmt.Errorf("resource table %q bound before commit", t.desc.Name))
		return
	}
	if t.desc.Program != b.program || t.desc.Group != group {
		b.fail(fmt.Errorf("resource table %q is not laid out for the bound program at group %d", t.desc.Name, group))
		return
	}
	b.bound[group] = table
	for _, e := range t.bindings {
		if e.buffer.Valid() {
			b.markUsed(e.buffer)
		}
	}
	b.record(Command{Op: OpSetResourceTable, Name: t.desc.Name, Target: table.String(), Args: []uint64{uint64(group)}})
}

func (b *RecordingBackend) markUsed(h BufferHandle) {
	if buf, ok := b.buffers.Get(h.Handle); ok {
		buf.used = true
		buf.lastUse = b.frame
		buf.usedSinceUpload = true
	}
}

func (b *RecordingBackend) SetVertexBuffer(buf BufferHandle, offset uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	vb, ok := b.buffers.Get(buf.Handle)
	if !ok {
		b.fail(fmt.Errorf("SetVertexBuffer: %w", common.ErrInvalidHandle))
		return
	}
	if vb.desc.Usage&BufferUsageVertex == 0 {
		b.fail(fmt.Errorf("buffer %q is not a vertex buffer", vb.desc.Name))
		return
	}
	b.markUsed(buf)
	b.record(Command{Op: OpSetVertexBuffer, Name: vb.desc.Name, Target: buf.String(), Args: []uint64{offset}})
}

func (b *RecordingBackend) SetPrimitiveTopology(t PrimitiveTopology) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(Command{Op: OpSetTopology, Detail: t.String()})
}

func (b *RecordingBackend) SetViewport(v Viewport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(Command{Op: OpSetViewport, Args: []uint64{uint64(v.X), uint64(v.Y), uint64(v.Width), uint64(v.Height)}})
}

func (b *RecordingBackend) SetScissor(r common.Rect) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(Command{Op: OpSetScissor, Args: []uint64{uint64(r.Left), uint64(r.Top), uint64(r.Right), uint64(r.Bottom)}})
}

// checkBindings verifies that a program of kind is bound along with a table for every group it uses.
func (b *RecordingBackend) checkBindings(kind shader.ProgramKind, op Op) bool {
	if !b.inFrame {
		b.fail(fmt.Errorf("%s: %w", op, ErrNotInFrame))
		return false
	}
	p, ok := b.programs.Get(b.program.Handle)
	if !ok {
		b.fail(fmt.Errorf("%s: %w", op, ErrNoProgram))
		return false
	}
	if p.info.Kind != kind {
		b.fail(fmt.Errorf("%s: program %s has the wrong kind", op, p.label))
		return false
	}
	for g := 0; g <= p.reflection.MaxGroup(); g++ {
		if _, ok := b.bound[g]; !ok {
			b.fail(fmt.Errorf("%s: program %s group %d has no resource table", op, p.label, g))
			return false
		}
	}
	return true
}

func (b *RecordingBackend) Draw(vertexCount, firstVertex uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inPass {
		b.fail(errors.New("Draw outside a render pass"))
		return
	}
	if !b.checkBindings(shader.ProgramKindGraphics, OpDraw) {
		return
	}
	b.record(Command{Op: OpDraw, Args: []uint64{uint64(vertexCount), uint64(firstVertex)}})
}

func (b *RecordingBackend) DrawInstanced(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inPass {
		b.fail(errors.New("DrawInstanced outside a render pass"))
		return
	}
	if !b.checkBindings(shader.ProgramKindGraphics, OpDrawInstanced) {
		return
	}
	b.record(Command{Op: OpDrawInstanced, Args: []uint64{uint64(vertexCount), uint64(instanceCount), uint64(firstVertex), uint64(firstInstance)}})
}

func (b *RecordingBackend) Compute(x, y, z uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inPass {
		b.fail(errors.New("Compute inside a render pass"))
		return
	}
	if !b.checkBindings(shader.ProgramKindCompute, OpCompute) {
		return
	}
	if x == 0 || y == 0 || z == 0 {
		b.fail(fmt.Errorf("Compute with an empty dispatch %dx%dx%d", x, y, z))
		return
	}
	b.record(Command{Op: OpCompute, Args: []uint64{uint64(x), uint64(y), uint64(z)}})
}

func (b *RecordingBackend) InsertBarrier(barrier Barrier) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inFrame {
		b.fail(fmt.Errorf("barrier %q: %w", barrier.Name, ErrNotInFrame))
		return
	}
	if b.inPass {
		b.fail(fmt.Errorf("barrier %q inside a render pass", barrier.Name))
		return
	}
	if err := barrier.Validate(); err != nil {
		b.fail(err)
		return
	}
	for _, tb := range barrier.Textures {
		t, ok := b.textures.Get(tb.Texture.Handle)
		if !ok {
			b.fail(fmt.Errorf("barrier %q: %w", barrier.Name, common.ErrInvalidHandle))
			return
		}
		t.eachSubresource(tb.Subresource, func(i int) {
			if tb.FromLayout != LayoutUndefined && t.layouts[i] != tb.FromLayout {
				b.violations = append(b.violations, Violation{
					Frame:   b.frame,
					Texture: t.desc.Name,
					Detail:  fmt.Sprintf("barrier %q expects %s, texture is %s", barrier.Name, tb.FromLayout, t.layouts[i]),
				})
			}
			t.layouts[i] = tb.ToLayout
		})
	}
	for _, bb := range barrier.Buffers {
		if _, ok := b.buffers.Get(bb.Buffer.Handle); !ok {
			b.fail(fmt.Errorf("barrier %q: %w", barrier.Name, common.ErrInvalidHandle))
			return
		}
	}
	b.record(Command{
		Op:     OpBarrier,
		Name:   barrier.Name,
		Args:   []uint64{uint64(len(barrier.Textures)), uint64(len(barrier.Buffers))},
		Detail: barrier.String(),
	})
}

func (b *RecordingBackend) Blit(src, dst TextureHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inFrame || b.inPass {
		b.fail(errors.New("Blit must be recorded inside a frame and outside a pass"))
		return
	}
	b.checkLayout(src, LayoutTransferSrc, Subresource{NumMips: 1, NumLayers: 1}, "blit source")
	b.checkLayout(dst, LayoutTransferDst, Subresource{NumMips: 1, NumLayers: 1}, "blit destination")
	b.record(Command{Op: OpBlit, Target: src.String() + " -> " + dst.String()})
}

func (b *RecordingBackend) CopyTexture(src TextureHandle, srcRect common.Rect, dst TextureHandle, dstX, dstY int32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inFrame || b.inPass {
		b.fail(errors.New("CopyTexture must be recorded inside a frame and outside a pass"))
		return
	}
	if srcRect.Empty() {
		b.fail(errors.New("CopyTexture with an empty source rectangle"))
		return
	}
	b.checkLayout(src, LayoutTransferSrc, Subresource{NumMips: 1, NumLayers: 1}, "copy source")
	b.checkLayout(dst, LayoutTransferDst, Subresource{NumMips: 1, NumLayers: 1}, "copy destination")
	b.record(Command{
		Op:     OpCopyTexture,
		Target: src.String() + " -> " + dst.String(),
		Args:   []uint64{uint64(srcRect.Width()), uint64(srcRect.Height()), uint64(dstX), uint64(dstY)},
	})
}

func (b *RecordingBackend) CopyBuffer(src BufferHandle, srcOffset uint64, dst BufferHandle, dstOffset uint64, size uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inFrame || b.inPass {
		b.fail(errors.New("CopyBuffer must be recorded inside a frame and outside a pass"))
		return
	}
	s, ok1 := b.buffers.Get(src.Handle)
	d, ok2 := b.buffers.Get(dst.Handle)
	if !ok1 || !ok2 {
		b.fail(fmt.Errorf("CopyBuffer: %w", common.ErrInvalidHandle))
		return
	}
	if srcOffset+size > s.desc.Size || dstOffset+size > d.desc.Size {
		b.fail(fmt.Errorf("CopyBuffer %q -> %q: %w", s.desc.Name, d.desc.Name, ErrOutOfBounds))
		return
	}
	copy(d.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
	b.markUsed(src)
	b.markUsed(dst)
	b.record(Command{Op: OpCopyBuffer, Name: s.desc.Name + " -> " + d.desc.Name, Args: []uint64{srcOffset, dstOffset, size}})
}

func (b *RecordingBackend) BeginMarker(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markers++
	b.record(Command{Op: OpBeginMarker, Name: name})
}

func (b *RecordingBackend) EndMarker() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.markers == 0 {
		b.fail(errors.New("EndMarker without BeginMarker"))
		return
	}
	b.markers--
	b.record(Command{Op: OpEndMarker})
}

func (b *RecordingBackend) Close() error {
	b.buffers.Each(func(h common.Handle, _ *recBuffer) { _ = b.buffers.Free(h) })
	b.textures.Each(func(h common.Handle, _ *recTexture) { _ = b.textures.Free(h) })
	b.programs.Each(func(h common.Handle, _ *recProgram) { _ = b.programs.Free(h) })
	b.tables.Each(func(h common.Handle, _ *recTable) { _ = b.tables.Free(h) })
	b.backbuffer = TextureHandle{}
	return nil
}
