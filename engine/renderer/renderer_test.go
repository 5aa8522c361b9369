package renderer

import (
	"bytes"
	"testing"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, options ...RecordingBackendOption) (*RecordingBackend, *shader.Features) {
	t.Helper()
	f := shader.NewFeatures()
	lib, err := shader.NewLibrary(f)
	require.NoError(t, err)
	b, err := NewRecordingBackend(lib, options...)
	require.NoError(t, err)
	return b, f
}

func TestBarrierReverse(t *testing.T) {
	tex := TextureHandle{common.NewArena[int]().Alloc(1)}
	b := Barrier{
		Name:      "x",
		FromStage: StageComputeShader,
		ToStage:   StagePixelShader,
		Textures: []TextureBarrier{{
			Texture:    tex,
			FromLayout: LayoutGeneral,
			ToLayout:   LayoutShaderRead,
			FromAccess: AccessShaderWrite,
			ToAccess:   AccessShaderRead,
		}},
	}
	require.NoError(t, b.Validate())

	r := b.Reverse()
	assert.Equal(t, StagePixelShader, r.FromStage)
	assert.Equal(t, StageComputeShader, r.ToStage)
	assert.Equal(t, LayoutShaderRead, r.Textures[0].FromLayout)
	assert.Equal(t, LayoutGeneral, r.Textures[0].ToLayout)
	assert.Equal(t, AccessShaderRead, r.Textures[0].FromAccess)
	assert.Equal(t, b.Textures, r.Reverse().Textures)
}

func TestTransitionAccesses(t *testing.T) {
	tex := TextureHandle{common.NewArena[int]().Alloc(1)}
	tb := Transition(tex, AllSubresources, LayoutShaderRead, LayoutGeneral)
	assert.Equal(t, AccessShaderRead, tb.FromAccess)
	assert.Equal(t, AccessShaderRead|AccessShaderWrite, tb.ToAccess)
	assert.Equal(t, AccessTransferWrite, Transition(tex, AllSubresources, LayoutShaderRead, LayoutTransferDst).ToAccess)
	assert.Equal(t, AccessFlags(0), LayoutAccess(LayoutPresent))
}

func TestBarrierValidate(t *testing.T) {
	assert.ErrorIs(t, Barrier{Name: "empty", FromStage: StageTop, ToStage: StageTransfer}.Validate(), ErrInvalidBarrier)
	assert.ErrorIs(t, Barrier{
		Name:     "nostage",
		Textures: []TextureBarrier{{Texture: TextureHandle{common.NewArena[int]().Alloc(1)}, ToLayout: LayoutGeneral}},
	}.Validate(), ErrInvalidBarrier)
	assert.ErrorIs(t, Barrier{
		Name:      "nil",
		FromStage: StageTop,
		ToStage:   StageTransfer,
		Textures:  []TextureBarrier{{ToLayout: LayoutGeneral}},
	}.Validate(), ErrInvalidBarrier)
	assert.Equal(t, "ComputeShader|PixelShader", (StageComputeShader | StagePixelShader).String())
}

func TestRecordingComputeDispatch(t *testing.T) {
	b, f := newTestBackend(t)

	prog, err := b.CreateShaderProgram(ShaderProgramDesc{Shader: shader.ProgramBlurRGBA16F, Mask: f.MustMask("Alt0")})
	require.NoError(t, err)
	cb, err := b.CreateBuffer(BufferDesc{Name: "consts", Size: 32, Usage: BufferUsageConstant})
	require.NoError(t, err)
	in, err := b.CreateTexture(TextureDesc{Name: "in", Format: FormatRGBA16F, Width: 64, Height: 64, Usage: TextureUsageSample, InitialLayout: LayoutShaderRead})
	require.NoError(t, err)
	out, err := b.CreateTexture(TextureDesc{Name: "out", Format: FormatRGBA16F, Width: 64, Height: 64, Usage: TextureUsageReadWrite, InitialLayout: LayoutGeneral})
	require.NoError(t, err)

	table, err := b.CreateResourceTable(ResourceTableDesc{Name: "blur", Program: prog})
	require.NoError(t, err)
	require.NoError(t, b.ResourceTableSetConstantBuffer(table, 0, cb, 0, 0))
	require.NoError(t, b.ResourceTableSetTexture(table, 1, in))
	assert.Error(t, b.CommitResourceTable(table), "binding 2 missing")
	assert.Error(t, b.ResourceTableSetTexture(table, 2, out), "storage binding rejects sampled texture")
	require.NoError(t, b.ResourceTableSetRWTexture(table, 2, out, 0))
	require.NoError(t, b.CommitResourceTable(table))

	require.NoError(t, b.BeginFrame(1, 1))
	b.SetShaderProgram(prog)
	b.SetResourceTable(table, 0)
	b.Compute(1, 64, 1)
	require.NoError(t, b.EndFrame())

	cmds := b.FrameCommands(1)
	ops := make([]Op, 0, len(cmds))
	for _, c := range cmds {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []Op{OpBeginFrame, OpSetShaderProgram, OpSetResourceTable, OpCompute, OpEndFrame}, ops)
	assert.Equal(t, "blur_rgba16f[Alt0]", cmds[1].Name)
}

func TestRecordingRejectsMisuse(t *testing.T) {
	b, f := newTestBackend(t)
	prog, err := b.CreateShaderProgram(ShaderProgramDesc{Shader: shader.ProgramIm3d, Mask: f.MustMask("")})
	require.NoError(t, err)

	require.NoError(t, b.BeginFrame(1, 0))
	b.SetShaderProgram(prog)
	b.Draw(3, 0)
	assert.Error(t, b.EndFrame(), "draw outside a pass")

	require.NoError(t, b.BeginFrame(2, 1))
	b.Compute(1, 1, 1)
	assert.ErrorIs(t, b.EndFrame(), ErrNoProgram)

	require.NoError(t, b.BeginFrame(3, 2))
	assert.Error(t, b.BeginFrame(4, 0))
	require.NoError(t, b.EndFrame())
	assert.ErrorIs(t, b.EndFrame(), ErrNotInFrame)

	_, err = b.CreateShaderProgram(ShaderProgramDesc{Shader: "missing"})
	assert.ErrorIs(t, err, shader.ErrUnknownShader)
}

func TestRecordingLayoutTracking(t *testing.T) {
	b, _ := newTestBackend(t)
	tex, err := b.CreateTexture(TextureDesc{Name: "t", Type: Texture2DArray, Format: FormatRG32F, Width: 8, Height: 8, Layers: 4, InitialLayout: LayoutShaderRead})
	require.NoError(t, err)

	require.NoError(t, b.BeginFrame(1, 0))
	b.InsertBarrier(Barrier{
		Name:      "layer 2 to general",
		FromStage: StagePixelShader,
		ToStage:   StageComputeShader,
		Textures:  []TextureBarrier{{Texture: tex, Subresource: Layers(2, 1), FromLayout: LayoutShaderRead, ToLayout: LayoutGeneral}},
	})
	require.NoError(t, b.EndFrame())

	l, err := b.TextureLayout(tex, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, LayoutGeneral, l)
	l, err = b.TextureLayout(tex, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, LayoutShaderRead, l)
	assert.Empty(t, b.Violations())

	require.NoError(t, b.BeginFrame(2, 1))
	b.InsertBarrier(Barrier{
		Name:      "stale",
		FromStage: StageComputeShader,
		ToStage:   StagePixelShader,
		Textures:  []TextureBarrier{{Texture: tex, FromLayout: LayoutGeneral, ToLayout: LayoutShaderRead}},
	})
	require.NoError(t, b.EndFrame())
	assert.Len(t, b.Violations(), 3, "layers 0, 1 and 3 were not in General")
}

func TestRecordingUploadHazards(t *testing.T) {
	b, f := newTestBackend(t, WithFramesInFlight(2))
	prog, err := b.CreateShaderProgram(ShaderProgramDesc{Shader: shader.ProgramIm3d, Mask: f.MustMask(""), VertexLayout: VertexLayoutPositionColor})
	require.NoError(t, err)
	cb, err := b.CreateBuffer(BufferDesc{Name: "frame", Size: 512, Usage: BufferUsageConstant})
	require.NoError(t, err)
	table, err := b.CreateResourceTable(ResourceTableDesc{Name: "im3d", Program: prog})
	require.NoError(t, err)
	require.NoError(t, b.ResourceTableSetConstantBuffer(table, 0, cb, 0, 0))
	require.NoError(t, b.CommitResourceTable(table))
	vb, err := b.CreateBuffer(BufferDesc{Name: "verts", Size: 200, Usage: BufferUsageVertex})
	require.NoError(t, err)

	draw := func(frame uint64, offset uint64) {
		require.NoError(t, b.UploadBuffer(vb, offset, make([]byte, 100)))
		b.BeginPass(PassDesc{Name: "p", ColorTargets: []TextureHandle{b.Backbuffer()}})
		b.SetShaderProgram(prog)
		b.SetResourceTable(table, 0)
		b.SetVertexBuffer(vb, offset)
		b.Draw(5, 0)
		b.EndPass()
	}

	require.NoError(t, b.BeginFrame(1, 1))
	draw(1, 0)
	draw(1, 100)
	require.NoError(t, b.EndFrame())
	assert.Empty(t, b.Hazards(), "disjoint chunks in one frame")

	require.NoError(t, b.BeginFrame(2, 0))
	require.NoError(t, b.UploadBuffer(vb, 0, make([]byte, 10)))
	require.NoError(t, b.EndFrame())
	require.Len(t, b.Hazards(), 1, "frame 1 is still in flight")

	require.NoError(t, b.BeginFrame(3, 1))
	draw(3, 0)
	draw(3, 0)
	require.NoError(t, b.EndFrame())
	hz := b.Hazards()
	assert.Len(t, hz, 2)
	assert.Equal(t, uint64(3), hz[1].Frame)
}

func TestRecordingUploadLimits(t *testing.T) {
	b, _ := newTestBackend(t, WithUploadMaxSize(64))
	buf, err := b.CreateBuffer(BufferDesc{Name: "b", Size: 128, Usage: BufferUsageStorage})
	require.NoError(t, err)

	assert.ErrorIs(t, b.UploadBuffer(buf, 0, make([]byte, 65)), ErrUploadTooLarge)
	assert.ErrorIs(t, b.UploadBuffer(buf, 100, make([]byte, 64)), ErrOutOfBounds)
	require.NoError(t, b.UploadBuffer(buf, 64, []byte{1, 2, 3}))

	data, err := b.BufferContents(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data[64:67])

	require.NoError(t, b.DestroyBuffer(buf))
	assert.ErrorIs(t, b.UploadBuffer(buf, 0, []byte{1}), common.ErrInvalidHandle)
}

func TestCaptureRoundTrip(t *testing.T) {
	cmds := []Command{
		{Op: OpBeginFrame, Frame: 1, Args: []uint64{1}},
		{Op: OpCompute, Frame: 1, Args: []uint64{4, 4, 1}},
		{Op: OpBarrier, Frame: 1, Name: "HBAO X -> Y", Detail: "x"},
		{Op: OpCompute, Frame: 1, Args: []uint64{4, 4, 1}},
		{Op: OpEndFrame, Frame: 1},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCapture(&buf, cmds))

	got, err := ReadCapture(&buf)
	require.NoError(t, err)
	assert.Equal(t, cmds, got)

	h := Histogram(got)
	assert.Equal(t, OpCount{Op: OpCompute, Count: 2}, h[0])
	assert.Len(t, h, 4)
}

func TestParseTextureFormat(t *testing.T) {
	f, err := ParseTextureFormat("R16G16F")
	require.NoError(t, err)
	assert.Equal(t, FormatR16G16F, f)
	_, err = ParseTextureFormat("BC7")
	assert.Error(t, err)
}

func TestParseConfigNames(t *testing.T) {
	bt, err := ParseBackendType("recording")
	require.NoError(t, err)
	assert.Equal(t, BackendTypeRecording, bt)
	bt, err = ParseBackendType("")
	require.NoError(t, err)
	assert.Equal(t, BackendTypeWGPU, bt)
	_, err = ParseBackendType("vulkan")
	assert.Error(t, err)

	pm, err := ParsePresentMode("uncapped")
	require.NoError(t, err)
	assert.Equal(t, PresentModeUncapped, pm)
	pm, err = ParsePresentMode("vsync")
	require.NoError(t, err)
	assert.Equal(t, PresentModeVSync, pm)
	_, err = ParsePresentMode("mailbox")
	assert.Error(t, err)
}
