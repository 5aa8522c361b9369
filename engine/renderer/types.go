package renderer

import (
	"fmt"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
)

// BufferHandle refers to a GPU buffer owned by a GraphicsBackend.
type BufferHandle struct{ common.Handle }

// TextureHandle refers to a GPU texture owned by a GraphicsBackend.
type TextureHandle struct{ common.Handle }

// ShaderProgramHandle refers to a compiled shader program variation.
type ShaderProgramHandle struct{ common.Handle }

// ResourceTableHandle refers to a set of resources bound to one shader group.
type ResourceTableHandle struct{ common.Handle }

func (h BufferHandle) String() string        { return handleString("buf", h.Handle) }
func (h TextureHandle) String() string       { return handleString("tex", h.Handle) }
func (h ShaderProgramHandle) String() string { return handleString("prog", h.Handle) }
func (h ResourceTableHandle) String() string { return handleString("table", h.Handle) }

func handleString(prefix string, h common.Handle) string {
	if !h.Valid() {
		return prefix + "#nil"
	}
	return fmt.Sprintf("%s#%d.%d", prefix, h.Index(), h.Generation())
}

// BufferUsage is a bitmask of the ways a buffer may be bound.
type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageConstant
	BufferUsageStorage
	BufferUsageReadWrite
	BufferUsageCopySrc
	BufferUsageCopyDst
	BufferUsageIndirect
)

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Name  string
	Size  uint64
	Usage BufferUsage

	// Data is optional initial content; len(Data) must not exceed Size.
	Data []byte
}

// TextureFormat is the texel format of a texture.
type TextureFormat int

const (
	FormatRGBA8 TextureFormat = iota
	FormatRGBA16F
	FormatR11G11B10F
	FormatR16G16F
	FormatR16F
	FormatR8
	FormatR32F
	FormatRG32F
	FormatD32F
)

var textureFormatNames = map[TextureFormat]string{
	FormatRGBA8:      "RGBA8",
	FormatRGBA16F:    "RGBA16F",
	FormatR11G11B10F: "R11G11B10F",
	FormatR16G16F:    "R16G16F",
	FormatR16F:       "R16F",
	FormatR8:         "R8",
	FormatR32F:       "R32F",
	FormatRG32F:      "RG32F",
	FormatD32F:       "D32F",
}

func (f TextureFormat) String() string {
	if s, ok := textureFormatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("TextureFormat(%d)", int(f))
}

// ParseTextureFormat converts a format name such as "R16G16F" to a TextureFormat.
func ParseTextureFormat(s string) (TextureFormat, error) {
	for f, name := range textureFormatNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown texture format %q", s)
}

// IsDepth reports whether the format is a depth format.
func (f TextureFormat) IsDepth() bool {
	return f == FormatD32F
}

// TextureType is the dimensionality of a texture.
type TextureType int

const (
	Texture2D TextureType = iota
	Texture2DArray
	TextureCube
)

// TextureUsage is a bitmask of the ways a texture may be bound.
type TextureUsage uint32

const (
	TextureUsageSample TextureUsage = 1 << iota
	TextureUsageReadWrite
	TextureUsageRenderTarget
	TextureUsageDepthTarget
	TextureUsageCopySrc
	TextureUsageCopyDst
)

// TextureDesc describes a texture to create.
type TextureDesc struct {
	Name   string
	Type   TextureType
	Format TextureFormat
	Width  uint32
	Height uint32

	// Layers is the array layer count; 0 means 1. Cube textures use 6.
	Layers uint32

	// Mips is the mip level count; 0 means 1.
	Mips  uint32
	Usage TextureUsage

	// InitialLayout is the layout the texture is in after creation.
	InitialLayout ImageLayout
}

// LayerCount returns Layers with the zero value mapped to 1.
func (d TextureDesc) LayerCount() uint32 {
	return max(d.Layers, 1)
}

// MipCount returns Mips with the zero value mapped to 1.
func (d TextureDesc) MipCount() uint32 {
	return max(d.Mips, 1)
}

// PrimitiveTopology selects how vertices are assembled.
type PrimitiveTopology int

const (
	TopologyTriangleList PrimitiveTopology = iota
	TopologyLineList
	TopologyPointList
	TopologyTriangleStrip
)

func (t PrimitiveTopology) String() string {
	switch t {
	case TopologyTriangleList:
		return "TriangleList"
	case TopologyLineList:
		return "LineList"
	case TopologyPointList:
		return "PointList"
	case TopologyTriangleStrip:
		return "TriangleStrip"
	}
	return fmt.Sprintf("PrimitiveTopology(%d)", int(t))
}

// VertexLayout selects one of the vertex formats used by the graphics programs.
type VertexLayout int

const (
	// VertexLayoutNone draws without a vertex buffer (fullscreen triangles).
	VertexLayoutNone VertexLayout = iota

	// VertexLayoutPosition is a float32x3 position at stride 12.
	VertexLayoutPosition

	// VertexLayoutPositionColor is a float32x4 position and a packed unorm8x4 color at stride 20.
	VertexLayoutPositionColor
)

// Stride returns the vertex stride in bytes.
func (l VertexLayout) Stride() uint64 {
	switch l {
	case VertexLayoutPosition:
		return 12
	case VertexLayoutPositionColor:
		return 20
	}
	return 0
}

// BlendMode selects the color blend state of a graphics program.
type BlendMode int

const (
	BlendNone BlendMode = iota
	BlendAdditive
	BlendAlpha
)

// ShaderProgramDesc describes one variation of a library shader to compile.
type ShaderProgramDesc struct {
	// Shader is the library program name.
	Shader string

	// Mask selects the variation.
	Mask shader.FeatureMask

	Topology     PrimitiveTopology
	VertexLayout VertexLayout
	ColorTargets []TextureFormat
	DepthFormat  *TextureFormat
	DepthTest    bool
	DepthWrite   bool
	Blend        BlendMode
}

// ResourceTableDesc describes a resource table bound to one group of a program.
type ResourceTableDesc struct {
	Name    string
	Program ShaderProgramHandle
	Group   int
}

// PassDesc describes a render pass.
type PassDesc struct {
	Name         string
	ColorTargets []TextureHandle
	DepthTarget  TextureHandle

	// Layer is the array layer rendered to for array and cube targets.
	Layer uint32

	Clear      bool
	ClearColor [4]float32
	ClearDepth float32
}

// Viewport is a rendering viewport in pixels with a depth range.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// ViewportFromRect builds a full depth range viewport covering r.
func ViewportFromRect(r common.Rect) Viewport {
	return Viewport{
		X:        float32(r.Left),
		Y:        float32(r.Top),
		Width:    float32(r.Width()),
		Height:   float32(r.Height()),
		MaxDepth: 1,
	}
}
