package renderer

import (
	"errors"
	"fmt"
	"strings"
)

// PipelineStage is a bitmask of GPU pipeline stages used to scope barriers.
type PipelineStage uint32

const (
	StageTop PipelineStage = 1 << iota
	StageTransfer
	StageVertexInput
	StageVertexShader
	StagePixelShader
	StageComputeShader
	StageColorWrite
	StageDepthStencil
)

var stageNames = []string{"Top", "Transfer", "VertexInput", "VertexShader", "PixelShader", "ComputeShader", "ColorWrite", "DepthStencil"}

func (s PipelineStage) String() string {
	return maskString(uint32(s), stageNames)
}

// AccessFlags is a bitmask of memory accesses guarded by a barrier.
type AccessFlags uint32

const (
	AccessShaderRead AccessFlags = 1 << iota
	AccessShaderWrite
	AccessTransferRead
	AccessTransferWrite
	AccessVertexRead
	AccessColorWrite
	AccessDepthWrite
	AccessHostWrite
)

var accessNames = []string{"ShaderRead", "ShaderWrite", "TransferRead", "TransferWrite", "VertexRead", "ColorWrite", "DepthWrite", "HostWrite"}

func (a AccessFlags) String() string {
	return maskString(uint32(a), accessNames)
}

// ImageLayout is the layout a texture subresource is in between barriers.
type ImageLayout int

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutShaderRead
	LayoutTransferSrc
	LayoutTransferDst
	LayoutColorRender
	LayoutDepthStencilRender
	LayoutPresent
)

var layoutNames = []string{"Undefined", "General", "ShaderRead", "TransferSrc", "TransferDst", "ColorRender", "DepthStencilRender", "Present"}

func (l ImageLayout) String() string {
	if int(l) < len(layoutNames) && l >= 0 {
		return layoutNames[l]
	}
	return fmt.Sprintf("ImageLayout(%d)", int(l))
}

// Subresource selects a mip and layer range of a texture. NumMips and NumLayers of 0 mean "to the end".
type Subresource struct {
	Mip       uint32
	NumMips   uint32
	Layer     uint32
	NumLayers uint32
}

// AllSubresources covers every mip and layer of a texture.
var AllSubresources = Subresource{}

// Layers returns the subresource covering count layers starting at first.
func Layers(first, count uint32) Subresource {
	return Subresource{Layer: first, NumLayers: count}
}

// TextureBarrier transitions a texture subresource between layouts and accesses.
type TextureBarrier struct {
	Texture     TextureHandle
	Subresource Subresource
	FromLayout  ImageLayout
	ToLayout    ImageLayout
	FromAccess  AccessFlags
	ToAccess    AccessFlags
}

// LayoutAccess returns the memory accesses a texture in layout l is used with.
func LayoutAccess(l ImageLayout) AccessFlags {
	switch l {
	case LayoutGeneral:
		return AccessShaderRead | AccessShaderWrite
	case LayoutShaderRead:
		return AccessShaderRead
	case LayoutTransferSrc:
		return AccessTransferRead
	case LayoutTransferDst:
		return AccessTransferWrite
	case LayoutColorRender:
		return AccessColorWrite
	case LayoutDepthStencilRender:
		return AccessDepthWrite
	}
	return 0
}

// Transition moves sub of tex between two layouts, with the accesses implied by the layouts.
func Transition(tex TextureHandle, sub Subresource, from, to ImageLayout) TextureBarrier {
	return TextureBarrier{
		Texture:     tex,
		Subresource: sub,
		FromLayout:  from,
		ToLayout:    to,
		FromAccess:  LayoutAccess(from),
		ToAccess:    LayoutAccess(to),
	}
}

// BufferBarrier makes writes to a buffer range visible to later accesses. Size 0 means the whole buffer.
type BufferBarrier struct {
	Buffer     BufferHandle
	Offset     uint64
	Size       uint64
	FromAccess AccessFlags
	ToAccess   AccessFlags
}

// Barrier is a set of texture and buffer transitions between two pipeline stages.
type Barrier struct {
	Name      string
	FromStage PipelineStage
	ToStage   PipelineStage
	Textures  []TextureBarrier
	Buffers   []BufferBarrier
}

// ErrInvalidBarrier is returned by Barrier.Validate.
var ErrInvalidBarrier = errors.New("invalid barrier")

// Validate checks the barrier for missing stages, invalid handles and transitions to Undefined.
//
// Returns:
//   - error: an ErrInvalidBarrier wrapped error describing the first problem found
func (b Barrier) Validate() error {
	if b.FromStage == 0 || b.ToStage == 0 {
		return fmt.Errorf("%w %q: missing pipeline stage", ErrInvalidBarrier, b.Name)
	}
	if len(b.Textures) == 0 && len(b.Buffers) == 0 {
		return fmt.Errorf("%w %q: no resources", ErrInvalidBarrier, b.Name)
	}
	for i, t := range b.Textures {
		if !t.Texture.Valid() {
			return fmt.Errorf("%w %q: texture %d has an invalid handle", ErrInvalidBarrier, b.Name, i)
		}
		if t.ToLayout == LayoutUndefined {
			return fmt.Errorf("%w %q: texture %d transitions to Undefined", ErrInvalidBarrier, b.Name, i)
		}
	}
	for i, buf := range b.Buffers {
		if !buf.Buffer.Valid() {
			return fmt.Errorf("%w %q: buffer %d has an invalid handle", ErrInvalidBarrier, b.Name, i)
		}
	}
	return nil
}

// Reverse returns the barrier that undoes b: stages, layouts and accesses are swapped.
func (b Barrier) Reverse() Barrier {
	r := Barrier{
		Name:      b.Name + " (reverse)",
		FromStage: b.ToStage,
		ToStage:   b.FromStage,
	}
	for _, t := range b.Textures {
		r.Textures = append(r.Textures, TextureBarrier{
			Texture:     t.Texture,
			Subresource: t.Subresource,
			FromLayout:  t.ToLayout,
			ToLayout:    t.FromLayout,
			FromAccess:  t.ToAccess,
			ToAccess:    t.FromAccess,
		})
	}
	for _, buf := range b.Buffers {
		r.Buffers = append(r.Buffers, BufferBarrier{
			Buffer:     buf.Buffer,
			Offset:     buf.Offset,
			Size:       buf.Size,
			FromAccess: buf.ToAccess,
			ToAccess:   buf.FromAccess,
		})
	}
	return r
}

func (b Barrier) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s -> %s", b.Name, b.FromStage, b.ToStage)
	for _, t := range b.Textures {
		fmt.Fprintf(&sb, "; %s %s -> %s", t.Texture, t.FromLayout, t.ToLayout)
	}
	for _, buf := range b.Buffers {
		fmt.Fprintf(&sb, "; %s %s -> %s", buf.Buffer, buf.FromAccess, buf.ToAccess)
	}
	return sb.String()
}

func maskString(mask uint32, names []string) string {
	if mask == 0 {
		return "None"
	}
	var parts []string
	for i, name := range names {
		if mask&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}
