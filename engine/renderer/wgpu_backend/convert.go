package wgpu_backend

import (
	"fmt"

	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// deviceFormat maps a renderer format to the format the texture is created with. Formats that
// cannot be bound as storage textures in core WebGPU are stored as RGBA16Float, which is also the
// texel format the compute programs declare for them.
func deviceFormat(f renderer.TextureFormat) wgpu.TextureFormat {
	switch f {
	case renderer.FormatRGBA8:
		return wgpu.TextureFormatRGBA8Unorm
	case renderer.FormatR32F:
		return wgpu.TextureFormatR32Float
	case renderer.FormatRG32F:
		return wgpu.TextureFormatRG32Float
	case renderer.FormatD32F:
		return wgpu.TextureFormatDepth32Float
	case renderer.FormatRGBA16F, renderer.FormatR11G11B10F, renderer.FormatR16G16F, renderer.FormatR16F, renderer.FormatR8:
		return wgpu.TextureFormatRGBA16Float
	}
	return wgpu.TextureFormatRGBA16Float
}

func textureUsage(u renderer.TextureUsage) wgpu.TextureUsage {
	out := wgpu.TextureUsageCopyDst | wgpu.TextureUsageCopySrc
	if u&renderer.TextureUsageSample != 0 {
		out |= wgpu.TextureUsageTextureBinding
	}
	if u&renderer.TextureUsageReadWrite != 0 {
		out |= wgpu.TextureUsageStorageBinding | wgpu.TextureUsageTextureBinding
	}
	if u&(renderer.TextureUsageRenderTarget|renderer.TextureUsageDepthTarget) != 0 {
		out |= wgpu.TextureUsageRenderAttachment
	}
	return out
}

func bufferUsage(u renderer.BufferUsage) wgpu.BufferUsage {
	out := wgpu.BufferUsageCopyDst
	if u&renderer.BufferUsageVertex != 0 {
		out |= wgpu.BufferUsageVertex
	}
	if u&renderer.BufferUsageIndex != 0 {
		out |= wgpu.BufferUsageIndex
	}
	if u&renderer.BufferUsageConstant != 0 {
		out |= wgpu.BufferUsageUniform
	}
	if u&(renderer.BufferUsageStorage|renderer.BufferUsageReadWrite) != 0 {
		out |= wgpu.BufferUsageStorage
	}
	if u&renderer.BufferUsageCopySrc != 0 {
		out |= wgpu.BufferUsageCopySrc
	}
	if u&renderer.BufferUsageIndirect != 0 {
		out |= wgpu.BufferUsageIndirect
	}
	return out
}

func topology(t renderer.PrimitiveTopology) wgpu.PrimitiveTopology {
	switch t {
	case renderer.TopologyLineList:
		return wgpu.PrimitiveTopologyLineList
	case renderer.TopologyPointList:
		return wgpu.PrimitiveTopologyPointList
	case renderer.TopologyTriangleStrip:
		return wgpu.PrimitiveTopologyTriangleStrip
	}
	return wgpu.PrimitiveTopologyTriangleList
}

var viewDimensions = map[string]wgpu.TextureViewDimension{
	"1d":         wgpu.TextureViewDimension1D,
	"2d":         wgpu.TextureViewDimension2D,
	"2d_array":   wgpu.TextureViewDimension2DArray,
	"3d":         wgpu.TextureViewDimension3D,
	"cube":       wgpu.TextureViewDimensionCube,
	"cube_array": wgpu.TextureViewDimensionCubeArray,
}

var storageAccess = map[string]wgpu.StorageTextureAccess{
	"write":      wgpu.StorageTextureAccessWriteOnly,
	"read":       wgpu.StorageTextureAccessReadOnly,
	"read_write": wgpu.StorageTextureAccessReadWrite,
}

var texelFormats = map[string]wgpu.TextureFormat{
	"rgba8unorm":  wgpu.TextureFormatRGBA8Unorm,
	"rgba16float": wgpu.TextureFormatRGBA16Float,
	"r32float":    wgpu.TextureFormatR32Float,
	"rg32float":   wgpu.TextureFormatRG32Float,
	"rgba32float": wgpu.TextureFormatRGBA32Float,
	"r32uint":     wgpu.TextureFormatR32Uint,
}

// layoutEntry builds the bind group layout entry for a reflected binding.
// Sampled textures are laid out unfilterable and samplers non-filtering, since the
// 32-bit float shadow and depth targets are not filterable in core WebGPU.
func layoutEntry(b shader.Binding, visibility wgpu.ShaderStage) (wgpu.BindGroupLayoutEntry, error) {
	entry := wgpu.BindGroupLayoutEntry{
		Binding:    uint32(b.Binding),
		Visibility: visibility,
	}
	switch b.Kind {
	case shader.BindingUniform:
		entry.Buffer.Type = wgpu.BufferBindingTypeUniform
	case shader.BindingStorage:
		entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
	case shader.BindingRWStorage:
		entry.Buffer.Type = wgpu.BufferBindingTypeStorage
	case shader.BindingSampler:
		entry.Sampler.Type = wgpu.SamplerBindingTypeNonFiltering
	case shader.BindingComparisonSampler:
		entry.Sampler.Type = wgpu.SamplerBindingTypeComparison
	case shader.BindingTexture:
		dim, ok := viewDimensions[b.ViewDimension]
		if !ok {
			return entry, fmt.Errorf("binding %s: unsupported texture dimension %q", b.Name, b.ViewDimension)
		}
		entry.Texture.ViewDimension = dim
		switch b.SampleType {
		case "i32":
			entry.Texture.SampleType = wgpu.TextureSampleTypeSint
		case "u32":
			entry.Texture.SampleType = wgpu.TextureSampleTypeUint
		default:
			entry.Texture.SampleType = wgpu.TextureSampleTypeUnfilterableFloat
		}
	case shader.BindingDepthTexture:
		dim, ok := viewDimensions[b.ViewDimension]
		if !ok {
			return entry, fmt.Errorf("binding %s: unsupported depth texture dimension %q", b.Name, b.ViewDimension)
		}
		entry.Texture.ViewDimension = dim
		entry.Texture.SampleType = wgpu.TextureSampleTypeDepth
	case shader.BindingStorageTexture:
		dim, ok := viewDimensions[b.ViewDimension]
		if !ok {
			return entry, fmt.Errorf("binding %s: unsupported storage dimension %q", b.Name, b.ViewDimension)
		}
		format, ok := texelFormats[b.TexelFormat]
		if !ok {
			return entry, fmt.Errorf("binding %s: unsupported texel format %q", b.Name, b.TexelFormat)
		}
		access, ok := storageAccess[b.Access]
		if !ok {
			access = wgpu.StorageTextureAccessWriteOnly
		}
		entry.StorageTexture = wgpu.StorageTextureBindingLayout{
			Access:        access,
			Format:        format,
			ViewDimension: dim,
		}
	}
	return entry, nil
}

// groupLayouts builds one layout descriptor per group index up to the highest group in use.
func groupLayouts(label string, r shader.Reflection, visibility wgpu.ShaderStage) ([]wgpu.BindGroupLayoutDescriptor, error) {
	out := make([]wgpu.BindGroupLayoutDescriptor, r.MaxGroup()+1)
	for g := range out {
		out[g].Label = fmt.Sprintf("%s group %d", label, g)
		for _, b := range r.Group(g) {
			e, err := layoutEntry(b, visibility)
			if err != nil {
				return nil, err
			}
			out[g].Entries = append(out[g].Entries, e)
		}
	}
	return out, nil
}

func vertexLayouts(l renderer.VertexLayout) []wgpu.VertexBufferLayout {
	switch l {
	case renderer.VertexLayoutPosition:
		return []wgpu.VertexBufferLayout{{
			ArrayStride: l.Stride(),
			StepMode:    wgpu.VertexStepModeVertex,
			Attributes: []wgpu.VertexAttribute{
				{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
			},
		}}
	case renderer.VertexLayoutPositionColor:
		return []wgpu.VertexBufferLayout{{
			ArrayStride: l.Stride(),
			StepMode:    wgpu.VertexStepModeVertex,
			Attributes: []wgpu.VertexAttribute{
				{Format: wgpu.VertexFormatFloat32x4, Offset: 0, ShaderLocation: 0},
				{Format: wgpu.VertexFormatUnorm8x4, Offset: 16, ShaderLocation: 1},
			},
		}}
	}
	return nil
}

func blendState(m renderer.BlendMode) *wgpu.BlendState {
	switch m {
	case renderer.BlendAdditive:
		return &wgpu.BlendState{
			Color: wgpu.BlendComponent{SrcFactor: wgpu.BlendFactorOne, DstFactor: wgpu.BlendFactorOne, Operation: wgpu.BlendOperationAdd},
			Alpha: wgpu.BlendComponent{SrcFactor: wgpu.BlendFactorOne, DstFactor: wgpu.BlendFactorOne, Operation: wgpu.BlendOperationAdd},
		}
	case renderer.BlendAlpha:
		return &wgpu.BlendState{
			Color: wgpu.BlendComponent{SrcFactor: wgpu.BlendFactorSrcAlpha, DstFactor: wgpu.BlendFactorOneMinusSrcAlpha, Operation: wgpu.BlendOperationAdd},
			Alpha: wgpu.BlendComponent{SrcFactor: wgpu.BlendFactorOne, DstFactor: wgpu.BlendFactorOneMinusSrcAlpha, Operation: wgpu.BlendOperationAdd},
		}
	}
	return nil
}
