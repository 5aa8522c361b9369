package wgpu_backend

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// blitSource draws a fullscreen triangle sampling the source texture with nearest filtering.
const blitSource = `
@group(0) @binding(0) var source: texture_2d<f32>;
@group(0) @binding(1) var pointSampler: sampler;

struct VertexOut {
    @builtin(position) position: vec4f,
    @location(0) uv: vec2f,
};

@vertex
fn vs_main(@builtin(vertex_index) index: u32) -> VertexOut {
    let uv = vec2f(f32((index << 1u) & 2u), f32(index & 2u));
    var out: VertexOut;
    out.position = vec4f(uv * vec2f(2.0, -2.0) + vec2f(-1.0, 1.0), 0.0, 1.0);
    out.uv = uv;
    return out;
}

@fragment
fn fs_main(in: VertexOut) -> @location(0) vec4f {
    return textureSampleLevel(source, pointSampler, in.uv, 0.0);
}
`

// blitter owns the fullscreen copy pipeline, one variant per destination format.
type blitter struct {
	device     *wgpu.Device
	module     *wgpu.ShaderModule
	layout     *wgpu.BindGroupLayout
	pipeLayout *wgpu.PipelineLayout
	sampler    *wgpu.Sampler
	pipelines  map[wgpu.TextureFormat]*wgpu.RenderPipeline
}

func newBlitter(device *wgpu.Device) (*blitter, error) {
	module, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Blit Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: blitSource},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blit shader: %w", err)
	}
	layout, err := device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Blit Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeNonFiltering},
			},
		},
	})
	if err != nil {
		module.Release()
		return nil, fmt.Errorf("failed to create blit layout: %w", err)
	}
	pipeLayout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "Blit Pipeline Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{layout},
	})
	if err != nil {
		layout.Release()
		module.Release()
		return nil, fmt.Errorf("failed to create blit pipeline layout: %w", err)
	}
	sampler, err := device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Blit Sampler",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     wgpu.FilterModeNearest,
		MinFilter:     wgpu.FilterModeNearest,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		pipeLayout.Release()
		layout.Release()
		module.Release()
		return nil, fmt.Errorf("failed to create blit sampler: %w", err)
	}
	return &blitter{
		device:     device,
		module:     module,
		layout:     layout,
		pipeLayout: pipeLayout,
		sampler:    sampler,
		pipelines:  make(map[wgpu.TextureFormat]*wgpu.RenderPipeline),
	}, nil
}

func (bl *blitter) pipeline(format wgpu.TextureFormat) (*wgpu.RenderPipeline, error) {
	if p, ok := bl.pipelines[format]; ok {
		return p, nil
	}
	p, err := bl.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  fmt.Sprintf("Blit Pipeline %v", format),
		Layout: bl.pipeLayout,
		Vertex: wgpu.VertexState{
			Module:     bl.module,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     bl.module,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    format,
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blit pipeline: %w", err)
	}
	bl.pipelines[format] = p
	return p, nil
}

// encode records a fullscreen copy of src into dst.
func (bl *blitter) encode(encoder *wgpu.CommandEncoder, src *wgpu.TextureView, dst *wgpu.TextureView, format wgpu.TextureFormat) error {
	p, err := bl.pipeline(format)
	if err != nil {
		return err
	}
	group, err := bl.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Blit Bind Group",
		Layout: bl.layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: src},
			{Binding: 1, Sampler: bl.sampler},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create blit bind group: %w", err)
	}
	defer group.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "Blit",
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:    dst,
			LoadOp:  wgpu.LoadOpClear,
			StoreOp: wgpu.StoreOpStore,
		}},
	})
	pass.SetPipeline(p)
	pass.SetBindGroup(0, group, nil)
	pass.Draw(3, 1, 0, 0)
	pass.End()
	return nil
}

func (bl *blitter) release() {
	for _, p := range bl.pipelines {
		p.Release()
	}
	bl.sampler.Release()
	bl.pipeLayout.Release()
	bl.layout.Release()
	bl.module.Release()
}
