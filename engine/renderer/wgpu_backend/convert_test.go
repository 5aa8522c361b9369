package wgpu_backend

import (
	"testing"

	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceFormatPromotesNonStorageFormats(t *testing.T) {
	tests := []struct {
		in   renderer.TextureFormat
		want wgpu.TextureFormat
	}{
		{renderer.FormatRGBA8, wgpu.TextureFormatRGBA8Unorm},
		{renderer.FormatRG32F, wgpu.TextureFormatRG32Float},
		{renderer.FormatD32F, wgpu.TextureFormatDepth32Float},
		{renderer.FormatR16G16F, wgpu.TextureFormatRGBA16Float},
		{renderer.FormatR11G11B10F, wgpu.TextureFormatRGBA16Float},
		{renderer.FormatR8, wgpu.TextureFormatRGBA16Float},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, deviceFormat(tt.in))
		})
	}
}

func TestUsageMapping(t *testing.T) {
	u := textureUsage(renderer.TextureUsageReadWrite)
	assert.NotZero(t, u&wgpu.TextureUsageStorageBinding)
	assert.NotZero(t, u&wgpu.TextureUsageTextureBinding)
	assert.Zero(t, u&wgpu.TextureUsageRenderAttachment)

	bu := bufferUsage(renderer.BufferUsageConstant)
	assert.NotZero(t, bu&wgpu.BufferUsageUniform)
	assert.NotZero(t, bu&wgpu.BufferUsageCopyDst)
	assert.Zero(t, bu&wgpu.BufferUsageStorage)
}

func TestGroupLayoutsFromReflection(t *testing.T) {
	lib, err := shader.NewLibrary(shader.NewFeatures())
	require.NoError(t, err)
	f := lib.Features()

	refl, err := lib.Reflect(shader.ProgramBlurRG32FArray, f.MustMask("Alt0"))
	require.NoError(t, err)
	descs, err := groupLayouts("blur", refl, wgpu.ShaderStageCompute)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	require.Len(t, descs[0].Entries, 3)

	assert.Equal(t, wgpu.BufferBindingTypeUniform, descs[0].Entries[0].Buffer.Type)
	assert.Equal(t, wgpu.TextureSampleTypeUnfilterableFloat, descs[0].Entries[1].Texture.SampleType)
	assert.Equal(t, wgpu.TextureViewDimension2DArray, descs[0].Entries[1].Texture.ViewDimension)
	assert.Equal(t, wgpu.TextureFormatRG32Float, descs[0].Entries[2].StorageTexture.Format)
	assert.Equal(t, wgpu.TextureViewDimension2DArray, descs[0].Entries[2].StorageTexture.ViewDimension)
}

func TestLayoutEntryRejectsUnknownTexelFormat(t *testing.T) {
	_, err := layoutEntry(shader.Binding{
		Name:          "out",
		Kind:          shader.BindingStorageTexture,
		ViewDimension: "2d",
		TexelFormat:   "bgra8unorm",
	}, wgpu.ShaderStageCompute)
	assert.Error(t, err)
}

func TestVertexLayouts(t *testing.T) {
	assert.Nil(t, vertexLayouts(renderer.VertexLayoutNone))
	l := vertexLayouts(renderer.VertexLayoutPositionColor)
	require.Len(t, l, 1)
	assert.Equal(t, uint64(20), l[0].ArrayStride)
	assert.Len(t, l[0].Attributes, 2)
}
