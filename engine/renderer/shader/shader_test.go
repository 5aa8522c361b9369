package shader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureMasks(t *testing.T) {
	f := NewFeatures()

	spot, err := f.Mask("Spot")
	require.NoError(t, err)
	spotAlt, err := f.Mask("Spot|Alt0")
	require.NoError(t, err)
	assert.NotEqual(t, spot, spotAlt)
	assert.Equal(t, spot, spotAlt&spot)
	assert.True(t, f.Has(spotAlt, FeatureAlt0))
	assert.False(t, f.Has(spot, FeatureAlt0))
	assert.Equal(t, "Spot|Alt0", f.String(spotAlt))

	again, err := f.Mask("Alt0|Spot")
	require.NoError(t, err)
	assert.Equal(t, spotAlt, again, "order does not matter")

	custom := f.MustMask("Tessellated")
	assert.Equal(t, custom, f.MustMask("Tessellated"), "new names keep their bit")
	assert.Equal(t, FeatureMask(0), f.MustMask(""))

	assert.Equal(t, spotAlt, BuiltinMask("Spot|Alt0"))
	assert.Panics(t, func() { BuiltinMask("Tessellated") })
}

func TestFeatureRegistryOverflow(t *testing.T) {
	f := NewFeatures()
	var err error
	for i := 0; i < 64 && err == nil; i++ {
		_, err = f.Mask(strings.Repeat("x", i+1))
	}
	assert.ErrorIs(t, err, ErrTooManyFeatures)
}

func TestPreProcessorConditionals(t *testing.T) {
	f := NewFeatures()
	pp := NewPreProcessor(map[string]string{"common": "const A = 1;"}, f)
	src := strings.Join([]string{
		"//@nebula:include common",
		"//@nebula:if Alt0",
		"let shadowed = true;",
		"//@nebula:if Point",
		"let cube = true;",
		"//@nebula:end",
		"//@nebula:else",
		"let shadowed = false;",
		"//@nebula:end",
		"fn main() {}",
	}, "\n")

	out, err := pp.Process(src, f.MustMask("Alt0"))
	require.NoError(t, err)
	assert.Contains(t, out, "const A = 1;")
	assert.Contains(t, out, "let shadowed = true;")
	assert.NotContains(t, out, "let cube")
	assert.NotContains(t, out, "shadowed = false")
	assert.NotContains(t, out, "@nebula")

	out, err = pp.Process(src, f.MustMask("Alt0|Point"))
	require.NoError(t, err)
	assert.Contains(t, out, "let cube = true;")

	out, err = pp.Process(src, 0)
	require.NoError(t, err)
	assert.Contains(t, out, "let shadowed = false;")
	assert.NotContains(t, out, "let shadowed = true;")
}

func TestPreProcessorErrors(t *testing.T) {
	f := NewFeatures()
	pp := NewPreProcessor(map[string]string{"loop": "//@nebula:include loop"}, f)

	tests := []struct {
		name string
		src  string
	}{
		{"unknown include", "//@nebula:include missing"},
		{"unterminated if", "//@nebula:if Alt0\nx"},
		{"stray end", "//@nebula:end"},
		{"stray else", "//@nebula:else"},
		{"duplicate else", "//@nebula:if Alt0\n//@nebula:else\n//@nebula:else\n//@nebula:end"},
		{"unknown annotation", "//@nebula:define X"},
		{"include cycle", "//@nebula:include loop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pp.Process(tt.src, 0)
			assert.Error(t, err)
		})
	}
}

func TestReflect(t *testing.T) {
	src := `
// @group(9) @binding(9) var<uniform> commented: Foo;
@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(2) var outputTex: texture_storage_2d<rgba16float, write>;
@group(0) @binding(1) var inputTex: texture_2d_array<f32>;
@group(1) @binding(0) var<storage, read_write> lists: array<u32>;
@group(1) @binding(1) var shadowSampler: sampler_comparison;
@compute @workgroup_size(64, 4)
fn main() {}
`
	r := Reflect(src)
	require.Len(t, r.Bindings, 5)
	assert.True(t, r.IsCompute())
	assert.Equal(t, "main", r.ComputeEntry)
	assert.Equal(t, [3]uint32{64, 4, 1}, r.WorkgroupSize)
	assert.Equal(t, 1, r.MaxGroup())

	g0 := r.Group(0)
	require.Len(t, g0, 3)
	assert.Equal(t, BindingUniform, g0[0].Kind)
	assert.Equal(t, BindingTexture, g0[1].Kind)
	assert.Equal(t, "2d_array", g0[1].ViewDimension)
	assert.Equal(t, "f32", g0[1].SampleType)
	assert.Equal(t, BindingStorageTexture, g0[2].Kind)
	assert.Equal(t, "rgba16float", g0[2].TexelFormat)
	assert.Equal(t, "write", g0[2].Access)

	g1 := r.Group(1)
	assert.Equal(t, BindingRWStorage, g1[0].Kind)
	assert.Equal(t, BindingComparisonSampler, g1[1].Kind)
}

func TestLibraryBuildsEveryVariation(t *testing.T) {
	f := NewFeatures()
	lib, err := NewLibrary(f)
	require.NoError(t, err)

	for _, p := range lib.Programs() {
		for _, v := range p.Variations {
			mask, err := f.Mask(v)
			require.NoError(t, err)
			src, err := lib.Source(p.Name, mask)
			require.NoError(t, err, "%s[%s]", p.Name, v)
			assert.NotContains(t, src, "@nebula:", "%s[%s]", p.Name, v)

			r := Reflect(src)
			if p.Kind == ProgramKindCompute {
				assert.True(t, r.IsCompute(), "%s[%s]", p.Name, v)
			} else {
				assert.NotEmpty(t, r.VertexEntry, "%s[%s]", p.Name, v)
				assert.NotEmpty(t, r.FragmentEntry, "%s[%s]", p.Name, v)
			}
		}
	}

	_, err = lib.Source("nope", 0)
	assert.ErrorIs(t, err, ErrUnknownShader)
}

func TestLibraryLightVariations(t *testing.T) {
	f := NewFeatures()
	lib, err := NewLibrary(f)
	require.NoError(t, err)

	plain, err := lib.Reflect(ProgramLights, f.MustMask("Spot"))
	require.NoError(t, err)
	shadowed, err := lib.Reflect(ProgramLights, f.MustMask("Spot|Alt0"))
	require.NoError(t, err)
	assert.Len(t, shadowed.Bindings, len(plain.Bindings)+2)
}
