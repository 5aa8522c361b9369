package framegraph

import (
	"errors"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *renderer.RecordingBackend {
	t.Helper()
	lib, err := shader.NewLibrary(shader.NewFeatures())
	require.NoError(t, err)
	b, err := renderer.NewRecordingBackend(lib)
	require.NoError(t, err)
	return b
}

func TestRunInRegistrationOrder(t *testing.T) {
	b := newBackend(t)
	g := NewFrameGraph()

	var order []string
	for _, name := range []string{"C", "A", "B"} {
		require.NoError(t, g.AddCallback(name, func(ctx *FrameContext) error {
			order = append(order, name)
			return nil
		}))
	}
	assert.Equal(t, []string{"C", "A", "B"}, g.Names())

	require.NoError(t, b.BeginFrame(1, 1))
	require.NoError(t, g.Run(&FrameContext{FrameIndex: 1, BufferIndex: 1, Backend: b}))
	require.NoError(t, b.EndFrame())
	assert.Equal(t, []string{"C", "A", "B"}, order)

	var markers []string
	for _, c := range b.FrameCommands(1) {
		if c.Op == renderer.OpBeginMarker {
			markers = append(markers, c.Name)
		}
	}
	assert.Equal(t, []string{"C", "A", "B"}, markers)
	assert.Len(t, g.Timings(), 3)
}

func TestAddCallbackRejectsDuplicates(t *testing.T) {
	g := NewFrameGraph()
	noop := func(*FrameContext) error { return nil }
	require.NoError(t, g.AddCallback("HBAO-Run", noop))
	err := g.AddCallback("HBAO-Run", noop)
	assert.ErrorIs(t, err, ErrDuplicateCallback)
}

func TestRunContinuesAfterFailure(t *testing.T) {
	b := newBackend(t)
	g := NewFrameGraph(WithMarkers(false))

	ran := 0
	boom := errors.New("boom")
	require.NoError(t, g.AddCallback("first", func(*FrameContext) error { ran++; return boom }))
	require.NoError(t, g.AddCallback("second", func(*FrameContext) error { ran++; return nil }))

	require.NoError(t, b.BeginFrame(1, 0))
	err := g.Run(&FrameContext{Backend: b})
	require.NoError(t, b.EndFrame())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "first")
	assert.Equal(t, 2, ran)
}

func TestValidateReportsReadBeforeWrite(t *testing.T) {
	g := NewFrameGraph()
	noop := func(*FrameContext) error { return nil }
	require.NoError(t, g.AddCallback("SSR-Resolve", noop, Reads(LightBuffer), Writes(SSRBuffer)))
	require.NoError(t, g.AddCallback("Lights", noop, Reads(ZBuffer), Writes(LightBuffer)))
	require.NoError(t, g.AddCallback("Present", noop, Reads(LightBuffer)))

	errs := g.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), `"SSR-Resolve" reads "LightBuffer" before "Lights"`)

	// validation never reorders
	assert.Equal(t, []string{"SSR-Resolve", "Lights", "Present"}, g.Names())
}

func TestValidateIgnoresExternalInputs(t *testing.T) {
	g := NewFrameGraph()
	noop := func(*FrameContext) error { return nil }
	require.NoError(t, g.AddCallback("HBAO-Run", noop, Reads(ZBuffer), Writes(SSAOBuffer)))
	assert.Empty(t, g.Validate())
}

func TestResourcesLookup(t *testing.T) {
	r := NewResources(nil)
	_, err := r.Texture("LightBuffer")
	assert.ErrorIs(t, err, ErrResourceNotFound)
	assert.Panics(t, func() { r.MustTexture("LightBuffer") })
	assert.Panics(t, func() { r.MustBuffer("Staging") })
	assert.Panics(t, func() { r.MustBufferRing(FrameConstantsRing) })

	b := newBackend(t)
	tex, err := b.CreateTexture(renderer.TextureDesc{Name: "LightBuffer", Width: 4, Height: 4})
	require.NoError(t, err)
	r.RegisterTexture("LightBuffer", tex)
	assert.Equal(t, tex, r.MustTexture("LightBuffer"))

	buf, err := b.CreateBuffer(renderer.BufferDesc{Name: "frame", Size: 16, Usage: renderer.BufferUsageConstant})
	require.NoError(t, err)
	ring := []renderer.BufferHandle{buf, buf}
	r.RegisterBufferRing(FrameConstantsRing, ring)
	ring[0] = renderer.BufferHandle{}
	got := r.MustBufferRing(FrameConstantsRing)
	assert.Equal(t, buf, got[0], "registered ring must not alias the caller's slice")
}

func TestDefaultScriptInstantiate(t *testing.T) {
	s, err := DefaultScript()
	require.NoError(t, err)
	b := newBackend(t)
	r := NewResources(nil)

	require.NoError(t, s.Instantiate(b, r, 1280, 720))
	for _, name := range []string{ZBuffer, NormalBuffer, AlbedoBuffer, LightBuffer, SSAOBuffer, SSRTraceBuffer, SSRBuffer, VolumetricFogBuffer0, VolumetricFogBuffer1, AverageLumBuffer} {
		_, err := r.Texture(name)
		assert.NoError(t, err, name)
	}

	fog := r.MustTexture(VolumetricFogBuffer0)
	dims, err := b.TextureDimensions(fog)
	require.NoError(t, err)
	assert.Equal(t, uint32(320), dims.Width)
	assert.Equal(t, uint32(180), dims.Height)

	layout, err := b.TextureLayout(r.MustTexture(LightBuffer), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, renderer.LayoutShaderRead, layout)

	lum := r.MustTexture(AverageLumBuffer)
	require.NoError(t, s.Resize(b, r, 640, 360))
	assert.Equal(t, lum, r.MustTexture(AverageLumBuffer), "absolute textures survive a resize")
	dims, err = b.TextureDimensions(r.MustTexture(ZBuffer))
	require.NoError(t, err)
	assert.Equal(t, uint32(640), dims.Width)
	_, err = b.TextureDimensions(fog)
	assert.Error(t, err, "relative textures are recreated")

	s.Discard(b, r)
	assert.Empty(t, r.TextureNames())
}

func TestLoadScriptRejectsBadDeclarations(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown format", "textures:\n  - {name: A, format: RGB9, scale: 1}\n"},
		{"unknown usage", "textures:\n  - {name: A, format: RGBA8, scale: 1, usage: [scribble]}\n"},
		{"no size", "textures:\n  - {name: A, format: RGBA8}\n"},
		{"duplicate texture", "textures:\n  - {name: A, format: RGBA8, scale: 1}\n  - {name: A, format: RGBA8, scale: 1}\n"},
		{"duplicate pass", "passes: [A, A]\n"},
		{"unknown layout", "textures:\n  - {name: A, format: RGBA8, scale: 1, layout: Sideways}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScript(strings.NewReader(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestCheckOrder(t *testing.T) {
	s, err := LoadScript(strings.NewReader("name: test\npasses: [GBuffer, Lights, SSR-Trace, Present]\n"))
	require.NoError(t, err)
	noop := func(*FrameContext) error { return nil }

	good := NewFrameGraph()
	for _, n := range []string{"GBuffer", "Custom", "Lights", "Present"} {
		require.NoError(t, good.AddCallback(n, noop))
	}
	assert.NoError(t, s.CheckOrder(good))

	bad := NewFrameGraph()
	for _, n := range []string{"Lights", "GBuffer"} {
		require.NoError(t, bad.AddCallback(n, noop))
	}
	err = s.CheckOrder(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"GBuffer" is registered after "Lights"`)
}

func TestCameraConstants(t *testing.T) {
	c := CameraData{}
	fc := c.Constants(800, 400, 2.5, 0.25)
	assert.InDelta(t, 800, fc.ScreenSize[0], 0)
	assert.InDelta(t, 1.0/400, fc.ScreenSize[3], 1e-9)
	assert.InDelta(t, 2.5, fc.Time[0], 1e-6)
	assert.InDelta(t, 0.25, fc.Time[1], 1e-6)
	assert.Equal(t, float32(1), fc.CameraPosition[3])
}
