package framegraph

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"gopkg.in/yaml.v3"
)

// Names of the shared textures declared by the default frame script.
const (
	ZBuffer              = "ZBuffer"
	NormalBuffer         = "NormalBuffer"
	AlbedoBuffer         = "AlbedoBuffer"
	LightBuffer          = "LightBuffer"
	SSAOBuffer           = "SSAOBuffer"
	SSRTraceBuffer       = "SSRTraceBuffer"
	SSRBuffer            = "SSRBuffer"
	VolumetricFogBuffer0 = "VolumetricFogBuffer0"
	VolumetricFogBuffer1 = "VolumetricFogBuffer1"
	AverageLumBuffer     = "AverageLumBuffer"

	// FrameConstantsRing is the buffer ring holding the FrameConstants of every buffered frame.
	FrameConstantsRing = "FrameConstants"
)

// Names of the shadow map textures the shadow server publishes for light shading.
const (
	SpotShadowAtlas = "SpotShadowAtlas"
	PointShadowMaps = "PointShadowMaps"
	GlobalShadowMap = "GlobalShadowMap"
)

//go:embed default_script.yaml
var defaultScript []byte

// TextureDecl declares a named texture of a frame script.
type TextureDecl struct {
	Name   string `yaml:"name"`
	Format string `yaml:"format"`

	// Type is "2d", "2d_array" or "cube"; empty means "2d".
	Type string `yaml:"type"`

	// Scale sizes the texture relative to the screen. When zero, Width and Height are absolute.
	Scale  float32 `yaml:"scale"`
	Width  uint32  `yaml:"width"`
	Height uint32  `yaml:"height"`
	Layers uint32  `yaml:"layers"`

	Usage []string `yaml:"usage"`

	// Layout is the layout every pass leaves the texture in.
	Layout string `yaml:"layout"`
}

// Relative reports whether the texture follows the screen size.
func (d TextureDecl) Relative() bool {
	return d.Scale > 0
}

// Size returns the texture size for a screen of width x height pixels. Relative sizes are
// floored and never smaller than one pixel.
func (d TextureDecl) Size(width, height uint32) (uint32, uint32) {
	if !d.Relative() {
		return d.Width, d.Height
	}
	w := uint32(float32(width) * d.Scale)
	h := uint32(float32(height) * d.Scale)
	return max(w, 1), max(h, 1)
}

// Script is a frame script: the shared textures of a frame graph and the order its passes
// are expected to run in.
type Script struct {
	mu sync.Mutex

	Name     string        `yaml:"name"`
	Textures []TextureDecl `yaml:"textures"`
	Passes   []string      `yaml:"passes"`

	created map[string]renderer.TextureHandle
}

// LoadScript decodes a YAML frame script and validates its declarations.
//
// Parameters:
//   - r: the YAML source
//
// Returns:
//   - *Script: the decoded script
//   - error: error if the YAML is invalid or a declaration is inconsistent
func LoadScript(r io.Reader) (*Script, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode frame script: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("frame script %q: %w", s.Name, err)
	}
	return &s, nil
}

// DefaultScript returns the built-in frame script used by the render system.
func DefaultScript() (*Script, error) {
	return LoadScript(bytes.NewReader(defaultScript))
}

func (s *Script) validate() error {
	seen := make(map[string]bool, len(s.Textures))
	for _, t := range s.Textures {
		if t.Name == "" {
			return fmt.Errorf("texture without a name")
		}
		if seen[t.Name] {
			return fmt.Errorf("texture %q declared twice", t.Name)
		}
		seen[t.Name] = true
		if _, err := t.desc(1, 1); err != nil {
			return err
		}
		if !t.Relative() && (t.Width == 0 || t.Height == 0) {
			return fmt.Errorf("texture %q has neither a scale nor an absolute size", t.Name)
		}
	}
	passes := make(map[string]bool, len(s.Passes))
	for _, p := range s.Passes {
		if passes[p] {
			return fmt.Errorf("pass %q listed twice", p)
		}
		passes[p] = true
	}
	return nil
}

var textureTypes = map[string]renderer.TextureType{
	"":         renderer.Texture2D,
	"2d":       renderer.Texture2D,
	"2d_array": renderer.Texture2DArray,
	"cube":     renderer.TextureCube,
}

var textureUsages = map[string]renderer.TextureUsage{
	"sample":        renderer.TextureUsageSample,
	"read_write":    renderer.TextureUsageReadWrite,
	"render_target": renderer.TextureUsageRenderTarget,
	"depth_target":  renderer.TextureUsageDepthTarget,
	"copy_src":      renderer.TextureUsageCopySrc,
	"copy_dst":      renderer.TextureUsageCopyDst,
}

// RestingLayout returns the layout the texture is created in and every pass leaves it in.
// Declarations that fail validation report ShaderRead.
func (d TextureDecl) RestingLayout() renderer.ImageLayout {
	l, err := parseLayout(d.Layout)
	if err != nil {
		return renderer.LayoutShaderRead
	}
	return l
}

func parseLayout(s string) (renderer.ImageLayout, error) {
	if s == "" {
		return renderer.LayoutShaderRead, nil
	}
	for l := renderer.LayoutUndefined; l <= renderer.LayoutPresent; l++ {
		if strings.EqualFold(l.String(), s) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown layout %q", s)
}

func (d TextureDecl) desc(width, height uint32) (renderer.TextureDesc, error) {
	format, err := renderer.ParseTextureFormat(d.Format)
	if err != nil {
		return renderer.TextureDesc{}, fmt.Errorf("texture %q: %w", d.Name, err)
	}
	typ, ok := textureTypes[strings.ToLower(d.Type)]
	if !ok {
		return renderer.TextureDesc{}, fmt.Errorf("texture %q: unknown type %q", d.Name, d.Type)
	}
	var usage renderer.TextureUsage
	for _, u := range d.Usage {
		bit, ok := textureUsages[strings.ToLower(u)]
		if !ok {
			return renderer.TextureDesc{}, fmt.Errorf("texture %q: unknown usage %q", d.Name, u)
		}
		usage |= bit
	}
	layout, err := parseLayout(d.Layout)
	if err != nil {
		return renderer.TextureDesc{}, fmt.Errorf("texture %q: %w", d.Name, err)
	}
	w, h := d.Size(width, height)
	return renderer.TextureDesc{
		Name:          d.Name,
		Type:          typ,
		Format:        format,
		Width:         w,
		Height:        h,
		Layers:        d.Layers,
		Usage:         usage,
		InitialLayout: layout,
	}, nil
}

// Declaration returns the declaration of a named texture.
func (s *Script) Declaration(name string) (TextureDecl, bool) {
	for _, t := range s.Textures {
		if t.Name == name {
			return t, true
		}
	}
	return TextureDecl{}, false
}

// Instantiate creates every declared texture for a screen of width x height pixels and
// registers it in resources. Textures start in their declared resting layout.
//
// Parameters:
//   - backend: the backend the textures are created on
//   - resources: the table the textures are registered in
//   - width, height: the screen size in pixels
//
// Returns:
//   - error: error if a texture cannot be created; textures created before it are destroyed
func (s *Script) Instantiate(backend renderer.GraphicsBackend, resources *Resources, width, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := make(map[string]renderer.TextureHandle, len(s.Textures))
	for _, t := range s.Textures {
		h, err := s.create(backend, t, width, height)
		if err != nil {
			for _, c := range created {
				_ = backend.DestroyTexture(c)
			}
			return err
		}
		created[t.Name] = h
	}
	for name, h := range created {
		resources.RegisterTexture(name, h)
	}
	s.created = created
	return nil
}

func (s *Script) create(backend renderer.GraphicsBackend, t TextureDecl, width, height uint32) (renderer.TextureHandle, error) {
	desc, err := t.desc(width, height)
	if err != nil {
		return renderer.TextureHandle{}, err
	}
	h, err := backend.CreateTexture(desc)
	if err != nil {
		return renderer.TextureHandle{}, fmt.Errorf("failed to create frame texture %q: %w", t.Name, err)
	}
	return h, nil
}

// Resize recreates the screen-relative textures for the new screen size and re-registers
// them. Passes holding resource tables that reference them must rebuild those tables.
//
// Parameters:
//   - backend: the backend the textures live on
//   - resources: the table the textures are registered in
//   - width, height: the new screen size in pixels
//
// Returns:
//   - error: error if a texture cannot be recreated
func (s *Script) Resize(backend renderer.GraphicsBackend, resources *Resources, width, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.Textures {
		if !t.Relative() {
			continue
		}
		if old, ok := s.created[t.Name]; ok {
			if err := backend.DestroyTexture(old); err != nil {
				return fmt.Errorf("failed to destroy frame texture %q: %w", t.Name, err)
			}
			delete(s.created, t.Name)
		}
		h, err := s.create(backend, t, width, height)
		if err != nil {
			return err
		}
		s.created[t.Name] = h
		resources.RegisterTexture(t.Name, h)
	}
	return nil
}

// Discard destroys the textures created by Instantiate and removes them from resources.
func (s *Script) Discard(backend renderer.GraphicsBackend, resources *Resources) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, h := range s.created {
		_ = backend.DestroyTexture(h)
		resources.RemoveTexture(name)
	}
	s.created = nil
}

// CheckOrder verifies that the callbacks of graph that the script lists run in the order
// the script declares. Callbacks the script does not list and listed passes that are not
// registered are ignored, so disabled effects do not fail the check.
//
// Parameters:
//   - graph: the frame graph to check
//
// Returns:
//   - error: error naming the first pair of callbacks registered out of order
func (s *Script) CheckOrder(graph FrameGraph) error {
	position := make(map[string]int, len(s.Passes))
	for i, p := range s.Passes {
		position[p] = i
	}
	last, lastName := -1, ""
	for _, name := range graph.Names() {
		pos, ok := position[name]
		if !ok {
			continue
		}
		if pos < last {
			return fmt.Errorf("frame script %q: %q is registered after %q but must run before it", s.Name, name, lastName)
		}
		last, lastName = pos, name
	}
	return nil
}
