package shader

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
)

//go:embed wgsl/*.wgsl wgsl/include/*.wgsl
var wgslFS embed.FS

// ErrUnknownShader is returned when a program name is not part of the library.
var ErrUnknownShader = errors.New("unknown shader")

// Program names of the built-in shader library.
const (
	ProgramHBAO           = "hbao"
	ProgramHBAOBlur       = "hbao_blur"
	ProgramSSR            = "ssr"
	ProgramFog            = "fog"
	ProgramBlurRGBA16F    = "blur_rgba16f"
	ProgramBlurRG32FArray = "blur_rg32f_array"
	ProgramTonemap        = "tonemap"
	ProgramLights         = "lights"
	ProgramShadow         = "shadow"
	ProgramIm3d           = "im3d"
	ProgramGBuffer        = "gbuffer"
)

// ProgramKind distinguishes compute programs from vertex/fragment programs.
type ProgramKind int

const (
	// ProgramKindCompute is a program with a single compute entry point.
	ProgramKindCompute ProgramKind = iota

	// ProgramKindGraphics is a program with vertex and fragment entry points.
	ProgramKindGraphics
)

// ProgramInfo describes a library program and the feature strings it is built with.
type ProgramInfo struct {
	Name       string
	Kind       ProgramKind
	Variations []string
}

var builtinPrograms = []ProgramInfo{
	{Name: ProgramHBAO, Kind: ProgramKindCompute, Variations: []string{"Alt0", "Alt1"}},
	{Name: ProgramHBAOBlur, Kind: ProgramKindCompute, Variations: []string{"Alt0", "Alt1"}},
	{Name: ProgramSSR, Kind: ProgramKindCompute, Variations: []string{"Alt0", "Alt1"}},
	{Name: ProgramFog, Kind: ProgramKindCompute, Variations: []string{"Alt0", "Alt1"}},
	{Name: ProgramBlurRGBA16F, Kind: ProgramKindCompute, Variations: []string{"Alt0", "Alt1"}},
	{Name: ProgramBlurRG32FArray, Kind: ProgramKindCompute, Variations: []string{"Alt0", "Alt1"}},
	{Name: ProgramTonemap, Kind: ProgramKindGraphics, Variations: []string{""}},
	{Name: ProgramLights, Kind: ProgramKindGraphics, Variations: []string{
		"Global", "Global|Alt0", "Spot", "Spot|Alt0", "Point", "Point|Alt0",
	}},
	{Name: ProgramShadow, Kind: ProgramKindGraphics, Variations: []string{"Global", "Spot", "Point"}},
	{Name: ProgramIm3d, Kind: ProgramKindGraphics, Variations: []string{"", "Alt0"}},
	{Name: ProgramGBuffer, Kind: ProgramKindGraphics, Variations: []string{""}},
}

type variationKey struct {
	name string
	mask FeatureMask
}

// Library holds the WGSL programs of the renderer and builds their feature variations.
type Library struct {
	mu       sync.Mutex
	features *Features
	sources  map[string]string
	programs map[string]ProgramInfo
	order    []string
	pp       PreProcessor
	cache    map[variationKey]string
}

// NewLibrary loads the embedded WGSL programs and includes.
//
// Parameters:
//   - features: the feature registry shared with every consumer of masks
//
// Returns:
//   - *Library: the shader library
//   - error: error if the embedded sources cannot be read
func NewLibrary(features *Features) (*Library, error) {
	sources, err := readWGSL("wgsl")
	if err != nil {
		return nil, err
	}
	includes, err := readWGSL("wgsl/include")
	if err != nil {
		return nil, err
	}

	l := &Library{
		features: features,
		sources:  sources,
		programs: make(map[string]ProgramInfo, len(builtinPrograms)),
		pp:       NewPreProcessor(includes, features),
		cache:    make(map[variationKey]string),
	}
	for _, p := range builtinPrograms {
		if _, ok := sources[p.Name]; !ok {
			return nil, fmt.Errorf("program %q has no source", p.Name)
		}
		l.programs[p.Name] = p
		l.order = append(l.order, p.Name)
	}
	return l, nil
}

func readWGSL(dir string) (map[string]string, error) {
	entries, err := fs.ReadDir(wgslFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wgsl") {
			continue
		}
		data, err := wgslFS.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		out[strings.TrimSuffix(e.Name(), ".wgsl")] = string(data)
	}
	return out, nil
}

// Features returns the feature registry used by the library.
func (l *Library) Features() *Features {
	return l.features
}

// Programs returns every program in registration order.
func (l *Library) Programs() []ProgramInfo {
	out := make([]ProgramInfo, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.programs[name])
	}
	return out
}

// Program returns the description of a named program.
func (l *Library) Program(name string) (ProgramInfo, bool) {
	p, ok := l.programs[name]
	return p, ok
}

// Source returns the pre-processed WGSL of one program variation. Results are cached.
//
// Parameters:
//   - name: the program name
//   - mask: the variation feature mask
//
// Returns:
//   - string: WGSL ready for compilation
//   - error: ErrUnknownShader or a pre-processing error
func (l *Library) Source(name string, mask FeatureMask) (string, error) {
	key := variationKey{name: name, mask: mask}

	l.mu.Lock()
	defer l.mu.Unlock()

	if src, ok := l.cache[key]; ok {
		return src, nil
	}
	raw, ok := l.sources[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownShader, name)
	}
	src, err := l.pp.Process(raw, mask)
	if err != nil {
		return "", fmt.Errorf("failed to process %s[%s]: %w", name, l.features.String(mask), err)
	}
	l.cache[key] = src
	return src, nil
}

// Reflect returns the reflected interface of one program variation.
func (l *Library) Reflect(name string, mask FeatureMask) (Reflection, error) {
	src, err := l.Source(name, mask)
	if err != nil {
		return Reflection{}, err
	}
	return Reflect(src), nil
}
