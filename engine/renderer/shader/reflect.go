package shader

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// BindingKind classifies a WGSL resource declaration.
type BindingKind int

const (
	// BindingUniform is a var<uniform> buffer.
	BindingUniform BindingKind = iota

	// BindingStorage is a read-only var<storage> buffer.
	BindingStorage

	// BindingRWStorage is a var<storage, read_write> buffer.
	BindingRWStorage

	// BindingTexture is a sampled texture.
	BindingTexture

	// BindingDepthTexture is a texture_depth_* texture.
	BindingDepthTexture

	// BindingStorageTexture is a texture_storage_* texture.
	BindingStorageTexture

	// BindingSampler is a filtering sampler.
	BindingSampler

	// BindingComparisonSampler is a sampler_comparison.
	BindingComparisonSampler
)

// Binding is one @group/@binding declaration found in a shader.
type Binding struct {
	Group   int
	Binding int
	Name    string
	Kind    BindingKind

	// Type is the declared WGSL type, e.g. "texture_2d_array<f32>".
	Type string

	// ViewDimension is the texture dimension suffix ("2d", "2d_array", "cube"); empty for buffers and samplers.
	ViewDimension string

	// TexelFormat and Access are set for storage textures, e.g. "rgba16float" and "write".
	TexelFormat string
	Access      string

	// SampleType is "f32", "i32" or "u32" for sampled textures.
	SampleType string
}

// Reflection is the resource interface of a processed WGSL program.
type Reflection struct {
	Bindings      []Binding
	WorkgroupSize [3]uint32
	VertexEntry   string
	FragmentEntry string
	ComputeEntry  string
}

// IsCompute reports whether the program has a compute entry point.
func (r Reflection) IsCompute() bool {
	return r.ComputeEntry != ""
}

// Group returns the bindings of one group sorted by binding index.
func (r Reflection) Group(group int) []Binding {
	var out []Binding
	for _, b := range r.Bindings {
		if b.Group == group {
			out = append(out, b)
		}
	}
	return out
}

// MaxGroup returns the highest group index in use, or -1 if there are no bindings.
func (r Reflection) MaxGroup() int {
	m := -1
	for _, b := range r.Bindings {
		m = max(m, b.Group)
	}
	return m
}

var (
	// bindingDeclRegex captures group, binding, optional address space, variable name and type
	// from declarations like: @group(0) @binding(1) var<storage, read_write> lists: FogLists;
	bindingDeclRegex = regexp.MustCompile(`@group\((\d+)\)\s*@binding\((\d+)\)\s*var(?:<([^>]*)>)?\s+(\w+)\s*:\s*([^;]+?)\s*;`)

	vertexEntryRegex   = regexp.MustCompile(`(?s)@vertex\b.*?\bfn\s+(\w+)`)
	fragmentEntryRegex = regexp.MustCompile(`(?s)@fragment\b.*?\bfn\s+(\w+)`)
	computeEntryRegex  = regexp.MustCompile(`(?s)@compute\b.*?\bfn\s+(\w+)`)

	// workgroupSizeRegex captures 1-3 integer dimensions from @workgroup_size(x[, y[, z]])
	workgroupSizeRegex = regexp.MustCompile(`@workgroup_size\(\s*(\d+)\s*(?:,\s*(\d+)\s*(?:,\s*(\d+)\s*)?)?\)`)
)

// Reflect extracts the bindings, entry points and workgroup size from processed WGSL source.
//
// Parameters:
//   - source: WGSL source with annotations already expanded
//
// Returns:
//   - Reflection: the reflected interface, bindings sorted by group then binding
func Reflect(source string) Reflection {
	cleaned := stripComments(source)
	r := Reflection{WorkgroupSize: [3]uint32{1, 1, 1}}

	for _, m := range bindingDeclRegex.FindAllStringSubmatch(cleaned, -1) {
		group, _ := strconv.Atoi(m[1])
		binding, _ := strconv.Atoi(m[2])
		r.Bindings = append(r.Bindings, classifyBinding(group, binding,
			strings.TrimSpace(m[3]), strings.TrimSpace(m[4]), strings.TrimSpace(m[5])))
	}
	sort.Slice(r.Bindings, func(i, j int) bool {
		if r.Bindings[i].Group != r.Bindings[j].Group {
			return r.Bindings[i].Group < r.Bindings[j].Group
		}
		return r.Bindings[i].Binding < r.Bindings[j].Binding
	})

	if m := vertexEntryRegex.FindStringSubmatch(cleaned); m != nil {
		r.VertexEntry = m[1]
	}
	if m := fragmentEntryRegex.FindStringSubmatch(cleaned); m != nil {
		r.FragmentEntry = m[1]
	}
	if m := computeEntryRegex.FindStringSubmatch(cleaned); m != nil {
		r.ComputeEntry = m[1]
	}
	if m := workgroupSizeRegex.FindStringSubmatch(cleaned); m != nil {
		for i := 0; i < 3; i++ {
			if m[i+1] == "" {
				continue
			}
			if v, err := strconv.ParseUint(m[i+1], 10, 32); err == nil {
				r.WorkgroupSize[i] = uint32(v)
			}
		}
	}
	return r
}

func classifyBinding(group, binding int, addressSpace, name, typeName string) Binding {
	b := Binding{Group: group, Binding: binding, Name: name, Type: typeName}

	if addressSpace != "" {
		switch {
		case addressSpace == "uniform":
			b.Kind = BindingUniform
		case strings.Contains(addressSpace, "read_write"):
			b.Kind = BindingRWStorage
		default:
			b.Kind = BindingStorage
		}
		return b
	}

	base, params := splitTypeParams(typeName)
	switch {
	case typeName == "sampler":
		b.Kind = BindingSampler
	case typeName == "sampler_comparison":
		b.Kind = BindingComparisonSampler
	case strings.HasPrefix(base, "texture_storage_"):
		b.Kind = BindingStorageTexture
		b.ViewDimension = strings.TrimPrefix(base, "texture_storage_")
		format, access, _ := strings.Cut(params, ",")
		b.TexelFormat = strings.TrimSpace(format)
		b.Access = strings.TrimSpace(access)
	case strings.HasPrefix(base, "texture_depth_"):
		b.Kind = BindingDepthTexture
		b.ViewDimension = strings.TrimPrefix(base, "texture_depth_")
	case strings.HasPrefix(base, "texture_"):
		b.Kind = BindingTexture
		b.ViewDimension = strings.TrimPrefix(base, "texture_")
		b.SampleType = params
	}
	return b
}

// splitTypeParams splits a WGSL parameterized type into its base name and parameter string.
// For "texture_2d<f32>" returns ("texture_2d", "f32").
func splitTypeParams(typeName string) (base string, params string) {
	before, after, ok := strings.Cut(typeName, "<")
	if !ok {
		return typeName, ""
	}
	return before, strings.TrimSpace(strings.TrimSuffix(after, ">"))
}

// stripComments removes line and block comments from WGSL source.
func stripComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	depth := 0
	for i := 0; i < len(source); i++ {
		switch {
		case depth == 0 && strings.HasPrefix(source[i:], "//"):
			for i < len(source) && source[i] != '\n' {
				i++
			}
			if i < len(source) {
				sb.WriteByte('\n')
			}
		case strings.HasPrefix(source[i:], "/*"):
			depth++
			i++
		case depth > 0 && strings.HasPrefix(source[i:], "*/"):
			depth--
			i++
		case depth == 0:
			sb.WriteByte(source[i])
		}
	}
	return sb.String()
}
