// pre_processor.go implements the Nebula WGSL shader pre-processor. It expands
// @nebula:include annotations with shared include sources and keeps or drops
// @nebula:if blocks depending on the feature mask of the program variation being built.
package shader

import (
	"fmt"
	"strings"
)

// maxIncludeDepth bounds nested includes so include cycles fail instead of recursing forever.
const maxIncludeDepth = 8

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	// includes maps include names to their WGSL source.
	includes map[string]string

	features *Features
}

// PreProcessor expands @nebula: annotations in WGSL source for one feature mask.
type PreProcessor interface {
	// Process expands includes and resolves conditional blocks for mask.
	// Annotation lines are removed from the output.
	//
	// Parameters:
	//   - source: the raw WGSL shader source containing annotations
	//   - mask: the feature mask of the variation being built
	//
	// Returns:
	//   - string: the processed WGSL source
	//   - error: an error if an annotation is malformed, an include is unknown or blocks are unbalanced
	Process(source string, mask FeatureMask) (string, error)
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a PreProcessor over the given include sources.
//
// Parameters:
//   - includes: include names mapped to WGSL source
//   - features: the feature registry used to evaluate @nebula:if expressions
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor(includes map[string]string, features *Features) PreProcessor {
	return &preProcessor{includes: includes, features: features}
}

func (p *preProcessor) Process(source string, mask FeatureMask) (string, error) {
	return p.process(source, mask, 0)
}

type condFrame struct {
	// parentActive is whether the enclosing block emits lines.
	parentActive bool

	// taken is whether the if branch matched.
	taken bool

	inElse bool
	line   int
}

func (p *preProcessor) process(source string, mask FeatureMask, depth int) (string, error) {
	if depth > maxIncludeDepth {
		return "", fmt.Errorf("include depth exceeds %d", maxIncludeDepth)
	}

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))
	var stack []condFrame
	active := true

	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return "", err
		}
		if a == nil {
			if active {
				out = append(out, line)
			}
			continue
		}

		switch a.Type {
		case AnnotationTypeInclude:
			if !active {
				continue
			}
			src, ok := p.includes[a.Arg]
			if !ok {
				return "", fmt.Errorf("line %d: unknown include %q", a.Line, a.Arg)
			}
			expanded, err := p.process(src, mask, depth+1)
			if err != nil {
				return "", fmt.Errorf("include %q: %w", a.Arg, err)
			}
			out = append(out, expanded)
		case AnnotationTypeIf:
			want, err := p.features.Mask(a.Arg)
			if err != nil {
				return "", fmt.Errorf("line %d: %w", a.Line, err)
			}
			taken := mask&want == want
			stack = append(stack, condFrame{parentActive: active, taken: taken, line: a.Line})
			active = active && taken
		case AnnotationTypeElse:
			if len(stack) == 0 {
				return "", fmt.Errorf("line %d: @nebula:else without @nebula:if", a.Line)
			}
			top := &stack[len(stack)-1]
			if top.inElse {
				return "", fmt.Errorf("line %d: duplicate @nebula:else", a.Line)
			}
			top.inElse = true
			active = top.parentActive && !top.taken
		case AnnotationTypeEnd:
			if len(stack) == 0 {
				return "", fmt.Errorf("line %d: @nebula:end without @nebula:if", a.Line)
			}
			active = stack[len(stack)-1].parentActive
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) > 0 {
		return "", fmt.Errorf("line %d: unterminated @nebula:if", stack[len(stack)-1].line)
	}
	return strings.Join(out, "\n"), nil
}
