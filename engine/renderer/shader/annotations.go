// annotations.go defines the annotation syntax understood by the Nebula WGSL
// pre-processor. Annotations are single-line WGSL comments prefixed with @nebula:
// that inject shared include files and select source blocks per feature mask.
package shader

import (
	"fmt"
	"strings"
)

// annotationPrefix is the marker that identifies a Nebula annotation within a WGSL comment line.
const annotationPrefix = "@nebula:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
type AnnotationType string

const (
	// AnnotationTypeInclude injects a shared include file at the annotation site.
	//
	// Syntax: //@nebula:include <name>
	//
	// Example: //@nebula:include frame
	AnnotationTypeInclude AnnotationType = "include"

	// AnnotationTypeIf starts a block that is kept only when the program's feature mask
	// contains every listed feature.
	//
	// Syntax: //@nebula:if <Feature>[|<Feature>...]
	//
	// Example: //@nebula:if Alt0
	AnnotationTypeIf AnnotationType = "if"

	// AnnotationTypeElse flips the innermost open if block.
	//
	// Syntax: //@nebula:else
	AnnotationTypeElse AnnotationType = "else"

	// AnnotationTypeEnd closes the innermost open if block.
	//
	// Syntax: //@nebula:end
	AnnotationTypeEnd AnnotationType = "end"
)

// Annotation is a single parsed @nebula: annotation.
type Annotation struct {
	// Type identifies which annotation was parsed.
	Type AnnotationType

	// Arg is the include name or feature expression. Empty for else and end.
	Arg string

	// Line is the 1-based source line, used for error reporting.
	Line int
}

// parseAnnotation parses a single line of WGSL source. Lines without the annotation
// prefix return a nil annotation and no error.
//
// Parameters:
//   - line: the raw source line
//   - lineNum: the 1-based line number for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil if the line is not an annotation
//   - error: a descriptive error if the annotation is malformed
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "//") {
		return nil, nil
	}
	_, after, ok := strings.Cut(trimmed, annotationPrefix)
	if !ok {
		return nil, nil
	}

	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: empty @nebula annotation", lineNum)
	}

	switch AnnotationType(args[0]) {
	case AnnotationTypeInclude, AnnotationTypeIf:
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: @nebula:%s requires exactly one argument", lineNum, args[0])
		}
		return &Annotation{Type: AnnotationType(args[0]), Arg: args[1], Line: lineNum}, nil
	case AnnotationTypeElse, AnnotationTypeEnd:
		if len(args) != 1 {
			return nil, fmt.Errorf("line %d: @nebula:%s takes no arguments", lineNum, args[0])
		}
		return &Annotation{Type: AnnotationType(args[0]), Line: lineNum}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown @nebula annotation type %q", lineNum, args[0])
	}
}
