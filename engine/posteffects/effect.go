// Package posteffects implements the screen-space compute passes of the deferred frame:
// horizon based ambient occlusion, screen-space reflections, clustered volumetric fog and
// eye adaptation. Every effect allocates its intermediate resources in Setup, uploads its
// constants in a Prepare-style callback and records barrier-guarded dispatches in the rest.
package posteffects

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/logger"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"go.uber.org/zap"
)

// ErrNotSetup is returned when an effect records or resizes before Setup.
var ErrNotSetup = errors.New("effect used before Setup")

// Effect is a self-contained screen-space pass.
//
// Lifecycle: Setup allocates intermediate textures, constant buffers and one resource table per
// buffered frame; Register adds the effect's callbacks to a frame graph; Resize rebuilds
// everything after the frame script textures changed size; Discard releases it all.
type Effect interface {
	// Name returns the callback prefix of the effect, for example "HBAO".
	Name() string

	// Setup allocates the effect's GPU resources. Calling it again discards the previous ones.
	//
	// Parameters:
	//   - backend: the backend resources are created on
	//   - resources: the named frame resources the effect reads and writes
	//   - bufferedFrames: the number of frames in flight
	//
	// Returns:
	//   - error: an error if a named resource is missing or allocation fails
	Setup(backend renderer.GraphicsBackend, resources *framegraph.Resources, bufferedFrames int) error

	// Register appends the effect's callbacks to graph in execution order.
	//
	// Parameters:
	//   - graph: the frame graph
	//
	// Returns:
	//   - error: framegraph.ErrDuplicateCallback if the effect is registered twice
	Register(graph framegraph.FrameGraph) error

	// Resize rebuilds the effect for a new screen size. The frame script textures must
	// already be resized.
	//
	// Returns:
	//   - error: ErrNotSetup or the Setup error
	Resize(width, height uint32) error

	// Discard releases every GPU resource of the effect.
	Discard()
}

// Option configures the shared state of an effect.
type Option func(*base)

// WithLogger sets the logger of an effect. The logger is named after the effect.
func WithLogger(log *zap.Logger) Option {
	return func(b *base) {
		b.log = log
	}
}

// base holds the state every effect shares: its attachment to a backend and its programs.
type base struct {
	mu sync.Mutex

	name           string
	log            *zap.Logger
	backend        renderer.GraphicsBackend
	resources      *framegraph.Resources
	bufferedFrames int
	programs       []renderer.ShaderProgramHandle
}

func (b *base) init(name string, options []Option) {
	b.name = name
	for _, option := range options {
		option(b)
	}
	b.log = logger.OrNop(b.log).Named(name)
}

func (b *base) Name() string {
	return b.name
}

func (b *base) attach(backend renderer.GraphicsBackend, resources *framegraph.Resources, bufferedFrames int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backend, b.resources, b.bufferedFrames = backend, resources, bufferedFrames
}

// detach forgets the backend and returns it so the caller can release what it created.
func (b *base) detach() renderer.GraphicsBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	backend := b.backend
	b.backend, b.resources = nil, nil
	return backend
}

func (b *base) attached() (renderer.GraphicsBackend, *framegraph.Resources, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backend, b.resources, b.bufferedFrames
}

// resize reruns setup against the attachment of the last Setup.
func (b *base) resize(width, height uint32, setup func(renderer.GraphicsBackend, *framegraph.Resources, int) error) error {
	backend, resources, n := b.attached()
	if backend == nil {
		return fmt.Errorf("%s: %w", b.name, ErrNotSetup)
	}
	b.log.Debug("resizing", zap.Uint32("width", width), zap.Uint32("height", height))
	return setup(backend, resources, n)
}

// computeProgram compiles one variation of a compute shader and remembers it for destroyPrograms.
func (b *base) computeProgram(backend renderer.GraphicsBackend, name, feature string) (renderer.ShaderProgramHandle, error) {
	h, err := backend.CreateShaderProgram(renderer.ShaderProgramDesc{
		Shader: name,
		Mask:   shader.BuiltinMask(feature),
	})
	if err != nil {
		return h, fmt.Errorf("failed to create %s program %s[%s]: %w", b.name, name, feature, err)
	}
	b.programs = append(b.programs, h)
	return h, nil
}

func (b *base) destroyPrograms(backend renderer.GraphicsBackend) {
	for _, p := range b.programs {
		_ = backend.DestroyShaderProgram(p)
	}
	b.programs = nil
}

// DispatchCount returns the number of work groups needed to cover dim with tiles of size tile.
func DispatchCount(dim, tile uint32) uint32 {
	return common.DivAndRoundUp(dim, tile)
}

// createTable creates a resource table for group 0 of program, lets bind fill it and commits it.
// The table is destroyed if binding or committing fails.
func createTable(backend renderer.GraphicsBackend, name string, program renderer.ShaderProgramHandle, bind func(t renderer.ResourceTableHandle) error) (renderer.ResourceTableHandle, error) {
	t, err := backend.CreateResourceTable(renderer.ResourceTableDesc{Name: name, Program: program})
	if err != nil {
		return t, err
	}
	if err := bind(t); err != nil {
		_ = backend.DestroyResourceTable(t)
		return renderer.ResourceTableHandle{}, fmt.Errorf("table %q: %w", name, err)
	}
	if err := backend.CommitResourceTable(t); err != nil {
		_ = backend.DestroyResourceTable(t)
		return renderer.ResourceTableHandle{}, err
	}
	return t, nil
}

func destroyTables(backend renderer.GraphicsBackend, tables ...renderer.ResourceTableHandle) {
	for _, t := range tables {
		if t.Valid() {
			_ = backend.DestroyResourceTable(t)
		}
	}
}

func destroyBuffers(backend renderer.GraphicsBackend, buffers ...renderer.BufferHandle) {
	for _, b := range buffers {
		if b.Valid() {
			_ = backend.DestroyBuffer(b)
		}
	}
}

// computeBarrier builds a compute to compute barrier over texture transitions.
func computeBarrier(name string, textures ...renderer.TextureBarrier) renderer.Barrier {
	return renderer.Barrier{
		Name:      name,
		FromStage: renderer.StageComputeShader,
		ToStage:   renderer.StageComputeShader,
		Textures:  textures,
	}
}

// screenSize returns the size of a named frame texture.
func screenSize(backend renderer.GraphicsBackend, resources *framegraph.Resources, name string) (uint32, uint32, error) {
	tex, err := resources.Texture(name)
	if err != nil {
		return 0, 0, err
	}
	dims, err := backend.TextureDimensions(tex)
	if err != nil {
		return 0, 0, fmt.Errorf("texture %q: %w", name, err)
	}
	return dims.Width, dims.Height, nil
}
