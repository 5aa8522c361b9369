package framegraph

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"go.uber.org/zap"
)

// ErrDuplicateCallback is returned by AddCallback when a callback name is already registered.
var ErrDuplicateCallback = errors.New("duplicate frame graph callback")

// FrameContext is passed to every callback of a frame. It replaces the global graphics
// server lookups a pass would otherwise make.
type FrameContext struct {
	// FrameIndex increases by one every frame.
	FrameIndex uint64

	// BufferIndex selects the ring-buffered slot of per-frame resources, in [0, N).
	BufferIndex int

	// Time is the number of seconds since the render system started.
	Time float64

	// DeltaTime is the number of seconds since the previous frame.
	DeltaTime float64

	Width  uint32
	Height uint32

	Backend   renderer.GraphicsBackend
	Resources *Resources
	Camera    CameraData
}

// Callback is one pass of a frame. It records GPU work through ctx.Backend.
type Callback func(ctx *FrameContext) error

// Access is the way a callback uses a named resource.
type Access int

const (
	AccessRead Access = iota
	AccessWrite
)

// Usage declares that a callback reads or writes a named resource. Declarations are only
// used by Validate; they never change the execution order.
type Usage struct {
	Resource string
	Access   Access
}

// Reads declares a read of the named resource.
func Reads(name string) Usage {
	return Usage{Resource: name, Access: AccessRead}
}

// Writes declares a write of the named resource.
func Writes(name string) Usage {
	return Usage{Resource: name, Access: AccessWrite}
}

// PassTiming is the CPU time spent recording one callback in the last Run.
type PassTiming struct {
	Name     string
	Duration time.Duration
}

// FrameGraph is an insertion-ordered list of named frame callbacks.
// Callbacks run exactly once per frame, in registration order, on the calling goroutine.
type FrameGraph interface {
	// AddCallback appends a named callback to the graph.
	//
	// Parameters:
	//   - name: the unique callback name, also used as the debug marker of the pass
	//   - fn: the callback
	//   - usages: optional declarations of the named resources the callback reads and writes
	//
	// Returns:
	//   - error: ErrDuplicateCallback if name is already registered
	AddCallback(name string, fn Callback, usages ...Usage) error

	// Run invokes every callback in registration order. Every callback runs even if an earlier
	// one fails; the failures are joined into the returned error.
	//
	// Parameters:
	//   - ctx: the frame context passed to every callback
	//
	// Returns:
	//   - error: the joined callback errors, each wrapped with its callback name
	Run(ctx *FrameContext) error

	// Names returns the callback names in registration order.
	//
	// Returns:
	//   - []string: the callback names
	Names() []string

	// Validate reports every declared read of a resource that a later callback writes.
	// It never reorders callbacks.
	//
	// Returns:
	//   - []error: one error per read-before-write, empty if the order is consistent
	Validate() []error

	// Timings returns the per-callback recording times of the last Run.
	//
	// Returns:
	//   - []PassTiming: one entry per callback in registration order
	Timings() []PassTiming
}

type callback struct {
	name   string
	fn     Callback
	usages []Usage
}

// frameGraph is the implementation of the FrameGraph interface.
type frameGraph struct {
	mu sync.Mutex

	log       *zap.Logger
	callbacks []callback
	index     map[string]int
	timings   []PassTiming
	markers   bool
}

var _ FrameGraph = &frameGraph{}

// NewFrameGraph creates an empty FrameGraph.
//
// Parameters:
//   - options: functional options such as WithLogger
//
// Returns:
//   - FrameGraph: the frame graph
func NewFrameGraph(options ...FrameGraphOption) FrameGraph {
	g := &frameGraph{
		log:     zap.NewNop(),
		index:   make(map[string]int),
		markers: true,
	}
	for _, option := range options {
		option(g)
	}
	return g
}

func (g *frameGraph) AddCallback(name string, fn Callback, usages ...Usage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.index[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateCallback, name)
	}
	g.index[name] = len(g.callbacks)
	g.callbacks = append(g.callbacks, callback{name: name, fn: fn, usages: usages})
	g.log.Debug("callback added", zap.String("name", name), zap.Int("position", len(g.callbacks)-1))
	return nil
}

func (g *frameGraph) Run(ctx *FrameContext) error {
	g.mu.Lock()
	callbacks := make([]callback, len(g.callbacks))
	copy(callbacks, g.callbacks)
	g.mu.Unlock()

	timings := make([]PassTiming, 0, len(callbacks))
	var errs []error
	for _, cb := range callbacks {
		start := time.Now()
		if g.markers {
			ctx.Backend.BeginMarker(cb.name)
		}
		if err := cb.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cb.name, err))
		}
		if g.markers {
			ctx.Backend.EndMarker()
		}
		timings = append(timings, PassTiming{Name: cb.name, Duration: time.Since(start)})
	}

	g.mu.Lock()
	g.timings = timings
	g.mu.Unlock()
	return errors.Join(errs...)
}

func (g *frameGraph) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, len(g.callbacks))
	for i, cb := range g.callbacks {
		names[i] = cb.name
	}
	return names
}

func (g *frameGraph) Validate() []error {
	g.mu.Lock()
	defer g.mu.Unlock()

	firstWriter := make(map[string]int)
	for i, cb := range g.callbacks {
		for _, u := range cb.usages {
			if _, ok := firstWriter[u.Resource]; !ok && u.Access == AccessWrite {
				firstWriter[u.Resource] = i
			}
		}
	}

	var errs []error
	for i, cb := range g.callbacks {
		for _, u := range cb.usages {
			if u.Access != AccessRead {
				continue
			}
			w, ok := firstWriter[u.Resource]
			if ok && w > i {
				errs = append(errs, fmt.Errorf("%q reads %q before %q writes it", cb.name, u.Resource, g.callbacks[w].name))
			}
		}
	}
	return errs
}

func (g *frameGraph) Timings() []PassTiming {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]PassTiming, len(g.timings))
	copy(out, g.timings)
	return out
}
