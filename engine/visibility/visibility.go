// Package visibility resolves which model instances are inside a view volume.
package visibility

import (
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/model"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// MinChunkSize is the smallest number of instances culled by one worker task.
const MinChunkSize = 256

// Resolver culls a set of attached model instances against one view volume at a time.
// A resolve is BeginResolve, any number of AttachVisibleModelInstance calls and EndResolve,
// all from the same goroutine. Calling them out of order panics.
type Resolver interface {
	// BeginResolve starts a resolve against the volume of a view-projection matrix.
	//
	// Parameters:
	//   - viewProjection: the world to clip transform of the view volume
	BeginResolve(viewProjection mgl32.Mat4)

	// AttachVisibleModelInstance queues an instance for the current resolve.
	//
	// Parameters:
	//   - frameIndex: the frame the resolve belongs to
	//   - inst: the candidate instance
	//   - updateLOD: record frameIndex on the instance when it is found visible
	AttachVisibleModelInstance(frameIndex uint64, inst *model.ModelInstance, updateLOD bool)

	// EndResolve culls the attached instances and ends the resolve.
	//
	// Returns:
	//   - []*model.ModelInstance: the visible instances in attach order
	EndResolve() []*model.ModelInstance

	// Resolving reports whether a resolve is open.
	Resolving() bool
}

type candidate struct {
	inst      *model.ModelInstance
	updateLOD bool
}

// frustumResolver is the implementation of the Resolver interface.
type frustumResolver struct {
	mu sync.Mutex

	log       *zap.Logger
	workers   int
	chunkSize int
	pool      worker.DynamicWorkerPool

	resolving  bool
	frustum    common.Frustum
	frameIndex uint64
	candidates []candidate
	visible    []bool
}

var _ Resolver = &frustumResolver{}

// NewResolver creates a frustum culling Resolver. Large resolves are split into chunks of at
// least MinChunkSize instances and culled on a worker pool.
//
// Parameters:
//   - options: functional options such as WithLogger and WithWorkers
//
// Returns:
//   - Resolver: the resolver
func NewResolver(options ...ResolverOption) Resolver {
	r := &frustumResolver{
		log:       zap.NewNop(),
		workers:   max(runtime.NumCPU()-1, 1),
		chunkSize: MinChunkSize,
	}
	for _, option := range options {
		option(r)
	}
	r.pool = worker.NewDynamicWorkerPool(r.workers, 256, 1*time.Second)
	return r
}

func (r *frustumResolver) BeginResolve(viewProjection mgl32.Mat4) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolving {
		panic("visibility: BeginResolve called inside an open resolve")
	}
	r.resolving = true
	r.frustum = common.ExtractFrustumFromMatrix(viewProjection)
	r.candidates = r.candidates[:0]
}

func (r *frustumResolver) AttachVisibleModelInstance(frameIndex uint64, inst *model.ModelInstance, updateLOD bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.resolving {
		panic("visibility: AttachVisibleModelInstance called outside BeginResolve/EndResolve")
	}
	if inst == nil || inst.Mesh == nil {
		return
	}
	r.frameIndex = frameIndex
	r.candidates = append(r.candidates, candidate{inst: inst, updateLOD: updateLOD})
}

func (r *frustumResolver) EndResolve() []*model.ModelInstance {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.resolving {
		panic("visibility: EndResolve called without BeginResolve")
	}
	r.resolving = false

	n := len(r.candidates)
	if cap(r.visible) < n {
		r.visible = make([]bool, n)
	}
	r.visible = r.visible[:n]

	chunk := max(r.chunkSize, (n+r.workers-1)/max(r.workers, 1))
	if n <= chunk {
		r.cull(0, n)
	} else {
		// the pool's Wait blocks until workers idle out, so every resolve waits on its own group
		var wg sync.WaitGroup
		for id, start := 0, 0; start < n; id, start = id+1, start+chunk {
			end := min(start+chunk, n)
			wg.Add(1)
			lo, hi := start, end
			r.pool.SubmitTask(worker.Task{
				ID: id,
				Do: func() (any, error) {
					defer wg.Done()
					r.cull(lo, hi)
					return nil, nil
				},
			})
		}
		wg.Wait()
	}

	out := make([]*model.ModelInstance, 0, n)
	for i, c := range r.candidates {
		if !r.visible[i] {
			continue
		}
		if c.updateLOD {
			c.inst.VisibleFrame = r.frameIndex
		}
		out = append(out, c.inst)
	}
	r.log.Debug("resolve finished", zap.Int("candidates", n), zap.Int("visible", len(out)))
	clear(r.candidates)
	r.candidates = r.candidates[:0]
	return out
}

// cull tests candidates [lo, hi). Chunks never overlap, so workers write disjoint ranges.
func (r *frustumResolver) cull(lo, hi int) {
	for i := lo; i < hi; i++ {
		r.visible[i] = r.frustum.IntersectsBox(r.candidates[i].inst.WorldBounds())
	}
}

func (r *frustumResolver) Resolving() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolving
}

// Resolve is a convenience for a complete resolve of instances that cast shadows.
//
// Parameters:
//   - r: the resolver
//   - frameIndex: the frame the resolve belongs to
//   - viewProjection: the view volume
//   - instances: the candidates; instances with CastShadows unset are skipped
//
// Returns:
//   - []*model.ModelInstance: the visible shadow casters
func Resolve(r Resolver, frameIndex uint64, viewProjection mgl32.Mat4, instances []*model.ModelInstance) []*model.ModelInstance {
	r.BeginResolve(viewProjection)
	for _, inst := range instances {
		if inst.CastShadows {
			r.AttachVisibleModelInstance(frameIndex, inst, false)
		}
	}
	return r.EndResolve()
}

// ResolveAll is Resolve without the shadow caster filter. Views use it for the geometry pass.
func ResolveAll(r Resolver, frameIndex uint64, viewProjection mgl32.Mat4, instances []*model.ModelInstance) []*model.ModelInstance {
	r.BeginResolve(viewProjection)
	for _, inst := range instances {
		r.AttachVisibleModelInstance(frameIndex, inst, true)
	}
	return r.EndResolve()
}
