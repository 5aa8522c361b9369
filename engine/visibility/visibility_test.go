package visibility

import (
	"testing"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/model"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lookDownZ views the -z axis from the origin.
func lookDownZ() mgl32.Mat4 {
	view := mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	return common.Perspective(mgl32.DegToRad(60), 1, 0.1, 100).Mul4(view)
}

func TestResolveKeepsInstancesInsideTheFrustum(t *testing.T) {
	cube := model.Cube("cube")
	inside := model.NewModelInstance(cube, mgl32.Translate3D(0, 0, -10))
	behind := model.NewModelInstance(cube, mgl32.Translate3D(0, 0, 10))
	beyond := model.NewModelInstance(cube, mgl32.Translate3D(0, 0, -200))
	straddling := model.NewModelInstance(cube, mgl32.Translate3D(0, 0, -100))

	r := NewResolver()
	r.BeginResolve(lookDownZ())
	for _, inst := range []*model.ModelInstance{inside, behind, beyond, straddling} {
		r.AttachVisibleModelInstance(1, inst, false)
	}
	got := r.EndResolve()

	assert.Equal(t, []*model.ModelInstance{inside, straddling}, got)
	assert.False(t, r.Resolving())
}

func TestResolveUpdatesVisibleFrameOnRequest(t *testing.T) {
	cube := model.Cube("cube")
	lod := model.NewModelInstance(cube, mgl32.Translate3D(0, 0, -10))
	plain := model.NewModelInstance(cube, mgl32.Translate3D(2, 0, -10))

	r := NewResolver()
	r.BeginResolve(lookDownZ())
	r.AttachVisibleModelInstance(42, lod, true)
	r.AttachVisibleModelInstance(42, plain, false)
	require.Len(t, r.EndResolve(), 2)

	assert.Equal(t, uint64(42), lod.VisibleFrame)
	assert.Zero(t, plain.VisibleFrame)
}

func TestResolveOnTheWorkerPoolKeepsAttachOrder(t *testing.T) {
	cube := model.Cube("cube")
	r := NewResolver(WithWorkers(4), WithChunkSize(1))

	var instances, want []*model.ModelInstance
	for i := 0; i < 5000; i++ {
		z := float32(-5)
		if i%3 == 0 {
			z = 5
		}
		inst := model.NewModelInstance(cube, mgl32.Translate3D(float32(i%7)-3, 0, z))
		instances = append(instances, inst)
		if z < 0 {
			want = append(want, inst)
		}
	}

	for round := 0; round < 3; round++ {
		r.BeginResolve(lookDownZ())
		for _, inst := range instances {
			r.AttachVisibleModelInstance(uint64(round), inst, false)
		}
		assert.Equal(t, want, r.EndResolve(), "round %d", round)
	}
}

func TestResolveSkipsInstancesThatDoNotCastShadows(t *testing.T) {
	cube := model.Cube("cube")
	caster := model.NewModelInstance(cube, mgl32.Translate3D(0, 0, -10))
	receiver := model.NewModelInstance(cube, mgl32.Translate3D(0, 0, -10))
	receiver.CastShadows = false

	got := Resolve(NewResolver(), 0, lookDownZ(), []*model.ModelInstance{caster, receiver})
	assert.Equal(t, []*model.ModelInstance{caster}, got)
}

func TestResolveContractViolationsPanic(t *testing.T) {
	r := NewResolver()
	assert.Panics(t, func() { r.AttachVisibleModelInstance(0, &model.ModelInstance{}, false) })
	assert.Panics(t, func() { r.EndResolve() })

	r.BeginResolve(mgl32.Ident4())
	assert.Panics(t, func() { r.BeginResolve(mgl32.Ident4()) })
	assert.Empty(t, r.EndResolve())
}
