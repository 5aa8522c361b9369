package model

import (
	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/go-gl/mathgl/mgl32"
)

// ModelInstance places a Mesh in the world.
type ModelInstance struct {
	Mesh      Mesh
	Transform mgl32.Mat4
	Color     mgl32.Vec4

	// CastShadows marks the instance as a shadow caster.
	CastShadows bool

	// VisibleFrame is the last frame a LOD-updating visibility resolve found the instance visible.
	VisibleFrame uint64
}

// NewModelInstance creates a white, shadow casting instance of mesh.
//
// Parameters:
//   - mesh: the mesh to draw
//   - transform: the local-to-world transform
//
// Returns:
//   - *ModelInstance: the instance
func NewModelInstance(mesh Mesh, transform mgl32.Mat4) *ModelInstance {
	return &ModelInstance{
		Mesh:        mesh,
		Transform:   transform,
		Color:       mgl32.Vec4{1, 1, 1, 1},
		CastShadows: true,
	}
}

// WorldBounds returns the world-space bounding box of the instance.
func (i *ModelInstance) WorldBounds() common.BBox {
	return i.Mesh.Bounds().Transform(i.Transform)
}

// GroupByMesh splits instances into per-mesh batches, keeping the first-seen mesh order so
// draw order is stable between frames.
//
// Parameters:
//   - instances: the instances to group
//
// Returns:
//   - []Mesh: the distinct meshes in first-seen order
//   - map[Mesh][]*ModelInstance: the instances of every mesh
func GroupByMesh(instances []*ModelInstance) ([]Mesh, map[Mesh][]*ModelInstance) {
	var order []Mesh
	groups := make(map[Mesh][]*ModelInstance)
	for _, inst := range instances {
		if _, ok := groups[inst.Mesh]; !ok {
			order = append(order, inst.Mesh)
		}
		groups[inst.Mesh] = append(groups[inst.Mesh], inst)
	}
	return order, groups
}
