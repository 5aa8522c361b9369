package model

import (
	"github.com/Carmen-Shannon/nebula-go/common"
)

// MeshBuilderOption is a functional option for configuring a Mesh via NewMesh.
type MeshBuilderOption func(*mesh)

// WithBounds overrides the bounding box computed from the mesh positions.
//
// Parameters:
//   - bounds: the local-space bounding box
//
// Returns:
//   - MeshBuilderOption: a function that applies the bounds option to a mesh
func WithBounds(bounds common.BBox) MeshBuilderOption {
	return func(m *mesh) {
		m.bounds = bounds
	}
}
