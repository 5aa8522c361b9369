package game_object

import (
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/Carmen-Shannon/nebula-go/engine/model"
	"github.com/go-gl/mathgl/mgl32"
)

// GameObjectBuilderOption is a functional option for configuring a GameObject during construction.
type GameObjectBuilderOption func(*gameObject)

// WithID sets the ID of the GameObject.
//
// Parameters:
//   - id: unique identifier for the GameObject
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the ID
func WithID(id uint64) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.id = id
	}
}

// WithEnabled sets whether the GameObject is rendered.
//
// Parameters:
//   - enabled: true to render the object, false to skip it
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the Enabled state
func WithEnabled(enabled bool) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.enabled.Store(enabled)
	}
}

// WithMesh gives the GameObject a white, shadow casting instance of mesh.
//
// Parameters:
//   - m: the mesh to draw
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the mesh
func WithMesh(m model.Mesh) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.instance = model.NewModelInstance(m, mgl32.Ident4())
	}
}

// WithColor sets the albedo of the mesh instance. It must follow WithMesh.
//
// Parameters:
//   - color: the RGBA albedo
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the color
func WithColor(color mgl32.Vec4) GameObjectBuilderOption {
	return func(obj *gameObject) {
		if obj.instance != nil {
			obj.instance.Color = color
		}
	}
}

// WithCastShadows sets whether the mesh instance casts shadows. It must follow WithMesh.
func WithCastShadows(cast bool) GameObjectBuilderOption {
	return func(obj *gameObject) {
		if obj.instance != nil {
			obj.instance.CastShadows = cast
		}
	}
}

// WithLight attaches a light. The light's current transform becomes its offset from the object.
//
// Parameters:
//   - l: the light to attach
//
// Returns:
//   - GameObjectBuilderOption: functional option to attach the light
func WithLight(l light.Light) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.attachedLight = l
		if l != nil {
			obj.lightLocal = l.Transform()
		}
	}
}

// WithPosition sets the initial world position.
func WithPosition(p mgl32.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.position = p
	}
}

// WithRotation sets the initial Euler rotation in radians.
func WithRotation(r mgl32.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.rotation = r
	}
}

// WithScale sets the initial per-axis scale.
func WithScale(s mgl32.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.scale = s
	}
}
