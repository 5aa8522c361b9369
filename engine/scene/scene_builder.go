package scene

import (
	"github.com/Carmen-Shannon/nebula-go/engine/game_object"
	"go.uber.org/zap"
)

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene, objects []game_object.GameObject) []game_object.GameObject

// WithActive sets whether the scene is active for rendering.
//
// Parameters:
//   - active: whether the scene is active
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithActive(active bool) SceneBuilderOption {
	return func(s *scene, objects []game_object.GameObject) []game_object.GameObject {
		s.active = active
		return objects
	}
}

// WithObjects adds initial objects to the scene.
// Objects without IDs will be assigned new IDs.
//
// Parameters:
//   - objects: the objects to add
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithObjects(add ...game_object.GameObject) SceneBuilderOption {
	return func(_ *scene, objects []game_object.GameObject) []game_object.GameObject {
		return append(objects, add...)
	}
}

// WithLogger sets the scene logger.
func WithLogger(log *zap.Logger) SceneBuilderOption {
	return func(s *scene, objects []game_object.GameObject) []game_object.GameObject {
		s.log = log
		return objects
	}
}
