package graphics

import (
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"go.uber.org/zap"
)

// RenderSystemOption configures a RenderSystem.
type RenderSystemOption func(*renderSystem)

// WithLogger sets the logger of the render system and every subsystem it creates.
//
// Parameters:
//   - log: the logger
//
// Returns:
//   - RenderSystemOption: functional option to set the logger
func WithLogger(log *zap.Logger) RenderSystemOption {
	return func(rs *renderSystem) {
		rs.log = log
	}
}

// WithScript replaces the default frame script.
//
// Parameters:
//   - s: the frame script
//
// Returns:
//   - RenderSystemOption: functional option to set the script
func WithScript(s *framegraph.Script) RenderSystemOption {
	return func(rs *renderSystem) {
		rs.script = s
	}
}

// WithFixedTimestep makes every frame advance the frame time by step seconds instead of
// reading the wall clock. Headless captures use it to record deterministic streams.
//
// Parameters:
//   - step: seconds per frame
//
// Returns:
//   - RenderSystemOption: functional option to set the timestep
func WithFixedTimestep(step float64) RenderSystemOption {
	return func(rs *renderSystem) {
		rs.step = step
	}
}

// WithMaxInstances sets how many instances the geometry pass draws per frame.
func WithMaxInstances(n int) RenderSystemOption {
	return func(rs *renderSystem) {
		if n > 0 {
			rs.maxInstances = n
		}
	}
}

// WithMarkers enables or disables the debug markers around every frame graph callback.
func WithMarkers(enabled bool) RenderSystemOption {
	return func(rs *renderSystem) {
		rs.markers = enabled
	}
}
