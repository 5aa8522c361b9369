package framegraph

import (
	"go.uber.org/zap"
)

// FrameGraphOption is a functional option applied to a FrameGraph during construction.
type FrameGraphOption func(*frameGraph)

// WithLogger sets the logger the frame graph reports registrations to.
//
// Parameters:
//   - log: the logger, nil keeps the no-op default
//
// Returns:
//   - FrameGraphOption: a function that applies the option to a frameGraph
func WithLogger(log *zap.Logger) FrameGraphOption {
	return func(g *frameGraph) {
		if log != nil {
			g.log = log.Named("framegraph")
		}
	}
}

// WithMarkers controls whether every callback is wrapped in a debug marker named after it.
// Markers are on by default.
func WithMarkers(enabled bool) FrameGraphOption {
	return func(g *frameGraph) {
		g.markers = enabled
	}
}
