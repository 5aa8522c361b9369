package engine

import (
	"time"

	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"github.com/Carmen-Shannon/nebula-go/engine/profiler"
	"github.com/Carmen-Shannon/nebula-go/engine/window"
	"go.uber.org/zap"
)

// EngineBuilderOption configures an Engine in NewEngine.
type EngineBuilderOption func(*engine)

// WithProfiling turns the periodic profiler report on or off.
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled.Store(enabled)
	}
}

// WithProfiler replaces the default profiler.
func WithProfiler(p *profiler.Profiler) EngineBuilderOption {
	return func(e *engine) {
		e.profiler = p
	}
}

// WithTickRate sets how often the logic loop runs. Non-positive rates fall back to 60Hz.
//
// Parameters:
//   - hz: logic ticks per second
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(hz float64) EngineBuilderOption {
	return func(e *engine) {
		e.tickPeriod = period(hz, time.Second/60)
	}
}

// WithWindow sets the window the engine processes messages for and resizes the render
// system with. Without a window the engine runs headless.
//
// Parameters:
//   - w: a pre-configured Window instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithRenderFrameLimit caps the render loop at hz frames per second. Zero, the default,
// renders as fast as the backend accepts frames.
func WithRenderFrameLimit(hz float64) EngineBuilderOption {
	return func(e *engine) {
		e.minFramePeriod = period(hz, 0)
	}
}

// period converts a rate to the time between events, or returns fallback for
// non-positive rates.
func period(hz float64, fallback time.Duration) time.Duration {
	if hz <= 0 {
		return fallback
	}
	return time.Duration(float64(time.Second) / hz)
}

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) EngineBuilderOption {
	return func(e *engine) {
		e.log = log
	}
}

// WithConfig applies the profiler settings of the engine configuration. The profiler
// logs through log.
//
// Parameters:
//   - cfg: the engine configuration
//   - log: the logger of the profiler
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithConfig(cfg config.Config, log *zap.Logger) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled.Store(cfg.Profiler.Enabled)
		e.profiler = profiler.NewProfiler(profiler.WithLogger(log), profiler.WithConfig(cfg.Profiler))
	}
}
