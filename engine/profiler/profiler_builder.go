package profiler

import (
	"time"

	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"go.uber.org/zap"
)

// ProfilerOption configures a Profiler.
type ProfilerOption func(*Profiler)

// WithLogger sets the logger reports are written to.
func WithLogger(log *zap.Logger) ProfilerOption {
	return func(p *Profiler) {
		p.log = log
	}
}

// WithInterval sets the reporting period. Non-positive values keep the default.
//
// Parameters:
//   - interval: the reporting period
//
// Returns:
//   - ProfilerOption: functional option to set the interval
func WithInterval(interval time.Duration) ProfilerOption {
	return func(p *Profiler) {
		if interval > 0 {
			p.updateInterval = interval
		}
	}
}

// WithConfig applies the profiler settings of the engine configuration.
func WithConfig(cfg config.Profiler) ProfilerOption {
	return WithInterval(time.Duration(cfg.IntervalSeconds * float64(time.Second)))
}

func withClock(now func() time.Time) ProfilerOption {
	return func(p *Profiler) {
		p.now = now
	}
}
