package light

import (
	"github.com/Carmen-Shannon/nebula-go/engine/logger"
	"go.uber.org/zap"
)

// ServerOption configures a Server created by NewServer.
type ServerOption func(*server)

// WithLogger sets the logger of the light server.
func WithLogger(log *zap.Logger) ServerOption {
	return func(s *server) {
		s.log = logger.OrNop(log).Named("light")
	}
}

// WithMaxLocalLights sets how many spot lights and how many point lights are shaded per frame.
// Lights attached beyond the budget are dropped for the frame. Values below 1 are ignored.
func WithMaxLocalLights(n int) ServerOption {
	return func(s *server) {
		if n > 0 {
			s.maxLocal = n
		}
	}
}
