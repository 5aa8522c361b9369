package shadow

import (
	"fmt"

	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"github.com/Carmen-Shannon/nebula-go/engine/logger"
	"github.com/Carmen-Shannon/nebula-go/engine/visibility"
	"go.uber.org/zap"
)

// ServerOption configures a Server created by NewServer.
type ServerOption func(*server)

// WithLogger sets the logger of the shadow server.
func WithLogger(log *zap.Logger) ServerOption {
	return func(s *server) {
		s.log = logger.OrNop(log).Named("shadow")
	}
}

// WithLightServer sets the sink EndAttachVisibleLights forwards the settled lights to.
func WithLightServer(sink LightSink) ServerOption {
	return func(s *server) {
		s.sink = sink
	}
}

// WithResolver sets the visibility resolver used to find the casters of every shadow view.
func WithResolver(r visibility.Resolver) ServerOption {
	return func(s *server) {
		s.resolver = r
	}
}

// WithMaxCastersPerLight sets how many caster instances one light draws across all of its
// views. Values below 1 are ignored.
func WithMaxCastersPerLight(n int) ServerOption {
	return func(s *server) {
		if n > 0 {
			s.maxCasters = n
		}
	}
}

// WithMaxShadowLights sets how many spot and point lights cast shadows per frame. The values
// are clamped to [1, MaxNumShadowSpotLights] and [1, MaxNumShadowPointLights].
func WithMaxShadowLights(spot, point int) ServerOption {
	return func(s *server) {
		s.maxSpot = min(max(spot, 1), MaxNumShadowSpotLights)
		s.maxPoint = min(max(point, 1), MaxNumShadowPointLights)
	}
}

// WithMapSizes sets the size in texels of the spot atlas, of the whole cascade budget (split
// into SplitsPerRow x SplitsPerColumn layers) and of one point light cube face. Zero keeps
// the current size.
func WithMapSizes(atlas, csm, point uint32) ServerOption {
	return func(s *server) {
		if atlas > 0 {
			s.atlasSize = atlas
		}
		if csm > 0 {
			s.csmSize = csm
		}
		if point > 0 {
			s.pointSize = point
		}
	}
}

// WithCSM sets the cascade calculator of the global light.
func WithCSM(c *CSM) ServerOption {
	return func(s *server) {
		s.csm = c
	}
}

// OptionsFromConfig translates the shadow section of the engine configuration.
//
// Parameters:
//   - cfg: the shadow configuration
//
// Returns:
//   - []ServerOption: the options, to be passed to NewServer before any caller overrides
//   - error: an error wrapping ErrInvalidMethod for an unknown fitting or clamping name, or
//     when the cascade distances do not hold NumCascades values
func OptionsFromConfig(cfg config.Shadows) ([]ServerOption, error) {
	csmOpts := []CSMOption{
		WithBlurSize(cfg.BlurSize),
		WithFloorTexels(cfg.FloorTexels),
	}
	if cfg.CSMSize > 0 {
		csmOpts = append(csmOpts, WithCascadeTextureWidth(uint32(cfg.CSMSize)/SplitsPerRow))
	}
	if cfg.Fitting != "" {
		m, err := ParseFittingMethod(cfg.Fitting)
		if err != nil {
			return nil, err
		}
		csmOpts = append(csmOpts, WithFitting(m))
	}
	if cfg.Clamping != "" {
		m, err := ParseClampingMethod(cfg.Clamping)
		if err != nil {
			return nil, err
		}
		csmOpts = append(csmOpts, WithClamping(m))
	}
	if len(cfg.CascadeDistances) > 0 {
		if len(cfg.CascadeDistances) != NumCascades {
			return nil, fmt.Errorf("%d cascade distances, need %d: %w", len(cfg.CascadeDistances), NumCascades, ErrInvalidMethod)
		}
		var d [NumCascades]float32
		copy(d[:], cfg.CascadeDistances)
		maxDistance := cfg.CascadeMaxDistance
		if maxDistance <= 0 {
			maxDistance = d[NumCascades-1]
		}
		csmOpts = append(csmOpts, WithCascadeDistances(d, maxDistance))
	}

	opts := []ServerOption{
		WithMapSizes(uint32(max(cfg.SpotAtlasSize, 0)), uint32(max(cfg.CSMSize, 0)), uint32(max(cfg.PointSize, 0))),
		WithCSM(NewCSM(csmOpts...)),
	}
	if cfg.MaxSpot > 0 || cfg.MaxPoint > 0 {
		spot, point := cfg.MaxSpot, cfg.MaxPoint
		if spot <= 0 {
			spot = MaxNumShadowSpotLights
		}
		if point <= 0 {
			point = MaxNumShadowPointLights
		}
		opts = append(opts, WithMaxShadowLights(spot, point))
	}
	return opts, nil
}
