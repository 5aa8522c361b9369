package visibility

import (
	"github.com/Carmen-Shannon/nebula-go/engine/logger"
	"go.uber.org/zap"
)

// ResolverOption configures a Resolver created by NewResolver.
type ResolverOption func(*frustumResolver)

// WithLogger sets the logger of the resolver.
func WithLogger(log *zap.Logger) ResolverOption {
	return func(r *frustumResolver) {
		r.log = logger.OrNop(log).Named("visibility")
	}
}

// WithWorkers sets the number of pool workers. Values below 1 are ignored.
func WithWorkers(n int) ResolverOption {
	return func(r *frustumResolver) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithChunkSize sets the number of instances culled per task. It never drops below MinChunkSize.
func WithChunkSize(n int) ResolverOption {
	return func(r *frustumResolver) {
		r.chunkSize = max(n, MinChunkSize)
	}
}
