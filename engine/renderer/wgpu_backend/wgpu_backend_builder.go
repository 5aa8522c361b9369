package wgpu_backend

import (
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// BackendOption is a functional option applied to a Backend during construction.
type BackendOption func(*Backend)

// WithPresentMode sets how frames are delivered to the display.
//
// Parameters:
//   - mode: renderer.PresentModeVSync or renderer.PresentModeUncapped
//
// Returns:
//   - BackendOption: a function that applies the option to a Backend
func WithPresentMode(mode renderer.PresentMode) BackendOption {
	return func(b *Backend) {
		switch mode {
		case renderer.PresentModeUncapped:
			b.presentMode = wgpu.PresentModeImmediate
		default:
			b.presentMode = wgpu.PresentModeFifo
		}
	}
}

// WithForceSoftwareRenderer requests the fallback (software) adapter.
func WithForceSoftwareRenderer(force bool) BackendOption {
	return func(b *Backend) {
		b.forceFallback = force
	}
}

// WithUploadMaxSize sets the value reported by BufferUploadMaxSize.
//
// Parameters:
//   - size: the maximum size in bytes of a single upload
//
// Returns:
//   - BackendOption: a function that applies the option to a Backend
func WithUploadMaxSize(size uint64) BackendOption {
	return func(b *Backend) {
		if size > 0 {
			b.uploadMaxSize = size
		}
	}
}

// WithLogger sets the logger the backend reports device setup and rejected commands to.
func WithLogger(log *zap.Logger) BackendOption {
	return func(b *Backend) {
		if log != nil {
			b.log = log.Named("wgpu")
		}
	}
}
