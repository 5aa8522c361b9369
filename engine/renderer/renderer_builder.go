package renderer

import (
	"go.uber.org/zap"
)

// RecordingBackendOption is a functional option applied to a RecordingBackend during construction.
type RecordingBackendOption func(*RecordingBackend)

// WithFramesInFlight sets how many frames the simulated GPU may be working on concurrently.
// Frame f is considered complete once frame f+n begins.
//
// Parameters:
//   - n: the number of frames in flight, at least 1
//
// Returns:
//   - RecordingBackendOption: a function that applies the option to a RecordingBackend
func WithFramesInFlight(n int) RecordingBackendOption {
	return func(b *RecordingBackend) {
		b.framesInFlight = max(n, 1)
	}
}

// WithUploadMaxSize sets the value reported by BufferUploadMaxSize.
//
// Parameters:
//   - size: the maximum size in bytes of a single upload
//
// Returns:
//   - RecordingBackendOption: a function that applies the option to a RecordingBackend
func WithUploadMaxSize(size uint64) RecordingBackendOption {
	return func(b *RecordingBackend) {
		if size > 0 {
			b.uploadMaxSize = size
		}
	}
}

// WithBackbufferSize sets the initial backbuffer size.
func WithBackbufferSize(width, height uint32) RecordingBackendOption {
	return func(b *RecordingBackend) {
		b.width, b.height = width, height
	}
}

// WithRecordingLogger sets the logger rejected commands are reported to at debug level.
func WithRecordingLogger(log *zap.Logger) RecordingBackendOption {
	return func(b *RecordingBackend) {
		if log != nil {
			b.log = log
		}
	}
}
