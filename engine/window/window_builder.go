package window

import (
	"cmp"

	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"go.uber.org/zap"
)

// WindowBuilderOption is a functional option for configuring a window.
type WindowBuilderOption func(w *engineWindow)

// WithTitle sets the window title.
func WithTitle(title string) WindowBuilderOption {
	return func(w *engineWindow) {
		w.title = title
	}
}

// WithSize sets the requested framebuffer size. The size is clamped to the size limits,
// and high-DPI displays may report a larger framebuffer once the window is open.
//
// Parameters:
//   - width: width in pixels
//   - height: height in pixels
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithSize(width, height int) WindowBuilderOption {
	return func(w *engineWindow) {
		w.width, w.height = width, height
	}
}

// WithMinSize sets the smallest size the user can resize the window to.
func WithMinSize(width, height int) WindowBuilderOption {
	return func(w *engineWindow) {
		w.minWidth, w.minHeight = width, height
	}
}

// WithMaxSize sets the largest size the user can resize the window to.
func WithMaxSize(width, height int) WindowBuilderOption {
	return func(w *engineWindow) {
		w.maxWidth, w.maxHeight = width, height
	}
}

// WithConfig applies the title and size of the window configuration. Empty and
// non-positive values keep the defaults.
//
// Parameters:
//   - cfg: the window settings
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithConfig(cfg config.Window) WindowBuilderOption {
	return func(w *engineWindow) {
		w.title = cmp.Or(cfg.Title, w.title)
		w.width = cmp.Or(max(cfg.Width, 0), w.width)
		w.height = cmp.Or(max(cfg.Height, 0), w.height)
	}
}

// WithLogger sets the window logger.
func WithLogger(log *zap.Logger) WindowBuilderOption {
	return func(w *engineWindow) {
		w.log = log
	}
}
