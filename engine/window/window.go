package window

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/nebula-go/engine/logger"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// ErrClosed is returned by Close when the window was never opened or is already closed.
var ErrClosed = errors.New("window is closed")

// Window is the viewer surface. It owns the platform window, translates platform input
// into Key and MouseButton events and reports framebuffer resizes.
//
// Callbacks run on the goroutine that calls ProcessMessages.
type Window interface {
	// SetUpdateCallback sets the function called after each batch of events.
	//
	// Parameters:
	//   - callback: function to call (or nil to disable)
	SetUpdateCallback(callback func())

	// SetResizeCallback sets the function called when the framebuffer size changes.
	//
	// Parameters:
	//   - callback: function receiving the new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// SetScrollCallback sets the callback for vertical scroll events.
	//
	// Parameters:
	//   - callback: function receiving the scroll delta, positive away from the user
	SetScrollCallback(callback func(delta float32))

	// SetKeyCallback sets the callback for key presses and releases. Auto-repeat is not
	// reported.
	//
	// Parameters:
	//   - callback: function receiving the key and whether it went down
	SetKeyCallback(callback func(key Key, pressed bool))

	// SetMouseButtonCallback sets the callback for mouse button presses and releases.
	//
	// Parameters:
	//   - callback: function receiving the button, whether it went down and the cursor position
	SetMouseButtonCallback(callback func(button MouseButton, pressed bool, x, y int32))

	// SetMouseMoveCallback sets the callback for cursor movement.
	//
	// Parameters:
	//   - callback: function receiving the cursor position in pixels
	SetMouseMoveCallback(callback func(x, y int32))

	// SurfaceDescriptor returns the WebGPU surface descriptor of the window.
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the platform surface descriptor, or nil once closed
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// IsRunning reports whether the window is open and has not been asked to close.
	IsRunning() bool

	// RequestClose asks ProcessMessages to return after the current batch of events.
	// Safe to call from any goroutine.
	RequestClose()

	// Close destroys the platform window.
	//
	// Returns:
	//   - error: ErrClosed if the window is already closed
	Close() error

	// ProcessMessages polls events until the window closes.
	ProcessMessages()

	// Width returns the framebuffer width in pixels.
	Width() int

	// Height returns the framebuffer height in pixels.
	Height() int
}

// engineWindow is the implementation of the Window interface.
type engineWindow struct {
	log *zap.Logger

	title     string
	minWidth  int
	minHeight int
	maxWidth  int
	maxHeight int

	mu     sync.Mutex
	width  int
	height int

	closeRequested sync.Once
	closeCh        chan struct{}

	// platform holds the glfw window, nil until opened and after Close.
	platform *glfwWindow

	onUpdate      func()
	onResize      func(width, height int)
	onScroll      func(delta float32)
	onKey         func(key Key, pressed bool)
	onMouseButton func(button MouseButton, pressed bool, x, y int32)
	onMouseMove   func(x, y int32)
}

var _ Window = &engineWindow{}

// NewWindow creates and shows a platform window. The calling goroutine becomes the
// window goroutine and must be the one that calls ProcessMessages.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the window
//   - error: an error if the platform window cannot be created
func NewWindow(options ...WindowBuilderOption) (Window, error) {
	w := newEngineWindow(options...)
	runtime.LockOSThread()
	if err := openPlatformWindow(w); err != nil {
		return nil, fmt.Errorf("failed to create platform window: %w", err)
	}
	w.log.Info("window created", zap.String("title", w.title), zap.Int("width", w.width), zap.Int("height", w.height))
	return w, nil
}

// newEngineWindow applies the defaults and options and clamps the size to the limits.
func newEngineWindow(options ...WindowBuilderOption) *engineWindow {
	w := &engineWindow{
		title:     "Nebula",
		maxWidth:  7680,
		maxHeight: 4320,
		minWidth:  600,
		minHeight: 200,
		width:     1280,
		height:    720,
		closeCh:   make(chan struct{}),
	}
	for _, opt := range options {
		opt(w)
	}
	w.log = logger.OrNop(w.log).Named("window")
	w.width = min(max(w.width, w.minWidth), w.maxWidth)
	w.height = min(max(w.height, w.minHeight), w.maxHeight)
	return w
}

func (w *engineWindow) SetUpdateCallback(callback func()) {
	w.onUpdate = callback
}

func (w *engineWindow) SetResizeCallback(callback func(width, height int)) {
	w.onResize = callback
}

func (w *engineWindow) SetScrollCallback(callback func(delta float32)) {
	w.onScroll = callback
}

func (w *engineWindow) SetKeyCallback(callback func(key Key, pressed bool)) {
	w.onKey = callback
}

func (w *engineWindow) SetMouseButtonCallback(callback func(button MouseButton, pressed bool, x, y int32)) {
	w.onMouseButton = callback
}

func (w *engineWindow) SetMouseMoveCallback(callback func(x, y int32)) {
	w.onMouseMove = callback
}

func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	if w.platform == nil {
		return nil
	}
	return w.platform.surfaceDescriptor()
}

func (w *engineWindow) IsRunning() bool {
	select {
	case <-w.closeCh:
		return false
	default:
	}
	return w.platform != nil && !w.platform.shouldClose()
}

func (w *engineWindow) RequestClose() {
	w.closeRequested.Do(func() {
		close(w.closeCh)
	})
}

func (w *engineWindow) Close() error {
	if w.platform == nil {
		return ErrClosed
	}
	w.RequestClose()
	w.platform.destroy()
	w.platform = nil
	w.log.Debug("window closed")
	return nil
}

func (w *engineWindow) ProcessMessages() {
	for w.IsRunning() {
		w.platform.poll()
		if w.onUpdate != nil {
			w.onUpdate()
		}
		runtime.Gosched()
	}
}

func (w *engineWindow) Width() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width
}

func (w *engineWindow) Height() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.height
}

// setSize records a framebuffer size and forwards it to the resize callback.
func (w *engineWindow) setSize(width, height int) {
	w.mu.Lock()
	changed := w.width != width || w.height != height
	w.width, w.height = width, height
	w.mu.Unlock()
	if !changed {
		return
	}
	w.log.Debug("framebuffer resized", zap.Int("width", width), zap.Int("height", height))
	if w.onResize != nil {
		w.onResize(width, height)
	}
}

func (w *engineWindow) keyEvent(key Key, pressed bool) {
	if w.onKey != nil {
		w.onKey(key, pressed)
	}
}

func (w *engineWindow) mouseButtonEvent(button MouseButton, pressed bool, x, y int32) {
	if w.onMouseButton != nil {
		w.onMouseButton(button, pressed, x, y)
	}
}

func (w *engineWindow) mouseMoveEvent(x, y int32) {
	if w.onMouseMove != nil {
		w.onMouseMove(x, y)
	}
}

func (w *engineWindow) scrollEvent(delta float32) {
	if w.onScroll != nil {
		w.onScroll(delta)
	}
}
