package window

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// glfwWindow is the glfw side of an engineWindow.
type glfwWindow struct {
	window *glfw.Window
}

// openPlatformWindow creates the glfw window without a client API, since WebGPU owns the
// surface, and routes its events into w.
func openPlatformWindow(w *engineWindow) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("failed to initialize glfw: %w", err)
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)

	win, err := glfw.CreateWindow(w.width, w.height, w.title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return fmt.Errorf("failed to create glfw window: %w", err)
	}
	win.SetSizeLimits(w.minWidth, w.minHeight, w.maxWidth, w.maxHeight)

	win.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		switch action {
		case glfw.Press:
			w.keyEvent(Key(key), true)
		case glfw.Release:
			w.keyEvent(Key(key), false)
		}
	})
	win.SetScrollCallback(func(_ *glfw.Window, _, yoff float64) {
		w.scrollEvent(float32(yoff))
	})
	win.SetMouseButtonCallback(func(gw *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
		if action == glfw.Repeat {
			return
		}
		x, y := gw.GetCursorPos()
		w.mouseButtonEvent(MouseButton(button), action == glfw.Press, int32(x), int32(y))
	})
	win.SetCursorPosCallback(func(_ *glfw.Window, x, y float64) {
		w.mouseMoveEvent(int32(x), int32(y))
	})

	// The framebuffer size is in pixels, which differs from the window size on high-DPI
	// displays. The surface needs pixels.
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.setSize(width, height)
	})
	fbWidth, fbHeight := win.GetFramebufferSize()
	w.width, w.height = fbWidth, fbHeight

	w.platform = &glfwWindow{window: win}
	return nil
}

func (g *glfwWindow) surfaceDescriptor() *wgpu.SurfaceDescriptor {
	return wgpuglfw.GetSurfaceDescriptor(g.window)
}

func (g *glfwWindow) shouldClose() bool {
	return g.window.ShouldClose()
}

func (g *glfwWindow) poll() {
	glfw.PollEvents()
}

func (g *glfwWindow) destroy() {
	g.window.SetShouldClose(true)
	g.window.Destroy()
	glfw.Terminate()
}
