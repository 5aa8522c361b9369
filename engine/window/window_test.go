package window

import (
	"testing"

	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"github.com/stretchr/testify/assert"
)

func TestWindowDefaults(t *testing.T) {
	w := newEngineWindow()
	assert.Equal(t, "Nebula", w.title)
	assert.Equal(t, 1280, w.Width())
	assert.Equal(t, 720, w.Height())
	assert.NotNil(t, w.log)
}

func TestWithConfigKeepsDefaultsForZeroValues(t *testing.T) {
	w := newEngineWindow(WithConfig(config.Window{Width: 1024}))
	assert.Equal(t, "Nebula", w.title)
	assert.Equal(t, 1024, w.Width())
	assert.Equal(t, 720, w.Height())

	w = newEngineWindow(WithConfig(config.Window{Title: "Viewer", Width: -5, Height: 900}))
	assert.Equal(t, "Viewer", w.title)
	assert.Equal(t, 1280, w.Width())
	assert.Equal(t, 900, w.Height())
}

func TestSizeIsClampedToLimits(t *testing.T) {
	w := newEngineWindow(
		WithSize(100, 5000),
		WithMinSize(640, 200),
		WithMaxSize(3840, 2160),
	)
	assert.Equal(t, 640, w.Width())
	assert.Equal(t, 2160, w.Height())
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "W", KeyW.String())
	assert.Equal(t, "3", Key3.String())
	assert.Equal(t, "Escape", KeyEscape.String())
	assert.Equal(t, "Key(300)", Key(300).String())
}

func TestEventsReachCallbacks(t *testing.T) {
	w := newEngineWindow()

	var keys []string
	w.SetKeyCallback(func(k Key, pressed bool) {
		if pressed {
			keys = append(keys, k.String())
		}
	})
	var button MouseButton = -1
	w.SetMouseButtonCallback(func(b MouseButton, pressed bool, _, _ int32) {
		if pressed {
			button = b
		}
	})
	var sizes [][2]int
	w.SetResizeCallback(func(width, height int) {
		sizes = append(sizes, [2]int{width, height})
	})

	w.keyEvent(KeyG, true)
	w.keyEvent(KeyG, false)
	w.mouseButtonEvent(MouseButtonMiddle, true, 4, 5)
	w.setSize(800, 600)
	w.setSize(800, 600)

	assert.Equal(t, []string{"G"}, keys)
	assert.Equal(t, MouseButtonMiddle, button)
	assert.Equal(t, [][2]int{{800, 600}}, sizes)
	assert.Equal(t, 800, w.Width())
}

func TestCloseBeforeOpen(t *testing.T) {
	w := newEngineWindow()
	assert.ErrorIs(t, w.Close(), ErrClosed)
	assert.False(t, w.IsRunning())
	assert.Nil(t, w.SurfaceDescriptor())
	w.RequestClose()
	w.RequestClose()
}
