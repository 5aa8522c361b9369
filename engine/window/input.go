package window

import "strconv"

// Key identifies a keyboard key. Values follow glfw, which uses ASCII for printable keys.
type Key uint32

const (
	KeySpace     Key = 32
	Key0         Key = 48
	Key1         Key = 49
	Key2         Key = 50
	Key3         Key = 51
	Key4         Key = 52
	Key5         Key = 53
	Key6         Key = 54
	Key7         Key = 55
	Key8         Key = 56
	Key9         Key = 57
	KeyA         Key = 65
	KeyB         Key = 66
	KeyC         Key = 67
	KeyD         Key = 68
	KeyE         Key = 69
	KeyF         Key = 70
	KeyG         Key = 71
	KeyL         Key = 76
	KeyM         Key = 77
	KeyP         Key = 80
	KeyQ         Key = 81
	KeyS         Key = 83
	KeyT         Key = 84
	KeyV         Key = 86
	KeyW         Key = 87
	KeyX         Key = 88
	KeyEscape    Key = 256
	KeyBackspace Key = 259
	KeyLeftShift Key = 340
)

var keyNames = map[Key]string{
	KeySpace:     "Space",
	KeyEscape:    "Escape",
	KeyBackspace: "Backspace",
	KeyLeftShift: "LeftShift",
}

// String returns the printable character of k, or its name for the named keys.
func (k Key) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	if (k >= Key0 && k <= Key9) || (k >= KeyA && k <= 90) {
		return string(rune(k))
	}
	return "Key(" + strconv.FormatUint(uint64(k), 10) + ")"
}

// MouseButton identifies a mouse button. Values follow glfw.
type MouseButton int

const (
	MouseButtonLeft MouseButton = iota
	MouseButtonRight
	MouseButtonMiddle
)
