package common

// Rect is an integer pixel rectangle. Right and Bottom are exclusive.
type Rect struct {
	Left   int32
	Top    int32
	Right  int32
	Bottom int32
}

// NewRect creates a Rect from an origin and a size.
//
// Parameters:
//   - x, y: the top-left corner
//   - w, h: the width and height in pixels
//
// Returns:
//   - Rect: the rectangle
func NewRect(x, y, w, h int32) Rect {
	return Rect{Left: x, Top: y, Right: x + w, Bottom: y + h}
}

// Width returns the horizontal size of the rectangle.
func (r Rect) Width() int32 {
	return r.Right - r.Left
}

// Height returns the vertical size of the rectangle.
func (r Rect) Height() int32 {
	return r.Bottom - r.Top
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width() <= 0 || r.Height() <= 0
}

// Dimensions describes the size of a GPU texture.
type Dimensions struct {
	Width  uint32
	Height uint32
	Depth  uint32
}
