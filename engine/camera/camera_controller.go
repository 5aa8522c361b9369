package camera

import "github.com/go-gl/mathgl/mgl32"

// CameraController orbits a camera around a target. The eye sits at Radius from the target
// in the direction given by Azimuth (around +Y, 0 towards +Z) and Elevation (above the XZ
// plane). A Camera with an attached controller copies Position and Target on Update.
//
// Controllers are safe for concurrent use.
type CameraController interface {
	// Position returns the world-space eye position.
	//
	// Returns:
	//   - mgl32.Vec3: the eye position
	Position() mgl32.Vec3

	// Target returns the world-space pivot the eye looks at.
	//
	// Returns:
	//   - mgl32.Vec3: the pivot
	Target() mgl32.Vec3

	// SetTarget moves the pivot and keeps the orbit angles and radius.
	//
	// Parameters:
	//   - target: the new pivot
	SetTarget(target mgl32.Vec3)

	// Orbit turns the eye around the pivot. Elevation is clamped to the elevation bounds.
	//
	// Parameters:
	//   - dAzimuth: azimuth change in radians
	//   - dElevation: elevation change in radians
	Orbit(dAzimuth, dElevation float32)

	// Zoom moves the eye towards the pivot by delta times the zoom speed. The radius is
	// clamped to the radius bounds.
	//
	// Parameters:
	//   - delta: positive zooms in
	Zoom(delta float32)

	// Pan moves the eye and the pivot together along the camera axes, each delta scaled by
	// the pan speed.
	//
	// Parameters:
	//   - right: movement along the camera right axis
	//   - up: movement along the camera up axis
	//   - forward: movement along the view direction
	Pan(right, up, forward float32)

	Radius() float32
	SetRadius(radius float32)
	Azimuth() float32
	Elevation() float32

	// MouseSensitivity returns the radians per pixel of mouse-driven orbits.
	MouseSensitivity() float32
}
