package camera

import "github.com/go-gl/mathgl/mgl32"

// CameraControllerOption is a functional option for configuring a CameraController.
type CameraControllerOption func(*orbitController)

// WithOrbit sets the starting orbit. Radius and elevation are clamped to the bounds once
// every option has been applied.
//
// Parameters:
//   - radius: distance from the target
//   - azimuth: angle around +Y in radians, 0 looks from +Z
//   - elevation: angle above the XZ plane in radians
//
// Returns:
//   - CameraControllerOption: option function to apply
func WithOrbit(radius, azimuth, elevation float32) CameraControllerOption {
	return func(cc *orbitController) {
		cc.radius, cc.azimuth, cc.elevation = radius, azimuth, elevation
	}
}

// WithTarget sets the pivot.
func WithTarget(target mgl32.Vec3) CameraControllerOption {
	return func(cc *orbitController) {
		cc.target = target
	}
}

// WithRadiusBounds limits how close and how far the eye may get.
func WithRadiusBounds(minRadius, maxRadius float32) CameraControllerOption {
	return func(cc *orbitController) {
		cc.minRadius, cc.maxRadius = minRadius, maxRadius
	}
}

// WithElevationBounds limits the elevation in radians. Bounds at or beyond the poles make
// Pan undefined.
func WithElevationBounds(minElevation, maxElevation float32) CameraControllerOption {
	return func(cc *orbitController) {
		cc.minElevation, cc.maxElevation = minElevation, maxElevation
	}
}

// WithMouseSensitivity sets the radians per pixel of mouse-driven orbits.
func WithMouseSensitivity(sensitivity float32) CameraControllerOption {
	return func(cc *orbitController) {
		cc.mouseSensitivity = sensitivity
	}
}

// WithZoomSpeed sets the radius change per unit of Zoom.
func WithZoomSpeed(speed float32) CameraControllerOption {
	return func(cc *orbitController) {
		cc.zoomSpeed = speed
	}
}

// WithPanSpeed sets the distance per unit of Pan.
func WithPanSpeed(speed float32) CameraControllerOption {
	return func(cc *orbitController) {
		cc.panSpeed = speed
	}
}
