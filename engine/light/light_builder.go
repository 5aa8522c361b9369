package light

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// LightBuilderOption is a function that configures a Light instance during construction.
type LightBuilderOption func(*lightImpl)

// WithTransform is an option builder that sets the world transform of the light.
//
// Parameters:
//   - m: the transform; see PointTransform, SpotTransform and GlobalTransform
//
// Returns:
//   - LightBuilderOption: a function that applies the transform option to a lightImpl
func WithTransform(m mgl32.Mat4) LightBuilderOption {
	return func(l *lightImpl) {
		l.transform = m
	}
}

// WithColor is an option builder that sets the RGB color of the light.
//
// Parameters:
//   - r: the red color component
//   - g: the green color component
//   - b: the blue color component
//
// Returns:
//   - LightBuilderOption: a function that applies the color option to a lightImpl
func WithColor(r, g, b float32) LightBuilderOption {
	return func(l *lightImpl) {
		l.color = mgl32.Vec3{r, g, b}
	}
}

// WithIntensity is an option builder that sets the scalar intensity multiplier.
//
// Parameters:
//   - intensity: the intensity value
//
// Returns:
//   - LightBuilderOption: a function that applies the intensity option to a lightImpl
func WithIntensity(intensity float32) LightBuilderOption {
	return func(l *lightImpl) {
		l.intensity = intensity
	}
}

// WithConeAngles is an option builder that sets the inner and outer cone half-angles
// for spot lights. Angles are specified in degrees and clamped to [0, 89].
//
// Parameters:
//   - innerDeg: inner cone half-angle in degrees
//   - outerDeg: outer cone half-angle in degrees
//
// Returns:
//   - LightBuilderOption: a function that applies the cone option to a lightImpl
func WithConeAngles(innerDeg, outerDeg float32) LightBuilderOption {
	return func(l *lightImpl) {
		l.innerCone, l.outerCone = coneAngles(innerDeg, outerDeg)
	}
}

// WithEnabled is an option builder that sets whether the light is active for rendering.
func WithEnabled(enabled bool) LightBuilderOption {
	return func(l *lightImpl) {
		l.enabled = enabled
	}
}

// WithCastShadows is an option builder that sets whether the light requests a shadow map.
//
// Parameters:
//   - castShadows: true to request shadow casting
//
// Returns:
//   - LightBuilderOption: a function that applies the shadow casting option to a lightImpl
func WithCastShadows(castShadows bool) LightBuilderOption {
	return func(l *lightImpl) {
		l.castShadows = castShadows
	}
}

// WithAmbientColor sets the ambient term of a global light.
func WithAmbientColor(r, g, b float32) LightBuilderOption {
	return func(l *lightImpl) {
		l.ambientColor = mgl32.Vec3{r, g, b}
	}
}

// WithBacklight sets the back-light color and wrap offset of a global light.
func WithBacklight(color mgl32.Vec3, offset float32) LightBuilderOption {
	return func(l *lightImpl) {
		l.backlightColor, l.backlightOffset = color, offset
	}
}

// PointTransform places a point light at position with the given range.
func PointTransform(position mgl32.Vec3, lightRange float32) mgl32.Mat4 {
	return mgl32.Translate3D(position[0], position[1], position[2]).
		Mul4(mgl32.Scale3D(lightRange, lightRange, lightRange))
}

// SpotTransform places a spot light at position shining towards target.
//
// Parameters:
//   - position: the apex of the cone
//   - target: a point on the cone axis
//   - lightRange: the length of the cone
//
// Returns:
//   - mgl32.Mat4: the transform, with -z towards target and a z axis of length lightRange
func SpotTransform(position, target mgl32.Vec3, lightRange float32) mgl32.Mat4 {
	return lookTowards(position, target.Sub(position)).Mul4(mgl32.Scale3D(1, 1, lightRange))
}

// GlobalTransform orients a global light so it shines along direction.
func GlobalTransform(direction mgl32.Vec3) mgl32.Mat4 {
	return lookTowards(mgl32.Vec3{}, direction)
}

// lookTowards returns a camera-to-world transform at eye looking along dir.
func lookTowards(eye, dir mgl32.Vec3) mgl32.Mat4 {
	if dir.Len() == 0 {
		dir = mgl32.Vec3{0, 0, -1}
	}
	dir = dir.Normalize()
	up := mgl32.Vec3{0, 1, 0}
	if math32.Abs(dir.Dot(up)) > 0.999 {
		up = mgl32.Vec3{0, 0, 1}
	}
	return mgl32.LookAtV(eye, eye.Add(dir), up).Inv()
}
