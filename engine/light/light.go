package light

import (
	"sync"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// LightType identifies the kind of light source.
type LightType int

const (
	// LightTypeGlobal represents the single directional light of a stage, such as the sun.
	// It has no position and no attenuation. It shades with a fullscreen pass and casts
	// cascaded shadows.
	LightTypeGlobal LightType = iota

	// LightTypePoint represents a light that emits in all directions from a position.
	// Its range is the length of the transform's z axis. It shades with a sphere volume and
	// casts cube shadows.
	LightTypePoint

	// LightTypeSpot represents a light that emits in a cone along the transform's -z axis.
	// Its range is the length of the z axis. It shades with a cone volume and casts a
	// shadow into one tile of the spot shadow atlas.
	LightTypeSpot
)

func (t LightType) String() string {
	switch t {
	case LightTypeGlobal:
		return "Global"
	case LightTypePoint:
		return "Point"
	case LightTypeSpot:
		return "Spot"
	}
	return "Unknown"
}

// NoShadowSlot is the slot of a light that has no shadow map this frame.
const NoShadowSlot = -1

// Defaults applied by NewLight.
const (
	DefaultRange          float32 = 10
	DefaultInnerConeAngle float32 = 25
	DefaultOuterConeAngle float32 = 35
	DefaultShadowNear     float32 = 0.1
)

// CascadeData is the cascaded shadow state of the global light for one frame. It is filled by
// the shadow server and read by the light server.
type CascadeData struct {
	// Offsets and Scales map a light-view position into the texel region of each cascade.
	Offsets [4]mgl32.Vec4
	Scales  [4]mgl32.Vec4

	// Distances are the far distances of the cascades.
	Distances mgl32.Vec4

	// Partition holds the min and max border padding, the partition size and the cascade count.
	Partition mgl32.Vec4

	// ShadowView is the world to light-view transform the cascades were fit in.
	ShadowView mgl32.Mat4
}

// lightImpl is the implementation of the Light interface.
type lightImpl struct {
	mu sync.RWMutex

	lightType LightType
	transform mgl32.Mat4
	color     mgl32.Vec3
	intensity float32
	innerCone float32 // radians
	outerCone float32 // radians
	enabled   bool

	castShadows          bool
	castShadowsThisFrame bool
	shadowIntensity      float32
	shadowTransform      mgl32.Mat4
	shadowOverride       bool
	shadowUvOffsetScale  mgl32.Vec4
	shadowSlot           int

	ambientColor    mgl32.Vec3
	backlightColor  mgl32.Vec3
	backlightOffset float32
	cascades        CascadeData
}

// Light defines the interface for a light source of a stage.
//
// Lights are placed by a transform. The z axis of the transform carries the range of local
// lights; spot lights and the global light shine along -z. Shadow state is split in two:
// CastShadows is the static request of the light, CastShadowsThisFrame and everything after it
// in this interface is written by the shadow server every frame.
type Light interface {
	// Type returns the kind of light source.
	//
	// Returns:
	//   - LightType: the light type (global, point or spot)
	Type() LightType

	// Transform returns the world transform of the light.
	//
	// Returns:
	//   - mgl32.Mat4: the transform, with the range in the length of the z axis
	Transform() mgl32.Mat4

	// SetTransform places the light.
	//
	// Parameters:
	//   - m: the world transform
	SetTransform(m mgl32.Mat4)

	// Position returns the world-space position of the light. Meaningless for the global light.
	//
	// Returns:
	//   - mgl32.Vec3: the translation of the transform
	Position() mgl32.Vec3

	// Forward returns the normalized direction the light shines in.
	//
	// Returns:
	//   - mgl32.Vec3: the normalized -z axis of the transform
	Forward() mgl32.Vec3

	// Range returns the attenuation distance of a local light.
	//
	// Returns:
	//   - float32: the length of the transform's z axis
	Range() float32

	// Color returns the RGB color of the light.
	//
	// Returns:
	//   - mgl32.Vec3: the color
	Color() mgl32.Vec3

	// SetColor sets the RGB color of the light.
	//
	// Parameters:
	//   - c: the color
	SetColor(c mgl32.Vec3)

	// Intensity returns the scalar intensity multiplier for the light.
	//
	// Returns:
	//   - float32: the intensity value
	Intensity() float32

	// SetIntensity sets the scalar intensity multiplier.
	//
	// Parameters:
	//   - intensity: the intensity value
	SetIntensity(intensity float32)

	// ConeAngles returns the inner and outer cone half-angles of a spot light in radians.
	//
	// Returns:
	//   - float32: the inner half-angle
	//   - float32: the outer half-angle
	ConeAngles() (float32, float32)

	// SetConeAngles sets the cone half-angles of a spot light.
	//
	// Parameters:
	//   - innerDeg: inner cone half-angle in degrees
	//   - outerDeg: outer cone half-angle in degrees
	SetConeAngles(innerDeg, outerDeg float32)

	// Enabled returns whether this light is active for rendering.
	Enabled() bool

	// SetEnabled enables or disables the light.
	SetEnabled(enabled bool)

	// CastShadows returns whether this light requests a shadow map.
	CastShadows() bool

	// SetCastShadows sets whether the light requests a shadow map.
	SetCastShadows(castShadows bool)

	// CastShadowsThisFrame returns whether the light has a shadow map in the current frame.
	CastShadowsThisFrame() bool

	// SetCastShadowsThisFrame grants or revokes the shadow map of the current frame.
	SetCastShadowsThisFrame(v bool)

	// ShadowIntensity returns how strongly the shadow map darkens the light, in [0, 1].
	ShadowIntensity() float32

	// SetShadowIntensity sets the shadow strength. Values are clamped to [0, 1].
	SetShadowIntensity(v float32)

	// ShadowTransform returns the transform the shadow map is rendered from. It equals
	// Transform unless an override is set.
	//
	// Returns:
	//   - mgl32.Mat4: the shadow transform
	ShadowTransform() mgl32.Mat4

	// SetShadowTransform overrides the shadow transform for the current frame.
	//
	// Parameters:
	//   - m: the transform the shadow map is rendered from
	SetShadowTransform(m mgl32.Mat4)

	// ResetShadowTransform drops the shadow transform override.
	ResetShadowTransform()

	// ShadowProjection returns the projection of the shadow map: the outer cone for spot
	// lights and one 90 degree cube face for point lights. The global light returns identity;
	// its projections belong to the cascades.
	//
	// Returns:
	//   - mgl32.Mat4: the projection with WebGPU depth
	ShadowProjection() mgl32.Mat4

	// ShadowViewProjection returns the world to shadow clip transform used to render and test
	// against the shadow map of a spot light.
	//
	// Returns:
	//   - mgl32.Mat4: ShadowProjection times the inverse of the unscaled shadow transform
	ShadowViewProjection() mgl32.Mat4

	// ShadowBufferUvOffsetAndScale returns the atlas tile of the shadow map: offset in xy,
	// scale in zw.
	ShadowBufferUvOffsetAndScale() mgl32.Vec4

	// SetShadowBufferUvOffsetAndScale sets the atlas tile of the shadow map.
	SetShadowBufferUvOffsetAndScale(v mgl32.Vec4)

	// ShadowSlot returns the shadow slot of the current frame, or NoShadowSlot.
	ShadowSlot() int

	// SetShadowSlot assigns the shadow slot of the current frame.
	SetShadowSlot(slot int)

	// AmbientColor returns the ambient term of the global light.
	AmbientColor() mgl32.Vec3

	// SetAmbientColor sets the ambient term of the global light.
	SetAmbientColor(c mgl32.Vec3)

	// Backlight returns the back-light color and the wrap offset of the global light.
	//
	// Returns:
	//   - mgl32.Vec3: the back-light color
	//   - float32: the offset added to -N.L before saturation
	Backlight() (mgl32.Vec3, float32)

	// SetBacklight sets the back-light color and offset of the global light.
	SetBacklight(c mgl32.Vec3, offset float32)

	// Cascades returns the cascaded shadow state of the global light.
	Cascades() CascadeData

	// SetCascades stores the cascaded shadow state of the global light.
	SetCascades(c CascadeData)

	// VolumeTransform returns the transform of the unit light volume mesh: a sphere scaled by
	// the range for point lights and a cone fitted to the outer angle for spot lights.
	//
	// Returns:
	//   - mgl32.Mat4: the volume transform; identity for the global light
	VolumeTransform() mgl32.Mat4
}

var _ Light = &lightImpl{}

// NewLight creates a new Light of the specified type with sensible defaults and
// any provided options applied.
//
// Parameters:
//   - lightType: the kind of light to create (global, point or spot)
//   - opts: variadic list of LightBuilderOption functions to configure the light
//
// Returns:
//   - Light: a new Light instance
func NewLight(lightType LightType, opts ...LightBuilderOption) Light {
	l := &lightImpl{
		lightType:       lightType,
		transform:       mgl32.Scale3D(DefaultRange, DefaultRange, DefaultRange),
		color:           mgl32.Vec3{1, 1, 1},
		intensity:       1,
		innerCone:       mgl32.DegToRad(DefaultInnerConeAngle),
		outerCone:       mgl32.DegToRad(DefaultOuterConeAngle),
		enabled:         true,
		shadowIntensity: 1,
		shadowSlot:      NoShadowSlot,
		ambientColor:    mgl32.Vec3{0.05, 0.05, 0.05},
	}
	if lightType == LightTypeGlobal {
		l.transform = GlobalTransform(mgl32.Vec3{0, -1, 0})
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *lightImpl) Type() LightType {
	return l.lightType
}

func (l *lightImpl) Transform() mgl32.Mat4 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.transform
}

func (l *lightImpl) SetTransform(m mgl32.Mat4) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transform = m
}

func (l *lightImpl) Position() mgl32.Vec3 {
	return common.Position(l.Transform())
}

func (l *lightImpl) Forward() mgl32.Vec3 {
	z := common.ZAxis(l.Transform())
	if z.Len() == 0 {
		return mgl32.Vec3{0, 0, -1}
	}
	return z.Normalize().Mul(-1)
}

func (l *lightImpl) Range() float32 {
	return common.ZAxis(l.Transform()).Len()
}

func (l *lightImpl) Color() mgl32.Vec3 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.color
}

func (l *lightImpl) SetColor(c mgl32.Vec3) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.color = c
}

func (l *lightImpl) Intensity() float32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.intensity
}

func (l *lightImpl) SetIntensity(intensity float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.intensity = intensity
}

func (l *lightImpl) ConeAngles() (float32, float32) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.innerCone, l.outerCone
}

func (l *lightImpl) SetConeAngles(innerDeg, outerDeg float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.innerCone, l.outerCone = coneAngles(innerDeg, outerDeg)
}

func (l *lightImpl) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled
}

func (l *lightImpl) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

func (l *lightImpl) CastShadows() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.castShadows
}

func (l *lightImpl) SetCastShadows(castShadows bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.castShadows = castShadows
}

func (l *lightImpl) CastShadowsThisFrame() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.castShadowsThisFrame
}

func (l *lightImpl) SetCastShadowsThisFrame(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.castShadowsThisFrame = v
}

func (l *lightImpl) ShadowIntensity() float32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.shadowIntensity
}

func (l *lightImpl) SetShadowIntensity(v float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shadowIntensity = common.Saturate(v)
}

func (l *lightImpl) ShadowTransform() mgl32.Mat4 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.shadowOverride {
		return l.shadowTransform
	}
	return l.transform
}

func (l *lightImpl) SetShadowTransform(m mgl32.Mat4) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shadowTransform = m
	l.shadowOverride = true
}

func (l *lightImpl) ResetShadowTransform() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shadowOverride = false
}

func (l *lightImpl) ShadowProjection() mgl32.Mat4 {
	rng := l.Range()
	switch l.lightType {
	case LightTypeSpot:
		_, outer := l.ConeAngles()
		return common.Perspective(outer*2, 1, DefaultShadowNear, max(rng, DefaultShadowNear*2))
	case LightTypePoint:
		return common.Perspective(math32.Pi/2, 1, DefaultShadowNear, max(rng, DefaultShadowNear*2))
	}
	return mgl32.Ident4()
}

func (l *lightImpl) ShadowViewProjection() mgl32.Mat4 {
	return l.ShadowProjection().Mul4(ShadowView(l.ShadowTransform()))
}

func (l *lightImpl) ShadowBufferUvOffsetAndScale() mgl32.Vec4 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.shadowUvOffsetScale
}

func (l *lightImpl) SetShadowBufferUvOffsetAndScale(v mgl32.Vec4) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shadowUvOffsetScale = v
}

func (l *lightImpl) ShadowSlot() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.shadowSlot
}

func (l *lightImpl) SetShadowSlot(slot int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shadowSlot = slot
}

func (l *lightImpl) AmbientColor() mgl32.Vec3 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ambientColor
}

func (l *lightImpl) SetAmbientColor(c mgl32.Vec3) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ambientColor = c
}

func (l *lightImpl) Backlight() (mgl32.Vec3, float32) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.backlightColor, l.backlightOffset
}

func (l *lightImpl) SetBacklight(c mgl32.Vec3, offset float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backlightColor, l.backlightOffset = c, offset
}

func (l *lightImpl) Cascades() CascadeData {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cascades
}

func (l *lightImpl) SetCascades(c CascadeData) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cascades = c
}

func (l *lightImpl) VolumeTransform() mgl32.Mat4 {
	m := l.Transform()
	rng := common.ZAxis(m).Len()
	switch l.lightType {
	case LightTypePoint:
		return mgl32.Translate3D(m[12], m[13], m[14]).Mul4(mgl32.Scale3D(rng, rng, rng))
	case LightTypeSpot:
		_, outer := l.ConeAngles()
		radius := rng * math32.Tan(outer)
		basis := Orthonormal(m)
		return common.SetPosition(basis.Mul4(mgl32.Scale3D(radius, radius, rng)), common.Position(m))
	}
	return mgl32.Ident4()
}

// Orthonormal returns the rotation and translation of m with the scale of its axes removed.
// Degenerate axes are replaced by the matching identity axis.
func Orthonormal(m mgl32.Mat4) mgl32.Mat4 {
	axes := [3]mgl32.Vec3{common.XAxis(m), common.YAxis(m), common.ZAxis(m)}
	out := mgl32.Ident4()
	for i, a := range axes {
		if l := a.Len(); l > 0 {
			a = a.Mul(1 / l)
			out[i*4], out[i*4+1], out[i*4+2] = a[0], a[1], a[2]
		}
	}
	return common.SetPosition(out, common.Position(m))
}

// ShadowView returns the world to light-view transform of a light transform.
func ShadowView(transform mgl32.Mat4) mgl32.Mat4 {
	return Orthonormal(transform).Inv()
}

func coneAngles(innerDeg, outerDeg float32) (float32, float32) {
	inner := mgl32.DegToRad(mgl32.Clamp(innerDeg, 0, 89))
	outer := mgl32.DegToRad(mgl32.Clamp(outerDeg, 0, 89))
	return min(inner, outer), outer
}
