package camera

import (
	"sync"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

type orbitController struct {
	mu sync.Mutex

	target    mgl32.Vec3
	position  mgl32.Vec3
	radius    float32
	azimuth   float32
	elevation float32

	minRadius, maxRadius       float32
	minElevation, maxElevation float32

	mouseSensitivity float32
	zoomSpeed        float32
	panSpeed         float32
}

var _ CameraController = &orbitController{}

// NewCameraController creates an orbit controller. The defaults frame the demo stage:
// 30 units from the origin, 30 degrees above the ground.
//
// Parameters:
//   - options: functional options to configure the controller
//
// Returns:
//   - CameraController: the controller
func NewCameraController(options ...CameraControllerOption) CameraController {
	cc := &orbitController{
		radius:           30,
		elevation:        math32.Pi / 6,
		minRadius:        2,
		maxRadius:        400,
		minElevation:     -math32.Pi/2 + 0.1,
		maxElevation:     math32.Pi/2 - 0.1,
		mouseSensitivity: 0.005,
		zoomSpeed:        2,
		panSpeed:         0.5,
	}
	for _, option := range options {
		option(cc)
	}
	cc.radius = mgl32.Clamp(cc.radius, cc.minRadius, cc.maxRadius)
	cc.elevation = mgl32.Clamp(cc.elevation, cc.minElevation, cc.maxElevation)
	cc.place()
	return cc
}

// place puts the eye on the orbit sphere. Caller must hold the mutex.
func (cc *orbitController) place() {
	dir := common.Polar{Theta: math32.Pi/2 - cc.elevation, Rho: cc.azimuth}.Vec()
	cc.position = cc.target.Add(dir.Mul(cc.radius))
}

func (cc *orbitController) Position() mgl32.Vec3 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.position
}

func (cc *orbitController) Target() mgl32.Vec3 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.target
}

func (cc *orbitController) SetTarget(target mgl32.Vec3) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.target = target
	cc.place()
}

func (cc *orbitController) Orbit(dAzimuth, dElevation float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.azimuth = math32.Mod(cc.azimuth+dAzimuth, 2*math32.Pi)
	cc.elevation = mgl32.Clamp(cc.elevation+dElevation, cc.minElevation, cc.maxElevation)
	cc.place()
}

func (cc *orbitController) Zoom(delta float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.radius = mgl32.Clamp(cc.radius-delta*cc.zoomSpeed, cc.minRadius, cc.maxRadius)
	cc.place()
}

func (cc *orbitController) Pan(right, up, forward float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	// The view axes match mgl32.LookAtV with +Y up. The eye never sits on the pole
	// because elevation is clamped short of it.
	back := cc.position.Sub(cc.target).Normalize()
	r := mgl32.Vec3{0, 1, 0}.Cross(back).Normalize()
	u := back.Cross(r)
	offset := r.Mul(right).Add(u.Mul(up)).Sub(back.Mul(forward)).Mul(cc.panSpeed)
	cc.target = cc.target.Add(offset)
	cc.position = cc.position.Add(offset)
}

func (cc *orbitController) Radius() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.radius
}

func (cc *orbitController) SetRadius(radius float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.radius = mgl32.Clamp(radius, cc.minRadius, cc.maxRadius)
	cc.place()
}

func (cc *orbitController) Azimuth() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.azimuth
}

func (cc *orbitController) Elevation() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.elevation
}

func (cc *orbitController) MouseSensitivity() float32 {
	return cc.mouseSensitivity
}
