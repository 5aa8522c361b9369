package camera

import (
	"sync"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/go-gl/mathgl/mgl32"
)

type cameraImpl struct {
	mu sync.Mutex

	up mgl32.Vec3

	fov    float32
	aspect float32
	near   float32
	far    float32

	position mgl32.Vec3
	target   mgl32.Vec3

	viewMatrix              mgl32.Mat4
	projectionMatrix        mgl32.Mat4
	viewProjectionMatrix    mgl32.Mat4
	inverseViewMatrix       mgl32.Mat4
	inverseProjectionMatrix mgl32.Mat4

	controller CameraController
}

// Camera is a perspective camera looking from Position at Target. With a CameraController
// attached, Update copies the eye and pivot from the controller. Projections map depth to the
// WebGPU [0, 1] range. A Camera is safe for concurrent use.
type Camera interface {
	// Projection parameters. Fov is vertical and in radians; Aspect is width over height.
	Up() mgl32.Vec3
	Fov() float32
	Aspect() float32
	Near() float32
	Far() float32

	// Position returns the world-space eye position.
	//
	// Returns:
	//   - mgl32.Vec3: the eye position
	Position() mgl32.Vec3

	// Target returns the world-space look-at point.
	//
	// Returns:
	//   - mgl32.Vec3: the look-at point
	Target() mgl32.Vec3

	// ViewMatrix returns the world to view transform.
	//
	// Returns:
	//   - mgl32.Mat4: the view matrix
	ViewMatrix() mgl32.Mat4

	// ProjectionMatrix returns the view to clip transform.
	//
	// Returns:
	//   - mgl32.Mat4: the projection matrix
	ProjectionMatrix() mgl32.Mat4

	// ViewProjectionMatrix returns the world to clip transform.
	//
	// Returns:
	//   - mgl32.Mat4: the combined view-projection matrix
	ViewProjectionMatrix() mgl32.Mat4

	// InverseProjectionMatrix returns the clip to view transform. The screen-space passes
	// use it to rebuild view positions from depth.
	//
	// Returns:
	//   - mgl32.Mat4: the inverse projection matrix
	InverseProjectionMatrix() mgl32.Mat4

	// Transform returns the camera to world transform.
	//
	// Returns:
	//   - mgl32.Mat4: the inverse of the view matrix
	Transform() mgl32.Mat4

	// Data returns a snapshot of the camera for one frame.
	//
	// Returns:
	//   - framegraph.CameraData: the matrices and projection parameters
	Data() framegraph.CameraData

	// Controller returns the attached controller, or nil.
	Controller() CameraController

	// Update pulls the eye and pivot from the controller and recomputes the matrices. The
	// view calls it once per frame. It is a no-op without a controller.
	Update()

	// LookAt places the camera at eye, looking at target, and recomputes the matrices.
	// An attached controller overrides this at the next Update.
	//
	// Parameters:
	//   - eye: the eye position
	//   - target: the look-at point
	LookAt(eye, target mgl32.Vec3)

	// Setters of the projection parameters. Each recomputes the matrices.
	SetUp(up mgl32.Vec3)
	SetFov(fov float32)
	SetAspect(aspect float32)
	SetNear(near float32)
	SetFar(far float32)

	// SetController attaches ctrl, or detaches the current controller when ctrl is nil.
	SetController(ctrl CameraController)
}

var _ Camera = &cameraImpl{}

// NewCamera creates a camera at (0, 0, 10) looking at the origin with a 45 degree field of
// view and clip planes at 0.1 and 500.
//
// Parameters:
//   - options: functional options such as WithLookAt, WithWindowSize and WithController
//
// Returns:
//   - Camera: the camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		up:       mgl32.Vec3{0, 1, 0},
		fov:      mgl32.DegToRad(45),
		aspect:   1.0,
		near:     0.1,
		far:      500.0,
		position: mgl32.Vec3{0, 0, 10},
	}
	for _, option := range options {
		option(c)
	}
	c.pullController()
	c.updateMatrices()
	return c
}

func (c *cameraImpl) Up() mgl32.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

func (c *cameraImpl) Fov() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}

func (c *cameraImpl) Aspect() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aspect
}

func (c *cameraImpl) Near() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.near
}

func (c *cameraImpl) Far() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.far
}

func (c *cameraImpl) Position() mgl32.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *cameraImpl) Target() mgl32.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *cameraImpl) ViewMatrix() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewMatrix
}

func (c *cameraImpl) ProjectionMatrix() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectionMatrix
}

func (c *cameraImpl) ViewProjectionMatrix() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewProjectionMatrix
}

func (c *cameraImpl) InverseProjectionMatrix() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inverseProjectionMatrix
}

func (c *cameraImpl) Transform() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inverseViewMatrix
}

func (c *cameraImpl) Data() framegraph.CameraData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return framegraph.CameraData{
		View:           c.viewMatrix,
		Projection:     c.projectionMatrix,
		ViewProjection: c.viewProjectionMatrix,
		InvView:        c.inverseViewMatrix,
		InvProjection:  c.inverseProjectionMatrix,
		Position:       c.position,
		FovY:           c.fov,
		Aspect:         c.aspect,
		Near:           c.near,
		Far:            c.far,
	}
}

func (c *cameraImpl) Controller() CameraController {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

func (c *cameraImpl) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller == nil {
		return
	}
	c.pullController()
	c.updateMatrices()
}

func (c *cameraImpl) LookAt(eye, target mgl32.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position, c.target = eye, target
	c.updateMatrices()
}

func (c *cameraImpl) SetUp(up mgl32.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.up = up
	c.updateMatrices()
}

func (c *cameraImpl) SetFov(fov float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fov = fov
	c.updateMatrices()
}

func (c *cameraImpl) SetAspect(aspect float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
	c.updateMatrices()
}

func (c *cameraImpl) SetNear(near float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.near = near
	c.updateMatrices()
}

func (c *cameraImpl) SetFar(far float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.far = far
	c.updateMatrices()
}

func (c *cameraImpl) SetController(ctrl CameraController) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controller = ctrl
}

// pullController copies the controller's position and target. Caller must hold the mutex.
func (c *cameraImpl) pullController() {
	if c.controller == nil {
		return
	}
	c.position = c.controller.Position()
	c.target = c.controller.Target()
}

// updateMatrices recalculates every derived matrix. A degenerate eye/target pair keeps the
// previous view. Caller must hold the mutex.
func (c *cameraImpl) updateMatrices() {
	if c.position.Sub(c.target).Len() > 1e-6 {
		c.viewMatrix = mgl32.LookAtV(c.position, c.target, c.up)
	} else if c.viewMatrix == (mgl32.Mat4{}) {
		c.viewMatrix = mgl32.Translate3D(-c.position[0], -c.position[1], -c.position[2])
	}
	c.projectionMatrix = common.Perspective(c.fov, c.aspect, c.near, c.far)
	c.viewProjectionMatrix = c.projectionMatrix.Mul4(c.viewMatrix)
	c.inverseViewMatrix = c.viewMatrix.Inv()
	c.inverseProjectionMatrix = c.projectionMatrix.Inv()
}
