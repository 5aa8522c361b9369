package game_object

import (
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/Carmen-Shannon/nebula-go/engine/model"
	"github.com/go-gl/mathgl/mgl32"
)

type gameObject struct {
	id      uint64
	enabled atomic.Bool

	mu       sync.Mutex
	instance *model.ModelInstance

	attachedLight light.Light
	// lightLocal is the light transform relative to the object, captured when the light is attached.
	lightLocal mgl32.Mat4

	position mgl32.Vec3
	rotation mgl32.Vec3
	scale    mgl32.Vec3
}

// GameObject is a stage entity: a world transform carrying an optional mesh instance and an
// optional attached light. Moving the object moves both.
type GameObject interface {
	// ID returns the object's unique identifier.
	//
	// Returns:
	//   - uint64: the object ID, 0 until a stage assigns one
	ID() uint64

	// SetID sets the object's unique identifier.
	//
	// Parameters:
	//   - id: the ID to assign
	SetID(id uint64)

	// Enabled returns whether this object is rendered.
	//
	// Returns:
	//   - bool: true if enabled
	Enabled() bool

	// SetEnabled enables or disables the object and its attached light.
	//
	// Parameters:
	//   - enabled: true to enable
	SetEnabled(enabled bool)

	// Instance returns the mesh instance of the object, or nil for a light-only object.
	//
	// Returns:
	//   - *model.ModelInstance: the instance or nil
	Instance() *model.ModelInstance

	// Light returns the attached light, or nil.
	//
	// Returns:
	//   - light.Light: the attached light or nil
	Light() light.Light

	// AttachLight attaches l to the object. The current light transform is kept as an
	// offset from the object.
	//
	// Parameters:
	//   - l: the light to attach, nil detaches the current one
	AttachLight(l light.Light)

	// Position returns the world position.
	Position() mgl32.Vec3

	// SetPosition moves the object.
	//
	// Parameters:
	//   - p: the world position
	SetPosition(p mgl32.Vec3)

	// Rotation returns the Euler rotation in radians, applied in X, Y, Z order.
	Rotation() mgl32.Vec3

	// SetRotation rotates the object.
	//
	// Parameters:
	//   - r: Euler angles in radians
	SetRotation(r mgl32.Vec3)

	// Scale returns the per-axis scale.
	Scale() mgl32.Vec3

	// SetScale scales the object.
	//
	// Parameters:
	//   - s: the per-axis scale
	SetScale(s mgl32.Vec3)

	// Transform returns the local-to-world transform built from position, rotation and scale.
	//
	// Returns:
	//   - mgl32.Mat4: the world transform
	Transform() mgl32.Mat4
}

var _ GameObject = &gameObject{}

// NewGameObject creates an enabled object at the origin with unit scale.
//
// Parameters:
//   - options: functional options such as WithMesh and WithLight
//
// Returns:
//   - GameObject: the object
func NewGameObject(options ...GameObjectBuilderOption) GameObject {
	obj := &gameObject{
		scale:      mgl32.Vec3{1, 1, 1},
		lightLocal: mgl32.Ident4(),
	}
	obj.enabled.Store(true)
	for _, option := range options {
		option(obj)
	}
	obj.mu.Lock()
	obj.syncLocked()
	obj.mu.Unlock()
	return obj
}

// syncLocked pushes the object transform to the instance and the light. Caller must hold the mutex.
func (o *gameObject) syncLocked() {
	world := o.transformLocked()
	if o.instance != nil {
		o.instance.Transform = world
	}
	if o.attachedLight != nil {
		o.attachedLight.SetTransform(world.Mul4(o.lightLocal))
	}
}

func (o *gameObject) transformLocked() mgl32.Mat4 {
	t := mgl32.Translate3D(o.position[0], o.position[1], o.position[2])
	r := mgl32.HomogRotate3DZ(o.rotation[2]).Mul4(mgl32.HomogRotate3DY(o.rotation[1])).Mul4(mgl32.HomogRotate3DX(o.rotation[0]))
	s := mgl32.Scale3D(o.scale[0], o.scale[1], o.scale[2])
	return t.Mul4(r).Mul4(s)
}

func (o *gameObject) ID() uint64 {
	return atomic.LoadUint64(&o.id)
}

func (o *gameObject) SetID(id uint64) {
	atomic.StoreUint64(&o.id, id)
}

func (o *gameObject) Enabled() bool {
	return o.enabled.Load()
}

func (o *gameObject) SetEnabled(enabled bool) {
	o.enabled.Store(enabled)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attachedLight != nil {
		o.attachedLight.SetEnabled(enabled)
	}
}

func (o *gameObject) Instance() *model.ModelInstance {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.instance
}

func (o *gameObject) Light() light.Light {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attachedLight
}

func (o *gameObject) AttachLight(l light.Light) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attachedLight = l
	if l == nil {
		return
	}
	o.lightLocal = l.Transform()
	o.syncLocked()
}

func (o *gameObject) Position() mgl32.Vec3 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.position
}

func (o *gameObject) SetPosition(p mgl32.Vec3) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.position = p
	o.syncLocked()
}

func (o *gameObject) Rotation() mgl32.Vec3 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rotation
}

func (o *gameObject) SetRotation(r mgl32.Vec3) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rotation = r
	o.syncLocked()
}

func (o *gameObject) Scale() mgl32.Vec3 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scale
}

func (o *gameObject) SetScale(s mgl32.Vec3) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scale = s
	o.syncLocked()
}

func (o *gameObject) Transform() mgl32.Mat4 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transformLocked()
}
