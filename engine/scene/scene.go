package scene

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/game_object"
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/Carmen-Shannon/nebula-go/engine/logger"
	"github.com/Carmen-Shannon/nebula-go/engine/model"
	"go.uber.org/zap"
)

// Scene is a stage: the lights and mesh instances one or more views render.
// Instances and lights live in generation-checked arenas, so a handle of a removed member is
// rejected instead of silently addressing a newer one. GameObjects added through Add register
// their instance and light and are looked up by ID.
// Thread-safe for concurrent access.
type Scene interface {
	// Name returns the scene's identifier.
	Name() string

	// Active returns whether views of this scene are rendered.
	Active() bool

	// SetActive sets whether views of this scene are rendered.
	SetActive(active bool)

	// AddInstance adds a mesh instance.
	//
	// Parameters:
	//   - inst: the instance to add
	//
	// Returns:
	//   - common.Handle: the handle to remove the instance with
	AddInstance(inst *model.ModelInstance) common.Handle

	// RemoveInstance removes an instance added by AddInstance.
	//
	// Parameters:
	//   - h: the instance handle
	//
	// Returns:
	//   - error: common.ErrInvalidHandle for an unknown or stale handle
	RemoveInstance(h common.Handle) error

	// AddLight adds a light.
	//
	// Parameters:
	//   - l: the light to add
	//
	// Returns:
	//   - common.Handle: the handle to remove the light with
	AddLight(l light.Light) common.Handle

	// RemoveLight removes a light added by AddLight.
	//
	// Parameters:
	//   - h: the light handle
	//
	// Returns:
	//   - error: common.ErrInvalidHandle for an unknown or stale handle
	RemoveLight(h common.Handle) error

	// Add registers a GameObject, its instance and its attached light. Objects without an ID
	// are assigned one.
	//
	// Parameters:
	//   - obj: the GameObject to add
	//
	// Returns:
	//   - uint64: the object ID
	Add(obj game_object.GameObject) uint64

	// Get retrieves a GameObject by its ID.
	// Returns nil if not found.
	//
	// Parameters:
	//   - id: the object's unique ID
	//
	// Returns:
	//   - game_object.GameObject: the object or nil
	Get(id uint64) game_object.GameObject

	// Remove removes a GameObject together with its instance and light.
	//
	// Parameters:
	//   - id: the object's unique ID
	//
	// Returns:
	//   - error: an error if no object has the ID
	Remove(id uint64) error

	// Count returns the number of registered GameObjects.
	Count() int

	// Clear removes every object, instance and light.
	Clear()

	// Instances returns the instances of the scene, skipping those of disabled objects.
	//
	// Returns:
	//   - []*model.ModelInstance: the instances in slot order
	Instances() []*model.ModelInstance

	// Lights returns every light of the scene, enabled or not.
	//
	// Returns:
	//   - []light.Light: the lights in slot order
	Lights() []light.Light

	// ShadowCasters returns the instances that cast shadows.
	//
	// Returns:
	//   - []*model.ModelInstance: the casters in slot order
	ShadowCasters() []*model.ModelInstance

	// GlobalBoundingBox returns the world bounds of every instance, or an empty box for an
	// empty scene.
	//
	// Returns:
	//   - common.BBox: the scene bounds
	GlobalBoundingBox() common.BBox
}

type member struct {
	inst  *model.ModelInstance
	owner game_object.GameObject
}

type registered struct {
	obj      game_object.GameObject
	instance common.Handle
	light    common.Handle
}

type scene struct {
	mu sync.Mutex

	name   string
	active bool
	log    *zap.Logger

	instances *common.Arena[member]
	lights    *common.Arena[light.Light]

	registry map[uint64]registered
	nextID   uint64
}

var _ Scene = &scene{}

// NewScene creates an empty, active scene.
//
// Parameters:
//   - name: the scene's identifier
//   - options: functional options such as WithObjects
//
// Returns:
//   - Scene: the scene
func NewScene(name string, options ...SceneBuilderOption) Scene {
	s := &scene{
		name:      name,
		active:    true,
		instances: common.NewArena[member](),
		lights:    common.NewArena[light.Light](),
		registry:  make(map[uint64]registered),
		nextID:    1,
	}
	var objects []game_object.GameObject
	for _, option := range options {
		objects = option(s, objects)
	}
	s.log = logger.OrNop(s.log).Named("scene").With(zap.String("scene", name))
	for _, obj := range objects {
		s.Add(obj)
	}
	return s
}

func (s *scene) Name() string {
	return s.name
}

func (s *scene) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *scene) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

// arenas returns the current arenas; Clear replaces them.
func (s *scene) arenas() (*common.Arena[member], *common.Arena[light.Light]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instances, s.lights
}

func (s *scene) AddInstance(inst *model.ModelInstance) common.Handle {
	instances, _ := s.arenas()
	return instances.Alloc(member{inst: inst})
}

func (s *scene) RemoveInstance(h common.Handle) error {
	instances, _ := s.arenas()
	return instances.Free(h)
}

func (s *scene) AddLight(l light.Light) common.Handle {
	_, lights := s.arenas()
	return lights.Alloc(l)
}

func (s *scene) RemoveLight(h common.Handle) error {
	_, lights := s.arenas()
	return lights.Free(h)
}

func (s *scene) Add(obj game_object.GameObject) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if obj.ID() == 0 {
		obj.SetID(s.nextID)
	}
	s.nextID = max(s.nextID, obj.ID()+1)
	if prev, ok := s.registry[obj.ID()]; ok {
		s.releaseLocked(prev)
	}

	r := registered{obj: obj}
	if inst := obj.Instance(); inst != nil {
		r.instance = s.instances.Alloc(member{inst: inst, owner: obj})
	}
	if l := obj.Light(); l != nil {
		r.light = s.lights.Alloc(l)
	}
	s.registry[obj.ID()] = r
	s.log.Debug("object added",
		zap.Uint64("id", obj.ID()),
		zap.Bool("instance", r.instance.Valid()),
		zap.Bool("light", r.light.Valid()),
	)
	return obj.ID()
}

func (s *scene) releaseLocked(r registered) {
	if r.instance.Valid() {
		_ = s.instances.Free(r.instance)
	}
	if r.light.Valid() {
		_ = s.lights.Free(r.light)
	}
}

func (s *scene) Get(id uint64) game_object.GameObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry[id].obj
}

func (s *scene) Remove(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.registry[id]
	if !ok {
		return fmt.Errorf("scene %q has no object %d", s.name, id)
	}
	s.releaseLocked(r)
	delete(s.registry, id)
	return nil
}

func (s *scene) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}

func (s *scene) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances = common.NewArena[member]()
	s.lights = common.NewArena[light.Light]()
	clear(s.registry)
}

func (s *scene) Instances() []*model.ModelInstance {
	instances, _ := s.arenas()
	var out []*model.ModelInstance
	instances.Each(func(_ common.Handle, m member) {
		if m.owner != nil && !m.owner.Enabled() {
			return
		}
		out = append(out, m.inst)
	})
	return out
}

func (s *scene) Lights() []light.Light {
	_, lights := s.arenas()
	out := make([]light.Light, 0, lights.Len())
	lights.Each(func(_ common.Handle, l light.Light) {
		out = append(out, l)
	})
	return out
}

func (s *scene) ShadowCasters() []*model.ModelInstance {
	var out []*model.ModelInstance
	for _, inst := range s.Instances() {
		if inst.CastShadows {
			out = append(out, inst)
		}
	}
	return out
}

func (s *scene) GlobalBoundingBox() common.BBox {
	box := common.EmptyBBox()
	for _, inst := range s.Instances() {
		box = box.Union(inst.WorldBounds())
	}
	return box
}
