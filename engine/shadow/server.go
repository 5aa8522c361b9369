package shadow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/Carmen-Shannon/nebula-go/engine/model"
	"github.com/Carmen-Shannon/nebula-go/engine/posteffects"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/Carmen-Shannon/nebula-go/engine/ringbuffer"
	"github.com/Carmen-Shannon/nebula-go/engine/visibility"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// ShadowMapsCallback is the name of the frame graph callback that renders the shadow maps.
const ShadowMapsCallback = "ShadowMaps"

// Shadow map defaults.
const (
	DefaultSpotAtlasSize      = 2048
	DefaultCSMSize            = 2048
	DefaultPointSize          = 512
	DefaultMaxCastersPerLight = 1024
)

// The scene box the cascades are clamped to is the scene bounds grown by sceneBoxPadding,
// with extents of at most maxSceneBoxExtent.
const (
	sceneBoxPadding   float32 = 10
	maxSceneBoxExtent float32 = 500
)

// Scene is the source of shadow casters.
type Scene interface {
	// ShadowCasters returns every instance that may cast a shadow this frame.
	ShadowCasters() []*model.ModelInstance

	// GlobalBoundingBox returns the world bounds of the scene.
	GlobalBoundingBox() common.BBox
}

// LightSink receives the lights the shadow server settled for the frame, shadowed or not.
type LightSink interface {
	AttachVisibleLight(l light.Light)
}

// Server decides which lights cast shadows each frame and renders their shadow maps.
//
// Every frame follows BeginFrame, BeginAttachVisibleLights, AttachVisibleLight for each
// candidate, EndAttachVisibleLights, UpdateShadowBuffers and EndFrame. Calling the methods out
// of this order, or while the server is closed, is a programming error and panics.
type Server interface {
	// Open creates the shadow maps, programs and per-frame buffers and registers the maps
	// in resources under framegraph.SpotShadowAtlas, framegraph.PointShadowMaps and
	// framegraph.GlobalShadowMap. Opening an open server closes it first.
	//
	// Parameters:
	//   - backend: the backend resources are created on
	//   - resources: the frame resources the shadow maps are published in
	//   - bufferedFrames: the number of frames in flight
	//
	// Returns:
	//   - error: an allocation error; the server stays closed
	Open(backend renderer.GraphicsBackend, resources *framegraph.Resources, bufferedFrames int) error

	// Close removes the shadow maps from the frame resources and releases every GPU resource.
	Close()

	// Register adds the ShadowMaps callback to graph.
	//
	// Parameters:
	//   - graph: the frame graph
	//
	// Returns:
	//   - error: framegraph.ErrDuplicateCallback if the server is registered twice
	Register(graph framegraph.FrameGraph) error

	// BeginFrame starts a frame.
	//
	// Parameters:
	//   - camera: the camera of the frame, used for the cascades and as the default point of interest
	//   - scene: the shadow casters of the frame; nil renders empty shadow maps
	BeginFrame(camera framegraph.CameraData, scene Scene)

	// BeginAttachVisibleLights opens the attach phase.
	BeginAttachVisibleLights()

	// AttachVisibleLight adds a shadow casting candidate. Lights that do not cast shadows
	// this frame are ignored; the last global light attached wins.
	//
	// Parameters:
	//   - l: the light
	AttachVisibleLight(l light.Light)

	// EndAttachVisibleLights sorts the candidates, assigns shadow slots up to the per-type
	// budget, demotes the rest to unshadowed, fits the cascades of the global light and
	// forwards every attached light to the light sink.
	EndAttachVisibleLights()

	// UpdateShadowBuffers renders the spot atlas, the point light cube faces and the global
	// cascades, then blurs the point and global maps.
	//
	// Parameters:
	//   - ctx: the frame context
	//
	// Returns:
	//   - error: ErrNotOpen, or an upload error
	UpdateShadowBuffers(ctx *framegraph.FrameContext) error

	// EndFrame restores the per-frame light state and releases every shadow slot.
	EndFrame()

	// SetPointOfInterest sets the point lights are ranked against. Until it is set the
	// camera position is used.
	//
	// Parameters:
	//   - p: the world position
	SetPointOfInterest(p mgl32.Vec3)

	// Slot returns the shadow slot of a light in the current frame.
	//
	// Parameters:
	//   - l: the light
	//
	// Returns:
	//   - SlotID: the slot, InvalidSlot without one
	//   - bool: true if the light has a slot
	Slot(l light.Light) (SlotID, bool)

	// ShadowLights returns the lights of one type that cast shadows this frame, in slot order.
	ShadowLights(t light.LightType) []light.Light

	// GlobalCascades returns the cascades of the global light of the current frame.
	//
	// Returns:
	//   - light.CascadeData: the cascade lookup data
	//   - bool: false when no global light casts shadows this frame
	GlobalCascades() (light.CascadeData, bool)

	// CascadeViewProjections returns the world to clip transforms of the cascades of the
	// current frame.
	CascadeViewProjections() ([NumCascades]mgl32.Mat4, bool)

	// CSM returns the cascade calculator.
	CSM() *CSM
}

type state int

const (
	stateClosed state = iota
	stateIdle
	stateFrame
	stateAttach
	stateAttached
)

func (s state) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateIdle:
		return "idle"
	case stateFrame:
		return "frame"
	case stateAttach:
		return "attach"
	case stateAttached:
		return "attached"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// kind indexes the per light type resources.
type kind int

const (
	kindSpot kind = iota
	kindPoint
	kindGlobal
	numKinds
)

var kindFeatures = [numKinds]string{shader.FeatureSpot, shader.FeaturePoint, shader.FeatureGlobal}

var kindNames = [numKinds]string{"Spot", "Point", "Global"}

var kindMaps = [numKinds]string{framegraph.SpotShadowAtlas, framegraph.PointShadowMaps, framegraph.GlobalShadowMap}

// viewsPerLight is the number of shadow map views of one light of each kind.
var viewsPerLight = [numKinds]int{1, CubeFaces, NumCascades}

type kindFrame struct {
	views     renderer.BufferHandle
	instances []renderer.BufferHandle

	// tables are indexed by light then view
	tables [][]renderer.ResourceTableHandle
}

type shadowFrame struct {
	kinds [numKinds]kindFrame
}

type blurTarget struct {
	scratch   renderer.TextureHandle
	constants renderer.BufferHandle
	tableX    renderer.ResourceTableHandle
	tableY    renderer.ResourceTableHandle
}

// batch is a run of instances of one mesh in an instances buffer.
type batch struct {
	mesh  model.Mesh
	first uint32
	count uint32
}

// server is the implementation of the Server interface.
type server struct {
	mu sync.Mutex

	log        *zap.Logger
	sink       LightSink
	resolver   visibility.Resolver
	csm        *CSM
	maxSpot    int
	maxPoint   int
	maxCasters int
	atlasSize  uint32
	csmSize    uint32
	pointSize  uint32

	backend   renderer.GraphicsBackend
	resources *framegraph.Resources
	state     state
	pool      *SlotPool

	maps     [numKinds]renderer.TextureHandle
	depths   [numKinds]renderer.TextureHandle
	blurs    [numKinds]blurTarget
	programs [numKinds]renderer.ShaderProgramHandle
	blurX    renderer.ShaderProgramHandle
	blurY    renderer.ShaderProgramHandle
	frames   *ringbuffer.Ring[shadowFrame]

	camera framegraph.CameraData
	scene  Scene
	poi    *mgl32.Vec3

	global   light.Light
	spots    []light.Light
	points   []light.Light
	attached map[light.Light]struct{}
	slots    map[light.Light]SlotID

	savedIntensity map[light.Light]float32
	interpolated   light.Light
	cascades       light.CascadeData
	cascadeVPs     [NumCascades]mgl32.Mat4
	cascadesValid  bool
}

var _ Server = &server{}

// NewServer creates a closed shadow server.
//
// Parameters:
//   - options: functional options such as WithLogger, WithLightServer and WithMaxShadowLights
//
// Returns:
//   - Server: the server, ready for Open
func NewServer(options ...ServerOption) Server {
	s := &server{
		log:            zap.NewNop(),
		maxSpot:        MaxNumShadowSpotLights,
		maxPoint:       MaxNumShadowPointLights,
		maxCasters:     DefaultMaxCastersPerLight,
		atlasSize:      DefaultSpotAtlasSize,
		csmSize:        DefaultCSMSize,
		pointSize:      DefaultPointSize,
		frames:         ringbuffer.New[shadowFrame](),
		attached:       make(map[light.Light]struct{}),
		slots:          make(map[light.Light]SlotID),
		savedIntensity: make(map[light.Light]float32),
	}
	for _, option := range options {
		option(s)
	}
	if s.resolver == nil {
		s.resolver = visibility.NewResolver(visibility.WithLogger(s.log))
	}
	if s.csm == nil {
		s.csm = NewCSM(WithCascadeTextureWidth(s.csmSize / SplitsPerRow))
	}
	s.pool = NewSlotPool(s.maxSpot + s.maxPoint + 1)
	return s
}

// expect panics unless the server is in want. The caller holds s.mu through a deferred
// unlock so the panic releases it.
func (s *server) expect(op string, want ...state) {
	for _, w := range want {
		if s.state == w {
			return
		}
	}
	if s.state == stateClosed {
		panic(fmt.Errorf("shadow: %s: %w", op, ErrNotOpen))
	}
	panic(fmt.Sprintf("shadow: %s called in state %s", op, s.state))
}

func (s *server) Open(backend renderer.GraphicsBackend, resources *framegraph.Resources, bufferedFrames int) error {
	s.Close()

	if err := s.createTargets(backend); err != nil {
		s.release(backend)
		return err
	}
	if err := s.createPrograms(backend); err != nil {
		s.release(backend)
		return err
	}
	if err := s.createBlurs(backend); err != nil {
		s.release(backend)
		return err
	}
	create := func(i int) (shadowFrame, error) {
		return s.createFrame(backend, i)
	}
	destroy := func(f shadowFrame) {
		destroyFrame(backend, f)
	}
	if err := s.frames.Resize(bufferedFrames, create, destroy); err != nil {
		s.release(backend)
		return fmt.Errorf("failed to create shadow frame resources: %w", err)
	}

	for k, name := range kindMaps {
		resources.RegisterTexture(name, s.maps[k])
	}

	s.mu.Lock()
	s.backend, s.resources = backend, resources
	s.state = stateIdle
	s.mu.Unlock()
	s.log.Info("shadow server opened",
		zap.Int("slots", s.pool.Capacity()),
		zap.Int("maxSpot", s.maxSpot),
		zap.Int("maxPoint", s.maxPoint),
		zap.Uint32("atlasSize", s.atlasSize),
		zap.Uint32("csmSize", s.csmSize),
		zap.Uint32("pointSize", s.pointSize),
		zap.Int("bufferedFrames", bufferedFrames),
	)
	return nil
}

// cascadeSize returns the size of one cascade layer.
func (s *server) cascadeSize() uint32 {
	return max(s.csmSize/SplitsPerRow, 1)
}

// mapSize returns the width, height and layer count of the shadow map of a kind.
func (s *server) mapSize(k kind) (uint32, uint32, uint32) {
	switch k {
	case kindSpot:
		return s.atlasSize, s.atlasSize, 1
	case kindPoint:
		return s.pointSize, s.pointSize, uint32(s.maxPoint * CubeFaces)
	}
	c := s.cascadeSize()
	return c, c, NumCascades
}

func (s *server) createTargets(backend renderer.GraphicsBackend) error {
	for k := kind(0); k < numKinds; k++ {
		w, h, layers := s.mapSize(k)
		texType := renderer.Texture2DArray
		usage := renderer.TextureUsageSample | renderer.TextureUsageRenderTarget | renderer.TextureUsageReadWrite
		if k == kindSpot {
			texType = renderer.Texture2D
			usage = renderer.TextureUsageSample | renderer.TextureUsageRenderTarget
		}
		var err error
		s.maps[k], err = backend.CreateTexture(renderer.TextureDesc{
			Name:          kindMaps[k],
			Type:          texType,
			Format:        renderer.FormatRG32F,
			Width:         w,
			Height:        h,
			Layers:        layers,
			Usage:         usage,
			InitialLayout: renderer.LayoutShaderRead,
		})
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", kindMaps[k], err)
		}
		s.depths[k], err = backend.CreateTexture(renderer.TextureDesc{
			Name:          kindNames[k] + "ShadowDepth",
			Type:          texType,
			Format:        renderer.FormatD32F,
			Width:         w,
			Height:        h,
			Layers:        layers,
			Usage:         renderer.TextureUsageDepthTarget,
			InitialLayout: renderer.LayoutDepthStencilRender,
		})
		if err != nil {
			return fmt.Errorf("failed to create %s shadow depth: %w", kindNames[k], err)
		}
		if k == kindSpot {
			continue
		}
		s.blurs[k].scratch, err = backend.CreateTexture(renderer.TextureDesc{
			Name:          kindNames[k] + "ShadowBlur",
			Type:          texType,
			Format:        renderer.FormatRG32F,
			Width:         w,
			Height:        h,
			Layers:        layers,
			Usage:         renderer.TextureUsageSample | renderer.TextureUsageReadWrite,
			InitialLayout: renderer.LayoutShaderRead,
		})
		if err != nil {
			return fmt.Errorf("failed to create %s shadow blur target: %w", kindNames[k], err)
		}
	}
	return nil
}

func (s *server) createPrograms(backend renderer.GraphicsBackend) error {
	depth := renderer.FormatD32F
	for k := kind(0); k < numKinds; k++ {
		p, err := backend.CreateShaderProgram(renderer.ShaderProgramDesc{
			Shader:       shader.ProgramShadow,
			Mask:         shader.BuiltinMask(kindFeatures[k]),
			Topology:     renderer.TopologyTriangleList,
			VertexLayout: renderer.VertexLayoutPosition,
			ColorTargets: []renderer.TextureFormat{renderer.FormatRG32F},
			DepthFormat:  &depth,
			DepthTest:    true,
			DepthWrite:   true,
		})
		if err != nil {
			return fmt.Errorf("failed to create shadow program [%s]: %w", kindFeatures[k], err)
		}
		s.programs[k] = p
	}
	var err error
	for _, v := range []struct {
		dst     *renderer.ShaderProgramHandle
		feature string
	}{
		{&s.blurX, shader.FeatureAlt0},
		{&s.blurY, shader.FeatureAlt1},
	} {
		*v.dst, err = backend.CreateShaderProgram(renderer.ShaderProgramDesc{
			Shader: shader.ProgramBlurRG32FArray,
			Mask:   shader.BuiltinMask(v.feature),
		})
		if err != nil {
			return fmt.Errorf("failed to create shadow blur program [%s]: %w", v.feature, err)
		}
	}
	return nil
}

// createBlurs builds the static blur tables of the point and global maps. X reads the map and
// writes the scratch target, Y reads the scratch target and writes the map.
func (s *server) createBlurs(backend renderer.GraphicsBackend) error {
	for _, k := range []kind{kindPoint, kindGlobal} {
		w, h, _ := s.mapSize(k)
		bt := &s.blurs[k]
		var err error
		bt.constants, err = backend.CreateBuffer(renderer.BufferDesc{
			Name:  kindNames[k] + " Shadow Blur Constants",
			Size:  posteffects.BlurConstantsSize,
			Usage: renderer.BufferUsageConstant | renderer.BufferUsageCopyDst,
		})
		if err != nil {
			return err
		}
		constants := posteffects.NewBlurConstants(w, h, 0)
		if err := backend.UploadBuffer(bt.constants, 0, constants.Bytes()); err != nil {
			return fmt.Errorf("failed to upload %s shadow blur constants: %w", kindNames[k], err)
		}

		for _, pass := range []struct {
			dst      *renderer.ResourceTableHandle
			program  renderer.ShaderProgramHandle
			name     string
			src, out renderer.TextureHandle
		}{
			{&bt.tableX, s.blurX, "X", s.maps[k], bt.scratch},
			{&bt.tableY, s.blurY, "Y", bt.scratch, s.maps[k]},
		} {
			t, err := backend.CreateResourceTable(renderer.ResourceTableDesc{
				Name:    fmt.Sprintf("%s Shadow Blur %s", kindNames[k], pass.name),
				Program: pass.program,
			})
			if err != nil {
				return err
			}
			*pass.dst = t
			if err := errors.Join(
				backend.ResourceTableSetConstantBuffer(t, 0, bt.constants, 0, posteffects.BlurConstantsSize),
				backend.ResourceTableSetTexture(t, 1, pass.src),
				backend.ResourceTableSetRWTexture(t, 2, pass.out, 0),
				backend.CommitResourceTable(t),
			); err != nil {
				return fmt.Errorf("%s shadow blur %s table: %w", kindNames[k], pass.name, err)
			}
		}
	}
	return nil
}

// lightCount returns the number of lights of a kind that can cast shadows in one frame.
func (s *server) lightCount(k kind) int {
	switch k {
	case kindSpot:
		return s.maxSpot
	case kindPoint:
		return s.maxPoint
	}
	return 1
}

func (s *server) createFrame(backend renderer.GraphicsBackend, i int) (shadowFrame, error) {
	var f shadowFrame
	for k := kind(0); k < numKinds; k++ {
		kf := &f.kinds[k]
		n, views := s.lightCount(k), viewsPerLight[k]
		var err error
		kf.views, err = backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("%s Shadow Views[%d]", kindNames[k], i),
			Size:  uint64(n*views) * ShadowViewStride,
			Usage: renderer.BufferUsageConstant | renderer.BufferUsageCopyDst,
		})
		if err != nil {
			destroyFrame(backend, f)
			return f, err
		}
		kf.instances = make([]renderer.BufferHandle, n)
		kf.tables = make([][]renderer.ResourceTableHandle, n)
		for l := 0; l < n; l++ {
			kf.instances[l], err = backend.CreateBuffer(renderer.BufferDesc{
				Name:  fmt.Sprintf("%s Shadow Casters[%d][%d]", kindNames[k], i, l),
				Size:  uint64(s.maxCasters) * InstanceTransformSize,
				Usage: renderer.BufferUsageStorage | renderer.BufferUsageCopyDst,
			})
			if err != nil {
				destroyFrame(backend, f)
				return f, err
			}
			kf.tables[l] = make([]renderer.ResourceTableHandle, views)
			for v := 0; v < views; v++ {
				t, err := backend.CreateResourceTable(renderer.ResourceTableDesc{
					Name:    fmt.Sprintf("Shadow[%d] %s %d.%d", i, kindNames[k], l, v),
					Program: s.programs[k],
				})
				if err != nil {
					destroyFrame(backend, f)
					return f, err
				}
				kf.tables[l][v] = t
				offset := uint64(l*views+v) * ShadowViewStride
				if err := errors.Join(
					backend.ResourceTableSetConstantBuffer(t, 0, kf.views, offset, ShadowViewConstantsSize),
					backend.ResourceTableSetBuffer(t, 1, kf.instances[l]),
					backend.CommitResourceTable(t),
				); err != nil {
					destroyFrame(backend, f)
					return f, fmt.Errorf("shadow table %s %d.%d: %w", kindNames[k], l, v, err)
				}
			}
		}
	}
	return f, nil
}

func destroyFrame(backend renderer.GraphicsBackend, f shadowFrame) {
	for _, kf := range f.kinds {
		for _, views := range kf.tables {
			for _, t := range views {
				if t.Valid() {
					_ = backend.DestroyResourceTable(t)
				}
			}
		}
		for _, b := range kf.instances {
			if b.Valid() {
				_ = backend.DestroyBuffer(b)
			}
		}
		if kf.views.Valid() {
			_ = backend.DestroyBuffer(kf.views)
		}
	}
}

// release destroys everything Open created.
func (s *server) release(backend renderer.GraphicsBackend) {
	s.frames.Discard()
	for k := range s.blurs {
		bt := s.blurs[k]
		for _, t := range []renderer.ResourceTableHandle{bt.tableX, bt.tableY} {
			if t.Valid() {
				_ = backend.DestroyResourceTable(t)
			}
		}
		if bt.constants.Valid() {
			_ = backend.DestroyBuffer(bt.constants)
		}
		if bt.scratch.Valid() {
			_ = backend.DestroyTexture(bt.scratch)
		}
		s.blurs[k] = blurTarget{}
	}
	for _, p := range append(s.programs[:], s.blurX, s.blurY) {
		if p.Valid() {
			_ = backend.DestroyShaderProgram(p)
		}
	}
	s.programs = [numKinds]renderer.ShaderProgramHandle{}
	s.blurX, s.blurY = renderer.ShaderProgramHandle{}, renderer.ShaderProgramHandle{}
	for k := range s.maps {
		for _, t := range []renderer.TextureHandle{s.maps[k], s.depths[k]} {
			if t.Valid() {
				_ = backend.DestroyTexture(t)
			}
		}
	}
	s.maps = [numKinds]renderer.TextureHandle{}
	s.depths = [numKinds]renderer.TextureHandle{}
}

func (s *server) Close() {
	s.mu.Lock()
	backend, resources := s.backend, s.resources
	wasOpen := s.state != stateClosed
	s.backend, s.resources = nil, nil
	s.state = stateClosed
	s.resetFrameLocked()
	s.mu.Unlock()

	if backend == nil {
		return
	}
	if resources != nil {
		for _, name := range kindMaps {
			resources.RemoveTexture(name)
		}
	}
	s.release(backend)
	if wasOpen {
		s.log.Info("shadow server closed")
	}
}

func (s *server) Register(graph framegraph.FrameGraph) error {
	return graph.AddCallback(ShadowMapsCallback, s.UpdateShadowBuffers,
		framegraph.Writes(framegraph.SpotShadowAtlas),
		framegraph.Writes(framegraph.PointShadowMaps),
		framegraph.Writes(framegraph.GlobalShadowMap),
	)
}

func (s *server) BeginFrame(camera framegraph.CameraData, scene Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expect("BeginFrame", stateIdle)
	s.camera, s.scene = camera, scene
	s.state = stateFrame
}

func (s *server) BeginAttachVisibleLights() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expect("BeginAttachVisibleLights", stateFrame)
	s.state = stateAttach
}

func (s *server) AttachVisibleLight(l light.Light) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expect("AttachVisibleLight", stateAttach)
	if l == nil || !l.CastShadowsThisFrame() {
		return
	}
	if _, ok := s.attached[l]; ok {
		return
	}
	switch l.Type() {
	case light.LightTypeGlobal:
		if s.global != nil {
			delete(s.attached, s.global)
		}
		s.global = l
	case light.LightTypeSpot:
		s.spots = append(s.spots, l)
	case light.LightTypePoint:
		s.points = append(s.points, l)
	default:
		return
	}
	s.attached[l] = struct{}{}
}

func (s *server) EndAttachVisibleLights() {
	forward, sink := s.endAttach()
	if sink == nil {
		return
	}
	for _, l := range forward {
		sink.AttachVisibleLight(l)
	}
}

// endAttach settles the shadow casters of the frame and returns the lights to forward.
func (s *server) endAttach() ([]light.Light, LightSink) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expect("EndAttachVisibleLights", stateAttach)
	s.state = stateAttached

	poi := s.camera.Position
	if s.poi != nil {
		poi = *s.poi
	}
	for _, l := range s.spots {
		s.savedIntensity[l] = l.ShadowIntensity()
	}
	SortLights(s.spots, poi, s.maxSpot)
	if s.maxSpot == 1 && len(s.spots) > 1 {
		s.interpolated = s.spots[0]
	}

	forward := make([]light.Light, 0, len(s.spots)+len(s.points)+1)
	if s.global != nil {
		forward = append(forward, s.global)
		if s.assign(s.global, 0) {
			s.fitCascades()
		}
	}
	forward = append(forward, s.spots...)
	forward = append(forward, s.points...)

	demoted := 0
	s.spots, demoted = s.assignAll(s.spots, s.maxSpot, func(l light.Light, i int) {
		_, uv := atlasTile(i, s.atlasSize)
		l.SetShadowBufferUvOffsetAndScale(uv)
	})
	var demotedPoints int
	s.points, demotedPoints = s.assignAll(s.points, s.maxPoint, nil)
	demoted += demotedPoints
	if demoted > 0 {
		s.log.Debug("shadow casters demoted", zap.Int("count", demoted))
	}
	return forward, s.sink
}

// assign takes a slot for l. kindIndex is the index of the light among the shadow casters
// of its type.
func (s *server) assign(l light.Light, kindIndex int) bool {
	id, err := s.pool.Alloc()
	if err != nil {
		s.log.Warn("shadow slot allocation failed", zap.Stringer("type", l.Type()), zap.Error(err))
		demote(l)
		return false
	}
	s.slots[l] = id
	l.SetShadowSlot(kindIndex)
	return true
}

// assignAll gives slots to the first budget lights and demotes the rest. It returns the
// shadowed lights and the number of demoted ones.
func (s *server) assignAll(lights []light.Light, budget int, onAssign func(l light.Light, i int)) ([]light.Light, int) {
	kept := make([]light.Light, 0, min(len(lights), budget))
	demoted := 0
	for _, l := range lights {
		if len(kept) >= budget || !s.assign(l, len(kept)) {
			if len(kept) >= budget {
				demote(l)
			}
			demoted++
			continue
		}
		if onAssign != nil {
			onAssign(l, len(kept))
		}
		kept = append(kept, l)
	}
	return kept, demoted
}

func demote(l light.Light) {
	l.SetCastShadowsThisFrame(false)
	l.SetShadowSlot(light.NoShadowSlot)
}

// fitCascades computes the cascades of the global light for the current camera and scene.
func (s *server) fitCascades() {
	var bounds common.BBox
	if s.scene != nil {
		bounds = s.scene.GlobalBoundingBox()
	} else {
		bounds = common.EmptyBBox()
	}
	s.csm.Compute(s.camera, light.ShadowView(s.global.Transform()), shadowBox(bounds, s.camera.Position))
	s.cascades = s.csm.CascadeData()
	for i := range s.cascadeVPs {
		s.cascadeVPs[i] = s.csm.CascadeViewProjection(i)
	}
	s.cascadesValid = true
	s.global.SetCascades(s.cascades)
}

// shadowBox pads the scene bounds and clamps their extents. An empty scene yields a small
// box around fallback.
func shadowBox(bounds common.BBox, fallback mgl32.Vec3) common.BBox {
	center, extents := fallback, mgl32.Vec3{}
	if !bounds.IsEmpty() {
		center, extents = bounds.Center(), bounds.Extents()
	}
	for i := range extents {
		extents[i] = min(extents[i]+sceneBoxPadding, maxSceneBoxExtent)
	}
	return common.BBoxFromCenterExtents(center, extents)
}

// atlasTile returns the pixel rectangle of atlas tile i and the uv offset and scale of its
// interior, inset by ShadowAtlasBorderPixels.
func atlasTile(i int, atlasSize uint32) (common.Rect, mgl32.Vec4) {
	tileW := int32(atlasSize / ShadowLightsPerRow)
	tileH := int32(atlasSize / ShadowLightsPerColumn)
	col, row := int32(i%ShadowLightsPerRow), int32(i/ShadowLightsPerRow)
	rect := common.NewRect(col*tileW, row*tileH, tileW, tileH)

	pad := float32(ShadowAtlasBorderPixels) / float32(max(atlasSize, 1))
	sx, sy := float32(1)/ShadowLightsPerRow, float32(1)/ShadowLightsPerColumn
	uv := mgl32.Vec4{float32(col)*sx + pad, float32(row)*sy + pad, sx - 2*pad, sy - 2*pad}
	return rect, uv
}

func inset(r common.Rect, by int32) common.Rect {
	return common.Rect{Left: r.Left + by, Top: r.Top + by, Right: r.Right - by, Bottom: r.Bottom - by}
}

type frameWork struct {
	backend renderer.GraphicsBackend
	scene   Scene
	global  light.Light
	spots   []light.Light
	points  []light.Light
	vps     [NumCascades]mgl32.Mat4
}

func (s *server) snapshot(ctx *framegraph.FrameContext) (frameWork, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return frameWork{}, ErrNotOpen
	}
	s.expect("UpdateShadowBuffers", stateAttached)
	w := frameWork{
		backend: s.backend,
		scene:   s.scene,
		global:  s.global,
		spots:   append([]light.Light(nil), s.spots...),
		points:  append([]light.Light(nil), s.points...),
		vps:     s.cascadeVPs,
	}
	if w.global != nil && !s.cascadesValid {
		w.global = nil
	}
	return w, nil
}

func (s *server) UpdateShadowBuffers(ctx *framegraph.FrameContext) error {
	w, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	if w.global == nil && len(w.spots) == 0 && len(w.points) == 0 {
		return nil
	}
	var casters []*model.ModelInstance
	if w.scene != nil {
		casters = w.scene.ShadowCasters()
	}
	frame := s.frames.Get(ctx.BufferIndex)

	if len(w.spots) > 0 {
		if err := s.renderSpots(ctx, w, frame.kinds[kindSpot], casters); err != nil {
			return err
		}
	}
	if len(w.points) > 0 {
		if err := s.renderPoints(ctx, w, frame.kinds[kindPoint], casters); err != nil {
			return err
		}
	}
	if w.global != nil {
		if err := s.renderGlobal(ctx, w, frame.kinds[kindGlobal], casters); err != nil {
			return err
		}
	}
	return nil
}

// prepareLight resolves the casters of every view of one light, packs their transforms into
// buf and returns the draw batches of each view.
func (s *server) prepareLight(ctx *framegraph.FrameContext, buf renderer.BufferHandle, vps []mgl32.Mat4, casters []*model.ModelInstance) ([][]batch, error) {
	out := make([][]batch, len(vps))
	var packed []*model.ModelInstance
	dropped := 0
	for v, vp := range vps {
		visible := visibility.Resolve(s.resolver, ctx.FrameIndex, vp, casters)
		meshes, groups := model.GroupByMesh(visible)
		for _, m := range meshes {
			group := groups[m]
			room := max(s.maxCasters-len(packed), 0)
			if len(group) > room {
				dropped += len(group) - room
				group = group[:room]
			}
			if len(group) == 0 {
				continue
			}
			out[v] = append(out[v], batch{mesh: m, first: uint32(len(packed)), count: uint32(len(group))})
			packed = append(packed, group...)
		}
	}
	if dropped > 0 {
		s.log.Warn("shadow caster budget exceeded", zap.Int("dropped", dropped), zap.Int("max", s.maxCasters))
	}
	if len(packed) == 0 {
		return out, nil
	}
	if err := renderer.UploadChunked(ctx.Backend, buf, 0, model.MarshalTransforms(packed)); err != nil {
		return nil, fmt.Errorf("failed to upload shadow casters: %w", err)
	}
	return out, nil
}

func drawBatches(backend renderer.GraphicsBackend, batches []batch) {
	for _, b := range batches {
		vb := b.mesh.VertexBuffer()
		if !vb.Valid() {
			continue
		}
		backend.SetVertexBuffer(vb, 0)
		backend.DrawInstanced(b.mesh.VertexCount(), b.count, 0, b.first)
	}
}

func mapBarrier(name string, tex renderer.TextureHandle, sub renderer.Subresource) renderer.Barrier {
	return renderer.Barrier{
		Name:      name,
		FromStage: renderer.StagePixelShader | renderer.StageComputeShader,
		ToStage:   renderer.StageColorWrite,
		Textures: []renderer.TextureBarrier{
			renderer.Transition(tex, sub, renderer.LayoutShaderRead, renderer.LayoutColorRender),
		},
	}
}

func (s *server) renderSpots(ctx *framegraph.FrameContext, w frameWork, kf kindFrame, casters []*model.ModelInstance) error {
	views := make([]ShadowViewConstants, len(w.spots))
	batches := make([][]batch, len(w.spots))
	for i, l := range w.spots {
		vp := l.ShadowViewProjection()
		views[i] = NewShadowViewConstants(vp, common.Position(l.ShadowTransform()), l.Range())
		b, err := s.prepareLight(ctx, kf.instances[i], []mgl32.Mat4{vp}, casters)
		if err != nil {
			return err
		}
		batches[i] = b[0]
	}
	if err := renderer.UploadChunked(w.backend, kf.views, 0, marshalViews(views)); err != nil {
		return fmt.Errorf("failed to upload spot shadow views: %w", err)
	}

	atlas := s.maps[kindSpot]
	barrier := mapBarrier("Spot Shadow Atlas", atlas, renderer.AllSubresources)
	w.backend.InsertBarrier(barrier)
	w.backend.BeginPass(renderer.PassDesc{
		Name:         "Spot Shadows",
		ColorTargets: []renderer.TextureHandle{atlas},
		DepthTarget:  s.depths[kindSpot],
		Clear:        true,
		ClearColor:   [4]float32{1, 1, 0, 0},
		ClearDepth:   1,
	})
	w.backend.SetShaderProgram(s.programs[kindSpot])
	for i := range w.spots {
		tile, _ := atlasTile(i, s.atlasSize)
		w.backend.SetViewport(renderer.ViewportFromRect(inset(tile, ShadowAtlasBorderPixels)))
		w.backend.SetScissor(tile)
		w.backend.SetResourceTable(kf.tables[i][0], 0)
		drawBatches(w.backend, batches[i])
	}
	w.backend.EndPass()
	w.backend.InsertBarrier(barrier.Reverse())
	return nil
}

func (s *server) renderPoints(ctx *framegraph.FrameContext, w frameWork, kf kindFrame, casters []*model.ModelInstance) error {
	views := make([]ShadowViewConstants, 0, len(w.points)*CubeFaces)
	batches := make([][][]batch, len(w.points))
	for p, l := range w.points {
		faces := CubeFaceViewProjections(l)
		pos := common.Position(l.ShadowTransform())
		for _, vp := range faces {
			views = append(views, NewShadowViewConstants(vp, pos, l.Range()))
		}
		b, err := s.prepareLight(ctx, kf.instances[p], faces[:], casters)
		if err != nil {
			return err
		}
		batches[p] = b
	}
	if err := renderer.UploadChunked(w.backend, kf.views, 0, marshalViews(views)); err != nil {
		return fmt.Errorf("failed to upload point shadow views: %w", err)
	}

	maps := s.maps[kindPoint]
	layers := uint32(len(w.points) * CubeFaces)
	barrier := mapBarrier("Point Shadow Maps", maps, renderer.Layers(0, layers))
	w.backend.InsertBarrier(barrier)
	viewport := renderer.ViewportFromRect(common.NewRect(0, 0, int32(s.pointSize), int32(s.pointSize)))
	for p := range w.points {
		for f := 0; f < CubeFaces; f++ {
			w.backend.BeginPass(renderer.PassDesc{
				Name:         "Point Shadows",
				ColorTargets: []renderer.TextureHandle{maps},
				DepthTarget:  s.depths[kindPoint],
				Layer:        uint32(p*CubeFaces + f),
				Clear:        true,
				ClearColor:   [4]float32{1, 1, 0, 0},
				ClearDepth:   1,
			})
			w.backend.SetViewport(viewport)
			w.backend.SetShaderProgram(s.programs[kindPoint])
			w.backend.SetResourceTable(kf.tables[p][f], 0)
			drawBatches(w.backend, batches[p][f])
			w.backend.EndPass()
		}
	}
	w.backend.InsertBarrier(barrier.Reverse())
	s.blur(w.backend, kindPoint, layers)
	return nil
}

func (s *server) renderGlobal(ctx *framegraph.FrameContext, w frameWork, kf kindFrame, casters []*model.ModelInstance) error {
	views := make([]ShadowViewConstants, NumCascades)
	pos := w.global.Position()
	for i, vp := range w.vps {
		views[i] = NewShadowViewConstants(vp, pos, 0)
	}
	batches, err := s.prepareLight(ctx, kf.instances[0], w.vps[:], casters)
	if err != nil {
		return err
	}
	if err := renderer.UploadChunked(w.backend, kf.views, 0, marshalViews(views)); err != nil {
		return fmt.Errorf("failed to upload cascade views: %w", err)
	}

	maps := s.maps[kindGlobal]
	barrier := mapBarrier("Global Shadow Map", maps, renderer.AllSubresources)
	w.backend.InsertBarrier(barrier)
	size := int32(s.cascadeSize())
	viewport := renderer.ViewportFromRect(common.NewRect(0, 0, size, size))
	for i := 0; i < NumCascades; i++ {
		w.backend.BeginPass(renderer.PassDesc{
			Name:         "Global Shadows",
			ColorTargets: []renderer.TextureHandle{maps},
			DepthTarget:  s.depths[kindGlobal],
			Layer:        uint32(i),
			Clear:        true,
			ClearColor:   [4]float32{1, 1, 0, 0},
			ClearDepth:   1,
		})
		w.backend.SetViewport(viewport)
		w.backend.SetShaderProgram(s.programs[kindGlobal])
		w.backend.SetResourceTable(kf.tables[0][i], 0)
		drawBatches(w.backend, batches[i])
		w.backend.EndPass()
	}
	w.backend.InsertBarrier(barrier.Reverse())
	s.blur(w.backend, kindGlobal, NumCascades)
	return nil
}

// blur runs the separable blur over the first layers of the shadow map of k.
func (s *server) blur(backend renderer.GraphicsBackend, k kind, layers uint32) {
	w, h, _ := s.mapSize(k)
	bt := s.blurs[k]
	passes := []struct {
		name    string
		target  renderer.TextureHandle
		program renderer.ShaderProgramHandle
		table   renderer.ResourceTableHandle
		x, y    uint32
	}{
		{kindNames[k] + " Shadow Blur X", bt.scratch, s.blurX, bt.tableX, posteffects.DispatchCount(w, posteffects.BlurTileWidth), h},
		{kindNames[k] + " Shadow Blur Y", s.maps[k], s.blurY, bt.tableY, posteffects.DispatchCount(h, posteffects.BlurTileWidth), w},
	}
	for _, p := range passes {
		b := renderer.Barrier{
			Name:      p.name,
			FromStage: renderer.StageComputeShader | renderer.StagePixelShader,
			ToStage:   renderer.StageComputeShader,
			Textures: []renderer.TextureBarrier{
				renderer.Transition(p.target, renderer.Layers(0, layers), renderer.LayoutShaderRead, renderer.LayoutGeneral),
			},
		}
		backend.InsertBarrier(b)
		backend.SetShaderProgram(p.program)
		backend.SetResourceTable(p.table, 0)
		backend.Compute(p.x, p.y, layers)
		backend.InsertBarrier(b.Reverse())
	}
}

func (s *server) EndFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expect("EndFrame", stateFrame, stateAttached)
	s.resetFrameLocked()
	s.state = stateIdle
}

// resetFrameLocked restores the lights touched this frame and forgets them.
func (s *server) resetFrameLocked() {
	for l, v := range s.savedIntensity {
		l.SetShadowIntensity(v)
	}
	clear(s.savedIntensity)
	if s.interpolated != nil {
		s.interpolated.ResetShadowTransform()
		s.interpolated = nil
	}
	s.global = nil
	clear(s.spots)
	s.spots = s.spots[:0]
	clear(s.points)
	s.points = s.points[:0]
	clear(s.attached)
	clear(s.slots)
	s.pool.Reset()
	s.cascadesValid = false
	s.scene = nil
}

func (s *server) SetPointOfInterest(p mgl32.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poi = &p
}

func (s *server) Slot(l light.Light) (SlotID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.slots[l]
	if !ok {
		return InvalidSlot, false
	}
	return id, true
}

func (s *server) ShadowLights(t light.LightType) []light.Light {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateAttached {
		return nil
	}
	var src []light.Light
	switch t {
	case light.LightTypeGlobal:
		if s.global != nil && s.global.CastShadowsThisFrame() {
			src = []light.Light{s.global}
		}
	case light.LightTypeSpot:
		src = s.spots
	case light.LightTypePoint:
		src = s.points
	}
	return append([]light.Light(nil), src...)
}

func (s *server) GlobalCascades() (light.CascadeData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cascades, s.cascadesValid
}

func (s *server) CascadeViewProjections() ([NumCascades]mgl32.Mat4, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cascadeVPs, s.cascadesValid
}

func (s *server) CSM() *CSM {
	return s.csm
}
