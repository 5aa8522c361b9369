package light

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/model"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/Carmen-Shannon/nebula-go/engine/ringbuffer"
	"go.uber.org/zap"
)

// LightsCallback is the frame graph callback that shades the LightBuffer.
const LightsCallback = "Lights"

// DefaultMaxLocalLights is the number of spot and of point lights shaded per frame.
const DefaultMaxLocalLights = 1024

// ErrNotSetup is returned when the light server renders before Setup.
var ErrNotSetup = errors.New("light server used before Setup")

// Light volume tessellation.
const (
	sphereRings    = 8
	sphereSegments = 12
	coneSegments   = 16
)

// variation indexes the six lights programs: the light kind times shadowed.
type variation int

const (
	variationGlobal variation = iota
	variationGlobalShadowed
	variationSpot
	variationSpotShadowed
	variationPoint
	variationPointShadowed
	numVariations
)

var variationFeatures = [numVariations]string{
	variationGlobal:         shader.FeatureGlobal,
	variationGlobalShadowed: shader.FeatureGlobal + "|" + shader.FeatureAlt0,
	variationSpot:           shader.FeatureSpot,
	variationSpotShadowed:   shader.FeatureSpot + "|" + shader.FeatureAlt0,
	variationPoint:          shader.FeaturePoint,
	variationPointShadowed:  shader.FeaturePoint + "|" + shader.FeatureAlt0,
}

// Server shades the LightBuffer from the visible lights of a frame.
//
// Lights are attached every frame and cleared by EndFrame. Rendering happens in a fixed order:
// the global light as a fullscreen triangle, then every spot light as a cone volume, then every
// point light as a sphere volume, one instanced draw per local light. Lights that cast shadows
// this frame use the shadowed variation of their program when the matching shadow map is
// published in the frame resources.
type Server interface {
	// Setup creates the programs, light volumes and per-frame buffers of the server.
	//
	// Parameters:
	//   - backend: the backend resources are created on
	//   - resources: the frame resources; LightBuffer, ZBuffer, NormalBuffer, AlbedoBuffer and
	//     the FrameConstants ring are required, the shadow maps are optional
	//   - bufferedFrames: the number of frames in flight
	//
	// Returns:
	//   - error: an error wrapping framegraph.ErrResourceNotFound for a missing required resource,
	//     or an allocation error
	Setup(backend renderer.GraphicsBackend, resources *framegraph.Resources, bufferedFrames int) error

	// Register adds the Lights callback to graph.
	//
	// Parameters:
	//   - graph: the frame graph
	//
	// Returns:
	//   - error: framegraph.ErrDuplicateCallback if the server is registered twice
	Register(graph framegraph.FrameGraph) error

	// AttachVisibleLight adds a light to the current frame. The global light is stored singly,
	// the last one attached wins. Attaching the same light twice in a frame is a no-op.
	//
	// Parameters:
	//   - l: the light
	AttachVisibleLight(l Light)

	// GlobalLight returns the global light of the current frame, or nil.
	GlobalLight() Light

	// VisibleLights returns the attached lights of one type in attach order.
	//
	// Parameters:
	//   - t: the light type
	//
	// Returns:
	//   - []Light: the lights; at most one for LightTypeGlobal
	VisibleLights(t LightType) []Light

	// RenderLights records the shading of every attached light into the LightBuffer.
	//
	// Parameters:
	//   - ctx: the frame context
	//
	// Returns:
	//   - error: ErrNotSetup, or an upload error
	RenderLights(ctx *framegraph.FrameContext) error

	// EndFrame clears the attached lights.
	EndFrame()

	// Discard releases every GPU resource of the server.
	Discard()
}

type lightSlot struct {
	global renderer.BufferHandle
	spots  renderer.BufferHandle
	points renderer.BufferHandle

	// tables are indexed by variation. Shadowed tables are invalid when their shadow map is missing.
	tables [numVariations]renderer.ResourceTableHandle
}

// server is the implementation of the Server interface.
type server struct {
	mu sync.Mutex

	log       *zap.Logger
	maxLocal  int
	backend   renderer.GraphicsBackend
	resources *framegraph.Resources

	programs [numVariations]renderer.ShaderProgramHandle
	sphere   model.Mesh
	cone     model.Mesh
	frames   *ringbuffer.Ring[lightSlot]

	global   Light
	spots    []Light
	points   []Light
	attached map[Light]struct{}
	dropped  int
}

var _ Server = &server{}

// NewServer creates a light server.
//
// Parameters:
//   - options: functional options such as WithLogger and WithMaxLocalLights
//
// Returns:
//   - Server: the server, ready for Setup
func NewServer(options ...ServerOption) Server {
	s := &server{
		log:      zap.NewNop(),
		maxLocal: DefaultMaxLocalLights,
		frames:   ringbuffer.New[lightSlot](),
		attached: make(map[Light]struct{}),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *server) Setup(backend renderer.GraphicsBackend, resources *framegraph.Resources, bufferedFrames int) error {
	s.Discard()

	var inputs [4]renderer.TextureHandle
	for i, name := range []string{framegraph.LightBuffer, framegraph.ZBuffer, framegraph.NormalBuffer, framegraph.AlbedoBuffer} {
		tex, err := resources.Texture(name)
		if err != nil {
			s.log.Error("light server cannot find a frame texture", zap.String("name", name))
			return err
		}
		inputs[i] = tex
	}
	depth, normal, albedo := inputs[1], inputs[2], inputs[3]
	frameConstants, err := resources.BufferRing(framegraph.FrameConstantsRing)
	if err != nil {
		return err
	}
	if len(frameConstants) < bufferedFrames {
		return fmt.Errorf("frame constants ring has %d slots, need %d", len(frameConstants), bufferedFrames)
	}

	// shadow maps are optional; without one the shadowed variation is never used
	var shadowMaps [numVariations]renderer.TextureHandle
	for v, name := range map[variation]string{
		variationGlobalShadowed: framegraph.GlobalShadowMap,
		variationSpotShadowed:   framegraph.SpotShadowAtlas,
		variationPointShadowed:  framegraph.PointShadowMaps,
	} {
		if tex, err := resources.Texture(name); err == nil {
			shadowMaps[v] = tex
		}
	}

	s.sphere = model.Sphere("Light Sphere", sphereRings, sphereSegments)
	s.cone = model.Cone("Light Cone", coneSegments)
	for _, m := range []model.Mesh{s.sphere, s.cone} {
		if err := m.Upload(backend); err != nil {
			s.release(backend)
			return err
		}
	}

	for v := variation(0); v < numVariations; v++ {
		layout := renderer.VertexLayoutPosition
		if v <= variationGlobalShadowed {
			layout = renderer.VertexLayoutNone
		}
		p, err := backend.CreateShaderProgram(renderer.ShaderProgramDesc{
			Shader:       shader.ProgramLights,
			Mask:         shader.BuiltinMask(variationFeatures[v]),
			Topology:     renderer.TopologyTriangleList,
			VertexLayout: layout,
			ColorTargets: []renderer.TextureFormat{renderer.FormatRGBA16F},
			Blend:        renderer.BlendAdditive,
		})
		if err != nil {
			s.release(backend)
			return fmt.Errorf("failed to create lights program [%s]: %w", variationFeatures[v], err)
		}
		s.programs[v] = p
	}

	maxLocal := uint64(s.maxLocal)
	create := func(i int) (lightSlot, error) {
		var slot lightSlot
		var err error
		slot.global, err = backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("Global Light[%d]", i),
			Size:  GlobalLightConstantsSize,
			Usage: renderer.BufferUsageConstant | renderer.BufferUsageCopyDst,
		})
		if err != nil {
			return slot, err
		}
		slot.spots, err = backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("Spot Lights[%d]", i),
			Size:  maxLocal * LocalLightConstantsSize,
			Usage: renderer.BufferUsageStorage | renderer.BufferUsageCopyDst,
		})
		if err != nil {
			destroyLightSlot(backend, slot)
			return slot, err
		}
		slot.points, err = backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("Point Lights[%d]", i),
			Size:  maxLocal * LocalLightConstantsSize,
			Usage: renderer.BufferUsageStorage | renderer.BufferUsageCopyDst,
		})
		if err != nil {
			destroyLightSlot(backend, slot)
			return slot, err
		}

		for v := variation(0); v < numVariations; v++ {
			shadowed := v%2 == 1
			if shadowed && !shadowMaps[v].Valid() {
				continue
			}
			t, err := backend.CreateResourceTable(renderer.ResourceTableDesc{
				Name:    fmt.Sprintf("Lights[%d] %s", i, variationFeatures[v]),
				Program: s.programs[v],
			})
			if err != nil {
				destroyLightSlot(backend, slot)
				return slot, err
			}
			slot.tables[v] = t

			errs := []error{
				backend.ResourceTableSetConstantBuffer(t, 0, frameConstants[i], 0, framegraph.FrameConstantsSize),
				backend.ResourceTableSetTexture(t, 1, depth),
				backend.ResourceTableSetTexture(t, 2, normal),
				backend.ResourceTableSetTexture(t, 3, albedo),
			}
			switch {
			case v <= variationGlobalShadowed:
				errs = append(errs, backend.ResourceTableSetConstantBuffer(t, 4, slot.global, 0, GlobalLightConstantsSize))
			case v <= variationSpotShadowed:
				errs = append(errs, backend.ResourceTableSetBuffer(t, 4, slot.spots))
			default:
				errs = append(errs, backend.ResourceTableSetBuffer(t, 4, slot.points))
			}
			if shadowed {
				errs = append(errs,
					backend.ResourceTableSetTexture(t, 5, shadowMaps[v]),
					backend.ResourceTableSetSampler(t, 6, renderer.SamplerLinearClamp),
				)
			}
			errs = append(errs, backend.CommitResourceTable(t))
			if err := errors.Join(errs...); err != nil {
				destroyLightSlot(backend, slot)
				return slot, fmt.Errorf("lights table %s: %w", variationFeatures[v], err)
			}
		}
		return slot, nil
	}
	if err := s.frames.Resize(bufferedFrames, create, func(slot lightSlot) { destroyLightSlot(backend, slot) }); err != nil {
		s.release(backend)
		return fmt.Errorf("failed to create light frame resources: %w", err)
	}

	s.mu.Lock()
	s.backend, s.resources = backend, resources
	s.mu.Unlock()
	s.log.Info("light server ready",
		zap.Int("bufferedFrames", bufferedFrames),
		zap.Bool("globalShadows", shadowMaps[variationGlobalShadowed].Valid()),
		zap.Bool("spotShadows", shadowMaps[variationSpotShadowed].Valid()),
		zap.Bool("pointShadows", shadowMaps[variationPointShadowed].Valid()),
	)
	return nil
}

func destroyLightSlot(backend renderer.GraphicsBackend, slot lightSlot) {
	for _, t := range slot.tables {
		if t.Valid() {
			_ = backend.DestroyResourceTable(t)
		}
	}
	for _, b := range []renderer.BufferHandle{slot.global, slot.spots, slot.points} {
		if b.Valid() {
			_ = backend.DestroyBuffer(b)
		}
	}
}

// release destroys everything Setup created.
func (s *server) release(backend renderer.GraphicsBackend) {
	s.frames.Discard()
	for i, p := range s.programs {
		if p.Valid() {
			_ = backend.DestroyShaderProgram(p)
		}
		s.programs[i] = renderer.ShaderProgramHandle{}
	}
	for _, m := range []model.Mesh{s.sphere, s.cone} {
		if m != nil {
			m.Discard(backend)
		}
	}
	s.sphere, s.cone = nil, nil
}

func (s *server) Register(graph framegraph.FrameGraph) error {
	return graph.AddCallback(LightsCallback, s.RenderLights,
		framegraph.Reads(framegraph.ZBuffer),
		framegraph.Reads(framegraph.NormalBuffer),
		framegraph.Reads(framegraph.AlbedoBuffer),
		framegraph.Writes(framegraph.LightBuffer),
	)
}

func (s *server) AttachVisibleLight(l Light) {
	if l == nil || !l.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attached[l]; ok {
		return
	}
	switch l.Type() {
	case LightTypeGlobal:
		if s.global != nil {
			delete(s.attached, s.global)
		}
		s.global = l
	case LightTypeSpot:
		if len(s.spots) >= s.maxLocal {
			s.dropped++
			return
		}
		s.spots = append(s.spots, l)
	case LightTypePoint:
		if len(s.points) >= s.maxLocal {
			s.dropped++
			return
		}
		s.points = append(s.points, l)
	default:
		return
	}
	s.attached[l] = struct{}{}
}

func (s *server) GlobalLight() Light {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global
}

func (s *server) VisibleLights(t LightType) []Light {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch t {
	case LightTypeGlobal:
		if s.global == nil {
			return nil
		}
		return []Light{s.global}
	case LightTypeSpot:
		return append([]Light(nil), s.spots...)
	case LightTypePoint:
		return append([]Light(nil), s.points...)
	}
	return nil
}

func (s *server) RenderLights(ctx *framegraph.FrameContext) error {
	s.mu.Lock()
	backend, resources := s.backend, s.resources
	global := s.global
	spots := append([]Light(nil), s.spots...)
	points := append([]Light(nil), s.points...)
	dropped := s.dropped
	s.mu.Unlock()
	if backend == nil {
		return ErrNotSetup
	}
	if dropped > 0 {
		s.log.Warn("local light budget exceeded", zap.Int("dropped", dropped), zap.Int("max", s.maxLocal))
	}

	slot := s.frames.Get(ctx.BufferIndex)
	view := ctx.Camera.View
	if global != nil {
		constants := NewGlobalLightConstants(global, view)
		if err := backend.UploadBuffer(slot.global, 0, constants.Marshal()); err != nil {
			return fmt.Errorf("failed to upload global light: %w", err)
		}
	}
	if len(spots) > 0 {
		if err := renderer.UploadChunked(backend, slot.spots, 0, MarshalLocalLights(spots, view)); err != nil {
			return fmt.Errorf("failed to upload spot lights: %w", err)
		}
	}
	if len(points) > 0 {
		if err := renderer.UploadChunked(backend, slot.points, 0, MarshalLocalLights(points, view)); err != nil {
			return fmt.Errorf("failed to upload point lights: %w", err)
		}
	}

	target := resources.MustTexture(framegraph.LightBuffer)
	barrier := renderer.Barrier{
		Name:      "Lights Target",
		FromStage: renderer.StagePixelShader,
		ToStage:   renderer.StageColorWrite,
		Textures: []renderer.TextureBarrier{
			renderer.Transition(target, renderer.AllSubresources, renderer.LayoutShaderRead, renderer.LayoutColorRender),
		},
	}
	backend.InsertBarrier(barrier)
	backend.BeginPass(renderer.PassDesc{
		Name:         LightsCallback,
		ColorTargets: []renderer.TextureHandle{target},
		Clear:        true,
	})
	backend.SetViewport(renderer.ViewportFromRect(common.NewRect(0, 0, int32(ctx.Width), int32(ctx.Height))))

	if global != nil {
		v := s.pick(slot, variationGlobal, global)
		backend.SetShaderProgram(s.programs[v])
		backend.SetResourceTable(slot.tables[v], 0)
		backend.Draw(3, 0)
	}
	s.drawVolumes(backend, slot, variationSpot, spots, s.cone)
	s.drawVolumes(backend, slot, variationPoint, points, s.sphere)

	backend.EndPass()
	backend.InsertBarrier(barrier.Reverse())
	return nil
}

// pick selects the shadowed variation of base when l has a shadow map this frame and the
// shadow map is bound.
func (s *server) pick(slot lightSlot, base variation, l Light) variation {
	if l.CastShadowsThisFrame() && slot.tables[base+1].Valid() {
		return base + 1
	}
	return base
}

// drawVolumes draws one instance of mesh per light. Light i reads record i of the storage
// array through its instance index.
func (s *server) drawVolumes(backend renderer.GraphicsBackend, slot lightSlot, base variation, lights []Light, mesh model.Mesh) {
	current := variation(-1)
	for i, l := range lights {
		v := s.pick(slot, base, l)
		if v != current {
			backend.SetShaderProgram(s.programs[v])
			backend.SetResourceTable(slot.tables[v], 0)
			backend.SetVertexBuffer(mesh.VertexBuffer(), 0)
			current = v
		}
		backend.DrawInstanced(mesh.VertexCount(), 1, 0, uint32(i))
	}
}

func (s *server) EndFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.global = nil
	clear(s.spots)
	s.spots = s.spots[:0]
	clear(s.points)
	s.points = s.points[:0]
	clear(s.attached)
	s.dropped = 0
}

func (s *server) Discard() {
	s.mu.Lock()
	backend := s.backend
	s.backend, s.resources = nil, nil
	s.mu.Unlock()
	if backend == nil {
		return
	}
	s.release(backend)
	s.log.Debug("discarded")
}
