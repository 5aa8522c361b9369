package graphics

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"github.com/Carmen-Shannon/nebula-go/engine/debugdraw"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/Carmen-Shannon/nebula-go/engine/logger"
	"github.com/Carmen-Shannon/nebula-go/engine/posteffects"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/shadow"
	"github.com/Carmen-Shannon/nebula-go/engine/visibility"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// RenderSystem owns every renderer subsystem of one backend and wires them into a single
// frame graph in the order of the frame script:
// ShadowMaps, GBuffer, HBAO, Lights, Fog, SSR, Tonemap, DebugDraw and Present.
type RenderSystem interface {
	// Server returns the graphics server that drives frames.
	Server() GraphicsServer

	// Backend returns the GPU backend.
	Backend() renderer.GraphicsBackend

	// Graph returns the frame graph.
	Graph() framegraph.FrameGraph

	// Resources returns the named frame resources.
	Resources() *framegraph.Resources

	// Script returns the frame script the textures and callback order come from.
	Script() *framegraph.Script

	// Debug returns the debug primitive collector.
	Debug() debugdraw.Collector

	// Shadows returns the shadow server.
	Shadows() shadow.Server

	// Lights returns the light server.
	Lights() light.Server

	// Resolver returns the visibility resolver shared by the geometry and shadow passes.
	Resolver() visibility.Resolver

	// HBAO returns the ambient occlusion effect.
	HBAO() posteffects.HBAO

	// SSR returns the screen-space reflection effect.
	SSR() posteffects.SSR

	// Fog returns the volumetric fog effect.
	Fog() posteffects.Fog

	// Tonemap returns the luminance adaptation effect.
	Tonemap() posteffects.Tonemap

	// Size returns the current render size in pixels.
	Size() (uint32, uint32)

	// BufferedFrames returns the number of frames in flight.
	BufferedFrames() int

	// EffectEnabled reports whether the named effect records this frame.
	//
	// Parameters:
	//   - name: the effect name, for example "HBAO"
	//
	// Returns:
	//   - bool: false for a disabled or unknown effect
	EffectEnabled(name string) bool

	// ApplyEffects toggles and tunes the screen-space effects. It takes effect at the next frame.
	//
	// Parameters:
	//   - cfg: the effect settings
	ApplyEffects(cfg config.Effects)

	// Resize resizes the backbuffer, the frame script textures and everything that binds them.
	// A zero size is ignored.
	//
	// Parameters:
	//   - width: the new width in pixels
	//   - height: the new height in pixels
	//
	// Returns:
	//   - error: the first resize error
	Resize(width, height uint32) error

	// Shutdown releases every GPU resource the render system created. It does not close
	// the backend.
	Shutdown()
}

type renderSystem struct {
	mu sync.Mutex

	log            *zap.Logger
	backend        renderer.GraphicsBackend
	bufferedFrames int
	width, height  uint32
	maxInstances   int
	markers        bool
	step           float64

	script    *framegraph.Script
	resources *framegraph.Resources
	graph     framegraph.FrameGraph
	server    *graphicsServer

	debug    debugdraw.Collector
	shadows  shadow.Server
	lights   light.Server
	resolver visibility.Resolver
	geometry *geometry

	hbao    posteffects.HBAO
	ssr     posteffects.SSR
	fog     posteffects.Fog
	tonemap posteffects.Tonemap
	effects []posteffects.Effect
	enabled map[string]*atomic.Bool

	shutdown bool
}

var _ RenderSystem = &renderSystem{}

// NewRenderSystem creates every renderer subsystem on backend and registers their callbacks.
//
// Parameters:
//   - backend: the GPU backend, already sized to the window
//   - cfg: the engine configuration
//   - options: functional options such as WithLogger
//
// Returns:
//   - RenderSystem: the render system
//   - error: an error if a subsystem cannot be created or the callbacks break the script order
func NewRenderSystem(backend renderer.GraphicsBackend, cfg config.Config, options ...RenderSystemOption) (RenderSystem, error) {
	rs := &renderSystem{
		backend:        backend,
		bufferedFrames: cfg.Renderer.BufferedFrames,
		width:          uint32(cfg.Window.Width),
		height:         uint32(cfg.Window.Height),
		maxInstances:   DefaultMaxInstances,
		markers:        true,
		enabled:        make(map[string]*atomic.Bool),
	}
	for _, option := range options {
		option(rs)
	}
	rs.log = logger.OrNop(rs.log).Named("graphics")
	if rs.bufferedFrames <= 0 {
		return nil, fmt.Errorf("buffered frames must be positive, got %d", rs.bufferedFrames)
	}
	if rs.script == nil {
		s, err := framegraph.DefaultScript()
		if err != nil {
			return nil, err
		}
		rs.script = s
	}

	shadowOptions, err := shadow.OptionsFromConfig(cfg.Shadows)
	if err != nil {
		return nil, err
	}
	rs.resources = framegraph.NewResources(rs.log)
	rs.graph = framegraph.NewFrameGraph(framegraph.WithLogger(rs.log), framegraph.WithMarkers(rs.markers))
	rs.server = newGraphicsServer(rs, rs.log, rs.step)
	rs.resolver = visibility.NewResolver(visibility.WithLogger(rs.log))
	rs.lights = light.NewServer(light.WithLogger(rs.log))
	rs.shadows = shadow.NewServer(append(shadowOptions,
		shadow.WithLogger(rs.log),
		shadow.WithLightServer(rs.lights),
		shadow.WithResolver(rs.resolver),
	)...)
	rs.geometry = newGeometry(rs.log, rs.maxInstances)

	debugOptions := []debugdraw.CollectorOption{debugdraw.WithLogger(rs.log)}
	if cfg.Debug.Grid {
		debugOptions = append(debugOptions, debugdraw.WithGrid(mgl32.Vec3{}, cfg.Debug.GridSize, cfg.Debug.GridCells))
	}
	rs.debug = debugdraw.NewCollector(debugOptions...)

	effectLog := posteffects.WithLogger(rs.log)
	rs.hbao = posteffects.NewHBAO(hbaoSettings(cfg.Effects.HBAO), effectLog)
	rs.ssr = posteffects.NewSSR(posteffects.DefaultSSRSettings(), effectLog)
	rs.fog = posteffects.NewFog(fogSettings(cfg.Effects.Fog), effectLog)
	rs.tonemap = posteffects.NewTonemap(posteffects.DefaultTonemapSettings(), effectLog)
	rs.effects = []posteffects.Effect{rs.hbao, rs.fog, rs.ssr, rs.tonemap}
	for _, e := range rs.effects {
		rs.enabled[e.Name()] = &atomic.Bool{}
	}
	rs.ApplyEffects(cfg.Effects)

	if err := rs.setup(); err != nil {
		rs.Shutdown()
		return nil, err
	}
	if err := rs.register(); err != nil {
		rs.Shutdown()
		return nil, err
	}
	for _, err := range rs.graph.Validate() {
		rs.log.Warn("frame graph usage", zap.Error(err))
	}
	rs.log.Info("render system ready",
		zap.Uint32("width", rs.width),
		zap.Uint32("height", rs.height),
		zap.Int("bufferedFrames", rs.bufferedFrames),
		zap.Strings("callbacks", rs.graph.Names()),
	)
	return rs, nil
}

func hbaoSettings(cfg config.HBAO) posteffects.HBAOSettings {
	return posteffects.HBAOSettings{Radius: cfg.Radius, Strength: cfg.Strength, AngleBiasDegrees: cfg.AngleBiasDegrees}
}

func fogSettings(cfg config.Fog) posteffects.FogSettings {
	return posteffects.FogSettings{Turbidity: cfg.Turbidity, Absorption: mgl32.Vec3(cfg.Absorption)}
}

// setup creates the GPU resources. The shadow server opens before the light server so the
// shadowed light variations find the shadow maps.
func (rs *renderSystem) setup() error {
	b, res, n := rs.backend, rs.resources, rs.bufferedFrames
	if err := rs.script.Instantiate(b, res, rs.width, rs.height); err != nil {
		return fmt.Errorf("failed to instantiate frame script: %w", err)
	}
	if err := framegraph.CreateFrameConstantsRing(b, res, n); err != nil {
		return err
	}
	if err := rs.shadows.Open(b, res, n); err != nil {
		return fmt.Errorf("failed to open shadow server: %w", err)
	}
	if err := rs.lights.Setup(b, res, n); err != nil {
		return fmt.Errorf("failed to set up light server: %w", err)
	}
	if err := rs.geometry.Setup(b, res, n); err != nil {
		return err
	}
	for _, e := range rs.effects {
		if err := e.Setup(b, res, n); err != nil {
			return fmt.Errorf("failed to set up %s: %w", e.Name(), err)
		}
	}
	if err := rs.debug.Setup(b, res, n); err != nil {
		return fmt.Errorf("failed to set up debug draw: %w", err)
	}
	return nil
}

func (rs *renderSystem) register() error {
	steps := []func(framegraph.FrameGraph) error{
		rs.shadows.Register,
		rs.geometry.Register,
		rs.gated(rs.hbao),
		rs.lights.Register,
		rs.gated(rs.fog),
		rs.gated(rs.ssr),
		rs.gated(rs.tonemap),
		rs.debug.Register,
		registerPresent,
	}
	for _, register := range steps {
		if err := register(rs.graph); err != nil {
			return err
		}
	}
	return rs.script.CheckOrder(rs.graph)
}

// gated registers the callbacks of e behind its enabled flag.
func (rs *renderSystem) gated(e posteffects.Effect) func(framegraph.FrameGraph) error {
	enabled := rs.enabled[e.Name()]
	return func(graph framegraph.FrameGraph) error {
		return e.Register(gatedGraph{FrameGraph: graph, enabled: enabled})
	}
}

// gatedGraph wraps every callback added through it so it only runs while enabled is set.
type gatedGraph struct {
	framegraph.FrameGraph
	enabled *atomic.Bool
}

func (g gatedGraph) AddCallback(name string, fn framegraph.Callback, usages ...framegraph.Usage) error {
	enabled := g.enabled
	return g.FrameGraph.AddCallback(name, func(ctx *framegraph.FrameContext) error {
		if !enabled.Load() {
			return nil
		}
		return fn(ctx)
	}, usages...)
}

func (rs *renderSystem) frameContext(info FrameInfo) *framegraph.FrameContext {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return &framegraph.FrameContext{
		FrameIndex:  info.FrameIndex,
		BufferIndex: info.BufferIndex,
		Time:        info.Time,
		DeltaTime:   info.DeltaTime,
		Width:       rs.width,
		Height:      rs.height,
		Backend:     rs.backend,
		Resources:   rs.resources,
	}
}

func (rs *renderSystem) Server() GraphicsServer {
	return rs.server
}

func (rs *renderSystem) Backend() renderer.GraphicsBackend {
	return rs.backend
}

func (rs *renderSystem) Graph() framegraph.FrameGraph {
	return rs.graph
}

func (rs *renderSystem) Resources() *framegraph.Resources {
	return rs.resources
}

func (rs *renderSystem) Script() *framegraph.Script {
	return rs.script
}

func (rs *renderSystem) Debug() debugdraw.Collector {
	return rs.debug
}

func (rs *renderSystem) Shadows() shadow.Server {
	return rs.shadows
}

func (rs *renderSystem) Lights() light.Server {
	return rs.lights
}

func (rs *renderSystem) Resolver() visibility.Resolver {
	return rs.resolver
}

func (rs *renderSystem) HBAO() posteffects.HBAO {
	return rs.hbao
}

func (rs *renderSystem) SSR() posteffects.SSR {
	return rs.ssr
}

func (rs *renderSystem) Fog() posteffects.Fog {
	return rs.fog
}

func (rs *renderSystem) Tonemap() posteffects.Tonemap {
	return rs.tonemap
}

func (rs *renderSystem) Size() (uint32, uint32) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.width, rs.height
}

func (rs *renderSystem) BufferedFrames() int {
	return rs.bufferedFrames
}

func (rs *renderSystem) EffectEnabled(name string) bool {
	e, ok := rs.enabled[name]
	return ok && e.Load()
}

func (rs *renderSystem) ApplyEffects(cfg config.Effects) {
	rs.enabled[rs.hbao.Name()].Store(cfg.HBAO.Enabled)
	rs.enabled[rs.ssr.Name()].Store(cfg.SSR.Enabled)
	rs.enabled[rs.fog.Name()].Store(cfg.Fog.Enabled)
	rs.enabled[rs.tonemap.Name()].Store(cfg.Tonemap.Enabled)
	rs.hbao.SetSettings(hbaoSettings(cfg.HBAO))
	rs.fog.SetSettings(fogSettings(cfg.Fog))
	rs.log.Debug("effects applied",
		zap.Bool("hbao", cfg.HBAO.Enabled),
		zap.Bool("ssr", cfg.SSR.Enabled),
		zap.Bool("fog", cfg.Fog.Enabled),
		zap.Bool("tonemap", cfg.Tonemap.Enabled),
	)
}

func (rs *renderSystem) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return nil
	}
	rs.mu.Lock()
	if rs.width == width && rs.height == height {
		rs.mu.Unlock()
		return nil
	}
	rs.width, rs.height = width, height
	rs.mu.Unlock()

	if err := rs.backend.Resize(width, height); err != nil {
		return err
	}
	if err := rs.script.Resize(rs.backend, rs.resources, width, height); err != nil {
		return err
	}
	// the light tables bind the resized script textures
	if err := rs.lights.Setup(rs.backend, rs.resources, rs.bufferedFrames); err != nil {
		return fmt.Errorf("failed to rebuild light server: %w", err)
	}
	var errs []error
	for _, e := range rs.effects {
		errs = append(errs, e.Resize(width, height))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	rs.log.Info("resized", zap.Uint32("width", width), zap.Uint32("height", height))
	return nil
}

func (rs *renderSystem) Shutdown() {
	rs.mu.Lock()
	if rs.shutdown {
		rs.mu.Unlock()
		return
	}
	rs.shutdown = true
	rs.mu.Unlock()

	rs.debug.Discard()
	for i := len(rs.effects) - 1; i >= 0; i-- {
		rs.effects[i].Discard()
	}
	rs.geometry.Discard()
	rs.lights.Discard()
	rs.shadows.Close()
	framegraph.DiscardFrameConstantsRing(rs.backend, rs.resources)
	rs.script.Discard(rs.backend, rs.resources)
	rs.log.Info("render system shut down")
}
