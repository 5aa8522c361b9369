// Command nebula-viewer opens a window and renders the demo stage with the wgpu backend.
//
// Controls:
//
//	middle mouse  orbit
//	scroll        zoom
//	W A S D       pan
//	Q E           down, up
//	L G F         sun, spot and point lights
//	T             sun orbit
//	B             pillars
//	1 2 3 4       HBAO, fog, SSR, tonemapping
//	P             profiler
//	Esc           quit
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Carmen-Shannon/nebula-go/engine"
	"github.com/Carmen-Shannon/nebula-go/engine/camera"
	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"github.com/Carmen-Shannon/nebula-go/engine/graphics"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/wgpu_backend"
	"github.com/Carmen-Shannon/nebula-go/engine/window"
	"github.com/Carmen-Shannon/nebula-go/internal/app"
	"github.com/Carmen-Shannon/nebula-go/internal/demo"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "nebula.toml", "config file (.toml, .yaml or .yml)")
	software   = flag.Bool("software", false, "force the software adapter")
	frameLimit = flag.Float64("fps", 0, "render frame cap, 0 for uncapped")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, loaded, err := app.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	log, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log = log.Named("viewer")
	if !loaded {
		log.Info("config file not found, using defaults", zap.String("path", *configPath))
	}

	presentMode, err := renderer.ParsePresentMode(cfg.Renderer.PresentMode)
	if err != nil {
		return err
	}
	if bt, err := renderer.ParseBackendType(cfg.Renderer.Backend); err != nil {
		return err
	} else if bt != renderer.BackendTypeWGPU {
		return fmt.Errorf("the viewer needs the wgpu backend, use nebula-capture for %q", cfg.Renderer.Backend)
	}

	win, err := window.NewWindow(window.WithConfig(cfg.Window), window.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() { _ = win.Close() }()

	lib, err := shader.NewLibrary(shader.NewFeatures())
	if err != nil {
		return err
	}
	backend, err := wgpu_backend.NewBackend(win.SurfaceDescriptor(), lib,
		uint32(win.Width()), uint32(win.Height()),
		wgpu_backend.WithPresentMode(presentMode),
		wgpu_backend.WithUploadMaxSize(uint64(cfg.Renderer.UploadMaxSize)),
		wgpu_backend.WithForceSoftwareRenderer(*software),
		wgpu_backend.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("failed to close backend", zap.Error(err))
		}
	}()

	rs, err := graphics.NewRenderSystem(backend, cfg, graphics.WithLogger(log))
	if err != nil {
		return err
	}
	defer rs.Shutdown()

	d, err := demo.Build(rs)
	if err != nil {
		return err
	}
	defer d.Discard(backend)

	cam := camera.NewCamera(
		camera.WithWindowSize(cfg.Window),
		camera.WithClipPlanes(0.1, 500),
		camera.WithController(camera.NewCameraController(
			camera.WithTarget(mgl32.Vec3{0, 1, 0}),
			camera.WithOrbit(28, mgl32.DegToRad(35), mgl32.DegToRad(30)),
			camera.WithRadiusBounds(2, 150),
			camera.WithMouseSensitivity(0.005),
			camera.WithPanSpeed(0.15),
		)),
	)
	rs.Server().CreateView(cam, d.Stage)

	eng := engine.NewEngine(rs,
		engine.WithWindow(win),
		engine.WithConfig(cfg, log),
		engine.WithLogger(log),
		engine.WithTickRate(60),
		engine.WithRenderFrameLimit(*frameLimit),
	)

	ctl := newControls(log, rs, cam, d, cfg.Effects, appHooks{
		quit: eng.Quit,
		setProfiling: func(enabled bool) {
			if enabled {
				eng.EnableProfiler()
			} else {
				eng.DisableProfiler()
			}
		},
		profiling: cfg.Profiler.Enabled,
	})
	win.SetKeyCallback(ctl.key)
	win.SetMouseButtonCallback(ctl.mouseButton)
	win.SetMouseMoveCallback(ctl.mouseMove)
	win.SetScrollCallback(ctl.scroll)
	rs.Server().AddPreLogicCallback(ctl.apply)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if loaded {
		go func() {
			err := config.Watch(ctx, *configPath, log, func(c config.Config) {
				log.Info("config reloaded")
				ctl.setEffects(c.Effects)
			})
			if err != nil {
				log.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	log.Info("viewer started",
		zap.Int("width", win.Width()),
		zap.Int("height", win.Height()),
		zap.String("present_mode", cfg.Renderer.PresentMode),
	)
	eng.Run()
	log.Info("viewer stopped", zap.Uint64("frames", rs.Server().Frame().FrameIndex+1))
	return nil
}
