// Command nebula-capture renders the demo stage on the recording backend and writes the
// recorded command stream as an lz4-compressed capture.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Carmen-Shannon/nebula-go/engine"
	"github.com/Carmen-Shannon/nebula-go/engine/camera"
	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"github.com/Carmen-Shannon/nebula-go/engine/graphics"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/Carmen-Shannon/nebula-go/internal/app"
	"github.com/Carmen-Shannon/nebula-go/internal/demo"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "nebula.toml", "config file (.toml, .yaml or .yml)")
	frames     = flag.Int("frames", 8, "number of frames to record")
	output     = flag.String("o", "capture.yaml.lz4", "capture output file")
	step       = flag.Float64("step", 1.0/60, "fixed time step in seconds")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, _, err := app.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	log, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log = log.Named("capture")

	f, err := os.Create(*output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", *output, err)
	}
	summary, err := capture(cfg, log, *frames, *step, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	log.Info("capture written",
		zap.String("path", *output),
		zap.Int("frames", *frames),
		zap.Int("commands", summary.commands),
		zap.Int("hazards", summary.hazards),
		zap.Int("violations", summary.violations),
	)
	for _, c := range summary.histogram {
		log.Info("command", zap.String("op", string(c.Op)), zap.Int("count", c.Count))
	}
	if summary.hazards > 0 || summary.violations > 0 {
		return errors.New("capture recorded hazards or violations")
	}
	return nil
}

type captureSummary struct {
	commands   int
	hazards    int
	violations int
	histogram  []renderer.OpCount
}

// capture renders n frames of the demo stage headlessly and writes every recorded command
// to w.
func capture(cfg config.Config, log *zap.Logger, n int, step float64, w io.Writer) (captureSummary, error) {
	if n <= 0 {
		return captureSummary{}, fmt.Errorf("frame count must be positive, got %d", n)
	}
	lib, err := shader.NewLibrary(shader.NewFeatures())
	if err != nil {
		return captureSummary{}, err
	}
	backend, err := renderer.NewRecordingBackend(lib,
		renderer.WithFramesInFlight(cfg.Renderer.BufferedFrames),
		renderer.WithUploadMaxSize(uint64(cfg.Renderer.UploadMaxSize)),
		renderer.WithBackbufferSize(uint32(cfg.Window.Width), uint32(cfg.Window.Height)),
		renderer.WithRecordingLogger(log),
	)
	if err != nil {
		return captureSummary{}, err
	}
	defer func() { _ = backend.Close() }()

	rs, err := graphics.NewRenderSystem(backend, cfg,
		graphics.WithLogger(log),
		graphics.WithFixedTimestep(step),
	)
	if err != nil {
		return captureSummary{}, err
	}
	defer rs.Shutdown()

	d, err := demo.Build(rs)
	if err != nil {
		return captureSummary{}, err
	}
	defer d.Discard(backend)

	cam := camera.NewCamera(
		camera.WithWindowSize(cfg.Window),
		camera.WithClipPlanes(0.1, 500),
		camera.WithLookAt(mgl32.Vec3{18, 14, 18}, mgl32.Vec3{0, 1, 0}),
	)
	rs.Server().CreateView(cam, d.Stage)
	rs.Server().AddPreLogicCallback(func(info graphics.FrameInfo) {
		d.Animate(info.Time)
		d.DrawGizmos(rs.Debug())
	})

	eng := engine.NewEngine(rs, engine.WithConfig(cfg, log), engine.WithLogger(log))
	if err := eng.RunFrames(n); err != nil {
		return captureSummary{}, err
	}

	cmds := backend.Commands()
	if err := renderer.WriteCapture(w, cmds); err != nil {
		return captureSummary{}, err
	}
	return captureSummary{
		commands:   len(cmds),
		hazards:    len(backend.Hazards()),
		violations: len(backend.Violations()),
		histogram:  renderer.Histogram(cmds),
	}, nil
}
