package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/nebula-go/engine/graphics"
	"github.com/Carmen-Shannon/nebula-go/engine/logger"
	"github.com/Carmen-Shannon/nebula-go/engine/profiler"
	"github.com/Carmen-Shannon/nebula-go/engine/window"
	"go.uber.org/zap"
)

type engine struct {
	log *zap.Logger

	// rateCh hands tick rate changes to the running logic loop
	rateCh chan time.Duration

	running atomic.Bool
	wg      sync.WaitGroup

	quit     chan struct{}
	quitOnce sync.Once

	window window.Window
	rs     graphics.RenderSystem

	profiler         *profiler.Profiler
	profilingEnabled atomic.Bool

	mu             sync.Mutex
	tickPeriod     time.Duration
	onTick         func(deltaTime float32)
	renderCallback func(info graphics.FrameInfo)

	// pendingSize holds a resize reported by the window until the render loop applies it
	pendingSize atomic.Uint64

	// minFramePeriod is the shortest time a render frame may take, 0 when uncapped
	minFramePeriod time.Duration
}

// Engine drives a RenderSystem. Run starts a fixed-rate logic loop next to an unbounded or
// capped render loop and pumps window messages on the calling goroutine, which must be the
// goroutine that created the window.
type Engine interface {
	// Window returns the window, or nil for a headless engine.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// RenderSystem returns the render system the engine drives.
	//
	// Returns:
	//   - graphics.RenderSystem: the render system
	RenderSystem() graphics.RenderSystem

	// Profiler returns the frame profiler.
	Profiler() *profiler.Profiler

	// EnableProfiler turns the periodic profiler report on.
	EnableProfiler()

	// DisableProfiler turns the periodic profiler report off.
	DisableProfiler()

	// SetTickRate changes the logic loop rate, also while Run is active.
	//
	// Parameters:
	//   - hz: logic ticks per second, 60 when not positive
	SetTickRate(hz float64)

	// SetTickCallback sets the logic callback. It runs on the logic goroutine, so anything it
	// shares with the render side needs its own synchronization.
	//
	// Parameters:
	//   - callback: receives the seconds since the previous tick
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called each render frame after the views
	// are recorded and before the frame is submitted.
	//
	// Parameters:
	//   - callback: function to call each render frame
	SetRenderCallback(callback func(info graphics.FrameInfo))

	// SetRenderFrameLimit caps the render loop.
	//
	// Parameters:
	//   - hz: maximum frames per second, 0 for no cap
	SetRenderFrameLimit(hz float64)

	// Frame renders one frame on the calling goroutine: NewFrame, pre-logic, every view,
	// post-logic, the render callback and EndFrame.
	//
	// Returns:
	//   - error: the joined view and submit errors of the frame
	Frame() error

	// RunFrames renders n frames on the calling goroutine and stops at the first error.
	//
	// Parameters:
	//   - n: the number of frames
	//
	// Returns:
	//   - error: the first frame error
	RunFrames(n int) error

	// Run starts the tick and render loops and blocks until the window closes or Quit is
	// called. A headless engine blocks until Quit.
	Run()

	// Quit stops both loops and asks the window to close. Only the first call has an effect.
	Quit()
}

// NewEngine creates an Engine for rs. Without WithWindow the engine is headless.
//
// Parameters:
//   - rs: the render system
//   - options: functional options such as WithWindow, WithConfig and WithTickRate
//
// Returns:
//   - Engine: the engine
func NewEngine(rs graphics.RenderSystem, options ...EngineBuilderOption) Engine {
	e := &engine{
		rs:         rs,
		rateCh:     make(chan time.Duration, 1),
		quit:       make(chan struct{}),
		tickPeriod: time.Second / 60,
	}
	for _, option := range options {
		option(e)
	}
	e.log = logger.OrNop(e.log).Named("engine")
	if e.profiler == nil {
		e.profiler = profiler.NewProfiler(profiler.WithLogger(e.log))
	}

	if e.window != nil {
		// resizes arrive on the window thread; the render loop picks them up in Frame
		e.window.SetResizeCallback(func(width, height int) {
			e.pendingSize.Store(uint64(uint32(width))<<32 | uint64(uint32(height)))
		})
	}
	return e
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) RenderSystem() graphics.RenderSystem {
	return e.rs
}

func (e *engine) Profiler() *profiler.Profiler {
	return e.profiler
}

func (e *engine) Run() {
	e.running.Store(true)
	e.wg.Add(2)
	go e.logicLoop()
	go e.renderLoop()
	if e.window != nil {
		e.window.ProcessMessages()
		e.signalQuit()
	}
	e.wg.Wait()
	e.running.Store(false)
}

func (e *engine) Quit() {
	e.signalQuit()
}

func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		close(e.quit)
		if e.window != nil {
			e.window.RequestClose()
		}
	})
}

func (e *engine) logicLoop() {
	defer e.wg.Done()

	e.mu.Lock()
	ticker := time.NewTicker(e.tickPeriod)
	e.mu.Unlock()
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-e.quit:
			return
		case now := <-ticker.C:
			dt := float32(now.Sub(last).Seconds())
			last = now
			e.mu.Lock()
			onTick := e.onTick
			e.mu.Unlock()
			if onTick != nil {
				onTick(dt)
			}
		case p := <-e.rateCh:
			ticker.Reset(p)
			e.mu.Lock()
			e.tickPeriod = p
			e.mu.Unlock()
		}
	}
}

// renderLoop renders until quit. A panic inside a frame is logged and stops the engine.
func (e *engine) renderLoop() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("render loop panicked", zap.Any("panic", r))
			e.signalQuit()
		}
	}()

	for {
		select {
		case <-e.quit:
			return
		default:
		}
		start := time.Now()
		if err := e.Frame(); err != nil {
			e.log.Warn("frame failed", zap.Error(err))
		}
		e.mu.Lock()
		minPeriod := e.minFramePeriod
		e.mu.Unlock()
		if rest := minPeriod - time.Since(start); minPeriod > 0 && rest > 0 {
			time.Sleep(rest)
		}
	}
}

// applyResize forwards the last size reported by the window to the render system.
func (e *engine) applyResize() error {
	size := e.pendingSize.Swap(0)
	if size == 0 {
		return nil
	}
	width, height := uint32(size>>32), uint32(size)
	if err := e.rs.Resize(width, height); err != nil {
		return fmt.Errorf("failed to resize to %dx%d: %w", width, height, err)
	}
	return nil
}

func (e *engine) Frame() error {
	if err := e.applyResize(); err != nil {
		return err
	}
	s := e.rs.Server()
	info, err := s.NewFrame()
	if err != nil {
		return err
	}
	s.RunPreLogic()
	renderErr := s.Render()
	s.RunPostLogic()

	e.mu.Lock()
	callback := e.renderCallback
	e.mu.Unlock()
	if callback != nil {
		callback(info)
	}

	endErr := s.EndFrame()
	if e.profilingEnabled.Load() {
		e.profiler.Tick(e.rs.Graph().Timings())
	}
	return errors.Join(renderErr, endErr)
}

func (e *engine) RunFrames(n int) error {
	for i := range n {
		if err := e.Frame(); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return nil
}

func (e *engine) EnableProfiler() {
	e.profilingEnabled.Store(true)
}

func (e *engine) DisableProfiler() {
	e.profilingEnabled.Store(false)
}

func (e *engine) SetTickRate(hz float64) {
	p := period(hz, time.Second/60)
	if !e.running.Load() {
		e.mu.Lock()
		e.tickPeriod = p
		e.mu.Unlock()
		return
	}
	// only the latest pending rate matters
	for {
		select {
		case e.rateCh <- p:
			return
		default:
		}
		select {
		case <-e.rateCh:
		default:
		}
	}
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTick = callback
}

func (e *engine) SetRenderCallback(callback func(info graphics.FrameInfo)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renderCallback = callback
}

func (e *engine) SetRenderFrameLimit(hz float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.minFramePeriod = period(hz, 0)
}
