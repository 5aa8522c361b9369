package graphics

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/nebula-go/engine/camera"
	"github.com/Carmen-Shannon/nebula-go/engine/scene"
	"go.uber.org/zap"
)

// Stage is the set of lights and instances a view renders.
type Stage = scene.Scene

// FrameInfo identifies the frame being built.
type FrameInfo struct {
	// FrameIndex increases by one every frame, starting at 0.
	FrameIndex uint64

	// BufferIndex is FrameIndex modulo the number of buffered frames.
	BufferIndex int

	// Time is the number of seconds since the first frame.
	Time float64

	// DeltaTime is the number of seconds since the previous frame.
	DeltaTime float64
}

// FrameCallback is a view-independent frame hook.
type FrameCallback func(info FrameInfo)

// ViewCallback is a per-view frame hook.
type ViewCallback func(v View, info FrameInfo)

// GraphicsContext is a set of optional hooks around the frame and around every view.
type GraphicsContext struct {
	Name string

	OnBeforeFrame FrameCallback
	OnBeforeView  ViewCallback
	OnAfterView   ViewCallback
	OnAfterFrame  FrameCallback
}

// GraphicsServer drives frames: it owns the stages and views, runs the logic callbacks and
// renders every view of an active stage.
//
// A frame is NewFrame, RunPreLogic, Render, RunPostLogic and EndFrame. Calling NewFrame inside
// a frame, or Render and EndFrame outside one, is a programming error and panics.
type GraphicsServer interface {
	// CreateStage creates an empty stage.
	//
	// Parameters:
	//   - name: the stage name
	//   - options: scene options such as scene.WithObjects
	//
	// Returns:
	//   - Stage: the stage
	CreateStage(name string, options ...scene.SceneBuilderOption) Stage

	// CreateView creates a view rendering stage from cam. Views render in creation order.
	//
	// Parameters:
	//   - cam: the camera
	//   - stage: the stage
	//
	// Returns:
	//   - View: the view
	CreateView(cam camera.Camera, stage Stage) View

	// DiscardView removes a view. Unknown views are ignored.
	DiscardView(v View)

	// Views returns the views in render order.
	Views() []View

	// RegisterContext adds a set of frame hooks.
	RegisterContext(ctx GraphicsContext)

	// AddPreLogicCallback adds a view-independent callback run by RunPreLogic.
	AddPreLogicCallback(fn FrameCallback)

	// AddPreLogicViewCallback adds a callback RunPreLogic runs once per view.
	AddPreLogicViewCallback(fn ViewCallback)

	// AddPostLogicCallback adds a view-independent callback run by RunPostLogic.
	AddPostLogicCallback(fn FrameCallback)

	// AddPostLogicViewCallback adds a callback RunPostLogic runs once per view.
	AddPostLogicViewCallback(fn ViewCallback)

	// NewFrame advances the frame index and the timer, begins the backend frame and clears
	// the debug draw lists.
	//
	// Returns:
	//   - FrameInfo: the new frame
	//   - error: the backend BeginFrame error
	NewFrame() (FrameInfo, error)

	// RunPreLogic runs the pre-logic callbacks.
	RunPreLogic()

	// Render renders every view whose stage is active.
	//
	// Returns:
	//   - error: the joined view errors, each naming its stage
	Render() error

	// RunPostLogic runs the post-logic callbacks.
	RunPostLogic()

	// EndFrame submits the frame.
	//
	// Returns:
	//   - error: the backend EndFrame error
	EndFrame() error

	// Frame returns the current or last frame.
	Frame() FrameInfo
}

type graphicsServer struct {
	mu sync.Mutex

	rs  *renderSystem
	log *zap.Logger

	views    []*view
	contexts []GraphicsContext

	preLogic      []FrameCallback
	preLogicView  []ViewCallback
	postLogic     []FrameCallback
	postLogicView []ViewCallback

	inFrame bool
	started bool
	frame   FrameInfo
	start   time.Time
	now     func() time.Time
	step    float64
}

var _ GraphicsServer = &graphicsServer{}

func newGraphicsServer(rs *renderSystem, log *zap.Logger, step float64) *graphicsServer {
	return &graphicsServer{
		rs:   rs,
		log:  log.Named("server"),
		now:  time.Now,
		step: step,
	}
}

func (s *graphicsServer) CreateStage(name string, options ...scene.SceneBuilderOption) Stage {
	options = append([]scene.SceneBuilderOption{scene.WithLogger(s.rs.log)}, options...)
	return scene.NewScene(name, options...)
}

func (s *graphicsServer) CreateView(cam camera.Camera, stage Stage) View {
	v := &view{rs: s.rs, camera: cam, stage: stage}
	s.mu.Lock()
	s.views = append(s.views, v)
	s.mu.Unlock()
	s.log.Debug("view created", zap.String("stage", stage.Name()))
	return v
}

func (s *graphicsServer) DiscardView(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = slices.DeleteFunc(s.views, func(x *view) bool { return View(x) == v })
}

func (s *graphicsServer) Views() []View {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]View, len(s.views))
	for i, v := range s.views {
		out[i] = v
	}
	return out
}

func (s *graphicsServer) RegisterContext(ctx GraphicsContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = append(s.contexts, ctx)
}

func (s *graphicsServer) AddPreLogicCallback(fn FrameCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preLogic = append(s.preLogic, fn)
}

func (s *graphicsServer) AddPreLogicViewCallback(fn ViewCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preLogicView = append(s.preLogicView, fn)
}

func (s *graphicsServer) AddPostLogicCallback(fn FrameCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postLogic = append(s.postLogic, fn)
}

func (s *graphicsServer) AddPostLogicViewCallback(fn ViewCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postLogicView = append(s.postLogicView, fn)
}

// advance moves to the next frame. Caller must hold the mutex.
func (s *graphicsServer) advance() {
	if !s.started {
		s.started = true
		s.start = s.now()
		s.frame = FrameInfo{}
	} else {
		s.frame.FrameIndex++
	}
	s.frame.BufferIndex = int(s.frame.FrameIndex % uint64(s.rs.bufferedFrames))

	var t float64
	if s.step > 0 {
		t = float64(s.frame.FrameIndex) * s.step
	} else {
		t = s.now().Sub(s.start).Seconds()
	}
	s.frame.DeltaTime = t - s.frame.Time
	if s.frame.FrameIndex == 0 {
		s.frame.DeltaTime = s.step
	}
	s.frame.Time = t
}

func (s *graphicsServer) NewFrame() (FrameInfo, error) {
	s.mu.Lock()
	if s.inFrame {
		s.mu.Unlock()
		panic("graphics: NewFrame called inside a frame")
	}
	s.advance()
	info := s.frame
	contexts := slices.Clone(s.contexts)
	s.mu.Unlock()

	if err := s.rs.backend.BeginFrame(info.FrameIndex, info.BufferIndex); err != nil {
		return info, fmt.Errorf("frame %d: %w", info.FrameIndex, err)
	}
	s.mu.Lock()
	s.inFrame = true
	s.mu.Unlock()

	s.rs.debug.NewFrame()
	for _, c := range contexts {
		if c.OnBeforeFrame != nil {
			c.OnBeforeFrame(info)
		}
	}
	return info, nil
}

func (s *graphicsServer) runLogic(pre bool) {
	s.mu.Lock()
	frameFns, viewFns := slices.Clone(s.postLogic), slices.Clone(s.postLogicView)
	if pre {
		frameFns, viewFns = slices.Clone(s.preLogic), slices.Clone(s.preLogicView)
	}
	views := slices.Clone(s.views)
	info := s.frame
	s.mu.Unlock()

	for _, fn := range frameFns {
		fn(info)
	}
	for _, v := range views {
		for _, fn := range viewFns {
			fn(v, info)
		}
	}
}

func (s *graphicsServer) RunPreLogic() {
	s.runLogic(true)
}

func (s *graphicsServer) RunPostLogic() {
	s.runLogic(false)
}

func (s *graphicsServer) Render() error {
	s.mu.Lock()
	if !s.inFrame {
		s.mu.Unlock()
		panic("graphics: Render called outside a frame")
	}
	views := slices.Clone(s.views)
	contexts := slices.Clone(s.contexts)
	info := s.frame
	s.mu.Unlock()

	var errs []error
	for _, v := range views {
		if !v.stage.Active() {
			continue
		}
		for _, c := range contexts {
			if c.OnBeforeView != nil {
				c.OnBeforeView(v, info)
			}
		}
		ctx := s.rs.frameContext(info)
		err := v.UpdateResources(ctx)
		if err == nil {
			err = v.Render(ctx)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("stage %q: %w", v.stage.Name(), err))
		}
		for _, c := range contexts {
			if c.OnAfterView != nil {
				c.OnAfterView(v, info)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *graphicsServer) EndFrame() error {
	s.mu.Lock()
	if !s.inFrame {
		s.mu.Unlock()
		panic("graphics: EndFrame called outside a frame")
	}
	s.inFrame = false
	info := s.frame
	contexts := slices.Clone(s.contexts)
	s.mu.Unlock()

	err := s.rs.backend.EndFrame()
	for _, c := range contexts {
		if c.OnAfterFrame != nil {
			c.OnAfterFrame(info)
		}
	}
	if err != nil {
		return fmt.Errorf("frame %d: %w", info.FrameIndex, err)
	}
	return nil
}

func (s *graphicsServer) Frame() FrameInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}
