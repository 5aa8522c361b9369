// Package harness builds a headless frame environment for renderer tests: a recording backend,
// the default script's textures and the frame constants ring.
package harness

import (
	"testing"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

// BufferedFrames is the number of frames in flight of every harness.
const BufferedFrames = 3

// Harness is a headless frame environment.
type Harness struct {
	Backend   *renderer.RecordingBackend
	Resources *framegraph.Resources
	Script    *framegraph.Script
	Width     uint32
	Height    uint32
	Camera    framegraph.CameraData
}

// New creates a 1280x720 harness. options are passed to the recording backend.
func New(t testing.TB, options ...renderer.RecordingBackendOption) *Harness {
	t.Helper()

	lib, err := shader.NewLibrary(shader.NewFeatures())
	require.NoError(t, err)
	options = append([]renderer.RecordingBackendOption{renderer.WithFramesInFlight(BufferedFrames)}, options...)
	b, err := renderer.NewRecordingBackend(lib, options...)
	require.NoError(t, err)

	s, err := framegraph.DefaultScript()
	require.NoError(t, err)
	h := &Harness{
		Backend:   b,
		Resources: framegraph.NewResources(nil),
		Script:    s,
		Width:     1280,
		Height:    720,
		Camera:    DefaultCamera(1280.0 / 720.0),
	}
	require.NoError(t, s.Instantiate(b, h.Resources, h.Width, h.Height))
	require.NoError(t, framegraph.CreateFrameConstantsRing(b, h.Resources, BufferedFrames))
	return h
}

// DefaultCamera looks from (0, 5, 20) at the origin with a 60 degree field of view.
func DefaultCamera(aspect float32) framegraph.CameraData {
	fov := mgl32.DegToRad(60)
	view := mgl32.LookAtV(mgl32.Vec3{0, 5, 20}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	proj := common.Perspective(fov, aspect, 0.1, 500)
	return framegraph.CameraData{
		View:           view,
		Projection:     proj,
		ViewProjection: proj.Mul4(view),
		InvView:        view.Inv(),
		InvProjection:  proj.Inv(),
		Position:       mgl32.Vec3{0, 5, 20},
		FovY:           fov,
		Aspect:         aspect,
		Near:           0.1,
		Far:            500,
	}
}

// Context returns the frame context of a frame index.
func (h *Harness) Context(frame uint64) *framegraph.FrameContext {
	return &framegraph.FrameContext{
		FrameIndex:  frame,
		BufferIndex: int(frame % BufferedFrames),
		Time:        float64(frame) / 60,
		DeltaTime:   1.0 / 60,
		Width:       h.Width,
		Height:      h.Height,
		Backend:     h.Backend,
		Resources:   h.Resources,
		Camera:      h.Camera,
	}
}

// Frame records one frame: it uploads the frame constants, calls fn between BeginFrame and
// EndFrame and fails the test on any error.
func (h *Harness) Frame(t testing.TB, frame uint64, fn func(ctx *framegraph.FrameContext) error) {
	t.Helper()
	ctx := h.Context(frame)
	require.NoError(t, h.Backend.BeginFrame(frame, ctx.BufferIndex))
	require.NoError(t, framegraph.UploadFrameConstants(h.Backend, h.Resources, ctx.BufferIndex,
		ctx.Camera.Constants(ctx.Width, ctx.Height, ctx.Time, ctx.DeltaTime)))
	require.NoError(t, fn(ctx))
	require.NoError(t, h.Backend.EndFrame())
}

// Count returns how many commands of frame have op.
func (h *Harness) Count(frame uint64, op renderer.Op) int {
	n := 0
	for _, c := range h.Backend.FrameCommands(frame) {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Ops returns the commands of frame with one of ops, in recording order.
func (h *Harness) Ops(frame uint64, ops ...renderer.Op) []renderer.Command {
	var out []renderer.Command
	for _, c := range h.Backend.FrameCommands(frame) {
		for _, op := range ops {
			if c.Op == op {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// RequireClean fails the test if the backend recorded hazards or layout violations.
func (h *Harness) RequireClean(t testing.TB) {
	t.Helper()
	require.Empty(t, h.Backend.Hazards(), "hazards")
	require.Empty(t, h.Backend.Violations(), "layout violations")
}

// RequireRestingLayouts fails the test unless every script texture is in its declared layout.
func (h *Harness) RequireRestingLayouts(t testing.TB) {
	t.Helper()
	for _, name := range h.Resources.TextureNames() {
		decl, ok := h.Script.Declaration(name)
		if !ok {
			continue
		}
		layout, err := h.Backend.TextureLayout(h.Resources.MustTexture(name), 0, 0)
		require.NoError(t, err)
		require.Equal(t, decl.RestingLayout(), layout, name)
	}
}
