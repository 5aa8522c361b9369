package graphics

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/camera"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/Carmen-Shannon/nebula-go/engine/model"
	"github.com/Carmen-Shannon/nebula-go/engine/visibility"
	"github.com/go-gl/mathgl/mgl32"
)

// View renders one stage from one camera through the frame graph of the render system.
type View interface {
	// Camera returns the camera the view renders from.
	Camera() camera.Camera

	// Stage returns the stage the view renders.
	Stage() Stage

	// UpdateResources updates the camera and pushes its matrices into the frame constants of
	// the buffered frame. It sets ctx.Camera.
	//
	// Parameters:
	//   - ctx: the frame context of the view
	//
	// Returns:
	//   - error: the upload error
	UpdateResources(ctx *framegraph.FrameContext) error

	// Render resolves the visible instances and lights of the stage, hands the lights to the
	// shadow and light servers and runs the frame graph.
	//
	// Parameters:
	//   - ctx: the frame context prepared by UpdateResources
	//
	// Returns:
	//   - error: the joined frame graph errors
	Render(ctx *framegraph.FrameContext) error

	// Visible returns the instances the last Render drew.
	Visible() []*model.ModelInstance
}

type view struct {
	mu sync.Mutex

	rs     *renderSystem
	camera camera.Camera
	stage  Stage

	visible []*model.ModelInstance
}

var _ View = &view{}

func (v *view) Camera() camera.Camera {
	return v.camera
}

func (v *view) Stage() Stage {
	return v.stage
}

func (v *view) UpdateResources(ctx *framegraph.FrameContext) error {
	if ctx.Height > 0 {
		aspect := float32(ctx.Width) / float32(ctx.Height)
		if v.camera.Aspect() != aspect {
			v.camera.SetAspect(aspect)
		}
	}
	v.camera.Update()
	ctx.Camera = v.camera.Data()
	constants := ctx.Camera.Constants(ctx.Width, ctx.Height, ctx.Time, ctx.DeltaTime)
	if err := framegraph.UploadFrameConstants(ctx.Backend, ctx.Resources, ctx.BufferIndex, constants); err != nil {
		return fmt.Errorf("failed to upload frame constants: %w", err)
	}
	return nil
}

func (v *view) Render(ctx *framegraph.FrameContext) error {
	rs := v.rs
	cam := ctx.Camera

	visible := visibility.ResolveAll(rs.resolver, ctx.FrameIndex, cam.ViewProjection, v.stage.Instances())
	rs.geometry.SetVisible(visible)
	v.mu.Lock()
	v.visible = visible
	v.mu.Unlock()

	rs.shadows.SetPointOfInterest(v.camera.Target())
	rs.shadows.BeginFrame(cam, v.stage)
	rs.shadows.BeginAttachVisibleLights()
	frustum := common.ExtractFrustumFromMatrix(cam.ViewProjection)
	for _, l := range v.stage.Lights() {
		if !l.Enabled() || !lightVisible(&frustum, l) {
			continue
		}
		l.SetCastShadowsThisFrame(l.CastShadows())
		if l.CastShadowsThisFrame() {
			rs.shadows.AttachVisibleLight(l)
		} else {
			rs.lights.AttachVisibleLight(l)
		}
	}
	rs.shadows.EndAttachVisibleLights()

	err := rs.graph.Run(ctx)
	rs.shadows.EndFrame()
	rs.lights.EndFrame()
	return err
}

// lightVisible tests the bounds of a local light against the camera frustum. Global lights
// are always visible.
func lightVisible(f *common.Frustum, l light.Light) bool {
	if l.Type() == light.LightTypeGlobal {
		return true
	}
	r := l.Range()
	return f.IntersectsBox(common.BBoxFromCenterExtents(l.Position(), mgl32.Vec3{r, r, r}))
}

func (v *view) Visible() []*model.ModelInstance {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}
