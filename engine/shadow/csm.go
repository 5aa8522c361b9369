package shadow

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrInvalidMethod is returned when a cascade fitting or clamping name is unknown.
var ErrInvalidMethod = errors.New("invalid cascade method")

// FittingMethod selects how the xy extent of a cascade is fitted to the camera frustum.
type FittingMethod int

const (
	// FitCascade fits every cascade to its own slice of the frustum.
	FitCascade FittingMethod = iota
	// FitScene fits every cascade to the frustum from the camera up to the cascade end,
	// sized by the slice diagonal so the extent does not change as the camera rotates.
	FitScene
)

func (m FittingMethod) String() string {
	switch m {
	case FitCascade:
		return "cascade"
	case FitScene:
		return "scene"
	}
	return fmt.Sprintf("FittingMethod(%d)", int(m))
}

// ParseFittingMethod parses "cascade" or "scene".
func ParseFittingMethod(s string) (FittingMethod, error) {
	switch s {
	case "cascade":
		return FitCascade, nil
	case "scene":
		return FitScene, nil
	}
	return 0, fmt.Errorf("fitting %q: %w", s, ErrInvalidMethod)
}

// ClampingMethod selects how the depth range of a cascade is chosen.
type ClampingMethod int

const (
	// ClampZeroOne uses the depth range of the cascade slice itself.
	ClampZeroOne ClampingMethod = iota
	// ClampAABB uses the depth range of the whole scene box.
	ClampAABB
	// ClampSceneAABB uses the depth range of the part of the scene box inside the cascade rectangle.
	ClampSceneAABB
)

func (m ClampingMethod) String() string {
	switch m {
	case ClampZeroOne:
		return "zero_one"
	case ClampAABB:
		return "aabb"
	case ClampSceneAABB:
		return "scene_aabb"
	}
	return fmt.Sprintf("ClampingMethod(%d)", int(m))
}

// ParseClampingMethod parses "zero_one", "aabb" or "scene_aabb".
func ParseClampingMethod(s string) (ClampingMethod, error) {
	switch s {
	case "zero_one":
		return ClampZeroOne, nil
	case "aabb":
		return ClampAABB, nil
	case "scene_aabb":
		return ClampSceneAABB, nil
	}
	return 0, fmt.Errorf("clamping %q: %w", s, ErrInvalidMethod)
}

// CSM computes the cascade projections of the global light.
type CSM struct {
	distances    [NumCascades]float32
	maxDistance  float32
	fitting      FittingMethod
	clamping     ClampingMethod
	blurSize     int
	floorTexels  bool
	textureWidth float32

	shadowView      mgl32.Mat4
	projections     [NumCascades]mgl32.Mat4
	viewProjections [NumCascades]mgl32.Mat4
	intervals       [NumCascades]float32
}

// NewCSM creates a cascade calculator.
//
// Parameters:
//   - opts: variadic list of CSMOption functions
//
// Returns:
//   - *CSM: the calculator with identity cascades until Compute runs
func NewCSM(opts ...CSMOption) *CSM {
	c := &CSM{
		distances:    [NumCascades]float32{5, 50, 120, 300},
		maxDistance:  300,
		fitting:      FitScene,
		clamping:     ClampSceneAABB,
		blurSize:     1,
		floorTexels:  true,
		textureWidth: 1024,
		shadowView:   mgl32.Ident4(),
	}
	for i := range c.projections {
		c.projections[i] = mgl32.Ident4()
		c.viewProjections[i] = mgl32.Ident4()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// sceneBoxSigns lists the scene box corners as sign multipliers of the extents.
var sceneBoxSigns = [8]mgl32.Vec3{
	{1, 1, -1}, {-1, 1, -1}, {1, -1, -1}, {-1, -1, -1},
	{1, 1, 1}, {-1, 1, 1}, {1, -1, 1}, {-1, -1, 1},
}

// boxTriangles tessellates the scene box corners into 12 triangles.
var boxTriangles = [12][3]int{
	{0, 1, 2}, {1, 2, 3},
	{4, 5, 6}, {5, 6, 7},
	{0, 2, 4}, {2, 4, 6},
	{1, 3, 5}, {3, 5, 7},
	{0, 1, 4}, {1, 4, 5},
	{2, 3, 6}, {3, 6, 7},
}

// Compute fits the cascades to the camera and the scene box.
//
// Parameters:
//   - camera: the camera of the frame
//   - lightView: the world to light-view transform of the global light
//   - sceneBox: the world bounds of the shadow casters
func (c *CSM) Compute(camera framegraph.CameraData, lightView mgl32.Mat4, sceneBox common.BBox) {
	center, extents := sceneBox.Center(), sceneBox.Extents()
	var scenePoints [8]mgl32.Vec3
	sceneMin := mgl32.Vec3{math32.MaxFloat32, math32.MaxFloat32, math32.MaxFloat32}
	sceneMax := sceneMin.Mul(-1)
	for i, s := range sceneBoxSigns {
		p := center.Add(mgl32.Vec3{s[0] * extents[0], s[1] * extents[1], s[2] * extents[2]})
		scenePoints[i] = common.TransformPoint(lightView, p)
		sceneMin, sceneMax = minVec(sceneMin, scenePoints[i]), maxVec(sceneMax, scenePoints[i])
	}

	nearFarRange := min(sceneBox.DiagonalSize()/2, c.maxDistance)
	for i := range NumCascades {
		var start float32
		if c.fitting == FitCascade && i > 0 {
			start = c.distances[i-1]
		}
		start = start / c.maxDistance * nearFarRange
		end := c.distances[i] / c.maxDistance * nearFarRange

		world := sliceCorners(camera, start, end)
		lo := mgl32.Vec3{math32.MaxFloat32, math32.MaxFloat32, math32.MaxFloat32}
		hi := lo.Mul(-1)
		for _, p := range world {
			lp := common.TransformPoint(lightView, p)
			lo, hi = minVec(lo, lp), maxVec(hi, lp)
		}

		var unitsPerTexel float32
		switch c.fitting {
		case FitScene:
			length := max(world[0].Sub(world[6]).Len(), world[4].Sub(world[6]).Len())
			for axis := 0; axis < 2; axis++ {
				border := (length - (hi[axis] - lo[axis])) * 0.5
				lo[axis] -= border
				hi[axis] += border
			}
			unitsPerTexel = length / c.textureWidth
		case FitCascade:
			scale := float32(c.blurSize*2+1) / c.textureWidth
			for axis := 0; axis < 2; axis++ {
				border := (hi[axis] - lo[axis]) * 0.5 * scale
				lo[axis] -= border
				hi[axis] += border
			}
			unitsPerTexel = max(hi[0]-lo[0], hi[1]-lo[1]) / c.textureWidth
		}
		if c.floorTexels && unitsPerTexel > 0 {
			for axis := 0; axis < 2; axis++ {
				lo[axis] = math32.Floor(lo[axis]/unitsPerTexel) * unitsPerTexel
				hi[axis] = math32.Ceil(hi[axis]/unitsPerTexel) * unitsPerTexel
			}
		}

		var zLo, zHi float32
		switch c.clamping {
		case ClampZeroOne:
			zLo, zHi = lo[2], hi[2]
		case ClampAABB:
			zLo, zHi = sceneMin[2], sceneMax[2]
		case ClampSceneAABB:
			var ok bool
			zLo, zHi, ok = clippedDepthRange(scenePoints, lo, hi)
			if !ok {
				zLo, zHi = sceneMin[2], sceneMax[2]
			}
		}
		// light view looks down -z, so the near distance comes from the largest z
		near, far := -zHi, -zLo
		if far-near < 1e-3 {
			far = near + 1e-3
		}

		proj := common.OrthoOffCenter(lo[0], hi[0], lo[1], hi[1], near, far)
		c.projections[i] = proj
		c.viewProjections[i] = proj.Mul4(lightView)
		c.intervals[i] = end
	}
	c.shadowView = lightView
}

// sliceCorners returns the world corners of the camera frustum between the view depths
// start and end, near corners first.
func sliceCorners(camera framegraph.CameraData, start, end float32) [8]mgl32.Vec3 {
	tanY := math32.Tan(camera.FovY / 2)
	aspect := camera.Aspect
	if aspect <= 0 {
		aspect = 1
	}
	corner := func(depth, sx, sy float32) mgl32.Vec3 {
		depth = max(depth, camera.Near)
		h := depth * tanY
		v := mgl32.Vec3{sx * h * aspect, sy * h, -depth}
		return common.TransformPoint(camera.InvView, v)
	}
	return [8]mgl32.Vec3{
		corner(start, 1, 1), corner(start, 1, -1), corner(start, -1, -1), corner(start, -1, 1),
		corner(end, 1, 1), corner(end, -1, 1), corner(end, -1, -1), corner(end, 1, -1),
	}
}

// clippedDepthRange clips the scene box triangles against the xy rectangle [lo, hi] and
// returns the z range of what remains.
func clippedDepthRange(points [8]mgl32.Vec3, lo, hi mgl32.Vec3) (float32, float32, bool) {
	zLo, zHi := float32(math32.MaxFloat32), float32(-math32.MaxFloat32)
	found := false
	for _, tri := range boxTriangles {
		poly := []mgl32.Vec3{points[tri[0]], points[tri[1]], points[tri[2]]}
		poly = clipPolygon(poly, 0, lo[0], true)
		poly = clipPolygon(poly, 0, hi[0], false)
		poly = clipPolygon(poly, 1, lo[1], true)
		poly = clipPolygon(poly, 1, hi[1], false)
		for _, p := range poly {
			zLo, zHi = min(zLo, p[2]), max(zHi, p[2])
			found = true
		}
	}
	return zLo, zHi, found
}

// clipPolygon keeps the part of poly on one side of the plane p[axis] = edge, above it when
// keepAbove is set.
func clipPolygon(poly []mgl32.Vec3, axis int, edge float32, keepAbove bool) []mgl32.Vec3 {
	if len(poly) == 0 {
		return nil
	}
	inside := func(p mgl32.Vec3) bool {
		if keepAbove {
			return p[axis] >= edge
		}
		return p[axis] <= edge
	}
	out := make([]mgl32.Vec3, 0, len(poly)+2)
	prev := poly[len(poly)-1]
	for _, cur := range poly {
		curIn, prevIn := inside(cur), inside(prev)
		if curIn != prevIn {
			t := (edge - prev[axis]) / (cur[axis] - prev[axis])
			out = append(out, lerpVec(prev, cur, t))
		}
		if curIn {
			out = append(out, cur)
		}
		prev = cur
	}
	return out
}

func minVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{min(a[0], b[0]), min(a[1], b[1]), min(a[2], b[2])}
}

func maxVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{max(a[0], b[0]), max(a[1], b[1]), max(a[2], b[2])}
}

// CascadeViewProjection returns the world to clip transform of cascade i.
func (c *CSM) CascadeViewProjection(i int) mgl32.Mat4 {
	return c.viewProjections[i]
}

// CascadeProjection returns the light-view to clip transform of cascade i.
func (c *CSM) CascadeProjection(i int) mgl32.Mat4 {
	return c.projections[i]
}

// IntervalDistances returns the view depth at which every cascade ends.
func (c *CSM) IntervalDistances() [NumCascades]float32 {
	return c.intervals
}

// CascadeIntervals returns the view depth range covered by each cascade beyond the previous one.
func (c *CSM) CascadeIntervals() [NumCascades][2]float32 {
	var out [NumCascades][2]float32
	var prev float32
	for i, end := range c.intervals {
		out[i] = [2]float32{prev, end}
		prev = end
	}
	return out
}

// ShadowView returns the light view the cascades were computed for.
func (c *CSM) ShadowView() mgl32.Mat4 {
	return c.shadowView
}

// Fitting returns the fitting method.
func (c *CSM) Fitting() FittingMethod {
	return c.fitting
}

// Clamping returns the clamping method.
func (c *CSM) Clamping() ClampingMethod {
	return c.clamping
}

// CascadeData converts the cascades into the texture space lookup the lights shader uses.
//
// Returns:
//   - light.CascadeData: per cascade scale and offset from light view to shadow texture space,
//     the interval distances, the partition border and the light view
func (c *CSM) CascadeData() light.CascadeData {
	var d light.CascadeData
	for i, p := range c.projections {
		d.Scales[i] = mgl32.Vec4{p[0] * 0.5, -p[5] * 0.5, p[10], 1}
		d.Offsets[i] = mgl32.Vec4{p[12]*0.5 + 0.5, -p[13]*0.5 + 0.5, p[14], 0}
		d.Distances[i] = c.intervals[i]
	}
	texel := 1 / c.textureWidth
	d.Partition = mgl32.Vec4{texel, 1 - texel, 1, NumCascades}
	d.ShadowView = c.shadowView
	return d
}
