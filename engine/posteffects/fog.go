package posteffects

import (
	"fmt"

	"github.com/Carmen-Shannon/nebula-go/common"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/Carmen-Shannon/nebula-go/engine/ringbuffer"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// Callback names of the volumetric fog effect.
const (
	FogCopyCallback    = "Fog-Copy"
	FogCullCallback    = "Fog-Cull"
	FogComputeCallback = "Fog-Compute"
	FogBlurXCallback   = "Fog-BlurX"
	FogBlurYCallback   = "Fog-BlurY"
)

// Volumetric fog policy.
const (
	FogDownscale       = 4
	FogVolumeFalloff   = 64
	FogClusterTileSize = 64
	FogClusterSlices   = 24
	FogThreads         = 64
	BlurTileWidth      = 320
)

// FogVolumeHandle refers to a fog volume added to a Fog effect.
type FogVolumeHandle struct{ common.Handle }

// FogVolumeKind is the shape of a fog volume.
type FogVolumeKind int

const (
	// FogVolumeBox is the unit cube [-1, 1]^3 placed by the volume transform.
	FogVolumeBox FogVolumeKind = iota

	// FogVolumeSphere is a sphere of Radius around the translation of the volume transform.
	FogVolumeSphere
)

// FogVolume is a local region of denser fog in world space.
type FogVolume struct {
	Kind       FogVolumeKind
	Transform  mgl32.Mat4
	Radius     float32
	Turbidity  float32
	Absorption mgl32.Vec3
}

// NewFogBox returns a box volume spanning the unit cube transformed by transform.
func NewFogBox(transform mgl32.Mat4, turbidity float32, absorption mgl32.Vec3) FogVolume {
	return FogVolume{Kind: FogVolumeBox, Transform: transform, Turbidity: turbidity, Absorption: absorption}
}

// NewFogSphere returns a sphere volume.
func NewFogSphere(center mgl32.Vec3, radius, turbidity float32, absorption mgl32.Vec3) FogVolume {
	return FogVolume{
		Kind:       FogVolumeSphere,
		Transform:  mgl32.Translate3D(center[0], center[1], center[2]),
		Radius:     radius,
		Turbidity:  turbidity,
		Absorption: absorption,
	}
}

// FogSettings are the global fog parameters.
type FogSettings struct {
	Turbidity  float32
	Absorption mgl32.Vec3
}

// DefaultFogSettings returns the settings the engine ships with.
func DefaultFogSettings() FogSettings {
	return FogSettings{Turbidity: 0.1, Absorption: mgl32.Vec3{1, 1, 1}}
}

// Fog is the clustered volumetric fog effect. Volumes are culled against view-space froxel
// clusters, ray marched at a quarter of the screen resolution into VolumetricFogBuffer0 and
// blurred through VolumetricFogBuffer1 back into VolumetricFogBuffer0.
type Fog interface {
	Effect

	// AddVolume adds a fog volume.
	//
	// Parameters:
	//   - v: the volume
	//
	// Returns:
	//   - FogVolumeHandle: the handle of the new volume
	//   - error: common.ErrCapacityExceeded if MaxFogVolumes volumes of that kind exist
	AddVolume(v FogVolume) (FogVolumeHandle, error)

	// SetVolume replaces a volume.
	//
	// Returns:
	//   - error: common.ErrInvalidHandle or common.ErrCapacityExceeded when the kind changes
	//     into a full list
	SetVolume(h FogVolumeHandle, v FogVolume) error

	// Volume returns a volume and whether the handle is live.
	Volume(h FogVolumeHandle) (FogVolume, bool)

	// RemoveVolume removes a volume. The handle becomes stale.
	RemoveVolume(h FogVolumeHandle) error

	// VolumeCounts returns the number of box and sphere volumes.
	VolumeCounts() (boxes, spheres int)

	// Settings returns the global fog parameters.
	Settings() FogSettings

	// SetSettings replaces the global fog parameters.
	SetSettings(s FogSettings)

	// ClusterDimensions returns the froxel grid of the current screen size.
	ClusterDimensions() [3]uint32
}

type fogSlot struct {
	uniforms renderer.BufferHandle
	staging  renderer.BufferHandle
	clusters renderer.BufferHandle

	// clusterProjection is the projection the uploaded cluster boxes were built for.
	clusterProjection mgl32.Mat4
	clustersValid     bool

	cull    renderer.ResourceTableHandle
	compute renderer.ResourceTableHandle
	blurX   renderer.ResourceTableHandle
	blurY   renderer.ResourceTableHandle
}

type fog struct {
	base

	settings FogSettings
	volumes  *common.Arena[FogVolume]
	boxes    int
	spheres  int

	screenWidth  uint32
	screenHeight uint32
	fogWidth     uint32
	fogHeight    uint32
	clusterDims  [3]uint32

	lists      renderer.BufferHandle
	clusterFog renderer.BufferHandle
	blurParams renderer.BufferHandle

	cullProgram    renderer.ShaderProgramHandle
	computeProgram renderer.ShaderProgramHandle
	blurXProgram   renderer.ShaderProgramHandle
	blurYProgram   renderer.ShaderProgramHandle

	frames  *ringbuffer.Ring[*fogSlot]
	scratch *FogLists
}

var _ Fog = &fog{}

// NewFog creates the volumetric fog effect.
//
// Parameters:
//   - settings: the global turbidity and absorption
//   - options: functional options such as WithLogger
//
// Returns:
//   - Fog: the effect, ready for Setup
func NewFog(settings FogSettings, options ...Option) Fog {
	f := &fog{
		settings: settings,
		volumes:  common.NewArena[FogVolume](),
		frames:   ringbuffer.New[*fogSlot](),
		scratch:  &FogLists{},
	}
	f.init("Fog", options)
	return f
}

// ClusterDimensions returns the froxel grid covering a width x height screen.
func ClusterDimensions(width, height uint32) [3]uint32 {
	return [3]uint32{
		DispatchCount(width, FogClusterTileSize),
		DispatchCount(height, FogClusterTileSize),
		FogClusterSlices,
	}
}

// ClusterSliceDepth returns the view distance of the near plane of slice k. Slices are spaced
// exponentially between near and far.
func ClusterSliceDepth(k uint32, near, far float32) float32 {
	return near * math32.Pow(far/near, float32(k)/FogClusterSlices)
}

// ComputeClusterAABBs builds the view-space bounding boxes of every froxel cluster.
// Cluster (x, y, z) is stored at x + y*X + z*X*Y.
//
// Parameters:
//   - invProjection: the inverse of the camera projection
//   - width, height: the screen size in pixels
//   - near, far: the camera clip distances
//
// Returns:
//   - []ClusterAABB: one box per cluster
func ComputeClusterAABBs(invProjection mgl32.Mat4, width, height uint32, near, far float32) []ClusterAABB {
	dims := ClusterDimensions(width, height)
	w, h := float32(max(width, 1)), float32(max(height, 1))

	// rayAt returns the view-space point on the ray through pixel (px, py) at distance d along -z
	rayAt := func(px, py, d float32) mgl32.Vec3 {
		ndc := mgl32.Vec4{px/w*2 - 1, 1 - py/h*2, 1, 1}
		p := invProjection.Mul4x1(ndc)
		dir := p.Vec3().Mul(1 / p[3])
		return dir.Mul(d / -dir[2])
	}

	out := make([]ClusterAABB, 0, dims[0]*dims[1]*dims[2])
	for z := uint32(0); z < dims[2]; z++ {
		dNear, dFar := ClusterSliceDepth(z, near, far), ClusterSliceDepth(z+1, near, far)
		for y := uint32(0); y < dims[1]; y++ {
			for x := uint32(0); x < dims[0]; x++ {
				x0, y0 := float32(x*FogClusterTileSize), float32(y*FogClusterTileSize)
				x1 := float32(min((x+1)*FogClusterTileSize, width))
				y1 := float32(min((y+1)*FogClusterTileSize, height))
				box := common.EmptyBBox()
				for _, d := range [2]float32{dNear, dFar} {
					box = box.Extend(rayAt(x0, y0, d))
					box = box.Extend(rayAt(x1, y0, d))
					box = box.Extend(rayAt(x0, y1, d))
					box = box.Extend(rayAt(x1, y1, d))
				}
				out = append(out, ClusterAABB{Min: box.Min.Vec4(1), Max: box.Max.Vec4(1)})
			}
		}
	}
	return out
}

// BuildFogLists transforms volumes into view space and packs them into lists.
// Entries past the returned counts are left untouched.
//
// Parameters:
//   - volumes: the world-space volumes, at most MaxFogVolumes of each kind are packed
//   - view: the world to view transform
//   - lists: the destination
//
// Returns:
//   - boxes, spheres: the number of packed volumes of each kind
func BuildFogLists(volumes []FogVolume, view mgl32.Mat4, lists *FogLists) (boxes, spheres int) {
	for _, v := range volumes {
		absorption := v.Absorption.Vec4(v.Turbidity)
		switch v.Kind {
		case FogVolumeBox:
			if boxes == MaxFogVolumes {
				continue
			}
			t := view.Mul4(v.Transform)
			bounds := common.UnitBBoxTransform(t)
			lists.Boxes[boxes] = FogBox{
				BBoxMin:      bounds.Min.Vec4(1),
				BBoxMax:      bounds.Max.Vec4(1),
				InvTransform: t.Inv(),
				Absorption:   absorption,
				Falloff:      FogVolumeFalloff,
			}
			boxes++
		case FogVolumeSphere:
			if spheres == MaxFogVolumes {
				continue
			}
			center := view.Mul4x1(common.Position(v.Transform).Vec4(1))
			lists.Spheres[spheres] = FogSphere{
				PositionRadius: mgl32.Vec4{center[0], center[1], center[2], v.Radius},
				Absorption:     absorption,
				Falloff:        FogVolumeFalloff,
			}
			spheres++
		}
	}
	return boxes, spheres
}

func (f *fog) AddVolume(v FogVolume) (FogVolumeHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reserve(v.Kind); err != nil {
		return FogVolumeHandle{}, err
	}
	return FogVolumeHandle{f.volumes.Alloc(v)}, nil
}

// reserve counts a new volume of kind. The caller holds f.mu.
func (f *fog) reserve(kind FogVolumeKind) error {
	switch kind {
	case FogVolumeBox:
		if f.boxes >= MaxFogVolumes {
			return fmt.Errorf("fog boxes: %w", common.ErrCapacityExceeded)
		}
		f.boxes++
	case FogVolumeSphere:
		if f.spheres >= MaxFogVolumes {
			return fmt.Errorf("fog spheres: %w", common.ErrCapacityExceeded)
		}
		f.spheres++
	default:
		return fmt.Errorf("unknown fog volume kind %d", kind)
	}
	return nil
}

// unreserve releases the count of a volume of kind. The caller holds f.mu.
func (f *fog) unreserve(kind FogVolumeKind) {
	switch kind {
	case FogVolumeBox:
		f.boxes--
	case FogVolumeSphere:
		f.spheres--
	}
}

func (f *fog) SetVolume(h FogVolumeHandle, v FogVolume) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.volumes.Get(h.Handle)
	if !ok {
		return common.ErrInvalidHandle
	}
	if old.Kind != v.Kind {
		if err := f.reserve(v.Kind); err != nil {
			return err
		}
		f.unreserve(old.Kind)
	}
	return f.volumes.Set(h.Handle, v)
}

func (f *fog) Volume(h FogVolumeHandle) (FogVolume, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volumes.Get(h.Handle)
}

func (f *fog) RemoveVolume(h FogVolumeHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.volumes.Get(h.Handle)
	if !ok {
		return common.ErrInvalidHandle
	}
	f.unreserve(v.Kind)
	return f.volumes.Free(h.Handle)
}

func (f *fog) VolumeCounts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.boxes, f.spheres
}

func (f *fog) Settings() FogSettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fog) SetSettings(s FogSettings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = s
}

func (f *fog) ClusterDimensions() [3]uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clusterDims
}

func (f *fog) numClusters() uint32 {
	return f.clusterDims[0] * f.clusterDims[1] * f.clusterDims[2]
}

func (f *fog) Setup(backend renderer.GraphicsBackend, resources *framegraph.Resources, bufferedFrames int) error {
	f.Discard()

	screenW, screenH, err := screenSize(backend, resources, framegraph.ZBuffer)
	if err != nil {
		return err
	}
	fogW, fogH, err := screenSize(backend, resources, framegraph.VolumetricFogBuffer0)
	if err != nil {
		return err
	}
	depth := resources.MustTexture(framegraph.ZBuffer)
	fog0 := resources.MustTexture(framegraph.VolumetricFogBuffer0)
	fog1 := resources.MustTexture(framegraph.VolumetricFogBuffer1)
	frame, err := resources.BufferRing(framegraph.FrameConstantsRing)
	if err != nil {
		return err
	}
	if len(frame) < bufferedFrames {
		return fmt.Errorf("frame constants ring has %d slots, need %d", len(frame), bufferedFrames)
	}

	dims := ClusterDimensions(screenW, screenH)
	numClusters := dims[0] * dims[1] * dims[2]

	if err := f.createShared(backend, fogW, fogH, numClusters); err != nil {
		f.release(backend)
		return err
	}

	create := func(i int) (*fogSlot, error) {
		slot := &fogSlot{}
		var err error
		if slot.uniforms, err = backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("Fog Uniforms[%d]", i),
			Size:  FogUniformsSize,
			Usage: renderer.BufferUsageConstant | renderer.BufferUsageCopyDst,
		}); err != nil {
			return nil, err
		}
		if slot.staging, err = backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("Fog Staging Lists[%d]", i),
			Size:  FogListsSize,
			Usage: renderer.BufferUsageCopySrc | renderer.BufferUsageCopyDst,
		}); err != nil {
			destroyFogSlot(backend, slot)
			return nil, err
		}
		if slot.clusters, err = backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("Fog Clusters[%d]", i),
			Size:  uint64(numClusters) * ClusterAABBSize,
			Usage: renderer.BufferUsageStorage | renderer.BufferUsageCopyDst,
		}); err != nil {
			destroyFogSlot(backend, slot)
			return nil, err
		}

		bindVolumes := func(t renderer.ResourceTableHandle) error {
			return firstErr(
				backend.ResourceTableSetConstantBuffer(t, 0, frame[i], 0, framegraph.FrameConstantsSize),
				backend.ResourceTableSetConstantBuffer(t, 1, slot.uniforms, 0, FogUniformsSize),
				backend.ResourceTableSetBuffer(t, 2, f.lists),
				backend.ResourceTableSetBuffer(t, 3, slot.clusters),
			)
		}
		slot.cull, err = createTable(backend, fmt.Sprintf("Fog Cull[%d]", i), f.cullProgram, func(t renderer.ResourceTableHandle) error {
			return firstErr(bindVolumes(t), backend.ResourceTableSetRWBuffer(t, 4, f.clusterFog))
		})
		if err == nil {
			slot.compute, err = createTable(backend, fmt.Sprintf("Fog Compute[%d]", i), f.computeProgram, func(t renderer.ResourceTableHandle) error {
				return firstErr(
					bindVolumes(t),
					backend.ResourceTableSetBuffer(t, 4, f.clusterFog),
					backend.ResourceTableSetTexture(t, 5, depth),
					backend.ResourceTableSetRWTexture(t, 6, fog0, 0),
				)
			})
		}
		if err == nil {
			slot.blurX, err = createTable(backend, fmt.Sprintf("Fog BlurX[%d]", i), f.blurXProgram, func(t renderer.ResourceTableHandle) error {
				return firstErr(
					backend.ResourceTableSetConstantBuffer(t, 0, f.blurParams, 0, BlurConstantsSize),
					backend.ResourceTableSetTexture(t, 1, fog0),
					backend.ResourceTableSetRWTexture(t, 2, fog1, 0),
				)
			})
		}
		if err == nil {
			slot.blurY, err = createTable(backend, fmt.Sprintf("Fog BlurY[%d]", i), f.blurYProgram, func(t renderer.ResourceTableHandle) error {
				return firstErr(
					backend.ResourceTableSetConstantBuffer(t, 0, f.blurParams, 0, BlurConstantsSize),
					backend.ResourceTableSetTexture(t, 1, fog1),
					backend.ResourceTableSetRWTexture(t, 2, fog0, 0),
				)
			})
		}
		if err != nil {
			destroyFogSlot(backend, slot)
			return nil, err
		}
		return slot, nil
	}
	if err := f.frames.Resize(bufferedFrames, create, func(s *fogSlot) { destroyFogSlot(backend, s) }); err != nil {
		f.release(backend)
		return fmt.Errorf("failed to create fog frame resources: %w", err)
	}

	f.mu.Lock()
	f.screenWidth, f.screenHeight = screenW, screenH
	f.fogWidth, f.fogHeight = fogW, fogH
	f.clusterDims = dims
	f.mu.Unlock()
	f.attach(backend, resources, bufferedFrames)
	f.log.Debug("setup complete",
		zap.Uint32s("clusters", dims[:]),
		zap.Uint32("fog_width", fogW),
		zap.Uint32("fog_height", fogH),
	)
	return nil
}

// createShared creates the programs and the buffers every buffered frame shares.
func (f *fog) createShared(backend renderer.GraphicsBackend, fogW, fogH, numClusters uint32) error {
	var err error
	if f.cullProgram, err = f.base.computeProgram(backend, shader.ProgramFog, shader.FeatureAlt0); err != nil {
		return err
	}
	if f.computeProgram, err = f.base.computeProgram(backend, shader.ProgramFog, shader.FeatureAlt1); err != nil {
		return err
	}
	if f.blurXProgram, err = f.base.computeProgram(backend, shader.ProgramBlurRGBA16F, shader.FeatureAlt0); err != nil {
		return err
	}
	if f.blurYProgram, err = f.base.computeProgram(backend, shader.ProgramBlurRGBA16F, shader.FeatureAlt1); err != nil {
		return err
	}

	if f.lists, err = backend.CreateBuffer(renderer.BufferDesc{
		Name:  "Fog Lists",
		Size:  FogListsSize,
		Usage: renderer.BufferUsageStorage | renderer.BufferUsageCopyDst,
	}); err != nil {
		return fmt.Errorf("failed to create fog lists: %w", err)
	}
	if f.clusterFog, err = backend.CreateBuffer(renderer.BufferDesc{
		Name:  "Fog Cluster Indices",
		Size:  uint64(numClusters) * ClusterFogIndexSize,
		Usage: renderer.BufferUsageStorage | renderer.BufferUsageReadWrite,
	}); err != nil {
		return fmt.Errorf("failed to create fog cluster indices: %w", err)
	}
	params := NewBlurConstants(fogW, fogH, 0)
	if f.blurParams, err = backend.CreateBuffer(renderer.BufferDesc{
		Name:  "Fog Blur Constants",
		Size:  BlurConstantsSize,
		Usage: renderer.BufferUsageConstant,
		Data:  params.Bytes(),
	}); err != nil {
		return fmt.Errorf("failed to create fog blur constants: %w", err)
	}
	return nil
}

func destroyFogSlot(backend renderer.GraphicsBackend, s *fogSlot) {
	destroyTables(backend, s.cull, s.compute, s.blurX, s.blurY)
	destroyBuffers(backend, s.uniforms, s.staging, s.clusters)
}

func (f *fog) release(backend renderer.GraphicsBackend) {
	f.frames.Discard()
	f.destroyPrograms(backend)
	f.cullProgram, f.computeProgram = renderer.ShaderProgramHandle{}, renderer.ShaderProgramHandle{}
	f.blurXProgram, f.blurYProgram = renderer.ShaderProgramHandle{}, renderer.ShaderProgramHandle{}
	destroyBuffers(backend, f.lists, f.clusterFog, f.blurParams)
	f.lists, f.clusterFog, f.blurParams = renderer.BufferHandle{}, renderer.BufferHandle{}, renderer.BufferHandle{}
}

func (f *fog) Register(graph framegraph.FrameGraph) error {
	callbacks := []struct {
		name   string
		fn     framegraph.Callback
		usages []framegraph.Usage
	}{
		{FogCopyCallback, f.copyPass, nil},
		{FogCullCallback, f.cullPass, nil},
		{FogComputeCallback, f.computePass, []framegraph.Usage{
			framegraph.Reads(framegraph.ZBuffer),
			framegraph.Writes(framegraph.VolumetricFogBuffer0),
		}},
		{FogBlurXCallback, f.blurXPass, []framegraph.Usage{
			framegraph.Reads(framegraph.VolumetricFogBuffer0),
			framegraph.Writes(framegraph.VolumetricFogBuffer1),
		}},
		{FogBlurYCallback, f.blurYPass, []framegraph.Usage{
			framegraph.Reads(framegraph.VolumetricFogBuffer1),
			framegraph.Writes(framegraph.VolumetricFogBuffer0),
		}},
	}
	for _, cb := range callbacks {
		if err := graph.AddCallback(cb.name, cb.fn, cb.usages...); err != nil {
			return err
		}
	}
	return nil
}

// copyPass packs this frame's view-space volumes and uniforms, refreshes the cluster boxes
// when the projection changed and copies the volume lists to the GPU.
func (f *fog) copyPass(ctx *framegraph.FrameContext) error {
	backend, _, _ := f.attached()
	if backend == nil {
		return ErrNotSetup
	}
	slot := f.frames.Get(ctx.BufferIndex)
	cam := ctx.Camera

	f.mu.Lock()
	volumes := make([]FogVolume, 0, f.volumes.Len())
	f.volumes.Each(func(_ common.Handle, v FogVolume) { volumes = append(volumes, v) })
	settings := f.settings
	dims := f.clusterDims
	screenW, screenH := f.screenWidth, f.screenHeight
	numClusters := f.numClusters()
	f.mu.Unlock()

	boxes, spheres := BuildFogLists(volumes, cam.View, f.scratch)
	uniforms := FogUniforms{
		NumFogBoxes:          uint32(boxes),
		NumFogSpheres:        uint32(spheres),
		NumVolumeFogClusters: numClusters,
		DownscaleFog:         FogDownscale,
		GlobalAbsorption:     settings.Absorption.Vec4(settings.Turbidity),
		ClusterDims:          [4]uint32{dims[0], dims[1], dims[2], FogClusterTileSize},
		ZNear:                cam.Near,
		ZFar:                 cam.Far,
	}
	if err := backend.UploadBuffer(slot.uniforms, 0, uniforms.Bytes()); err != nil {
		return fmt.Errorf("failed to upload fog uniforms: %w", err)
	}

	if !slot.clustersValid || slot.clusterProjection != cam.Projection {
		aabbs := ComputeClusterAABBs(cam.InvProjection, screenW, screenH, cam.Near, cam.Far)
		if err := renderer.UploadChunked(backend, slot.clusters, 0, common.SliceToBytes(aabbs)); err != nil {
			return fmt.Errorf("failed to upload fog clusters: %w", err)
		}
		slot.clusterProjection, slot.clustersValid = cam.Projection, true
	}

	if boxes == 0 && spheres == 0 {
		return nil
	}
	if err := renderer.UploadChunked(backend, slot.staging, 0, f.scratch.Bytes()); err != nil {
		return fmt.Errorf("failed to upload fog lists: %w", err)
	}
	b := renderer.Barrier{
		Name:      "Fog Copy",
		FromStage: renderer.StageComputeShader,
		ToStage:   renderer.StageTransfer,
		Buffers: []renderer.BufferBarrier{
			{Buffer: f.lists, FromAccess: renderer.AccessShaderRead, ToAccess: renderer.AccessTransferWrite},
			{Buffer: slot.staging, FromAccess: renderer.AccessHostWrite, ToAccess: renderer.AccessTransferRead},
		},
	}
	backend.InsertBarrier(b)
	backend.CopyBuffer(slot.staging, 0, f.lists, 0, FogListsSize)
	backend.InsertBarrier(b.Reverse())
	return nil
}

func (f *fog) cullPass(ctx *framegraph.FrameContext) error {
	backend, _, _ := f.attached()
	if backend == nil {
		return ErrNotSetup
	}
	f.mu.Lock()
	groups := DispatchCount(f.numClusters(), FogThreads)
	f.mu.Unlock()

	b := renderer.Barrier{
		Name:      "Fog Cull",
		FromStage: renderer.StageComputeShader,
		ToStage:   renderer.StageComputeShader,
		Buffers: []renderer.BufferBarrier{
			{Buffer: f.clusterFog, FromAccess: renderer.AccessShaderRead, ToAccess: renderer.AccessShaderWrite},
		},
	}
	backend.InsertBarrier(b)
	backend.SetShaderProgram(f.cullProgram)
	backend.SetResourceTable(f.frames.Get(ctx.BufferIndex).cull, 0)
	backend.Compute(groups, 1, 1)
	backend.InsertBarrier(b.Reverse())
	return nil
}

// dispatchInto records one compute dispatch that writes target, bracketed by the transition of
// target from ShaderRead to General and back.
func dispatchInto(backend renderer.GraphicsBackend, name string, target renderer.TextureHandle, program renderer.ShaderProgramHandle, table renderer.ResourceTableHandle, x, y uint32) {
	b := computeBarrier(name, renderer.Transition(target, renderer.AllSubresources, renderer.LayoutShaderRead, renderer.LayoutGeneral))
	backend.InsertBarrier(b)
	backend.SetShaderProgram(program)
	backend.SetResourceTable(table, 0)
	backend.Compute(x, y, 1)
	backend.InsertBarrier(b.Reverse())
}

func (f *fog) fogSize() (uint32, uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fogWidth, f.fogHeight
}

func (f *fog) computePass(ctx *framegraph.FrameContext) error {
	backend, resources, _ := f.attached()
	if backend == nil {
		return ErrNotSetup
	}
	w, h := f.fogSize()
	dispatchInto(backend, "Fog Compute", resources.MustTexture(framegraph.VolumetricFogBuffer0),
		f.computeProgram, f.frames.Get(ctx.BufferIndex).compute, DispatchCount(w, FogThreads), h)
	return nil
}

func (f *fog) blurXPass(ctx *framegraph.FrameContext) error {
	backend, resources, _ := f.attached()
	if backend == nil {
		return ErrNotSetup
	}
	w, h := f.fogSize()
	dispatchInto(backend, "Fog BlurX", resources.MustTexture(framegraph.VolumetricFogBuffer1),
		f.blurXProgram, f.frames.Get(ctx.BufferIndex).blurX, DispatchCount(w, BlurTileWidth), h)
	return nil
}

func (f *fog) blurYPass(ctx *framegraph.FrameContext) error {
	backend, resources, _ := f.attached()
	if backend == nil {
		return ErrNotSetup
	}
	w, h := f.fogSize()
	dispatchInto(backend, "Fog BlurY", resources.MustTexture(framegraph.VolumetricFogBuffer0),
		f.blurYProgram, f.frames.Get(ctx.BufferIndex).blurY, DispatchCount(h, BlurTileWidth), w)
	return nil
}

func (f *fog) Resize(width, height uint32) error {
	return f.resize(width, height, f.Setup)
}

func (f *fog) Discard() {
	backend := f.detach()
	if backend == nil {
		return
	}
	f.release(backend)
}
