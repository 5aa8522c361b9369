package framegraph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"go.uber.org/zap"
)

// ErrResourceNotFound is returned when a named texture or buffer is not registered.
var ErrResourceNotFound = errors.New("frame resource not found")

// Resources is the named resource table shared by the passes of a frame graph.
// Passes look textures and buffers up by name at setup time.
type Resources struct {
	mu sync.RWMutex

	log      *zap.Logger
	textures map[string]renderer.TextureHandle
	buffers  map[string]renderer.BufferHandle
	rings    map[string][]renderer.BufferHandle
}

// NewResources creates an empty resource table.
//
// Parameters:
//   - log: the logger fatal lookups are reported to, may be nil
//
// Returns:
//   - *Resources: the resource table
func NewResources(log *zap.Logger) *Resources {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resources{
		log:      log.Named("resources"),
		textures: make(map[string]renderer.TextureHandle),
		buffers:  make(map[string]renderer.BufferHandle),
		rings:    make(map[string][]renderer.BufferHandle),
	}
}

// RegisterTexture registers or replaces a named texture.
func (r *Resources) RegisterTexture(name string, h renderer.TextureHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.textures[name] = h
}

// Texture returns the named texture.
//
// Parameters:
//   - name: the texture name, for example "LightBuffer"
//
// Returns:
//   - renderer.TextureHandle: the texture
//   - error: ErrResourceNotFound if no texture has that name
func (r *Resources) Texture(name string) (renderer.TextureHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.textures[name]
	if !ok {
		return renderer.TextureHandle{}, fmt.Errorf("%w: texture %q", ErrResourceNotFound, name)
	}
	return h, nil
}

// MustTexture returns the named texture and panics if it is missing. A missing texture means
// the frame script and the passes disagree, which is a setup error.
func (r *Resources) MustTexture(name string) renderer.TextureHandle {
	h, err := r.Texture(name)
	if err != nil {
		r.log.Error("missing frame texture", zap.String("name", name))
		panic(err)
	}
	return h
}

// RemoveTexture drops a named texture from the table. It does not destroy it.
func (r *Resources) RemoveTexture(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.textures, name)
}

// RegisterBuffer registers or replaces a named buffer.
func (r *Resources) RegisterBuffer(name string, h renderer.BufferHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffers[name] = h
}

// Buffer returns the named buffer or ErrResourceNotFound.
func (r *Resources) Buffer(name string) (renderer.BufferHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.buffers[name]
	if !ok {
		return renderer.BufferHandle{}, fmt.Errorf("%w: buffer %q", ErrResourceNotFound, name)
	}
	return h, nil
}

// MustBuffer returns the named buffer and panics if it is missing.
func (r *Resources) MustBuffer(name string) renderer.BufferHandle {
	h, err := r.Buffer(name)
	if err != nil {
		r.log.Error("missing frame buffer", zap.String("name", name))
		panic(err)
	}
	return h
}

// RegisterBufferRing registers one buffer per buffered frame under a single name.
//
// Parameters:
//   - name: the ring name, for example "FrameConstants"
//   - handles: the buffer of every buffered frame, indexed by buffer index
func (r *Resources) RegisterBufferRing(name string, handles []renderer.BufferHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rings[name] = append([]renderer.BufferHandle(nil), handles...)
}

// BufferRing returns the per-frame buffers registered under name.
//
// Returns:
//   - []renderer.BufferHandle: one buffer per buffered frame
//   - error: ErrResourceNotFound if no ring has that name
func (r *Resources) BufferRing(name string) ([]renderer.BufferHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ring, ok := r.rings[name]
	if !ok {
		return nil, fmt.Errorf("%w: buffer ring %q", ErrResourceNotFound, name)
	}
	return append([]renderer.BufferHandle(nil), ring...), nil
}

// MustBufferRing returns the named buffer ring and panics if it is missing.
func (r *Resources) MustBufferRing(name string) []renderer.BufferHandle {
	ring, err := r.BufferRing(name)
	if err != nil {
		r.log.Error("missing frame buffer ring", zap.String("name", name))
		panic(err)
	}
	return ring
}

// TextureNames returns the registered texture names in sorted order.
func (r *Resources) TextureNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.textures))
	for name := range r.textures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
