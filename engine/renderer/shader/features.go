package shader

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
	"sync"
)

// ErrTooManyFeatures is returned when more than 64 distinct feature names are registered.
var ErrTooManyFeatures = errors.New("feature mask registry is full")

// FeatureMask is an opaque bitmask selecting a shader program variation.
type FeatureMask uint64

// Well-known feature names. Their bits are fixed so masks are stable across runs.
const (
	FeatureGlobal = "Global"
	FeaturePoint  = "Point"
	FeatureSpot   = "Spot"
	FeatureAlt0   = "Alt0"
	FeatureAlt1   = "Alt1"
	FeatureAlt2   = "Alt2"
	FeatureAlt3   = "Alt3"
	FeatureStatic = "Static"
)

var builtinFeatures = []string{
	FeatureGlobal,
	FeaturePoint,
	FeatureSpot,
	FeatureAlt0,
	FeatureAlt1,
	FeatureAlt2,
	FeatureAlt3,
	FeatureStatic,
}

// Features maps feature names such as "Spot|Alt0" to masks. Unknown names are
// assigned the next free bit on first use.
type Features struct {
	mu    sync.RWMutex
	bits  map[string]int
	names []string
}

// NewFeatures creates a registry pre-populated with the well-known feature names.
//
// Returns:
//   - *Features: the registry
func NewFeatures() *Features {
	f := &Features{bits: make(map[string]int, len(builtinFeatures))}
	for _, name := range builtinFeatures {
		f.bits[name] = len(f.names)
		f.names = append(f.names, name)
	}
	return f
}

// Mask converts a '|' separated feature string into a mask.
//
// Parameters:
//   - s: feature names joined by '|', e.g. "Point|Alt0"; empty yields 0
//
// Returns:
//   - FeatureMask: the combined mask
//   - error: ErrTooManyFeatures if a new name cannot be assigned a bit
func (f *Features) Mask(s string) (FeatureMask, error) {
	var mask FeatureMask
	for _, part := range strings.Split(s, "|") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		bit, err := f.bit(name)
		if err != nil {
			return 0, err
		}
		mask |= 1 << bit
	}
	return mask, nil
}

// MustMask is Mask for feature strings known at compile time. It panics on registry overflow.
func (f *Features) MustMask(s string) FeatureMask {
	m, err := f.Mask(s)
	if err != nil {
		panic(err)
	}
	return m
}

// BuiltinMask converts a string of well-known feature names into a mask. Well-known names hold
// the same bits in every registry, so the result is valid for any Features. It panics on a name
// that is not well-known.
func BuiltinMask(s string) FeatureMask {
	var mask FeatureMask
	for _, part := range strings.Split(s, "|") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		bit := -1
		for i, known := range builtinFeatures {
			if known == name {
				bit = i
				break
			}
		}
		if bit < 0 {
			panic(fmt.Sprintf("feature %q is not well-known", name))
		}
		mask |= 1 << bit
	}
	return mask
}

// Has reports whether mask includes the named feature. Unregistered names are never set.
func (f *Features) Has(mask FeatureMask, name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	bit, ok := f.bits[name]
	return ok && mask&(1<<bit) != 0
}

// String renders mask back into its '|' separated form in bit order.
//
// Parameters:
//   - mask: the mask to render
//
// Returns:
//   - string: the feature string, empty for 0
func (f *Features) String(mask FeatureMask) string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var parts []string
	for m := uint64(mask); m != 0; m &= m - 1 {
		bit := bits.TrailingZeros64(m)
		if bit < len(f.names) {
			parts = append(parts, f.names[bit])
		} else {
			parts = append(parts, fmt.Sprintf("bit%d", bit))
		}
	}
	return strings.Join(parts, "|")
}

func (f *Features) bit(name string) (int, error) {
	f.mu.RLock()
	bit, ok := f.bits[name]
	f.mu.RUnlock()
	if ok {
		return bit, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if bit, ok := f.bits[name]; ok {
		return bit, nil
	}
	if len(f.names) >= 64 {
		return 0, fmt.Errorf("%w: cannot add %q", ErrTooManyFeatures, name)
	}
	bit = len(f.names)
	f.bits[name] = bit
	f.names = append(f.names, name)
	return bit, nil
}
