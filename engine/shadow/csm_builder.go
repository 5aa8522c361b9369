package shadow

// CSMOption configures a CSM created by NewCSM.
type CSMOption func(*CSM)

// WithCascadeDistances sets the far distance of every cascade and the distance they are
// normalized by. Distances must increase; invalid input is ignored.
func WithCascadeDistances(distances [NumCascades]float32, maxDistance float32) CSMOption {
	return func(c *CSM) {
		if maxDistance <= 0 {
			return
		}
		prev := float32(0)
		for _, d := range distances {
			if d <= prev {
				return
			}
			prev = d
		}
		c.distances = distances
		c.maxDistance = maxDistance
	}
}

// WithFitting sets the cascade fitting method.
func WithFitting(m FittingMethod) CSMOption {
	return func(c *CSM) {
		c.fitting = m
	}
}

// WithClamping sets the cascade depth clamping method.
func WithClamping(m ClampingMethod) CSMOption {
	return func(c *CSM) {
		c.clamping = m
	}
}

// WithBlurSize sets the blur radius in texels that cascade fitting leaves as a border.
func WithBlurSize(texels int) CSMOption {
	return func(c *CSM) {
		c.blurSize = max(texels, 0)
	}
}

// WithFloorTexels snaps the cascade rectangles to whole shadow map texels, which keeps
// shadow edges from swimming when the camera moves.
func WithFloorTexels(floor bool) CSMOption {
	return func(c *CSM) {
		c.floorTexels = floor
	}
}

// WithCascadeTextureWidth sets the width in texels of one cascade layer.
func WithCascadeTextureWidth(width uint32) CSMOption {
	return func(c *CSM) {
		if width > 0 {
			c.textureWidth = float32(width)
		}
	}
}
