package debugdraw

import (
	"github.com/Carmen-Shannon/nebula-go/engine/logger"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// CollectorOption configures a Collector created by NewCollector.
type CollectorOption func(*collector)

// WithLogger sets the logger used for capacity warnings.
func WithLogger(log *zap.Logger) CollectorOption {
	return func(c *collector) {
		c.log = logger.OrNop(log).Named("debugdraw")
	}
}

// WithGrid enables the depth tested ground grid drawn before every other batch.
//
// Parameters:
//   - center: the grid center
//   - cellSize: the edge length of one cell
//   - cells: the number of cells per side
func WithGrid(center mgl32.Vec3, cellSize float32, cells int) CollectorOption {
	return func(c *collector) {
		c.grid = true
		c.gridCenter = center
		c.gridSize = cellSize
		c.gridCells = cells
	}
}

// WithGridColor sets the color of the ground grid.
func WithGridColor(color mgl32.Vec4) CollectorOption {
	return func(c *collector) {
		c.gridColor = color
	}
}

// WithCapacity overrides MaxVertices, the number of vertices one frame can draw.
func WithCapacity(vertices int) CollectorOption {
	return func(c *collector) {
		if vertices > 0 {
			c.capacity = vertices
		}
	}
}
