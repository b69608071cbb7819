// Package spatial defines the world/region coordinate model shared by the
// region servers, the atlas proxy, and maestro. Every service must agree on
// the same region size or region ownership becomes ambiguous.
package spatial

import (
	"fmt"
	"math"
)

// WorldCoordinate is a continuous position in world space.
type WorldCoordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func NewWorldCoordinate(x, y, z float64) WorldCoordinate {
	return WorldCoordinate{X: x, Y: y, Z: z}
}

// Zero is the world origin.
func Zero() WorldCoordinate { return WorldCoordinate{} }

// DistanceTo returns the Euclidean distance to other.
func (c WorldCoordinate) DistanceTo(other WorldCoordinate) float64 {
	dx := c.X - other.X
	dy := c.Y - other.Y
	dz := c.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// VectorTo returns the vector from c to other.
func (c WorldCoordinate) VectorTo(other WorldCoordinate) WorldCoordinate {
	return WorldCoordinate{X: other.X - c.X, Y: other.Y - c.Y, Z: other.Z - c.Z}
}

// Magnitude returns the length of c treated as a vector.
func (c WorldCoordinate) Magnitude() float64 {
	return math.Sqrt(c.X*c.X + c.Y*c.Y + c.Z*c.Z)
}

// Normalized returns c scaled to unit length, or the zero vector when c has
// no direction.
func (c WorldCoordinate) Normalized() WorldCoordinate {
	mag := c.Magnitude()
	if mag == 0 {
		return WorldCoordinate{}
	}
	return WorldCoordinate{X: c.X / mag, Y: c.Y / mag, Z: c.Z / mag}
}

// Add returns the component-wise sum of c and other.
func (c WorldCoordinate) Add(other WorldCoordinate) WorldCoordinate {
	return WorldCoordinate{X: c.X + other.X, Y: c.Y + other.Y, Z: c.Z + other.Z}
}

// Scale returns c multiplied by factor.
func (c WorldCoordinate) Scale(factor float64) WorldCoordinate {
	return WorldCoordinate{X: c.X * factor, Y: c.Y * factor, Z: c.Z * factor}
}

// RegionCoordinate is a discrete grid index in the infinite region grid.
// Each cell is owned by at most one region server at a time.
type RegionCoordinate struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
	Z int64 `json:"z"`
}

func NewRegionCoordinate(x, y, z int64) RegionCoordinate {
	return RegionCoordinate{X: x, Y: y, Z: z}
}

// CenterRegion is the grid origin cell.
func CenterRegion() RegionCoordinate { return RegionCoordinate{} }

// ManhattanDistance returns the grid distance to other.
func (r RegionCoordinate) ManhattanDistance(other RegionCoordinate) int64 {
	return abs64(r.X-other.X) + abs64(r.Y-other.Y) + abs64(r.Z-other.Z)
}

// AdjacentRegions returns the six axis-aligned neighbors of r. Diagonal
// cells are not adjacent: a player can only cross into a region that shares
// a face with the current one.
func (r RegionCoordinate) AdjacentRegions() []RegionCoordinate {
	return []RegionCoordinate{
		{X: r.X + 1, Y: r.Y, Z: r.Z},
		{X: r.X - 1, Y: r.Y, Z: r.Z},
		{X: r.X, Y: r.Y + 1, Z: r.Z},
		{X: r.X, Y: r.Y - 1, Z: r.Z},
		{X: r.X, Y: r.Y, Z: r.Z + 1},
		{X: r.X, Y: r.Y, Z: r.Z - 1},
	}
}

// IsAdjacent reports whether other shares a face with r.
func (r RegionCoordinate) IsAdjacent(other RegionCoordinate) bool {
	return r.ManhattanDistance(other) == 1
}

// ToWorldCenter converts r to the world-space center of its cell given the
// mesh-wide region size. The center round-trips through RegionFromWorld, and
// cubic bounds of half-extent regionSize/2 around it tile the grid exactly.
func (r RegionCoordinate) ToWorldCenter(regionSize float64) WorldCoordinate {
	half := regionSize / 2
	return WorldCoordinate{
		X: float64(r.X)*regionSize + half,
		Y: float64(r.Y)*regionSize + half,
		Z: float64(r.Z)*regionSize + half,
	}
}

// RegionFromWorld maps a world position to the single grid cell that owns
// it. Floor division, not truncation: points in negative octants must land
// in the cell below, or adjacent servers would disagree about ownership at
// the seam.
func RegionFromWorld(coord WorldCoordinate, regionSize float64) RegionCoordinate {
	return RegionCoordinate{
		X: int64(math.Floor(coord.X / regionSize)),
		Y: int64(math.Floor(coord.Y / regionSize)),
		Z: int64(math.Floor(coord.Z / regionSize)),
	}
}

func (r RegionCoordinate) String() string {
	return fmt.Sprintf("(%d,%d,%d)", r.X, r.Y, r.Z)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
