package spatial

import "fmt"

// RegionBounds is the axis-aligned box of world space a region server owns.
// Adjacent regions may share a boundary plane exactly; non-adjacent regions
// must never overlap.
type RegionBounds struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
	MinZ float64 `json:"min_z"`
	MaxZ float64 `json:"max_z"`
}

func NewRegionBounds(minX, maxX, minY, maxY, minZ, maxZ float64) RegionBounds {
	return RegionBounds{MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY, MinZ: minZ, MaxZ: maxZ}
}

// BoundsFromCenter builds cubic bounds around center with the given
// half-extent per axis.
func BoundsFromCenter(center WorldCoordinate, halfExtent float64) RegionBounds {
	return RegionBounds{
		MinX: center.X - halfExtent,
		MaxX: center.X + halfExtent,
		MinY: center.Y - halfExtent,
		MaxY: center.Y + halfExtent,
		MinZ: center.Z - halfExtent,
		MaxZ: center.Z + halfExtent,
	}
}

// DefaultBounds is the 2000-unit cube of the origin grid cell, used when a
// region is spawned without explicit bounds.
func DefaultBounds() RegionBounds {
	return BoundsFromCenter(CenterRegion().ToWorldCenter(2000), 1000)
}

// Validate reports min > max on any axis.
func (b RegionBounds) Validate() error {
	if b.MinX > b.MaxX || b.MinY > b.MaxY || b.MinZ > b.MaxZ {
		return fmt.Errorf("region bounds min exceeds max: %+v", b)
	}
	return nil
}

// Center returns the midpoint of the box.
func (b RegionBounds) Center() WorldCoordinate {
	return WorldCoordinate{
		X: (b.MinX + b.MaxX) / 2,
		Y: (b.MinY + b.MaxY) / 2,
		Z: (b.MinZ + b.MaxZ) / 2,
	}
}

// HalfExtent returns half the X span. Only meaningful for cubic regions;
// the flat REST encoding that uses it cannot represent non-cubic boxes.
func (b RegionBounds) HalfExtent() float64 {
	return (b.MaxX - b.MinX) / 2
}

// IsCubic reports whether all three spans are equal, i.e. whether
// HalfExtent describes the box losslessly.
func (b RegionBounds) IsCubic() bool {
	sx := b.MaxX - b.MinX
	return sx == b.MaxY-b.MinY && sx == b.MaxZ-b.MinZ
}

// Contains reports whether coord is inside the box, inclusive on all six
// faces. A point exactly on a shared plane is contained by both regions, so
// transfer routing must not use Contains alone to pick a unique owner.
func (b RegionBounds) Contains(coord WorldCoordinate) bool {
	return coord.X >= b.MinX && coord.X <= b.MaxX &&
		coord.Y >= b.MinY && coord.Y <= b.MaxY &&
		coord.Z >= b.MinZ && coord.Z <= b.MaxZ
}

// DistanceToBoundary returns the signed distance from coord to the nearest
// face: positive inside the box, negative once the point has crossed out.
// Transfer initiation triggers when this drops below the configured
// threshold.
func (b RegionBounds) DistanceToBoundary(coord WorldCoordinate) float64 {
	dx := min2(coord.X-b.MinX, b.MaxX-coord.X)
	dy := min2(coord.Y-b.MinY, b.MaxY-coord.Y)
	dz := min2(coord.Z-b.MinZ, b.MaxZ-coord.Z)
	return min2(dx, min2(dy, dz))
}

// Overlaps reports whether the two boxes intersect. Sharing exactly one
// face counts as overlap, which is the legal configuration for adjacent
// regions; anything deeper between two registered regions is a contested
// claim.
func (b RegionBounds) Overlaps(other RegionBounds) bool {
	return b.MinX <= other.MaxX && b.MaxX >= other.MinX &&
		b.MinY <= other.MaxY && b.MaxY >= other.MinY &&
		b.MinZ <= other.MaxZ && b.MaxZ >= other.MinZ
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
