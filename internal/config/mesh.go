package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/spatial"
)

// Mesh is the shared topology file. Every service in the mesh must load the
// same region size or region ownership becomes ambiguous at the seams.
type Mesh struct {
	RegionSize        float64      `yaml:"region_size"`
	BoundaryThreshold float64      `yaml:"boundary_threshold"`
	InitialRegions    []RegionSpec `yaml:"initial_regions,omitempty"`
}

// RegionSpec names one grid cell the proxy should have maestro pre-spawn.
type RegionSpec struct {
	X          int64   `yaml:"x"`
	Y          int64   `yaml:"y"`
	Z          int64   `yaml:"z"`
	Name       string  `yaml:"name,omitempty"`
	Capacity   int     `yaml:"capacity,omitempty"`
	HalfExtent float64 `yaml:"half_extent,omitempty"`
}

func (r RegionSpec) Coord() spatial.RegionCoordinate {
	return spatial.NewRegionCoordinate(r.X, r.Y, r.Z)
}

// Bounds returns the cell's cube centered on its grid position.
func (r RegionSpec) Bounds(regionSize float64) spatial.RegionBounds {
	half := r.HalfExtent
	if half <= 0 {
		half = regionSize / 2
	}
	return spatial.BoundsFromCenter(r.Coord().ToWorldCenter(regionSize), half)
}

// LoadMesh reads the topology file, falling back to defaults when path is
// empty.
func LoadMesh(path string) (Mesh, error) {
	cfg := defaultMesh()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("mesh.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("mesh.yaml: %w", err)
	}
	return cfg, nil
}

func defaultMesh() Mesh {
	return Mesh{
		RegionSize:        2000,
		BoundaryThreshold: 50,
		InitialRegions: []RegionSpec{
			{X: 0, Y: 0, Z: 0, Name: "origin", Capacity: 100},
		},
	}
}

func (c *Mesh) Normalize() {
	if c == nil {
		return
	}
	for i := range c.InitialRegions {
		r := &c.InitialRegions[i]
		if strings.TrimSpace(r.Name) == "" {
			r.Name = fmt.Sprintf("region-%d-%d-%d", r.X, r.Y, r.Z)
		}
		if r.Capacity <= 0 {
			r.Capacity = 100
		}
	}
}

func (c Mesh) Validate() error {
	if c.RegionSize <= 0 {
		return fmt.Errorf("region_size must be > 0")
	}
	if c.BoundaryThreshold <= 0 || c.BoundaryThreshold >= c.RegionSize/2 {
		return fmt.Errorf("boundary_threshold must be in (0, region_size/2)")
	}
	seen := map[spatial.RegionCoordinate]bool{}
	for _, r := range c.InitialRegions {
		coord := r.Coord()
		if seen[coord] {
			return fmt.Errorf("duplicate initial region %s", coord)
		}
		seen[coord] = true
		if r.HalfExtent < 0 {
			return fmt.Errorf("region %s half_extent must be >= 0", coord)
		}
		if r.HalfExtent > c.RegionSize/2 {
			return fmt.Errorf("region %s half_extent %v exceeds region_size/2", coord, r.HalfExtent)
		}
	}
	return nil
}
