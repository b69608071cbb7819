// Package config loads service configuration. Environment variables carry
// per-process settings; the optional mesh YAML file carries the shared
// topology every service must agree on, the region size above all.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Atlas is the proxy process configuration.
type Atlas struct {
	ListenAddr  string `env:"HORIZON_ATLAS_ADDR" envDefault:":8090"`
	MetricsAddr string `env:"HORIZON_METRICS_ADDR" envDefault:":9100"`

	HeartbeatInterval time.Duration `env:"HORIZON_HEARTBEAT_INTERVAL" envDefault:"10s"`
	HeartbeatDeadline time.Duration `env:"HORIZON_HEARTBEAT_DEADLINE" envDefault:"30s"`
	LivenessSweep     time.Duration `env:"HORIZON_LIVENESS_SWEEP" envDefault:"5s"`
	MaxMissedSweeps   int           `env:"HORIZON_MAX_MISSED_SWEEPS" envDefault:"3"`

	TransferTokenTTL time.Duration `env:"HORIZON_TOKEN_TTL" envDefault:"30s"`

	MeshFile    string `env:"HORIZON_MESH_FILE"`
	JournalDir  string `env:"HORIZON_JOURNAL_DIR"`
	IndexDBPath string `env:"HORIZON_INDEX_DB"`

	LogLevel string `env:"HORIZON_LOG_LEVEL" envDefault:"info"`
}

// LoadAtlas reads the proxy configuration from the environment.
func LoadAtlas() (Atlas, error) {
	var cfg Atlas
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("atlas config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("atlas config: %w", err)
	}
	return cfg, nil
}

func (c Atlas) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be > 0")
	}
	if c.HeartbeatDeadline < c.HeartbeatInterval {
		return fmt.Errorf("heartbeat deadline %s shorter than interval %s", c.HeartbeatDeadline, c.HeartbeatInterval)
	}
	if c.LivenessSweep <= 0 {
		return fmt.Errorf("liveness sweep must be > 0")
	}
	if c.TransferTokenTTL <= 0 {
		return fmt.Errorf("transfer token ttl must be > 0")
	}
	return nil
}

// Region is the region server process configuration. The grid cell is fixed
// at startup: a region server cannot move while running.
type Region struct {
	AtlasURL string `env:"HORIZON_ATLAS_URL" envDefault:"ws://localhost:8090/mesh"`
	Name     string `env:"HORIZON_REGION_NAME"`
	Address  string `env:"HORIZON_REGION_ADDR" envDefault:":7777"`

	RegionX int64 `env:"HORIZON_REGION_X" envDefault:"0"`
	RegionY int64 `env:"HORIZON_REGION_Y" envDefault:"0"`
	RegionZ int64 `env:"HORIZON_REGION_Z" envDefault:"0"`

	Capacity int `env:"HORIZON_CAPACITY" envDefault:"100"`

	RegionSize        float64       `env:"HORIZON_REGION_SIZE" envDefault:"2000"`
	BoundaryThreshold float64       `env:"HORIZON_BOUNDARY_THRESHOLD" envDefault:"50"`
	HeartbeatInterval time.Duration `env:"HORIZON_HEARTBEAT_INTERVAL" envDefault:"10s"`

	LogLevel string `env:"HORIZON_LOG_LEVEL" envDefault:"info"`
}

// LoadRegion reads the region server configuration from the environment.
func LoadRegion() (Region, error) {
	var cfg Region
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("region config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("region config: %w", err)
	}
	return cfg, nil
}

func (c *Region) Normalize() {
	if c.Name == "" {
		c.Name = fmt.Sprintf("region-%d-%d-%d", c.RegionX, c.RegionY, c.RegionZ)
	}
}

func (c Region) Validate() error {
	if c.AtlasURL == "" {
		return fmt.Errorf("atlas url must not be empty")
	}
	if c.Capacity < 0 {
		return fmt.Errorf("capacity must be >= 0")
	}
	if c.RegionSize <= 0 {
		return fmt.Errorf("region size must be > 0")
	}
	if c.BoundaryThreshold <= 0 || c.BoundaryThreshold >= c.RegionSize/2 {
		return fmt.Errorf("boundary threshold %v must be in (0, region_size/2)", c.BoundaryThreshold)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be > 0")
	}
	return nil
}
