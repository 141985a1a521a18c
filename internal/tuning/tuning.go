package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"voxelhull.dev/internal/hull/index"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// Radius fixes the coordinate domain [-radius, radius) on every axis.
	Radius      int32 `yaml:"radius"`
	FlushRateHz int   `yaml:"flush_rate_hz"`
	MaxBatch    int   `yaml:"max_batch"`
	MaxQueue    int   `yaml:"max_queue"`

	// SnapshotEveryFlushes writes a snapshot every that many flushes; 0
	// leaves resume to the edit journal alone.
	SnapshotEveryFlushes uint64 `yaml:"snapshot_every_flushes"`

	Seed    Seed    `yaml:"seed"`
	Journal Journal `yaml:"journal"`
}

// Seed describes the terrain generated into a fresh volume.
type Seed struct {
	Enabled    bool  `yaml:"enabled"`
	Seed       int64 `yaml:"seed"`
	HalfExtent int32 `yaml:"half_extent"`
	BaseHeight int32 `yaml:"base_height"`
	Amplitude  int32 `yaml:"amplitude"`
	RegionSize int   `yaml:"region_size"`
}

type Journal struct {
	Disabled bool `yaml:"disabled"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Radius:          256,
		FlushRateHz:     20,
		MaxBatch:        4096,
		MaxQueue:        32,

		SnapshotEveryFlushes: 6000,
		Seed: Seed{
			Enabled:    false,
			Seed:       1337,
			HalfExtent: 32,
			BaseHeight: 0,
			Amplitude:  8,
			RegionSize: 16,
		},
	}
}

// Load reads a YAML file on top of Defaults, so a file only needs to name
// the fields it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.Radius < 1 || t.Radius > index.MaxRadius {
		return fmt.Errorf("radius %d outside [1, %d]", t.Radius, index.MaxRadius)
	}
	if t.FlushRateHz <= 0 {
		return fmt.Errorf("flush_rate_hz must be positive, got %d", t.FlushRateHz)
	}
	if t.MaxBatch <= 0 {
		return fmt.Errorf("max_batch must be positive, got %d", t.MaxBatch)
	}
	if t.MaxQueue <= 0 {
		return fmt.Errorf("max_queue must be positive, got %d", t.MaxQueue)
	}
	if t.Seed.Enabled {
		if t.Seed.HalfExtent <= 0 || t.Seed.HalfExtent > t.Radius {
			return fmt.Errorf("seed.half_extent %d outside [1, %d]", t.Seed.HalfExtent, t.Radius)
		}
		lo, hi := t.Seed.BaseHeight-t.Seed.Amplitude, t.Seed.BaseHeight+t.Seed.Amplitude
		if t.Seed.Amplitude < 0 || lo < -t.Radius || hi >= t.Radius {
			return fmt.Errorf("seed heights [%d, %d] do not fit radius %d", lo, hi, t.Radius)
		}
	}
	return nil
}
