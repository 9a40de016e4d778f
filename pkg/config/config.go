// Package config provides configuration loading and management for
// conebeamrecon. It handles loading configuration from YAML files and
// provides default values for the demo scanner geometry.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Sinogram describes the measured data layout.
	Sinogram struct {
		// Views is the number of projection angles.
		Views int `yaml:"views"`

		// DetRows is the number of detector rows.
		DetRows int `yaml:"detRows"`

		// DetChannels is the number of detector channels.
		DetChannels int `yaml:"detChannels"`
	} `yaml:"sinogram"`

	// Geometry holds the scanner geometry in ALU.
	Geometry struct {
		// DeltaDetChannel is the detector channel pitch.
		DeltaDetChannel float64 `yaml:"deltaDetChannel"`

		// DeltaDetRow is the detector row pitch.
		DeltaDetRow float64 `yaml:"deltaDetRow"`

		// DetChannelOffset is the channel calibration offset in
		// detector-index units.
		DetChannelOffset float64 `yaml:"detChannelOffset"`

		// DetRowOffset is the row calibration offset in detector-index
		// units.
		DetRowOffset float64 `yaml:"detRowOffset"`

		// DetRotation is the in-plane detector rotation in radians.
		DetRotation float64 `yaml:"detRotation"`

		// SourceDetectorDist is the source to detector distance. Zero
		// selects four times the channel count.
		SourceDetectorDist float64 `yaml:"sourceDetectorDist"`

		// SourceIsoDist is the source to rotation-axis distance. Zero
		// selects SourceDetectorDist (magnification 1).
		SourceIsoDist float64 `yaml:"sourceIsoDist"`

		// DeltaVoxel is the voxel pitch; zero derives it from the
		// channel pitch and magnification.
		DeltaVoxel float64 `yaml:"deltaVoxel"`

		// ReconSliceOffset is the vertical offset of the volume.
		ReconSliceOffset float64 `yaml:"reconSliceOffset"`
	} `yaml:"geometry"`

	// Recon holds reconstruction grid and solver parameters.
	Recon struct {
		// Rows, Cols, Slices give the reconstruction shape. Zero values
		// select the defaults derived from the sinogram shape.
		Rows   int `yaml:"rows"`
		Cols   int `yaml:"cols"`
		Slices int `yaml:"slices"`

		// Iterations is the number of VCD sweeps.
		Iterations int `yaml:"iterations"`

		// Granularities lists the partition sizes the solver cycles
		// through.
		Granularities []int `yaml:"granularities"`

		// PartitionSequence maps iterations onto granularities.
		PartitionSequence []int `yaml:"partitionSequence"`

		// RegWeight is the quadratic prior strength; zero disables it.
		RegWeight float64 `yaml:"regWeight"`

		// Positivity constrains the reconstruction to be non-negative.
		Positivity bool `yaml:"positivity"`

		// Seed fixes the partition shuffle.
		Seed int64 `yaml:"seed"`

		// WeightType selects the sinogram weighting: unweighted,
		// transmission, transmission_root or emission.
		WeightType string `yaml:"weightType"`
	} `yaml:"recon"`

	// Output parameters.
	Output struct {
		// SaveSlices determines whether reconstructed slices are
		// exported as images.
		SaveSlices bool `yaml:"saveSlices"`

		// SlicesDir is the directory slice images are written to.
		SlicesDir string `yaml:"slicesDir"`

		// Verbose controls the level of logging output.
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values: the small
// demonstration scan used throughout the tests.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Sinogram.Views = 32
	cfg.Sinogram.DetRows = 32
	cfg.Sinogram.DetChannels = 64

	cfg.Geometry.DeltaDetChannel = 1.0
	cfg.Geometry.DeltaDetRow = 1.0
	cfg.Geometry.SourceDetectorDist = 4 * float64(cfg.Sinogram.DetChannels)
	cfg.Geometry.SourceIsoDist = cfg.Geometry.SourceDetectorDist

	cfg.Recon.Iterations = 10
	cfg.Recon.Granularities = []int{1, 4, 16, 64}
	cfg.Recon.RegWeight = 0.0
	cfg.Recon.Positivity = true
	cfg.Recon.Seed = 1
	cfg.Recon.WeightType = "transmission_root"

	cfg.Output.SaveSlices = false
	cfg.Output.SlicesDir = "reconstructed_slices"
	cfg.Output.Verbose = true

	return cfg
}

// Magnification returns the magnification implied by the configured
// distances, or an error when the source-iso distance is not positive.
func (c *Config) Magnification() (float64, error) {
	if c.Geometry.SourceIsoDist <= 0 {
		return 0, fmt.Errorf("config: sourceIsoDist must be positive, got %g", c.Geometry.SourceIsoDist)
	}
	return c.Geometry.SourceDetectorDist / c.Geometry.SourceIsoDist, nil
}

// LoadConfig loads configuration from a YAML file. If the file doesn't
// exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
