// Package config provides configuration loading and management for polaris.
// It handles loading configuration from YAML files, environment overrides
// and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"

	"polaris/pkg/ingest"
	"polaris/pkg/metadata"
	"polaris/pkg/reconstruction"
	"polaris/pkg/region"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Paganin phase retrieval parameters
	Paganin struct {
		// Enabled runs phase retrieval between ring removal and reconstruction
		Enabled bool `yaml:"enabled"`

		// Delta is the refractive index decrement of the sample
		Delta float64 `yaml:"delta"`

		// Beta is the absorption index of the sample
		Beta float64 `yaml:"beta"`

		// EnergyEV is the beam energy in electronvolts
		EnergyEV float64 `yaml:"energyEV"`
	} `yaml:"paganin"`

	// ROI restricts the data read from disk. Each axis takes
	// "start:stop:step" or an empty string for the full extent.
	ROI struct {
		Angle      string `yaml:"angle"`
		Vertical   string `yaml:"vertical"`
		Horizontal string `yaml:"horizontal"`
	} `yaml:"roi"`

	// Cameras maps camera identifiers to detector pixel pitch
	Cameras struct {
		PixelSizeMM map[string]float64 `yaml:"pixelSizeMM"`

		// UnknownPixelSizeMM is used, with a warning, for cameras not listed
		UnknownPixelSizeMM float64 `yaml:"unknownPixelSizeMM"`
	} `yaml:"cameras"`

	// Ingest parameters
	Ingest struct {
		// Workers is the number of concurrent frame loads
		Workers int `yaml:"workers"`

		ProjectionPattern string `yaml:"projectionPattern"`
		FlatPattern       string `yaml:"flatPattern"`
	} `yaml:"ingest"`

	// Rotation centre correction
	Rotation struct {
		// Method selects the slice: "centre" or a detector row
		Method string `yaml:"method"`

		// Backend names the projector used for the estimate
		Backend string `yaml:"backend"`
	} `yaml:"rotation"`

	// Output parameters
	Output struct {
		// Dir is where slice images are written
		Dir string `yaml:"dir"`

		// Preview saves only the middle slice
		Preview bool `yaml:"preview"`

		// SaveSlices saves every slice along z
		SaveSlices bool `yaml:"saveSlices"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	params := reconstruction.DefaultParams()
	cfg.Paganin.Enabled = false
	cfg.Paganin.Delta = params.Phase.Delta
	cfg.Paganin.Beta = params.Phase.Beta
	cfg.Paganin.EnergyEV = params.Phase.EnergyEV

	cameras := metadata.DefaultCameras()
	cfg.Cameras.PixelSizeMM = cameras.PixelSizeMM
	cfg.Cameras.UnknownPixelSizeMM = cameras.UnknownPixelSizeMM

	cfg.Ingest.Workers = runtime.NumCPU() // Use all available cores by default
	cfg.Ingest.ProjectionPattern = ingest.DefaultProjectionPattern
	cfg.Ingest.FlatPattern = ingest.DefaultFlatPattern

	cfg.Rotation.Method = params.RotationMethod
	cfg.Rotation.Backend = params.RotationEngine

	cfg.Output.Dir = "polaris_output"
	cfg.Output.Preview = true
	cfg.Output.SaveSlices = false
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
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

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// ApplyEnv overrides values from POLARIS_* environment variables. lookup is
// normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *float64) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = f
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("POLARIS_ROI_ANGLE", &c.ROI.Angle)
	str("POLARIS_ROI_VERTICAL", &c.ROI.Vertical)
	str("POLARIS_ROI_HORIZONTAL", &c.ROI.Horizontal)
	str("POLARIS_ROTATION_METHOD", &c.Rotation.Method)
	str("POLARIS_ROTATION_BACKEND", &c.Rotation.Backend)
	str("POLARIS_OUTPUT_DIR", &c.Output.Dir)

	for key, dst := range map[string]*float64{
		"POLARIS_PAGANIN_DELTA":         &c.Paganin.Delta,
		"POLARIS_PAGANIN_BETA":          &c.Paganin.Beta,
		"POLARIS_PAGANIN_ENERGY_EV":     &c.Paganin.EnergyEV,
		"POLARIS_UNKNOWN_PIXEL_SIZE_MM": &c.Cameras.UnknownPixelSizeMM,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	if err := flag("POLARIS_PAGANIN", &c.Paganin.Enabled); err != nil {
		return err
	}
	if err := flag("POLARIS_PREVIEW", &c.Output.Preview); err != nil {
		return err
	}
	if v, ok := lookup("POLARIS_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("POLARIS_WORKERS: %w", err)
		}
		c.Ingest.Workers = n
	}
	return nil
}

// Region parses the ROI section.
func (c *Config) Region() (region.Descriptor, error) {
	return region.Parse(c.ROI.Angle, c.ROI.Vertical, c.ROI.Horizontal)
}

// CameraRegistry returns the camera table, falling back to the built-in
// entries when none are configured.
func (c *Config) CameraRegistry() metadata.CameraRegistry {
	reg := metadata.DefaultCameras()
	if len(c.Cameras.PixelSizeMM) > 0 {
		reg.PixelSizeMM = c.Cameras.PixelSizeMM
	}
	if c.Cameras.UnknownPixelSizeMM > 0 {
		reg.UnknownPixelSizeMM = c.Cameras.UnknownPixelSizeMM
	}
	return reg
}

// PipelineParams returns the reconstruction parameters.
func (c *Config) PipelineParams() reconstruction.Params {
	return reconstruction.Params{
		Phase: reconstruction.PhaseParams{
			Delta:    c.Paganin.Delta,
			Beta:     c.Paganin.Beta,
			EnergyEV: c.Paganin.EnergyEV,
		},
		RotationMethod: c.Rotation.Method,
		RotationEngine: c.Rotation.Backend,
	}
}

// Ingestor returns an ingestor configured from the ingest section.
func (c *Config) Ingestor() *ingest.Ingestor {
	return &ingest.Ingestor{
		Workers:           c.Ingest.Workers,
		ProjectionPattern: c.Ingest.ProjectionPattern,
		FlatPattern:       c.Ingest.FlatPattern,
	}
}
