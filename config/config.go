package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	garminhealth "github.com/lucasjlepore/garmin-health"
	"github.com/lucasjlepore/garmin-health/series"
)

// Config is the tool configuration, read from YAML.
type Config struct {
	// Timezone is the IANA zone used for offset-less series timestamps; empty means local.
	Timezone string            `yaml:"timezone,omitempty"`
	Policies map[string]string `yaml:"policies,omitempty"`
	Analysis AnalysisConfig    `yaml:"analysis"`
	Export   ExportConfig      `yaml:"export"`
}

// AnalysisConfig holds activity analyzer settings.
type AnalysisConfig struct {
	ElevationThresholdM float64 `yaml:"elevation_threshold_m"`
	SplitDistanceM      float64 `yaml:"split_distance_m"`
	MaxHR               float64 `yaml:"max_hr,omitempty"`
	MovingSpeedMps      float64 `yaml:"moving_speed_mps"`
}

// ExportConfig holds artifact export settings.
type ExportConfig struct {
	Format    string `yaml:"format"`
	OutputDir string `yaml:"output_dir,omitempty"`
	Overwrite bool   `yaml:"overwrite,omitempty"`
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var exportFormats = map[string]struct{}{"parquet": {}, "csv": {}, "sqlite": {}}

// Default returns the default configuration.
func Default() Config {
	opts := garminhealth.DefaultOptions()
	return Config{
		Analysis: AnalysisConfig{
			ElevationThresholdM: opts.ElevationThreshold,
			SplitDistanceM:      opts.SplitDistance,
			MovingSpeedMps:      opts.MovingSpeed,
		},
		Export: ExportConfig{Format: "parquet"},
	}
}

// DefaultPath returns ~/.garmin-health/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".garmin-health", "config.yaml"), nil
}

// Load reads path, fills missing values from Default and validates the
// result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	loaded.applyDefaults(cfg)

	if err := loaded.Validate(); err != nil {
		return nil, err
	}
	return &loaded, nil
}

// Save writes cfg to path as YAML, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults(d Config) {
	if c.Analysis.ElevationThresholdM == 0 {
		c.Analysis.ElevationThresholdM = d.Analysis.ElevationThresholdM
	}
	if c.Analysis.SplitDistanceM == 0 {
		c.Analysis.SplitDistanceM = d.Analysis.SplitDistanceM
	}
	if c.Analysis.MovingSpeedMps == 0 {
		c.Analysis.MovingSpeedMps = d.Analysis.MovingSpeedMps
	}
	if c.Export.Format == "" {
		c.Export.Format = d.Export.Format
	}
}

// Validate checks policy names, thresholds, export format and time zone.
func (c *Config) Validate() error {
	for name, policy := range c.Policies {
		if _, err := series.LookupMetric(name); err != nil {
			return fmt.Errorf("%w: policies: %v", ErrInvalidConfig, err)
		}
		if _, err := series.ParsePolicy(policy); err != nil {
			return fmt.Errorf("%w: policies.%s: %v", ErrInvalidConfig, name, err)
		}
	}
	if c.Analysis.ElevationThresholdM < 0 {
		return fmt.Errorf("%w: analysis.elevation_threshold_m must not be negative, got %v", ErrInvalidConfig, c.Analysis.ElevationThresholdM)
	}
	if c.Analysis.SplitDistanceM < 0 {
		return fmt.Errorf("%w: analysis.split_distance_m must not be negative, got %v", ErrInvalidConfig, c.Analysis.SplitDistanceM)
	}
	if c.Analysis.MaxHR < 0 || c.Analysis.MaxHR > 250 {
		return fmt.Errorf("%w: analysis.max_hr must be between 0 and 250, got %v", ErrInvalidConfig, c.Analysis.MaxHR)
	}
	if c.Analysis.MovingSpeedMps < 0 {
		return fmt.Errorf("%w: analysis.moving_speed_mps must not be negative, got %v", ErrInvalidConfig, c.Analysis.MovingSpeedMps)
	}
	if _, ok := exportFormats[strings.ToLower(c.Export.Format)]; !ok {
		return fmt.Errorf("%w: export.format must be parquet, csv or sqlite, got %q", ErrInvalidConfig, c.Export.Format)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Metric returns the built-in metric name with any configured policy override.
func (c *Config) Metric(name string) (series.Metric, error) {
	m, err := series.LookupMetric(name)
	if err != nil {
		return series.Metric{}, err
	}
	for key, raw := range c.Policies {
		other, err := series.LookupMetric(key)
		if err != nil || other.Name != m.Name {
			continue
		}
		p, err := series.ParsePolicy(raw)
		if err != nil {
			return series.Metric{}, err
		}
		return m.WithPolicy(p), nil
	}
	return m, nil
}

// AnalysisOptions converts the analysis section to analyzer options.
func (c *Config) AnalysisOptions() garminhealth.Options {
	return garminhealth.Options{
		ElevationThreshold: c.Analysis.ElevationThresholdM,
		SplitDistance:      c.Analysis.SplitDistanceM,
		MaxHR:              c.Analysis.MaxHR,
		MovingSpeed:        c.Analysis.MovingSpeedMps,
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
