// internal/config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	FRA FRAConfig `yaml:"fra"`
}

type FRAConfig struct {
	OutputDir   string            `yaml:"output_dir"`
	LogLevel    string            `yaml:"log_level"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Axis        AxisConfig        `yaml:"axis"`
	Methods     []MethodConfig    `yaml:"methods"`
	Measurement MeasurementConfig `yaml:"measurement"`
	Motion      MotionConfig      `yaml:"motion"`
}

// ---- METRICS ----

type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address"` // empty => no HTTP endpoint
	Path          string `yaml:"path"`
}

// ---- AXIS ----

const (
	DriverModbus = "modbus"
	DriverSim    = "sim"
)

type AxisConfig struct {
	Name           string `yaml:"name"`
	Driver         string `yaml:"driver"`
	Endpoint       string `yaml:"endpoint"` // host:port or rtu:///dev/ttyUSB0?baud=115200
	UnitID         uint8  `yaml:"unit_id"`
	TimeoutMs      int    `yaml:"timeout_ms"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`

	// Register bases (holding registers).
	AxisBase   uint16 `yaml:"axis_base"`
	EngineBase uint16 `yaml:"engine_base"`

	// Simulation only.
	SupportedMethods []string `yaml:"supported_methods"`
	TimeScale        float64  `yaml:"time_scale"` // 1 => real time
}

// ---- METHOD REGISTRY ----

type MethodConfig struct {
	Name       string `yaml:"name"`
	ClosedLoop bool   `yaml:"closed_loop"`
	Capability uint8  `yaml:"capability"` // bit index in the drive capability mask
}

// ---- MEASUREMENT ----

type MeasurementConfig struct {
	Method              string    `yaml:"method"`
	FrequencyMinHz      float64   `yaml:"frequency_min_hz"`
	FrequencyMaxHz      float64   `yaml:"frequency_max_hz"`
	Steps               int       `yaml:"steps"`
	Spacing             string    `yaml:"spacing"` // linear | logarithmic | optimized
	ExcitationLimits    []float64 `yaml:"excitation_limits"`
	SettlingTimeMs      int       `yaml:"settling_time_ms"`
	SamplingFrequencyHz float64   `yaml:"sampling_frequency_hz"`
	CeilingS            int       `yaml:"ceiling_s"`
}

// ---- MOTION ----

type MotionConfig struct {
	Positions        []float64          `yaml:"positions"`
	PositionVelocity float64            `yaml:"position_velocity"`
	MoveTimeoutMs    int                `yaml:"move_timeout_ms"`
	BackAndForth     BackAndForthConfig `yaml:"back_and_forth"`
}

type BackAndForthConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Distance float64 `yaml:"distance"`
	Velocity float64 `yaml:"velocity"`
}

// Load reads and decodes a YAML configuration file.
// It does not validate; call Validate then Normalize.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return &cfg, nil
}
