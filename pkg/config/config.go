// Package config loads and validates the core's startup configuration
// (§6). It keeps the teacher's shape exactly: a single Config struct of
// nested JSON-tagged structs, loaded with encoding/json, falling back to
// DefaultConfig when the file is absent, with environment variable
// overrides layered on top for secrets that shouldn't live in the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the complete core configuration, loaded once at
// process startup and immutable thereafter except via RELOAD (§4.5,
// only honored in IDLE).
type Config struct {
	Site       SiteConfig       `json:"site"`
	Motor      MotorConfig      `json:"motor"`
	GPIO       GPIOConfig       `json:"gpio"`
	Encoder    EncoderConfig    `json:"encoder"`
	Adaptive   AdaptiveConfig   `json:"adaptive"`
	Thresholds ThresholdsConfig `json:"thresholds"`

	// Telescope addresses the optional external ASCOM Alpaca dome device
	// that cmd/alpacad mirrors the Motor Service's position onto. It is
	// not consulted by the core's own control loops.
	Telescope TelescopeConfig `json:"telescope"`

	// Abaque locates the parallax table's on-disk measured samples.
	Abaque AbaqueConfig `json:"abaque"`
}

// AbaqueConfig points at the measured parallax sample file (§4.7).
type AbaqueConfig struct {
	// SamplesPath is a CSV file of (altitude, azimuth_object, azimuth_dome)
	// rows, loaded once at startup; the table is immutable thereafter.
	SamplesPath string `json:"samples_path"`
}

// SiteConfig is the observatory's geographic location (§6).
type SiteConfig struct {
	// Latitude in decimal degrees (-90 to +90).
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees (-180 to +180).
	Longitude float64 `json:"longitude"`

	// Altitude in meters above mean sea level.
	Altitude float64 `json:"altitude"`

	// TZOffsetHours is the site's UTC offset in hours, used only for
	// human-facing log timestamps; all internal scheduling uses UTC.
	TZOffsetHours float64 `json:"tz_offset"`
}

// MotorConfig describes the stepper drive mechanics (§4.3).
type MotorConfig struct {
	// StepsPerRevolution is the motor's native full-step count.
	StepsPerRevolution int `json:"steps_per_revolution"`

	// Microsteps is the microstepping multiplier configured on the driver.
	Microsteps int `json:"microsteps"`

	// GearRatio is the mechanical reduction between motor shaft and dome ring.
	GearRatio float64 `json:"gear_ratio"`

	// CalibrationFactor corrects for cumulative mechanical slop; applied
	// on top of GearRatio in the step math (§4.3).
	CalibrationFactor float64 `json:"calibration_factor"`

	// MinStepPeriodSeconds is the fastest legal step period; callers
	// requesting a faster slew are clamped to this floor.
	MinStepPeriodSeconds float64 `json:"min_step_period_s"`

	// RampStepThreshold is the step count above which a move must ease
	// in/out via an S-curve rather than stepping at a constant cadence
	// throughout (§4.3). Zero disables ramping.
	RampStepThreshold int `json:"ramp_step_threshold"`

	// RampStartPeriodSeconds is the step period at the start/end of a
	// ramped move, eased down to MinStepPeriodSeconds at cruise.
	RampStartPeriodSeconds float64 `json:"ramp_start_period_s"`
}

// GPIOConfig names the physical pins the Motor Service owns exclusively (§5).
type GPIOConfig struct {
	DirPin    int `json:"dir_pin"`
	StepPin   int `json:"step_pin"`
	SwitchPin int `json:"switch_pin"`
}

// EncoderConfig configures the Encoder Daemon's SPI bus and sampling (§4.1).
type EncoderConfig struct {
	// Enabled allows running without encoder hardware (degraded mode, §1
	// non-goals: not certified for production, but permitted for testing).
	Enabled bool `json:"enabled"`

	// SPIBus names the SPI bus device (e.g. "/dev/spidev0.0").
	SPIBus string `json:"spi_bus"`

	// SPISpeedHz is the SPI clock speed.
	SPISpeedHz int `json:"spi_speed_hz"`

	// MedianWindow is the number of samples in the transient-rejection filter (N=5 default).
	MedianWindow int `json:"median_window"`

	// CalibrationAngleDeg is the dome angle latched at the reference switch (default 45.0).
	CalibrationAngleDeg float64 `json:"calibration_angle_deg"`

	// MaxAgeMillis is the snapshot staleness budget consumers apply (default 2000ms).
	MaxAgeMillis int `json:"max_age_ms"`
}

// ThresholdsConfig collects the numeric thresholds spec §4.4-§4.6 name explicitly.
type ThresholdsConfig struct {
	// FeedbackDeg is loaded (default 3.0) but not read by the GOTO
	// handler, which makes one direct move whenever the error exceeds
	// ToleranceDeg and then runs the feedback pass.
	FeedbackDeg float64 `json:"feedback_deg"`

	// ProtectionDeg is loaded (default 20.0) but not read by
	// pkg/feedback, which aborts a converge at its own fixed 20° protection
	// threshold, checked on every iteration.
	ProtectionDeg float64 `json:"protection_deg"`

	// ToleranceDeg is the default convergence tolerance (default 0.5).
	ToleranceDeg float64 `json:"tolerance_deg"`

	// StagnationCount is loaded and must be positive (default 3), but
	// pkg/feedback and pkg/tracking do not read it: both give up after a
	// fixed 3 consecutive non-improving corrections.
	StagnationCount int `json:"stagnation_count"`

	// StagnationMinMoveDeg is the minimum acceptable error reduction per correction (default 0.1).
	StagnationMinMoveDeg float64 `json:"stagnation_min_move_deg"`
}

// AdaptiveModeParams binds the check interval, correction threshold, and
// step period for one TrackingMode (§3).
type AdaptiveModeParams struct {
	IntervalSeconds  float64 `json:"interval_seconds"`
	ThresholdDeg     float64 `json:"threshold_deg"`
	StepPeriodMillis float64 `json:"step_period_ms"`
}

// AdaptiveConfig holds the per-mode table the Tracking Engine uses to
// select cadence and precision (§3, §4.6).
type AdaptiveConfig struct {
	Normal     AdaptiveModeParams `json:"normal"`
	Critical   AdaptiveModeParams `json:"critical"`
	Continuous AdaptiveModeParams `json:"continuous"`

	// ContinuousAltitudeDeg and ContinuousDeltaDeg are the CONTINUOUS
	// mode trigger conditions from the §3 selection rule.
	ContinuousAltitudeDeg float64 `json:"continuous_altitude_deg"`
	ContinuousDeltaDeg    float64 `json:"continuous_delta_deg"`

	// CriticalAltitudeDeg is the CRITICAL mode trigger altitude.
	CriticalAltitudeDeg float64 `json:"critical_altitude_deg"`
}

// TelescopeConfig is kept from the teacher almost verbatim: it describes
// the external ASCOM Alpaca dome device that cmd/alpacad connects to.
// None of the core's own loops read it.
type TelescopeConfig struct {
	// BaseURL is the external Alpaca dome device's address that
	// cmd/alpacad's pkg/alpaca DomeClient connects to.
	BaseURL string `json:"base_url"`

	// DeviceNumber is the Alpaca device number (typically 0).
	DeviceNumber int `json:"device_number"`

	// SupportsMeridianFlip is unused for a dome (no pier side) but kept
	// for config-shape parity with the teacher's equatorial-mount field;
	// always false for a dome rotator.
	SupportsMeridianFlip bool `json:"supports_meridian_flip"`
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns a default configuration (§6).
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the loaded configuration for the misconfiguration
// class of error (§7 ConfigError, exit code 2).
func (c *Config) Validate() error {
	if c.Motor.StepsPerRevolution <= 0 {
		return fmt.Errorf("config: motor.steps_per_revolution must be positive")
	}
	if c.Motor.Microsteps <= 0 {
		return fmt.Errorf("config: motor.microsteps must be positive")
	}
	if c.Motor.GearRatio <= 0 {
		return fmt.Errorf("config: motor.gear_ratio must be positive")
	}
	if c.Encoder.Enabled && c.Encoder.MedianWindow <= 0 {
		return fmt.Errorf("config: encoder.median_window must be positive when encoder is enabled")
	}
	if c.Thresholds.StagnationCount <= 0 {
		return fmt.Errorf("config: thresholds.stagnation_count must be positive")
	}
	return nil
}

// DefaultConfig returns a configuration with the defaults spec §6 and §3 name.
func DefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			Latitude:      44.15,
			Longitude:     5.23,
			Altitude:      650.0,
			TZOffsetHours: 1.0,
		},
		Motor: MotorConfig{
			StepsPerRevolution:     200,
			Microsteps:             16,
			GearRatio:              1.0,
			CalibrationFactor:      1.0,
			MinStepPeriodSeconds:   0.00015,
			RampStepThreshold:      100,
			RampStartPeriodSeconds: 0.004,
		},
		GPIO: GPIOConfig{
			DirPin:    17,
			StepPin:   27,
			SwitchPin: 22,
		},
		Encoder: EncoderConfig{
			Enabled:             true,
			SPIBus:              "/dev/spidev0.0",
			SPISpeedHz:          500000,
			MedianWindow:        5,
			CalibrationAngleDeg: 45.0,
			MaxAgeMillis:        2000,
		},
		Adaptive: AdaptiveConfig{
			Normal:                AdaptiveModeParams{IntervalSeconds: 60, ThresholdDeg: 0.5, StepPeriodMillis: 2.0},
			Critical:              AdaptiveModeParams{IntervalSeconds: 15, ThresholdDeg: 0.25, StepPeriodMillis: 1.0},
			Continuous:            AdaptiveModeParams{IntervalSeconds: 5, ThresholdDeg: 0.1, StepPeriodMillis: 0.15},
			ContinuousAltitudeDeg: 75.0,
			ContinuousDeltaDeg:    30.0,
			CriticalAltitudeDeg:   68.0,
		},
		Thresholds: ThresholdsConfig{
			FeedbackDeg:          3.0,
			ProtectionDeg:        20.0,
			ToleranceDeg:         0.5,
			StagnationCount:      3,
			StagnationMinMoveDeg: 0.1,
		},
		Telescope: TelescopeConfig{
			BaseURL:              "http://localhost:11111",
			DeviceNumber:         0,
			SupportsMeridianFlip: false,
		},
		Abaque: AbaqueConfig{
			SamplesPath: "configs/abaque_samples.csv",
		},
	}
}

// applyEnvironmentOverrides applies environment variable overrides to the
// config, mirroring the teacher's pattern of keeping secrets/deployment
// specifics out of the checked-in config file.
func (c *Config) applyEnvironmentOverrides() {
	if busPath := os.Getenv("DOMECORE_SPI_BUS"); busPath != "" {
		c.Encoder.SPIBus = busPath
	}
	if url := os.Getenv("DOMECORE_ALPACA_URL"); url != "" {
		c.Telescope.BaseURL = url
	}
}
