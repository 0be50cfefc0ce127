package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Scan    ScanConfig    `yaml:"scan"`
	Acquire AcquireConfig `yaml:"acquire"`
	Export  ExportConfig  `yaml:"export"`
	Sim     SimConfig     `yaml:"sim"`
}

// DeviceConfig contains device selection configuration.
type DeviceConfig struct {
	Port       string `yaml:"port"`       // Serial port used when autodetect is off
	Match      string `yaml:"match"`      // Substring matched against detected port names
	Autodetect bool   `yaml:"autodetect"` // Scan the port inventory instead of using Port
	BaudRate   int    `yaml:"baud_rate"`
}

// ScanConfig contains the background analog-input scan parameters.
type ScanConfig struct {
	SampleRateHz    float64 `yaml:"sample_rate_hz"`   // Per-channel sample rate
	DurationSeconds float64 `yaml:"duration_seconds"` // Ring buffer sizing: rate * duration points per channel
	Channels        int     `yaml:"channels"`         // Number of interleaved channels
}

// AcquireConfig contains acquisition loop parameters.
type AcquireConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`  // Backoff when less than a full chunk is available
	StartTimeout  time.Duration `yaml:"start_timeout"`  // How long to wait for the scan to leave idle
	TargetSamples uint64        `yaml:"target_samples"` // Stop after this many samples (0 = one ring buffer's worth)
}

// ExportConfig contains CSV export configuration.
type ExportConfig struct {
	Dir      string `yaml:"dir"`
	Decimate int    `yaml:"decimate"` // Keep every Nth row (0 or 1 = keep all)
}

// SimConfig contains simulated device configuration.
type SimConfig struct {
	Amplitude      float64 `yaml:"amplitude"`       // Signal amplitude (V)
	NoiseLevel     float64 `yaml:"noise_level"`     // Noise level (V)
	SignalHz       float64 `yaml:"signal_hz"`       // Simulated signal frequency
	RateMultiplier float64 `yaml:"rate_multiplier"` // Produce faster than nominal (>1 provokes overruns)
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Port:       "COM3", // Default for Windows, should be "/dev/ttyACM0" on Linux/Mac
			Match:      "E-1608",
			Autodetect: true,
			BaudRate:   115200,
		},
		Scan: ScanConfig{
			SampleRateHz:    10000,
			DurationSeconds: 1,
			Channels:        1,
		},
		Acquire: AcquireConfig{
			PollInterval: 100 * time.Millisecond,
			StartTimeout: 5 * time.Second,
		},
		Export: ExportConfig{
			Dir:      ".",
			Decimate: 1,
		},
		Sim: SimConfig{
			Amplitude:      1.0,
			NoiseLevel:     0.001,
			SignalHz:       50,
			RateMultiplier: 1.0,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Ensure minimum required fields are set (use defaults if missing)
	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Device.Port == "" {
		c.Device.Port = def.Device.Port
	}
	if c.Device.Match == "" {
		c.Device.Match = def.Device.Match
	}
	if c.Device.BaudRate == 0 {
		c.Device.BaudRate = def.Device.BaudRate
	}

	if c.Scan.SampleRateHz == 0 {
		c.Scan.SampleRateHz = def.Scan.SampleRateHz
	}
	if c.Scan.DurationSeconds == 0 {
		c.Scan.DurationSeconds = def.Scan.DurationSeconds
	}
	if c.Scan.Channels == 0 {
		c.Scan.Channels = def.Scan.Channels
	}

	if c.Acquire.PollInterval == 0 {
		c.Acquire.PollInterval = def.Acquire.PollInterval
	}
	if c.Acquire.StartTimeout == 0 {
		c.Acquire.StartTimeout = def.Acquire.StartTimeout
	}

	if c.Export.Dir == "" {
		c.Export.Dir = def.Export.Dir
	}
	if c.Export.Decimate == 0 {
		c.Export.Decimate = def.Export.Decimate
	}

	if c.Sim.Amplitude == 0 {
		c.Sim.Amplitude = def.Sim.Amplitude
	}
	if c.Sim.SignalHz == 0 {
		c.Sim.SignalHz = def.Sim.SignalHz
	}
	if c.Sim.RateMultiplier == 0 {
		c.Sim.RateMultiplier = def.Sim.RateMultiplier
	}
}
