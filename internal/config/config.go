package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the runtime-tunable configuration of the fan bridge. It is loaded
// once at startup, mutated through the web settings surface, and persisted on
// each change.
type Config struct {
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Mapping   MappingConfig   `yaml:"mapping"`
	Control   ControlConfig   `yaml:"control"`
	Fan       FanConfig       `yaml:"fan"`
	Web       WebConfig       `yaml:"web"`
}

type TelemetryConfig struct {
	// Listen is the UDP address the OutGauge stream arrives on.
	Listen string `yaml:"listen"`
	// ReadTimeout bounds a single telemetry read so the loop can refresh
	// its snapshot while the game is idle.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type MappingConfig struct {
	// MinSpeedKMH maps to MinFan, MaxSpeedKMH to MaxFan; vehicle speeds
	// in between interpolate linearly.
	MinSpeedKMH float64 `yaml:"min_speed_kmh"`
	MaxSpeedKMH float64 `yaml:"max_speed_kmh"`
	MinFan      int     `yaml:"min_fan"`
	MaxFan      int     `yaml:"max_fan"`
}

type ControlConfig struct {
	// CooldownMS is the minimum interval between dispatched fan commands.
	CooldownMS int `yaml:"cooldown_ms"`
	// RateCompensation is the 0-100 strength of the derivative term;
	// 0 disables it.
	RateCompensation int `yaml:"rate_compensation"`
	// RateSmoothing is the number of speed samples averaged before the
	// derivative is taken.
	RateSmoothing int `yaml:"rate_smoothing"`
	// Enabled is the master switch. When false the loop drives the fan
	// toward 0 through the normal rate-limited path.
	Enabled bool `yaml:"enabled"`
}

func (c ControlConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMS) * time.Millisecond
}

type FanConfig struct {
	// Backend selects the device transport: esphome, homeassistant or gpio.
	Backend string `yaml:"backend"`

	ESPHome       ESPHomeConfig       `yaml:"esphome"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	GPIO          GPIOConfig          `yaml:"gpio"`

	// CommandTimeout bounds a single device call.
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// MaxReconnectAttempts bounds consecutive reconnects after a failed
	// command before the pending value is dropped.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

type ESPHomeConfig struct {
	Host   string `yaml:"host"`
	Entity string `yaml:"entity"`
}

type HomeAssistantConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Entity string `yaml:"entity"`
}

type GPIOConfig struct {
	Chip string `yaml:"chip"`
	Line int    `yaml:"line"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

const (
	BackendESPHome       = "esphome"
	BackendHomeAssistant = "homeassistant"
	BackendGPIO          = "gpio"
)

// Default returns the configuration used when no settings file exists yet.
func Default() Config {
	return Config{
		Telemetry: TelemetryConfig{
			Listen:      "0.0.0.0:4444",
			ReadTimeout: 1 * time.Second,
		},
		Mapping: MappingConfig{
			MinSpeedKMH: 0,
			MaxSpeedKMH: 300,
			MinFan:      0,
			MaxFan:      100,
		},
		Control: ControlConfig{
			CooldownMS:       300,
			RateCompensation: 0,
			RateSmoothing:    3,
			Enabled:          true,
		},
		Fan: FanConfig{
			Backend:              BackendESPHome,
			ESPHome:              ESPHomeConfig{Host: "192.168.99.100", Entity: "fan"},
			GPIO:                 GPIOConfig{Chip: "gpiochip0", Line: 18},
			CommandTimeout:       5 * time.Second,
			MaxReconnectAttempts: 3,
		},
		Web: WebConfig{
			Listen: ":5000",
		},
	}
}

// Load reads and validates the settings file. Values absent from the file
// keep their defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills unset fields and enforces the configuration
// invariants. It runs on load, on save, and before a settings update takes
// effect, so an invalid update never replaces a valid configuration.
func DefaultAndValidate(cfg *Config) error {
	def := Default()

	if cfg.Telemetry.Listen == "" {
		cfg.Telemetry.Listen = def.Telemetry.Listen
	}
	if cfg.Telemetry.ReadTimeout <= 0 {
		cfg.Telemetry.ReadTimeout = def.Telemetry.ReadTimeout
	}

	if cfg.Mapping.MinSpeedKMH >= cfg.Mapping.MaxSpeedKMH {
		return fmt.Errorf("mapping.min_speed_kmh (%g) must be less than mapping.max_speed_kmh (%g)",
			cfg.Mapping.MinSpeedKMH, cfg.Mapping.MaxSpeedKMH)
	}
	if cfg.Mapping.MinFan < 0 || cfg.Mapping.MaxFan > 100 {
		return fmt.Errorf("mapping fan bounds must be within [0,100]")
	}
	if cfg.Mapping.MinFan > cfg.Mapping.MaxFan {
		return fmt.Errorf("mapping.min_fan (%d) must not exceed mapping.max_fan (%d)",
			cfg.Mapping.MinFan, cfg.Mapping.MaxFan)
	}

	if cfg.Control.CooldownMS < 0 {
		return fmt.Errorf("control.cooldown_ms must be >= 0")
	}
	if cfg.Control.RateCompensation < 0 || cfg.Control.RateCompensation > 100 {
		return fmt.Errorf("control.rate_compensation must be within [0,100]")
	}
	if cfg.Control.RateSmoothing == 0 {
		cfg.Control.RateSmoothing = def.Control.RateSmoothing
	}
	if cfg.Control.RateSmoothing < 1 {
		return fmt.Errorf("control.rate_smoothing must be >= 1")
	}

	if cfg.Fan.Backend == "" {
		cfg.Fan.Backend = def.Fan.Backend
	}
	switch cfg.Fan.Backend {
	case BackendESPHome, BackendHomeAssistant, BackendGPIO:
	default:
		return fmt.Errorf("fan.backend must be one of %s, %s, %s",
			BackendESPHome, BackendHomeAssistant, BackendGPIO)
	}
	if cfg.Fan.CommandTimeout <= 0 {
		cfg.Fan.CommandTimeout = def.Fan.CommandTimeout
	}
	if cfg.Fan.MaxReconnectAttempts <= 0 {
		cfg.Fan.MaxReconnectAttempts = def.Fan.MaxReconnectAttempts
	}
	if cfg.Fan.GPIO.Chip == "" {
		cfg.Fan.GPIO.Chip = def.Fan.GPIO.Chip
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = def.Web.Listen
	}

	return nil
}

// Save validates and writes the configuration atomically: a temp file in the
// same directory followed by a rename, so a crash mid-write cannot corrupt
// the settings file.
func Save(path string, cfg Config) error {
	if err := DefaultAndValidate(&cfg); err != nil {
		return err
	}
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
