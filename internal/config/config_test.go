package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "settings.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "web:\n  listen: ':8080'\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Web.Listen != ":8080" {
		t.Fatalf("web.listen=%q want :8080", cfg.Web.Listen)
	}
	if cfg.Telemetry.Listen != "0.0.0.0:4444" {
		t.Fatalf("telemetry.listen=%q want default", cfg.Telemetry.Listen)
	}
	if cfg.Telemetry.ReadTimeout != 1*time.Second {
		t.Fatalf("read_timeout=%s want 1s", cfg.Telemetry.ReadTimeout)
	}
	if cfg.Mapping.MaxSpeedKMH != 300 || cfg.Mapping.MaxFan != 100 {
		t.Fatalf("expected mapping defaults, got %+v", cfg.Mapping)
	}
	if cfg.Control.CooldownMS != 300 || cfg.Control.RateSmoothing != 3 {
		t.Fatalf("expected control defaults, got %+v", cfg.Control)
	}
	if !cfg.Control.Enabled {
		t.Fatalf("enabled should default to true")
	}
	if cfg.Fan.Backend != BackendESPHome {
		t.Fatalf("fan.backend=%q want esphome", cfg.Fan.Backend)
	}
}

func TestLoad_ExplicitDisabledSticks(t *testing.T) {
	path := writeTempConfig(t, "control:\n  enabled: false\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Control.Enabled {
		t.Fatalf("enabled=false in file must not be overwritten by the default")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestDefaultAndValidate_Invariants(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "SpeedBoundsInverted",
			mutate: func(c *Config) { c.Mapping.MinSpeedKMH = 300; c.Mapping.MaxSpeedKMH = 100 },
			want:   "mapping.min_speed_kmh (300) must be less than mapping.max_speed_kmh (100)",
		},
		{
			name:   "SpeedBoundsEqual",
			mutate: func(c *Config) { c.Mapping.MinSpeedKMH = 100; c.Mapping.MaxSpeedKMH = 100 },
			want:   "mapping.min_speed_kmh (100) must be less than mapping.max_speed_kmh (100)",
		},
		{
			name:   "FanAboveRange",
			mutate: func(c *Config) { c.Mapping.MaxFan = 120 },
			want:   "mapping fan bounds must be within [0,100]",
		},
		{
			name:   "FanBelowRange",
			mutate: func(c *Config) { c.Mapping.MinFan = -5 },
			want:   "mapping fan bounds must be within [0,100]",
		},
		{
			name:   "FanBoundsInverted",
			mutate: func(c *Config) { c.Mapping.MinFan = 60; c.Mapping.MaxFan = 40 },
			want:   "mapping.min_fan (60) must not exceed mapping.max_fan (40)",
		},
		{
			name:   "NegativeCooldown",
			mutate: func(c *Config) { c.Control.CooldownMS = -1 },
			want:   "control.cooldown_ms must be >= 0",
		},
		{
			name:   "CompensationOutOfRange",
			mutate: func(c *Config) { c.Control.RateCompensation = 101 },
			want:   "control.rate_compensation must be within [0,100]",
		},
		{
			name:   "NegativeSmoothing",
			mutate: func(c *Config) { c.Control.RateSmoothing = -2 },
			want:   "control.rate_smoothing must be >= 1",
		},
		{
			name:   "UnknownBackend",
			mutate: func(c *Config) { c.Fan.Backend = "mqtt" },
			want:   "fan.backend must be one of esphome, homeassistant, gpio",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			requireErrEq(t, DefaultAndValidate(&cfg), tc.want)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	cfg := Default()
	cfg.Control.RateCompensation = 40
	cfg.Control.Enabled = false
	cfg.Fan.ESPHome.Host = "10.0.0.7"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.Control.RateCompensation != 40 {
		t.Fatalf("rate_compensation=%d want 40", got.Control.RateCompensation)
	}
	if got.Control.Enabled {
		t.Fatalf("enabled should round-trip as false")
	}
	if got.Fan.ESPHome.Host != "10.0.0.7" {
		t.Fatalf("esphome.host=%q want 10.0.0.7", got.Fan.ESPHome.Host)
	}
}

func TestSave_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	cfg := Default()
	cfg.Mapping.MaxSpeedKMH = cfg.Mapping.MinSpeedKMH
	if err := Save(path, cfg); err == nil {
		t.Fatalf("expected Save() to reject invalid config")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("invalid config must not be written, stat err=%v", err)
	}
}
