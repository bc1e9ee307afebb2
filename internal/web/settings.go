package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"simfan/internal/config"
)

// SettingsPayload is the GET schema: the tunable settings as currently in
// effect.
type SettingsPayload struct {
	MinSpeedKMH      float64 `json:"min_speed_kmh"`
	MaxSpeedKMH      float64 `json:"max_speed_kmh"`
	MinFan           int     `json:"min_fan"`
	MaxFan           int     `json:"max_fan"`
	CooldownMS       int     `json:"cooldown_ms"`
	RateCompensation int     `json:"rate_compensation"`
	RateSmoothing    int     `json:"rate_smoothing"`
	Enabled          bool    `json:"enabled"`
	FanBackend       string  `json:"fan_backend"`
	ESPHomeHost      string  `json:"esphome_host"`
	ESPHomeEntity    string  `json:"esphome_entity"`
}

// SettingsPayloadIn is the POST schema. Updates are partial: absent keys keep
// their current values, but unknown keys, duplicate keys and nulls are
// rejected to prevent silent schema drift.
type SettingsPayloadIn struct {
	MinSpeedKMH      *float64 `json:"min_speed_kmh"`
	MaxSpeedKMH      *float64 `json:"max_speed_kmh"`
	MinFan           *int     `json:"min_fan"`
	MaxFan           *int     `json:"max_fan"`
	CooldownMS       *int     `json:"cooldown_ms"`
	RateCompensation *int     `json:"rate_compensation"`
	RateSmoothing    *int     `json:"rate_smoothing"`
	Enabled          *bool    `json:"enabled"`
	FanBackend       *string  `json:"fan_backend"`
	ESPHomeHost      *string  `json:"esphome_host"`
	ESPHomeEntity    *string  `json:"esphome_entity"`
}

var settingsPostKeys = []string{
	"min_speed_kmh",
	"max_speed_kmh",
	"min_fan",
	"max_fan",
	"cooldown_ms",
	"rate_compensation",
	"rate_smoothing",
	"enabled",
	"fan_backend",
	"esphome_host",
	"esphome_entity",
}

func decodeSettingsPayloadInStrict(body []byte) (SettingsPayloadIn, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	// First pass: stream tokens to reject unknown keys, duplicate keys and
	// explicit nulls.
	allowed := make(map[string]struct{}, len(settingsPostKeys))
	for _, k := range settingsPostKeys {
		allowed[k] = struct{}{}
	}
	seen := make(map[string]struct{}, len(settingsPostKeys))

	tok, err := dec.Token()
	if err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return SettingsPayloadIn{}, errors.New("invalid json: expected object")
	}

	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return SettingsPayloadIn{}, errors.New("invalid json: expected string key")
		}
		if _, ok := allowed[key]; !ok {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: unknown key %q", key)
		}
		if _, dup := seen[key]; dup {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
		}
		if strings.TrimSpace(string(raw)) == "null" {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %q cannot be null", key)
		}
	}

	end, err := dec.Token()
	if err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	delim, ok = end.(json.Delim)
	if !ok || delim != '}' {
		return SettingsPayloadIn{}, errors.New("invalid json: expected end of object")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return SettingsPayloadIn{}, errors.New("invalid json: trailing data")
	}

	// Second pass: decode into the typed struct.
	var out SettingsPayloadIn
	dec2 := json.NewDecoder(bytes.NewReader(body))
	dec2.DisallowUnknownFields()
	if err := dec2.Decode(&out); err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}

	return out, nil
}

func configToSettingsPayload(cfg config.Config) SettingsPayload {
	return SettingsPayload{
		MinSpeedKMH:      cfg.Mapping.MinSpeedKMH,
		MaxSpeedKMH:      cfg.Mapping.MaxSpeedKMH,
		MinFan:           cfg.Mapping.MinFan,
		MaxFan:           cfg.Mapping.MaxFan,
		CooldownMS:       cfg.Control.CooldownMS,
		RateCompensation: cfg.Control.RateCompensation,
		RateSmoothing:    cfg.Control.RateSmoothing,
		Enabled:          cfg.Control.Enabled,
		FanBackend:       cfg.Fan.Backend,
		ESPHomeHost:      cfg.Fan.ESPHome.Host,
		ESPHomeEntity:    cfg.Fan.ESPHome.Entity,
	}
}

// applySettingsPayload merges the posted fields into cfg. Range checks that
// DefaultAndValidate would silently default away (rate_smoothing 0) are
// enforced here so an explicit bad value is rejected rather than coerced.
func applySettingsPayload(cfg *config.Config, p SettingsPayloadIn) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if p.MinSpeedKMH != nil {
		cfg.Mapping.MinSpeedKMH = *p.MinSpeedKMH
	}
	if p.MaxSpeedKMH != nil {
		cfg.Mapping.MaxSpeedKMH = *p.MaxSpeedKMH
	}
	if p.MinFan != nil {
		cfg.Mapping.MinFan = *p.MinFan
	}
	if p.MaxFan != nil {
		cfg.Mapping.MaxFan = *p.MaxFan
	}
	if p.CooldownMS != nil {
		cfg.Control.CooldownMS = *p.CooldownMS
	}
	if p.RateCompensation != nil {
		cfg.Control.RateCompensation = *p.RateCompensation
	}
	if p.RateSmoothing != nil {
		if *p.RateSmoothing < 1 {
			return errors.New("rate_smoothing must be >= 1")
		}
		cfg.Control.RateSmoothing = *p.RateSmoothing
	}
	if p.Enabled != nil {
		cfg.Control.Enabled = *p.Enabled
	}
	if p.FanBackend != nil {
		cfg.Fan.Backend = strings.TrimSpace(*p.FanBackend)
	}
	if p.ESPHomeHost != nil {
		cfg.Fan.ESPHome.Host = strings.TrimSpace(*p.ESPHomeHost)
	}
	if p.ESPHomeEntity != nil {
		cfg.Fan.ESPHome.Entity = strings.TrimSpace(*p.ESPHomeEntity)
	}
	return nil
}

// Controller is the part of the control loop the settings surface drives.
type Controller interface {
	// EffectiveConfig returns the configuration currently in effect.
	EffectiveConfig() config.Config
	// ApplyConfig validates and makes a new configuration effective
	// immediately.
	ApplyConfig(cfg config.Config) error
}

type SettingsStore struct {
	ConfigPath string
	Controller Controller
}

// Persist writes cfg to the settings file.
func (s SettingsStore) Persist(cfg config.Config) error {
	return config.Save(s.ConfigPath, cfg)
}

func (s SettingsStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(s.ConfigPath) == "" {
			http.Error(w, "settings not available (no config path)", http.StatusNotImplemented)
			return
		}

		switch r.Method {
		case http.MethodGet:
			writeJSON(w, configToSettingsPayload(s.Controller.EffectiveConfig()))

		case http.MethodPost:
			if ct := strings.TrimSpace(r.Header.Get("Content-Type")); ct != "application/json" {
				http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
				return
			}

			// Small config payload; cap to prevent unbounded reads.
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, fmt.Sprintf("read failed: %v", err), http.StatusBadRequest)
				return
			}
			p, err := decodeSettingsPayloadInStrict(body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			cfg := s.Controller.EffectiveConfig()
			if err := applySettingsPayload(&cfg, p); err != nil {
				http.Error(w, fmt.Sprintf("invalid settings: %v", err), http.StatusBadRequest)
				return
			}
			if err := config.DefaultAndValidate(&cfg); err != nil {
				http.Error(w, fmt.Sprintf("invalid settings: %v", err), http.StatusBadRequest)
				return
			}

			if err := s.Controller.ApplyConfig(cfg); err != nil {
				http.Error(w, fmt.Sprintf("apply failed: %v", err), http.StatusBadRequest)
				return
			}

			// The applied config stays in effect even when persistence
			// fails; the caller just loses the restart guarantee.
			if err := s.Persist(cfg); err != nil {
				http.Error(w, fmt.Sprintf("settings applied but not saved: %v", err), http.StatusInternalServerError)
				return
			}

			writeJSON(w, configToSettingsPayload(cfg))

		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
