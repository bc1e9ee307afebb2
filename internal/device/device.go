// Package device talks to the physical fan: transport clients for the
// supported backends plus the rate-decoupled command dispatcher.
package device

import (
	"context"
	"fmt"

	"simfan/internal/config"
)

// Client is a fan transport. SetFanSpeed takes a duty percentage in [0,100];
// 0 turns the fan off. Implementations must be safe to call from a single
// goroutine at a time.
type Client interface {
	Connect(ctx context.Context) error
	SetFanSpeed(ctx context.Context, pct int) error
	Close() error
	Description() string
}

// NewClient builds the transport selected by the fan configuration.
func NewClient(cfg config.FanConfig) (Client, error) {
	switch cfg.Backend {
	case config.BackendESPHome:
		return NewESPHome(cfg.ESPHome.Host, cfg.ESPHome.Entity), nil
	case config.BackendHomeAssistant:
		return NewHomeAssistant(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, cfg.HomeAssistant.Entity), nil
	case config.BackendGPIO:
		return NewGPIO(cfg.GPIO.Chip, cfg.GPIO.Line)
	default:
		return nil, fmt.Errorf("device: unknown backend %q", cfg.Backend)
	}
}
