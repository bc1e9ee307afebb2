package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// HomeAssistant drives a fan entity through the Home Assistant service API
// with a long-lived access token.
type HomeAssistant struct {
	base   string
	token  string
	entity string
	httpc  *http.Client
}

func NewHomeAssistant(url, token, entity string) *HomeAssistant {
	entity = strings.TrimSpace(entity)
	if entity != "" && !strings.Contains(entity, ".") {
		entity = "fan." + entity
	}
	return &HomeAssistant{
		base:   strings.TrimRight(strings.TrimSpace(url), "/"),
		token:  strings.TrimSpace(token),
		entity: entity,
		httpc:  http.DefaultClient,
	}
}

func (c *HomeAssistant) Connect(ctx context.Context) error {
	if c.base == "" || c.token == "" || c.entity == "" {
		return fmt.Errorf("homeassistant: url, token and entity must be configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("homeassistant: connect %s: %w", c.base, err)
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("homeassistant: token rejected")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("homeassistant: connect returned %s", resp.Status)
	}
	return nil
}

func (c *HomeAssistant) SetFanSpeed(ctx context.Context, pct int) error {
	service := "turn_on"
	payload := map[string]any{"entity_id": c.entity}
	if pct > 0 {
		payload["percentage"] = pct
	} else {
		service = "turn_off"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := c.base + "/api/services/fan/" + service
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("homeassistant: command: %w", err)
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("homeassistant: command returned %s", resp.Status)
	}
	return nil
}

func (c *HomeAssistant) Close() error { return nil }

func (c *HomeAssistant) Description() string {
	return fmt.Sprintf("homeassistant %s entity=%s", c.base, c.entity)
}
