package device

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ESPHome drives a fan entity through the ESPHome web server REST API:
// POST /fan/<entity>/turn_on?speed_level=N and POST /fan/<entity>/turn_off.
type ESPHome struct {
	base   string
	entity string
	httpc  *http.Client
}

func NewESPHome(host, entity string) *ESPHome {
	base := strings.TrimSpace(host)
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &ESPHome{
		base:   strings.TrimRight(base, "/"),
		entity: strings.TrimSpace(entity),
		httpc:  http.DefaultClient,
	}
}

// Connect probes the fan entity endpoint so a wrong IP or entity name shows
// up at startup rather than on the first command.
func (c *ESPHome) Connect(ctx context.Context) error {
	if c.base == "" || c.entity == "" {
		return fmt.Errorf("esphome: host and entity must be configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/fan/"+c.entity, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("esphome: connect %s: %w", c.base, err)
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("esphome: fan entity %q not found", c.entity)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("esphome: connect returned %s", resp.Status)
	}
	return nil
}

func (c *ESPHome) SetFanSpeed(ctx context.Context, pct int) error {
	var url string
	if pct > 0 {
		url = fmt.Sprintf("%s/fan/%s/turn_on?speed_level=%d", c.base, c.entity, pct)
	} else {
		url = fmt.Sprintf("%s/fan/%s/turn_off", c.base, c.entity)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("esphome: command: %w", err)
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("esphome: command returned %s", resp.Status)
	}
	return nil
}

func (c *ESPHome) Close() error { return nil }

func (c *ESPHome) Description() string {
	return fmt.Sprintf("esphome %s fan=%s", c.base, c.entity)
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
