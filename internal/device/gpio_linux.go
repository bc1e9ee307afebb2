//go:build linux

package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// GPIO drives a locally attached 2-wire fan through a transistor/MOSFET on a
// GPIO line using the Linux GPIO character device. Any duty > 0 maps to ON,
// 0 maps to OFF.
type GPIO struct {
	chipName string
	offset   int
	line     *gpiocdev.Line
}

func NewGPIO(chip string, line int) (*GPIO, error) {
	if line < 0 {
		return nil, fmt.Errorf("gpio: invalid line %d", line)
	}
	chip = strings.TrimSpace(chip)
	if chip == "" {
		chip = "gpiochip0"
	}
	return &GPIO{chipName: chip, offset: line}, nil
}

func (c *GPIO) Connect(ctx context.Context) error {
	if c.line != nil {
		return nil
	}
	line, err := gpiocdev.RequestLine(c.chipName, c.offset,
		gpiocdev.AsOutput(0), gpiocdev.WithConsumer("simfan"))
	if err != nil {
		return fmt.Errorf("gpio: request %s line %d: %w", c.chipName, c.offset, err)
	}
	c.line = line
	return nil
}

func (c *GPIO) SetFanSpeed(ctx context.Context, pct int) error {
	if c.line == nil {
		return fmt.Errorf("gpio: not connected")
	}
	v := 0
	if pct > 0 {
		v = 1
	}
	return c.line.SetValue(v)
}

func (c *GPIO) Close() error {
	if c.line == nil {
		return nil
	}
	// Leave the fan OFF on shutdown.
	_ = c.line.SetValue(0)
	err := c.line.Close()
	c.line = nil
	return err
}

func (c *GPIO) Description() string {
	return fmt.Sprintf("gpio %s line=%d", c.chipName, c.offset)
}
