//go:build !linux

package device

import "fmt"

// NewGPIO is unavailable off Linux; the character-device API has no
// counterpart on other platforms.
func NewGPIO(chip string, line int) (Client, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}
