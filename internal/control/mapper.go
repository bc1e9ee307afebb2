package control

import "math"

// Params is the tunable portion of the control pipeline. It is a plain value
// copied out of the runtime configuration for each sample, so the pipeline
// never reads shared state mid-computation.
type Params struct {
	// MinSpeedKMH maps to MinFan; MaxSpeedKMH maps to MaxFan.
	// MinSpeedKMH must be strictly less than MaxSpeedKMH.
	MinSpeedKMH float64
	MaxSpeedKMH float64

	// MinFan and MaxFan bound the output duty percentage (0-100).
	MinFan int
	MaxFan int

	// RateCompensation is the 0-100 strength of the derivative term.
	// 0 disables compensation entirely.
	RateCompensation int
	// RateSmoothing is how many speed samples are averaged before the
	// derivative is taken. Must be >= 1.
	RateSmoothing int
}

// MapSpeed maps a vehicle speed to a base fan duty percentage by linear
// interpolation between the configured bounds, clamping outside them.
func MapSpeed(speedKMH float64, p Params) int {
	if speedKMH <= p.MinSpeedKMH {
		return p.MinFan
	}
	if speedKMH >= p.MaxSpeedKMH {
		return p.MaxFan
	}
	speedRange := p.MaxSpeedKMH - p.MinSpeedKMH
	fanRange := float64(p.MaxFan - p.MinFan)
	return p.MinFan + int(math.Round((speedKMH-p.MinSpeedKMH)/speedRange*fanRange))
}
