package control

import (
	"math"
	"time"
)

// minInterval is the smallest interval between derivative updates. Samples
// arriving faster than this pass through untouched; near-zero deltas would
// otherwise produce spurious derivative spikes.
const minInterval = 10 * time.Millisecond

// sensitivityDivisor scales the 0-100 compensation knob into a usable
// derivative gain.
const sensitivityDivisor = 50.0

// Compensator adjusts a base fan speed with a smoothed derivative of vehicle
// speed, so the fan anticipates acceleration and braking instead of lagging
// behind them.
//
// Not safe for concurrent use.
type Compensator struct {
	prevSpeed float64
	prevAt    time.Time
	history   []float64
}

func NewCompensator(now time.Time) *Compensator {
	return &Compensator{prevAt: now}
}

// Apply returns the compensated fan speed and the signed compensation that
// was actually applied: positive while accelerating, negative while braking.
//
// The deviation clamp keeps the derivative term from dragging the output too
// far from the base value: the output may deviate by at most
// max(30, base*0.5) duty points before the final range clamp.
func (c *Compensator) Apply(speedKMH float64, baseFan int, p Params, now time.Time) (fan int, compensation int) {
	dt := now.Sub(c.prevAt)
	if dt < minInterval {
		return baseFan, 0
	}

	c.history = append(c.history, speedKMH)
	if n := p.RateSmoothing; n >= 1 && len(c.history) > n {
		c.history = c.history[len(c.history)-n:]
	}

	// No smoothing with a single sample.
	smoothed := speedKMH
	if len(c.history) >= 2 {
		var sum float64
		for _, v := range c.history {
			sum += v
		}
		smoothed = sum / float64(len(c.history))
	}

	// km/h per second; positive while accelerating.
	rate := (smoothed - c.prevSpeed) / dt.Seconds()
	c.prevSpeed = smoothed
	c.prevAt = now

	derivative := rate * float64(p.RateCompensation) / sensitivityDivisor
	compensated := float64(baseFan) + derivative

	maxDeviation := math.Max(30, float64(baseFan)*0.5)
	compensated = clamp(compensated, float64(baseFan)-maxDeviation, float64(baseFan)+maxDeviation)

	fan = int(math.Round(clamp(compensated, float64(p.MinFan), float64(p.MaxFan))))
	return fan, fan - baseFan
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
