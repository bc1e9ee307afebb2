package control

import "time"

// Limiter decides whether a fan value may be dispatched to the device. A
// value is dispatched only when it differs from the previously dispatched
// value and the cooldown window since the previous dispatch has elapsed,
// which protects the device transport from command floods.
//
// Not safe for concurrent use.
type Limiter struct {
	prevFan     int
	nextAllowed time.Time
}

// Allow reports whether fan may be dispatched at now. When it returns true
// the limiter records the value and opens a new cooldown window.
func (l *Limiter) Allow(fan int, cooldown time.Duration, now time.Time) bool {
	if fan == l.prevFan || now.Before(l.nextAllowed) {
		return false
	}
	l.prevFan = fan
	l.nextAllowed = now.Add(cooldown)
	return true
}

// Last returns the most recently dispatched value.
func (l *Limiter) Last() int {
	return l.prevFan
}
