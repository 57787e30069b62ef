// Package logic contains the pure timing math of impulse metering.
// This package has NO external dependencies (no GPIO, serial, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"time"

	"github.com/sweeney/s0-meter/internal/reading"
)

// wattSecondsPerKWh converts an impulse interval into watts when the
// resolution is given in impulses per kWh.
const wattSecondsPerKWh = 3_600_000

// Power returns the instantaneous power for the interval between two
// impulses: 3_600_000 / (Δt seconds × resolution).
func Power(prev, cur time.Time, resolution int) float64 {
	dt := cur.Sub(prev).Seconds()
	return wattSecondsPerKWh / (dt * float64(resolution))
}

// DebounceRemaining returns how long to wait so that at least delay has
// passed since last. Zero once delay has elapsed.
func DebounceRemaining(last, now time.Time, delay time.Duration) time.Duration {
	elapsed := now.Sub(last)
	if elapsed >= delay {
		return 0
	}
	return delay - elapsed
}

// Interpreter turns a stream of impulse events into readings.
type Interpreter struct {
	resolution int
	debounce   time.Duration
	last       time.Time
	seen       bool
}

// NewInterpreter creates an Interpreter. resolution must be > 0 and debounce
// >= 0; neither is checked again.
func NewInterpreter(resolution int, debounce time.Duration) *Interpreter {
	return &Interpreter{resolution: resolution, debounce: debounce}
}

// Resolution returns the configured impulses per kWh.
func (p *Interpreter) Resolution() int {
	return p.resolution
}

// Debounce returns the configured minimum impulse spacing.
func (p *Interpreter) Debounce() time.Duration {
	return p.debounce
}

// Reset forgets the last impulse so the next one is treated as the first.
func (p *Interpreter) Reset() {
	p.seen = false
	p.last = time.Time{}
}

// Seen reports whether an impulse has been recorded since the last Reset.
func (p *Interpreter) Seen() bool {
	return p.seen
}

// Last returns the time of the last recorded impulse.
func (p *Interpreter) Last() time.Time {
	return p.last
}

// DebounceWait returns the time still to wait at now before the next impulse
// may be accepted. Zero before the first impulse.
func (p *Interpreter) DebounceWait(now time.Time) time.Duration {
	if !p.seen {
		return 0
	}
	return DebounceRemaining(p.last, now, p.debounce)
}

// Impulse records an impulse at t and writes the derived readings into rds,
// returning how many were written. The first impulse yields only an
// Impulse reading; every later one yields Power then Impulse.
// rds must have room for two readings.
//
// The power label follows the direction of the impulse that ends the
// interval; a direction change inside the interval is not reflected.
func (p *Interpreter) Impulse(t time.Time, neg bool, rds []reading.Reading) int {
	if !p.seen {
		p.seen = true
		p.last = t
		rds[0] = reading.Reading{Identifier: reading.ImpulseID(neg), Time: t, Value: 1}
		return 1
	}

	rds[0] = reading.Reading{Identifier: reading.PowerID(neg), Time: t, Value: Power(p.last, t, p.resolution)}
	rds[1] = reading.Reading{Identifier: reading.ImpulseID(neg), Time: t, Value: 1}
	p.last = t
	return 2
}
