// Package status provides a thread-safe status tracker for the s0-meter daemon.
// The read loop writes to it; heartbeat and shutdown logging read from it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/s0-meter/internal/reading"
)

// Config contains daemon configuration for display.
type Config struct {
	Source      string // hardware variant, e.g. "serial", "sysfs", "cdev"
	Resolution  int
	DebounceMs  int64
	HeartbeatMs int64
}

// Counts holds impulse counts per direction.
type Counts struct {
	Impulses    int
	ImpulsesNeg int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Open        bool
	Counts      Counts
	LastPower   float64
	PowerID     reading.Identifier // empty until the first power reading
	LastReading time.Time
	ReadErrors  int
	LastError   string
	StartTime   time.Time
	Now         time.Time
	Config      Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// HasPower reports whether a power reading has been recorded.
func (s Snapshot) HasPower() bool {
	return s.PowerID != ""
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Record folds the readings of one Read call into the state.
func (t *Tracker) Record(rds []reading.Reading) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, rd := range rds {
		switch rd.Identifier {
		case reading.Impulse, reading.ImpulseNeg:
			if rd.Identifier.Negative() {
				t.snap.Counts.ImpulsesNeg++
			} else {
				t.snap.Counts.Impulses++
			}
		case reading.Power, reading.PowerNeg:
			t.snap.LastPower = rd.Value
			t.snap.PowerID = rd.Identifier
		default:
			continue
		}
		if rd.Time.After(t.snap.LastReading) {
			t.snap.LastReading = rd.Time
		}
	}
}

// RecordError counts a failed Read.
func (t *Tracker) RecordError(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	t.snap.ReadErrors++
	t.snap.LastError = err.Error()
	t.mu.Unlock()
}

// SetOpen sets whether the hardware is currently held.
func (t *Tracker) SetOpen(open bool) {
	t.mu.Lock()
	t.snap.Open = open
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
