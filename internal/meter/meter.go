// Package meter implements the S0 impulse meter driver: it owns one impulse
// source, enforces the debounce delay and turns impulse timing into power
// readings.
//
// A Driver is not safe for concurrent use; callers dedicate one goroutine to
// the Read loop of each meter.
package meter

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/s0-meter/internal/hwif"
	"github.com/sweeney/s0-meter/internal/logic"
	"github.com/sweeney/s0-meter/internal/option"
	"github.com/sweeney/s0-meter/internal/reading"
)

// Protocol is the driver name used by the registry and in log fields.
const Protocol = "s0"

// Option keys and their defaults.
const (
	KeyResolution = "resolution"
	KeyDebounce   = "debounce_delay"

	DefaultResolution = 1000 // impulses per kWh
	DefaultDebounceMs = 30
	MaxDebounceMs     = 3_600_000
)

// MinReadings is the smallest slice Read accepts.
const MinReadings = 2

// ErrNoHardware is returned when the driver has no impulse source.
var ErrNoHardware = errors.New("no hardware interface")

// Driver reads impulses from a hardware source and derives power readings.
type Driver struct {
	hw     hwif.Source
	pulses *logic.Interpreter
	log    zerolog.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// New selects the hardware variant from opts and creates a Driver.
func New(opts option.List, log zerolog.Logger) (*Driver, error) {
	src, err := NewSource(opts, log)
	if err != nil {
		return nil, err
	}
	return NewWithSource(src, opts, log)
}

// NewSource picks the impulse source: GPIO when a non-negative "gpio" is
// set (character device if "gpiochip" is also set, sysfs otherwise),
// serial "device" otherwise. A malformed "gpio" is an error, not a fallback.
func NewSource(opts option.List, log zerolog.Logger) (hwif.Source, error) {
	pin, err := opts.LookupInt(hwif.KeyGPIO)
	switch {
	case errors.Is(err, option.ErrNotFound):
	case err != nil:
		return nil, err
	case pin >= 0:
		cfg, err := hwif.GPIOConfigFrom(opts, log)
		if err != nil {
			return nil, err
		}
		if cfg.Chip != "" {
			_, cfg.Debounce, err = timing(opts, log)
			if err != nil {
				return nil, err
			}
			return hwif.NewCdevGPIO(cfg, log), nil
		}
		return hwif.NewSysfsGPIO(cfg, log), nil
	}

	cfg, err := hwif.SerialConfigFrom(opts)
	if err != nil {
		return nil, err
	}
	return hwif.NewSerial(cfg, log), nil
}

// NewWithSource creates a Driver reading from src. Resolution and debounce
// delay are validated here and never again.
func NewWithSource(src hwif.Source, opts option.List, log zerolog.Logger) (*Driver, error) {
	log = log.With().Str("protocol", Protocol).Logger()

	resolution, debounce, err := timing(opts, log)
	if err != nil {
		return nil, err
	}

	return &Driver{
		hw:     src,
		pulses: logic.NewInterpreter(resolution, debounce),
		log:    log,
		now:    time.Now,
		sleep:  time.Sleep,
	}, nil
}

// SetClock replaces the time source and sleep used for impulse timestamps
// and debouncing.
func (d *Driver) SetClock(now func() time.Time, sleep func(time.Duration)) {
	d.now = now
	d.sleep = sleep
}

// timing reads and validates resolution and debounce_delay.
func timing(opts option.List, log zerolog.Logger) (int, time.Duration, error) {
	resolution, err := opts.IntOr(KeyResolution, DefaultResolution)
	if err != nil {
		log.Error().Err(err).Msg("failed to parse resolution")
		return 0, 0, err
	}
	if resolution < 1 {
		return 0, 0, fmt.Errorf("resolution must be greater than 0, got %d: %w", resolution, option.ErrInvalid)
	}

	debounceMs, err := opts.IntOr(KeyDebounce, DefaultDebounceMs)
	if err != nil {
		log.Error().Err(err).Msg("failed to parse debounce_delay")
		return 0, 0, err
	}
	if debounceMs < 0 || debounceMs > MaxDebounceMs {
		return 0, 0, fmt.Errorf("debounce_delay must be between 0 and %d ms, got %d: %w", MaxDebounceMs, debounceMs, option.ErrInvalid)
	}
	return resolution, time.Duration(debounceMs) * time.Millisecond, nil
}

// Source returns the hardware source.
func (d *Driver) Source() hwif.Source {
	return d.hw
}

// Resolution returns the configured impulses per kWh.
func (d *Driver) Resolution() int {
	return d.pulses.Resolution()
}

// Debounce returns the configured debounce delay.
func (d *Driver) Debounce() time.Duration {
	return d.pulses.Debounce()
}

// Open acquires the hardware. The next Read waits for a first impulse.
func (d *Driver) Open() error {
	if d.hw == nil {
		return ErrNoHardware
	}
	if err := d.hw.Open(); err != nil {
		return fmt.Errorf("open hardware: %w", err)
	}
	d.pulses.Reset()
	return nil
}

// Close releases the hardware.
func (d *Driver) Close() error {
	if d.hw == nil {
		return ErrNoHardware
	}
	return d.hw.Close()
}

// Read blocks until the next impulse and writes the derived readings into
// rds. It returns 1 after the first impulse following Open (Impulse only) and
// 2 afterwards (Power, then Impulse). A slice shorter than MinReadings
// returns 0 without waiting.
func (d *Driver) Read(rds []reading.Reading) (int, error) {
	if d.hw == nil {
		return 0, ErrNoHardware
	}
	if len(rds) < MinReadings {
		d.log.Debug().Int("len", len(rds)).Msg("read buffer too small")
		return 0, nil
	}

	if d.pulses.Seen() {
		d.debounce()
	}

	neg, err := d.hw.WaitForImpulse()
	if err != nil {
		d.log.Debug().Err(err).Msg("wait for impulse failed")
		return 0, fmt.Errorf("wait for impulse: %w", err)
	}

	n := d.pulses.Impulse(d.now(), neg, rds)
	if n == MinReadings {
		d.log.Debug().
			Float64("power", rds[0].Value).
			Str("dir", dirSign(neg)).
			Msg("reading s0")
	}
	return n, nil
}

// debounce sleeps until the debounce delay has passed since the last impulse.
// A sleep that ends early is resumed for the remainder.
func (d *Driver) debounce() {
	remaining := d.pulses.DebounceWait(d.now())
	if remaining <= 0 {
		return
	}
	d.log.Trace().Dur("wait", remaining).Msg("waiting for debouncing")

	deadline := d.pulses.Last().Add(d.pulses.Debounce())
	for remaining > 0 {
		d.sleep(remaining)
		remaining = deadline.Sub(d.now())
	}
}

func dirSign(neg bool) string {
	if neg {
		return "-"
	}
	return "+"
}
