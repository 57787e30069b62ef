package hwif

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/s0-meter/internal/option"
)

// Option keys read by the hardware constructors.
const (
	KeyDevice    = "device"
	KeyGPIO      = "gpio"
	KeyGPIODir   = "gpio_dir"
	KeyConfigure = "configureGPIO"
	KeyChip      = "gpiochip"
)

// SerialConfig configures the serial variant.
type SerialConfig struct {
	Device string
}

// SerialConfigFrom reads the serial settings.
func SerialConfigFrom(opts option.List) (SerialConfig, error) {
	dev, err := opts.LookupString(KeyDevice)
	if err != nil {
		return SerialConfig{}, fmt.Errorf("missing device or invalid type: %w", err)
	}
	return SerialConfig{Device: dev}, nil
}

// GPIOConfig configures both GPIO variants.
type GPIOConfig struct {
	Pin       int
	DirPin    int  // NoPin when direction sensing is disabled
	Configure bool // export and set direction/edge/active_low (sysfs only)
	Chip      string
	Root      string        // sysfs GPIO directory
	Debounce  time.Duration // edges this close to the last accepted one are dropped (cdev only)
}

// GPIOConfigFrom reads the GPIO settings.
func GPIOConfigFrom(opts option.List, log zerolog.Logger) (GPIOConfig, error) {
	cfg := GPIOConfig{DirPin: NoPin, Configure: true, Root: DefaultSysfsRoot}

	pin, err := opts.LookupInt(KeyGPIO)
	if err != nil {
		return cfg, fmt.Errorf("missing gpio or invalid type (expect int): %w", err)
	}
	if pin < 0 {
		return cfg, fmt.Errorf("gpio pin %d must not be negative: %w", pin, option.ErrInvalid)
	}
	cfg.Pin = pin

	configure, err := opts.LookupBool(KeyConfigure)
	switch {
	case errors.Is(err, option.ErrNotFound):
		log.Info().Msg("configureGPIO not set, using default true")
	case err != nil:
		return cfg, err
	default:
		cfg.Configure = configure
	}

	dir, err := opts.IntOr(KeyGPIODir, NoPin)
	if err != nil {
		return cfg, err
	}
	if dir == pin {
		return cfg, fmt.Errorf("gpio_dir pin needs to be different than gpio pin %d: %w", pin, option.ErrInvalid)
	}
	if dir < 0 {
		dir = NoPin
	}
	cfg.DirPin = dir

	if opts.Has(KeyChip) {
		chip, err := opts.LookupString(KeyChip)
		if err != nil {
			return cfg, err
		}
		cfg.Chip = chip
	}
	return cfg, nil
}

// HasDirPin reports whether direction sensing is enabled.
func (c GPIOConfig) HasDirPin() bool {
	return c.DirPin >= 0
}
