// Package hwif provides the impulse sources a meter can read from.
// The serial variant counts bytes on a UART, the GPIO variants wait for
// rising edges on a pin via sysfs or the GPIO character device.
// The fake implementation allows testing without hardware.
package hwif

import "errors"

// Source acquires a physical signal and blocks until the next impulse.
type Source interface {
	// Open acquires OS resources. Errors wrapping ErrFatal mean the hardware
	// is left in a state that cannot be retried; any other error is soft.
	Open() error

	// Close releases resources. Returns ErrNotOpen if nothing was open.
	Close() error

	// WaitForImpulse blocks until one impulse is observed.
	// neg reports reverse energy flow when the source can sense direction.
	WaitForImpulse() (neg bool, err error)
}

var (
	// ErrFatal marks export/configuration failures that must abort the meter.
	ErrFatal = errors.New("hardware configuration failed")
	// ErrNotOpen is returned by Close and WaitForImpulse without a held resource.
	ErrNotOpen = errors.New("not open")
	// ErrNotExported is returned by Open when a sysfs pin is missing and
	// configureGPIO is disabled.
	ErrNotExported = errors.New("gpio not exported")
	// ErrUnsupported is returned on platforms without the required OS interface.
	ErrUnsupported = errors.New("not supported on this platform (requires Linux)")
)

// NoPin marks an unconfigured direction pin.
const NoPin = -1

// DefaultSysfsRoot is the sysfs GPIO class directory.
const DefaultSysfsRoot = "/sys/class/gpio"

// Consumer labels lines requested through the GPIO character device.
const Consumer = "s0-meter"
