//go:build linux

package hwif

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jacobsa/go-serial/serial"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Each S0 pulse arrives as at least one byte.
const serialBaudRate = 300

// Serial counts impulses as bytes received on a UART.
// Direction cannot be sensed on this hardware.
type Serial struct {
	device string
	log    zerolog.Logger
	open   func(serial.OpenOptions) (io.ReadWriteCloser, error)

	mu    sync.Mutex
	port  io.ReadWriteCloser
	saved *unix.Termios // line settings before Open, restored on Close
}

// NewSerial creates a serial impulse source. The device is not touched
// until Open.
func NewSerial(cfg SerialConfig, log zerolog.Logger) *Serial {
	return &Serial{
		device: cfg.Device,
		log:    log,
		open:   serial.Open,
	}
}

func (s *Serial) openOptions() serial.OpenOptions {
	return serial.OpenOptions{
		PortName:              s.device,
		BaudRate:              serialBaudRate,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       1,
		InterCharacterTimeout: 0,
	}
}

// Open saves the current line settings and configures the port raw 300 8N1.
// Failure to open the device is soft.
func (s *Serial) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}

	s.saved = s.saveLine()

	port, err := s.open(s.openOptions())
	if err != nil {
		s.saved = nil
		return fmt.Errorf("open %s: %w", s.device, err)
	}
	s.port = port

	if err := ignoreParityErrors(port); err != nil {
		s.log.Debug().Err(err).Str("device", s.device).Msg("serial: cannot set IGNPAR")
	}
	if err := flush(port); err != nil {
		s.log.Debug().Err(err).Str("device", s.device).Msg("serial: flush after open")
	}
	s.log.Info().Str("device", s.device).Int("baud", serialBaudRate).Msg("serial: opened")
	return nil
}

// saveLine reads the termios of the device before it is reconfigured.
// Not every device supports it; nothing is restored in that case.
func (s *Serial) saveLine() *unix.Termios {
	fd, err := unix.Open(s.device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil
	}
	defer unix.Close(fd)

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		s.log.Debug().Err(err).Str("device", s.device).Msg("serial: cannot save line settings")
		return nil
	}
	return t
}

type fder interface {
	Fd() uintptr
}

// flush discards received and unsent data.
func flush(port io.ReadWriteCloser) error {
	f, ok := port.(fder)
	if !ok {
		return nil
	}
	return unix.IoctlSetInt(int(f.Fd()), unix.TCFLSH, unix.TCIOFLUSH)
}

// ignoreParityErrors sets IGNPAR, which go-serial leaves clear.
func ignoreParityErrors(port io.ReadWriteCloser) error {
	f, ok := port.(fder)
	if !ok {
		return nil
	}
	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Iflag |= unix.IGNPAR
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

// WaitForImpulse discards buffered input and blocks until at least one byte
// arrives. neg is always false. A read ended by a concurrent Close returns
// ErrNotOpen.
func (s *Serial) WaitForImpulse() (bool, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()

	if port == nil {
		return false, ErrNotOpen
	}

	if err := flush(port); err != nil {
		if s.released(port) {
			return false, ErrNotOpen
		}
		return false, fmt.Errorf("flush %s: %w", s.device, err)
	}

	var buf [8]byte
	n, err := port.Read(buf[:])
	if n >= 1 {
		return false, nil
	}
	if s.released(port) {
		return false, ErrNotOpen
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return false, fmt.Errorf("read %s: %w", s.device, err)
}

// released reports whether port was closed since it was taken.
func (s *Serial) released(port io.ReadWriteCloser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != port
}

// Close restores the saved line settings and releases the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return ErrNotOpen
	}

	var errs []error
	if f, ok := s.port.(fder); ok && s.saved != nil {
		if err := unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, s.saved); err != nil {
			errs = append(errs, fmt.Errorf("restore line settings: %w", err))
		}
	}
	if err := s.port.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", s.device, err))
	}
	s.port = nil
	s.saved = nil

	return errors.Join(errs...)
}
