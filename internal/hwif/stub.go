//go:build !linux

package hwif

import "github.com/rs/zerolog"

// unsupported is the Source for every variant on non-Linux platforms.
type unsupported struct{}

func (unsupported) Open() error { return ErrUnsupported }
func (unsupported) Close() error { return ErrNotOpen }
func (unsupported) WaitForImpulse() (bool, error) { return false, ErrUnsupported }

// Serial is not available on non-Linux platforms.
type Serial struct{ unsupported }

// NewSerial returns a Serial whose Open always fails.
func NewSerial(SerialConfig, zerolog.Logger) *Serial { return &Serial{} }

// SysfsGPIO is not available on non-Linux platforms.
type SysfsGPIO struct{ unsupported }

// NewSysfsGPIO returns a SysfsGPIO whose Open always fails.
func NewSysfsGPIO(GPIOConfig, zerolog.Logger) *SysfsGPIO { return &SysfsGPIO{} }

// CdevGPIO is not available on non-Linux platforms.
type CdevGPIO struct {
	unsupported
	cfg GPIOConfig
}

// NewCdevGPIO returns a CdevGPIO whose Open always fails.
func NewCdevGPIO(cfg GPIOConfig, _ zerolog.Logger) *CdevGPIO { return &CdevGPIO{cfg: cfg} }

// Config returns the line configuration.
func (g *CdevGPIO) Config() GPIOConfig { return g.cfg }
