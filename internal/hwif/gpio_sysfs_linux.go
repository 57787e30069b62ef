//go:build linux

package hwif

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// pinSetup is written to each pin when configureGPIO is enabled.
var pinSetup = []struct {
	file    string
	payload string
}{
	{"direction", "in\n"},
	{"edge", "rising\n"},
	{"active_low", "0\n"},
}

// SysfsGPIO waits for rising edges through the legacy sysfs GPIO interface.
// Close may be called while a wait is blocked; it wakes the wait and
// releases the files once it has returned.
type SysfsGPIO struct {
	cfg  GPIOConfig
	log  zerolog.Logger
	poll func(fd, wake uintptr) (revents int16, woken bool, err error)

	mu      sync.Mutex
	value   *os.File // data pin, nil when closed
	dir     *os.File // direction pin, nil when closed or unconfigured
	wakeR   *os.File // read end polled next to value
	wakeW   *os.File // written by Close
	waiters sync.WaitGroup
}

// NewSysfsGPIO creates a sysfs GPIO impulse source. Nothing is exported or
// opened until Open.
func NewSysfsGPIO(cfg GPIOConfig, log zerolog.Logger) *SysfsGPIO {
	if cfg.Root == "" {
		cfg.Root = DefaultSysfsRoot
	}
	return &SysfsGPIO{
		cfg:  cfg,
		log:  log,
		poll: pollPriority,
	}
}

func (g *SysfsGPIO) pinPath(pin int, file string) string {
	return filepath.Join(g.cfg.Root, "gpio"+strconv.Itoa(pin), file)
}

// ValuePath returns the value file of the data pin.
func (g *SysfsGPIO) ValuePath() string {
	return g.pinPath(g.cfg.Pin, "value")
}

// DirValuePath returns the value file of the direction pin, or "" if none.
func (g *SysfsGPIO) DirValuePath() string {
	if !g.cfg.HasDirPin() {
		return ""
	}
	return g.pinPath(g.cfg.DirPin, "value")
}

// Open exports and configures the pins as needed and opens their value files.
func (g *SysfsGPIO) Open() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.value != nil {
		return nil
	}

	value, err := g.openPin(g.cfg.Pin)
	if err != nil {
		return err
	}

	var dir *os.File
	if g.cfg.HasDirPin() {
		dir, err = g.openPin(g.cfg.DirPin)
		if err != nil {
			value.Close()
			return fmt.Errorf("direction pin: %w", err)
		}
	}

	wakeR, wakeW, err := os.Pipe()
	if err != nil {
		value.Close()
		if dir != nil {
			dir.Close()
		}
		return fmt.Errorf("wake pipe: %w", err)
	}

	g.value, g.dir = value, dir
	g.wakeR, g.wakeW = wakeR, wakeW
	return nil
}

func (g *SysfsGPIO) openPin(pin int) (*os.File, error) {
	valuePath := g.pinPath(pin, "value")

	if _, err := os.Stat(valuePath); err != nil {
		if !g.cfg.Configure {
			return nil, fmt.Errorf("gpio%d: %w", pin, ErrNotExported)
		}
		if err := writeControl(filepath.Join(g.cfg.Root, "export"), strconv.Itoa(pin)+"\n"); err != nil {
			return nil, fmt.Errorf("export gpio%d: %w", pin, err)
		}
		g.log.Info().Int("pin", pin).Msg("gpio: exported")
	}

	if g.cfg.Configure {
		for _, s := range pinSetup {
			if err := writeControl(g.pinPath(pin, s.file), s.payload); err != nil {
				return nil, fmt.Errorf("set %s on gpio%d: %w", s.file, pin, err)
			}
		}
	}

	f, err := os.OpenFile(valuePath, os.O_RDONLY|os.O_EXCL, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", valuePath, err)
	}
	return f, nil
}

// writeControl writes payload to a sysfs control file. Every failure here
// leaves the pin partially configured, so all of them wrap ErrFatal.
func writeControl(path, payload string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	n, werr := f.WriteString(payload)
	cerr := f.Close()

	switch {
	case werr != nil:
		return fmt.Errorf("%w: write %s: %w", ErrFatal, path, werr)
	case n != len(payload):
		return fmt.Errorf("%w: short write to %s: %d of %d bytes", ErrFatal, path, n, len(payload))
	case cerr != nil:
		return fmt.Errorf("%w: close %s: %w", ErrFatal, path, cerr)
	}
	return nil
}

// pollPriority blocks until the kernel reports an edge or an error on fd,
// or wake becomes readable.
func pollPriority(fd, wake uintptr) (int16, bool, error) {
	fds := []unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLPRI | unix.POLLERR},
		{Fd: int32(wake), Events: unix.POLLIN},
	}
	for {
		n, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, false, err
		}
		if fds[1].Revents != 0 {
			return 0, true, nil
		}
		if n < 1 {
			return 0, false, errors.New("poll returned without events")
		}
		return fds[0].Revents, false, nil
	}
}

// WaitForImpulse blocks on the next rising edge of the data pin. A
// concurrent Close unblocks it with ErrNotOpen.
func (g *SysfsGPIO) WaitForImpulse() (bool, error) {
	g.mu.Lock()
	value, dir, wake := g.value, g.dir, g.wakeR
	if value == nil {
		g.mu.Unlock()
		return false, ErrNotOpen
	}
	g.waiters.Add(1)
	g.mu.Unlock()
	defer g.waiters.Done()

	revents, woken, err := g.poll(value.Fd(), wake.Fd())
	g.log.Trace().Int16("revents", revents).Bool("woken", woken).Err(err).Msg("gpio: poll returned")
	if woken {
		return false, ErrNotOpen
	}
	if err != nil {
		return false, fmt.Errorf("poll gpio%d: %w", g.cfg.Pin, err)
	}
	if revents&unix.POLLPRI == 0 {
		return false, fmt.Errorf("poll gpio%d: no edge (revents %#x)", g.cfg.Pin, revents)
	}

	var buf [1]byte
	// sysfs keeps signalling POLLPRI until the value is read back from offset 0.
	if _, err := value.ReadAt(buf[:], 0); err != nil {
		return false, fmt.Errorf("read gpio%d: %w", g.cfg.Pin, err)
	}

	if dir == nil {
		return false, nil
	}
	if _, err := dir.ReadAt(buf[:], 0); err != nil {
		return false, fmt.Errorf("read direction gpio%d: %w", g.cfg.DirPin, err)
	}
	return buf[0] != '0', nil
}

// Close wakes a pending wait, waits for it to return and releases the value
// files of both pins. Pins stay exported.
func (g *SysfsGPIO) Close() error {
	g.mu.Lock()
	value, dir, wakeR, wakeW := g.value, g.dir, g.wakeR, g.wakeW
	g.value, g.dir, g.wakeR, g.wakeW = nil, nil, nil, nil
	g.mu.Unlock()

	if value == nil && dir == nil {
		return ErrNotOpen
	}

	var errs []error
	if wakeW != nil {
		if _, err := wakeW.Write([]byte{0}); err != nil {
			errs = append(errs, fmt.Errorf("wake pending wait: %w", err))
		}
	}
	g.waiters.Wait()

	if value != nil {
		if err := value.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gpio%d: %w", g.cfg.Pin, err))
		}
	}
	if dir != nil {
		if err := dir.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close direction gpio%d: %w", g.cfg.DirPin, err))
		}
	}
	for _, f := range []*os.File{wakeR, wakeW} {
		if f != nil {
			f.Close()
		}
	}
	return errors.Join(errs...)
}
