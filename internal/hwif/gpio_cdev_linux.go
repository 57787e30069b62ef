//go:build linux

package hwif

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/warthog618/go-gpiocdev"
)

// eventQueueLen bounds edges buffered between the library's event goroutine
// and WaitForImpulse.
const eventQueueLen = 16

type line interface {
	Value() (int, error)
	Close() error
}

func requestLine(chip string, offset int, opts ...gpiocdev.LineReqOption) (line, error) {
	l, err := gpiocdev.RequestLine(chip, offset, opts...)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// CdevGPIO waits for rising edges through the Linux GPIO character device.
// The kernel queues edge events per line, so no acknowledgement read is
// needed before the next wait. Queued edges closer than cfg.Debounce to the
// last accepted edge are contact bounce and are discarded.
type CdevGPIO struct {
	cfg     GPIOConfig
	log     zerolog.Logger
	request func(chip string, offset int, opts ...gpiocdev.LineReqOption) (line, error)

	mu      sync.Mutex
	data    line
	dir     line
	events  chan gpiocdev.LineEvent
	done    chan struct{}
	dropped atomic.Uint64
	bounced atomic.Uint64

	lastEdge time.Duration // kernel timestamp of the last accepted edge
	edgeSeen bool
}

// NewCdevGPIO creates a character-device GPIO impulse source on cfg.Chip.
func NewCdevGPIO(cfg GPIOConfig, log zerolog.Logger) *CdevGPIO {
	return &CdevGPIO{
		cfg:     cfg,
		log:     log,
		request: requestLine,
	}
}

// Open requests the data line with rising-edge events and, if configured,
// the direction line as a plain input.
func (g *CdevGPIO) Open() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.data != nil {
		return nil
	}

	events := make(chan gpiocdev.LineEvent, eventQueueLen)
	data, err := g.request(g.cfg.Chip, g.cfg.Pin,
		gpiocdev.WithConsumer(Consumer),
		gpiocdev.AsInput,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			g.enqueue(events, evt)
		}))
	if err != nil {
		return fmt.Errorf("request %s line %d: %w", g.cfg.Chip, g.cfg.Pin, err)
	}

	var dir line
	if g.cfg.HasDirPin() {
		dir, err = g.request(g.cfg.Chip, g.cfg.DirPin,
			gpiocdev.WithConsumer(Consumer),
			gpiocdev.AsInput)
		if err != nil {
			data.Close()
			return fmt.Errorf("request %s direction line %d: %w", g.cfg.Chip, g.cfg.DirPin, err)
		}
	}

	g.data, g.dir = data, dir
	g.events, g.done = events, make(chan struct{})
	g.edgeSeen = false
	g.log.Info().Str("chip", g.cfg.Chip).Int("line", g.cfg.Pin).Msg("gpio: line requested")
	return nil
}

func (g *CdevGPIO) enqueue(events chan<- gpiocdev.LineEvent, evt gpiocdev.LineEvent) {
	select {
	case events <- evt:
	default:
		n := g.dropped.Add(1)
		g.log.Debug().Uint64("dropped", n).Msg("gpio: event queue full")
	}
}

// Config returns the line configuration.
func (g *CdevGPIO) Config() GPIOConfig {
	return g.cfg
}

// Dropped returns the number of edges discarded on queue overflow.
func (g *CdevGPIO) Dropped() uint64 {
	return g.dropped.Load()
}

// Bounced returns the number of edges discarded as contact bounce.
func (g *CdevGPIO) Bounced() uint64 {
	return g.bounced.Load()
}

// nextEdge returns the next queued edge outside the debounce window of the
// previously accepted one, or false once done is closed.
func (g *CdevGPIO) nextEdge(events <-chan gpiocdev.LineEvent, done <-chan struct{}) (gpiocdev.LineEvent, bool) {
	for {
		select {
		case <-done:
			return gpiocdev.LineEvent{}, false
		case evt := <-events:
			g.mu.Lock()
			bounce := g.edgeSeen && evt.Timestamp-g.lastEdge < g.cfg.Debounce
			if !bounce {
				g.lastEdge, g.edgeSeen = evt.Timestamp, true
			}
			g.mu.Unlock()

			if !bounce {
				return evt, true
			}
			n := g.bounced.Add(1)
			g.log.Trace().Dur("ts", evt.Timestamp).Uint64("bounced", n).Msg("gpio: bounce dropped")
		}
	}
}

// WaitForImpulse blocks until the next queued rising edge. A concurrent Close
// unblocks it with ErrNotOpen.
func (g *CdevGPIO) WaitForImpulse() (bool, error) {
	g.mu.Lock()
	events, done, dir := g.events, g.done, g.dir
	g.mu.Unlock()

	if events == nil {
		return false, ErrNotOpen
	}

	evt, ok := g.nextEdge(events, done)
	if !ok {
		return false, ErrNotOpen
	}
	g.log.Trace().Int("line", evt.Offset).Dur("ts", evt.Timestamp).Msg("gpio: edge")

	if dir == nil {
		return false, nil
	}
	v, err := dir.Value()
	if err != nil {
		return false, fmt.Errorf("read direction line %d: %w", g.cfg.DirPin, err)
	}
	return v != 0, nil
}

// Close releases both lines independently.
func (g *CdevGPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.data == nil && g.dir == nil {
		return ErrNotOpen
	}

	var errs []error
	if g.data != nil {
		if err := g.data.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", g.cfg.Pin, err))
		}
		g.data = nil
	}
	if g.dir != nil {
		if err := g.dir.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close direction line %d: %w", g.cfg.DirPin, err))
		}
		g.dir = nil
	}
	close(g.done)
	g.events, g.done = nil, nil
	return errors.Join(errs...)
}
