//go:build linux

package hwif

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/warthog618/go-gpiocdev"
)

type fakeLine struct {
	value  int
	err    error
	closed bool
}

func (l *fakeLine) Value() (int, error) { return l.value, l.err }
func (l *fakeLine) Close() error {
	l.closed = true
	return nil
}

func newTestCdev(cfg GPIOConfig, lines map[int]*fakeLine) (*CdevGPIO, *[]int) {
	var requested []int
	g := NewCdevGPIO(cfg, zerolog.Nop())
	g.request = func(chip string, offset int, opts ...gpiocdev.LineReqOption) (line, error) {
		l, ok := lines[offset]
		if !ok {
			return nil, errors.New("line busy")
		}
		requested = append(requested, offset)
		return l, nil
	}
	return g, &requested
}

func TestCdevWaitForImpulseWithoutDirPin(t *testing.T) {
	data := &fakeLine{value: 1}
	g, requested := newTestCdev(GPIOConfig{Chip: "gpiochip0", Pin: 17, DirPin: NoPin}, map[int]*fakeLine{17: data})

	if err := g.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer g.Close()

	if len(*requested) != 1 || (*requested)[0] != 17 {
		t.Errorf("requested lines: got %v, want [17]", *requested)
	}

	g.enqueue(g.events, gpiocdev.LineEvent{Offset: 17})
	neg, err := g.WaitForImpulse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if neg {
		t.Error("direction must be positive without a direction pin")
	}
}

func TestCdevWaitForImpulseDirection(t *testing.T) {
	dir := &fakeLine{value: 1}
	g, _ := newTestCdev(GPIOConfig{Chip: "gpiochip0", Pin: 17, DirPin: 27},
		map[int]*fakeLine{17: {}, 27: dir})

	if err := g.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer g.Close()

	g.enqueue(g.events, gpiocdev.LineEvent{Offset: 17})
	neg, err := g.WaitForImpulse()
	if err != nil || !neg {
		t.Errorf("dir high: expected (true, nil), got (%v, %v)", neg, err)
	}

	dir.value = 0
	g.enqueue(g.events, gpiocdev.LineEvent{Offset: 17})
	neg, err = g.WaitForImpulse()
	if err != nil || neg {
		t.Errorf("dir low: expected (false, nil), got (%v, %v)", neg, err)
	}

	dir.err = errors.New("io error")
	g.enqueue(g.events, gpiocdev.LineEvent{Offset: 17})
	if _, err := g.WaitForImpulse(); err == nil {
		t.Error("expected direction read error")
	}
}

func TestCdevDirLineFailureReleasesDataLine(t *testing.T) {
	data := &fakeLine{}
	g, _ := newTestCdev(GPIOConfig{Chip: "gpiochip0", Pin: 17, DirPin: 27}, map[int]*fakeLine{17: data})

	if err := g.Open(); err == nil {
		t.Fatal("expected error requesting direction line")
	}
	if !data.closed {
		t.Error("data line should be released")
	}
	if err := g.Close(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen, got %v", err)
	}
}

func TestCdevQueueOverflowDrops(t *testing.T) {
	g, _ := newTestCdev(GPIOConfig{Chip: "gpiochip0", Pin: 17, DirPin: NoPin}, map[int]*fakeLine{17: {}})
	if err := g.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer g.Close()

	for i := 0; i < eventQueueLen+3; i++ {
		g.enqueue(g.events, gpiocdev.LineEvent{Offset: 17})
	}
	if g.Dropped() != 3 {
		t.Errorf("dropped: got %d, want 3", g.Dropped())
	}
}

func TestCdevCloseUnblocksWait(t *testing.T) {
	data := &fakeLine{}
	g, _ := newTestCdev(GPIOConfig{Chip: "gpiochip0", Pin: 17, DirPin: NoPin}, map[int]*fakeLine{17: data})
	if err := g.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := g.WaitForImpulse()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := g.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrNotOpen) {
			t.Errorf("expected ErrNotOpen, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not unblock on close")
	}
	if !data.closed {
		t.Error("data line should be closed")
	}
	if err := g.Close(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("double close: expected ErrNotOpen, got %v", err)
	}
}

func TestCdevDropsBounceWithinDebounce(t *testing.T) {
	g, _ := newTestCdev(GPIOConfig{Chip: "gpiochip0", Pin: 17, DirPin: NoPin, Debounce: 30 * time.Millisecond},
		map[int]*fakeLine{17: {}})
	if err := g.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer g.Close()

	// Three edges 2ms apart are one bouncing impulse; the edge at 50ms is the next one.
	for _, ts := range []time.Duration{0, 2 * time.Millisecond, 4 * time.Millisecond, 50 * time.Millisecond} {
		g.enqueue(g.events, gpiocdev.LineEvent{Offset: 17, Timestamp: ts})
	}

	for i := 0; i < 2; i++ {
		if _, err := g.WaitForImpulse(); err != nil {
			t.Fatalf("impulse %d: unexpected error: %v", i, err)
		}
	}
	if g.Bounced() != 2 {
		t.Errorf("bounced: got %d, want 2", g.Bounced())
	}
	if n := len(g.events); n != 0 {
		t.Errorf("expected empty queue, %d edges left", n)
	}
}

func TestCdevKeepsEdgesWithoutDebounce(t *testing.T) {
	g, _ := newTestCdev(GPIOConfig{Chip: "gpiochip0", Pin: 17, DirPin: NoPin}, map[int]*fakeLine{17: {}})
	if err := g.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer g.Close()

	for _, ts := range []time.Duration{0, 2 * time.Millisecond, 4 * time.Millisecond} {
		g.enqueue(g.events, gpiocdev.LineEvent{Offset: 17, Timestamp: ts})
	}
	for i := 0; i < 3; i++ {
		if _, err := g.WaitForImpulse(); err != nil {
			t.Fatalf("impulse %d: unexpected error: %v", i, err)
		}
	}
	if g.Bounced() != 0 {
		t.Errorf("bounced: got %d, want 0", g.Bounced())
	}
}

func TestCdevReopenForgetsLastEdge(t *testing.T) {
	g, _ := newTestCdev(GPIOConfig{Chip: "gpiochip0", Pin: 17, DirPin: NoPin, Debounce: 30 * time.Millisecond},
		map[int]*fakeLine{17: {}})

	for i := 0; i < 2; i++ {
		if err := g.Open(); err != nil {
			t.Fatalf("cycle %d: open: %v", i, err)
		}
		// Same timestamp in both cycles: accepted each time after a fresh open.
		g.enqueue(g.events, gpiocdev.LineEvent{Offset: 17, Timestamp: time.Second})
		if _, err := g.WaitForImpulse(); err != nil {
			t.Fatalf("cycle %d: unexpected error: %v", i, err)
		}
		if err := g.Close(); err != nil {
			t.Fatalf("cycle %d: close: %v", i, err)
		}
	}
	if g.Bounced() != 0 {
		t.Errorf("bounced: got %d, want 0", g.Bounced())
	}
}
