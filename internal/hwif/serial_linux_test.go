//go:build linux

package hwif

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/rs/zerolog"
)

type fakePort struct {
	r      io.Reader
	closed bool
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return len(b), nil }
func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

// blockingPort blocks reads until it is closed, like a quiet line.
type blockingPort struct {
	once     sync.Once
	released chan struct{}
	reading  chan struct{}
}

func newBlockingPort() *blockingPort {
	return &blockingPort{released: make(chan struct{}), reading: make(chan struct{}, 1)}
}

func (p *blockingPort) Read([]byte) (int, error) {
	p.reading <- struct{}{}
	<-p.released
	return 0, io.EOF
}
func (p *blockingPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *blockingPort) Close() error {
	p.once.Do(func() { close(p.released) })
	return nil
}

func newTestSerial(t *testing.T, data []byte) (*Serial, *fakePort, *serial.OpenOptions) {
	t.Helper()
	port := &fakePort{r: bytes.NewReader(data)}
	var got serial.OpenOptions
	s := NewSerial(SerialConfig{Device: filepath.Join(t.TempDir(), "ttyS0")}, zerolog.Nop())
	s.open = func(o serial.OpenOptions) (io.ReadWriteCloser, error) {
		got = o
		return port, nil
	}
	return s, port, &got
}

func TestSerialOpenOptions(t *testing.T) {
	s, _, got := newTestSerial(t, nil)
	if err := s.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	if got.BaudRate != 300 {
		t.Errorf("baud: got %d, want 300", got.BaudRate)
	}
	if got.DataBits != 8 || got.StopBits != 1 {
		t.Errorf("framing: got %d data / %d stop bits, want 8N1", got.DataBits, got.StopBits)
	}
	if got.ParityMode != serial.PARITY_NONE {
		t.Errorf("parity: got %v, want none", got.ParityMode)
	}
	if got.MinimumReadSize != 1 || got.InterCharacterTimeout != 0 {
		t.Errorf("read: got min %d timeout %d, want min 1 timeout 0", got.MinimumReadSize, got.InterCharacterTimeout)
	}
	if got.PortName != s.device {
		t.Errorf("port name: got %q, want %q", got.PortName, s.device)
	}
}

func TestSerialWaitForImpulse(t *testing.T) {
	// 10 bytes: one read consumes at most 8, so two impulses are seen.
	s, _, _ := newTestSerial(t, bytes.Repeat([]byte{0xff}, 10))
	if err := s.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	for i := 0; i < 2; i++ {
		neg, err := s.WaitForImpulse()
		if err != nil {
			t.Fatalf("impulse %d: unexpected error: %v", i, err)
		}
		if neg {
			t.Errorf("impulse %d: serial cannot sense direction", i)
		}
	}

	if _, err := s.WaitForImpulse(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after input is drained, got %v", err)
	}
}

func TestSerialOpenFailureIsSoft(t *testing.T) {
	s := NewSerial(SerialConfig{Device: "/nonexistent/tty"}, zerolog.Nop())
	s.open = func(serial.OpenOptions) (io.ReadWriteCloser, error) {
		return nil, errors.New("no such device")
	}

	err := s.Open()
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrFatal) {
		t.Errorf("device open failure should be soft, got %v", err)
	}
	if _, err := s.WaitForImpulse(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("wait after failed open: expected ErrNotOpen, got %v", err)
	}
}

func TestSerialClose(t *testing.T) {
	s, port, _ := newTestSerial(t, nil)

	if err := s.Close(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("close before open: expected ErrNotOpen, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.Open(); err != nil {
			t.Fatalf("cycle %d: open: %v", i, err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("cycle %d: close: %v", i, err)
		}
		if s.port != nil {
			t.Fatalf("cycle %d: port should be released", i)
		}
	}
	if !port.closed {
		t.Error("port should be closed")
	}
	if err := s.Close(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("double close: expected ErrNotOpen, got %v", err)
	}
}

func TestSerialCloseDuringWait(t *testing.T) {
	port := newBlockingPort()
	s := NewSerial(SerialConfig{Device: filepath.Join(t.TempDir(), "ttyS0")}, zerolog.Nop())
	s.open = func(serial.OpenOptions) (io.ReadWriteCloser, error) { return port, nil }
	if err := s.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.WaitForImpulse()
		done <- err
	}()
	<-port.reading

	if err := s.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrNotOpen) {
			t.Errorf("expected ErrNotOpen, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not return after close")
	}
}
