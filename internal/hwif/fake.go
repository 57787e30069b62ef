package hwif

import "sync"

// Impulse is a single scripted WaitForImpulse result.
type Impulse struct {
	Neg bool
	Err error
}

// Fake is a test double that returns scripted impulses.
type Fake struct {
	// Impulses contains scripted results. Each WaitForImpulse consumes the
	// next one. Once exhausted, WaitForImpulse blocks until Close.
	Impulses []Impulse

	// OpenError, if set, will be returned by Open.
	OpenError error

	// OnWait, if set, is called with the index of each scripted impulse just
	// before it is returned. Tests use it to advance a fake clock.
	OnWait func(i int)

	mu     sync.Mutex
	index  int
	waits  int
	opens  int
	closes int
	open   bool
	closed chan struct{}
}

// NewFake creates a Fake with the given impulses.
func NewFake(impulses ...Impulse) *Fake {
	return &Fake{Impulses: impulses}
}

// Open marks the fake as open.
func (f *Fake) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.OpenError != nil {
		return f.OpenError
	}
	f.opens++
	if !f.open {
		f.open = true
		f.closed = make(chan struct{})
	}
	return nil
}

// Close marks the fake as closed and unblocks a pending WaitForImpulse.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return ErrNotOpen
	}
	f.closes++
	f.open = false
	close(f.closed)
	return nil
}

// WaitForImpulse returns the next scripted impulse.
func (f *Fake) WaitForImpulse() (bool, error) {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return false, ErrNotOpen
	}
	f.waits++

	if f.index >= len(f.Impulses) {
		closed := f.closed
		f.mu.Unlock()
		<-closed
		return false, ErrNotOpen
	}

	i := f.index
	imp := f.Impulses[i]
	f.index++
	hook := f.OnWait
	f.mu.Unlock()

	if hook != nil {
		hook(i)
	}
	return imp.Neg, imp.Err
}

// IsOpen reports whether Open succeeded without a matching Close.
func (f *Fake) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Waits returns the number of WaitForImpulse calls on an open fake.
func (f *Fake) Waits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waits
}

// Opens returns the number of successful Open calls.
func (f *Fake) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Closes returns the number of successful Close calls.
func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Reset rewinds the script without changing the open state.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = 0
	f.waits = 0
}
