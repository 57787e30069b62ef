// Package option holds the ordered key/value settings a meter is built from.
// Lookups distinguish a missing key from a key whose value has the wrong type,
// so callers can apply defaults on the former and fail on the latter.
package option

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNotFound is returned when a key is absent.
	ErrNotFound = errors.New("option not found")
	// ErrInvalid is returned when a key is present but its value is malformed
	// or out of range.
	ErrInvalid = errors.New("option invalid")
)

// Option is a single setting.
type Option struct {
	Key   string
	Value any
}

// List is an ordered list of settings. The first entry for a key wins.
type List []Option

// New builds a List from alternating key, value arguments.
// It panics on an odd argument count or a non-string key; intended for tests
// and literals.
func New(kv ...any) List {
	if len(kv)%2 != 0 {
		panic("option.New: odd argument count")
	}
	l := make(List, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("option.New: key %v is not a string", kv[i]))
		}
		l = append(l, Option{Key: k, Value: kv[i+1]})
	}
	return l
}

func (l List) lookup(key string) (any, bool) {
	for _, o := range l {
		if o.Key == key {
			return o.Value, true
		}
	}
	return nil, false
}

// Has reports whether key is present.
func (l List) Has(key string) bool {
	_, ok := l.lookup(key)
	return ok
}

// LookupString returns the string value of key.
func (l List) LookupString(key string) (string, error) {
	v, ok := l.lookup(key)
	if !ok {
		return "", fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%q: expected string, got %T: %w", key, v, ErrInvalid)
	}
	return s, nil
}

// LookupInt returns the integer value of key.
func (l List) LookupInt(key string) (int, error) {
	v, ok := l.lookup(key)
	if !ok {
		return 0, fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		if n > math.MaxInt || n < math.MinInt {
			return 0, fmt.Errorf("%q: %d out of range: %w", key, n, ErrInvalid)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%q: expected integer, got %T: %w", key, v, ErrInvalid)
	}
}

// LookupBool returns the boolean value of key.
func (l List) LookupBool(key string) (bool, error) {
	v, ok := l.lookup(key)
	if !ok {
		return false, fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%q: expected bool, got %T: %w", key, v, ErrInvalid)
	}
	return b, nil
}

// IntOr returns the integer value of key, or def if key is absent.
// A present but malformed value is still an error.
func (l List) IntOr(key string, def int) (int, error) {
	n, err := l.LookupInt(key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return n, err
}

// BoolOr returns the boolean value of key, or def if key is absent.
func (l List) BoolOr(key string, def bool) (bool, error) {
	b, err := l.LookupBool(key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return b, err
}
