// Package reading defines the timestamped values a meter produces.
package reading

import "time"

// Identifier names what a Reading measures.
type Identifier string

const (
	Impulse    Identifier = "Impulse"
	ImpulseNeg Identifier = "Impulse_neg"
	Power      Identifier = "Power"
	PowerNeg   Identifier = "Power_neg"
)

// ImpulseID returns the impulse identifier for the given direction.
func ImpulseID(neg bool) Identifier {
	if neg {
		return ImpulseNeg
	}
	return Impulse
}

// PowerID returns the power identifier for the given direction.
func PowerID(neg bool) Identifier {
	if neg {
		return PowerNeg
	}
	return Power
}

// Negative reports whether the identifier describes reverse energy flow.
func (id Identifier) Negative() bool {
	return id == ImpulseNeg || id == PowerNeg
}

// Reading is a single value produced by a meter.
type Reading struct {
	Identifier Identifier
	Time       time.Time
	Value      float64
}
