package reading

import "testing"

func TestIdentifiers(t *testing.T) {
	tests := []struct {
		neg     bool
		impulse Identifier
		power   Identifier
	}{
		{false, Impulse, Power},
		{true, ImpulseNeg, PowerNeg},
	}
	for _, tt := range tests {
		if got := ImpulseID(tt.neg); got != tt.impulse {
			t.Errorf("ImpulseID(%v): got %q, want %q", tt.neg, got, tt.impulse)
		}
		if got := PowerID(tt.neg); got != tt.power {
			t.Errorf("PowerID(%v): got %q, want %q", tt.neg, got, tt.power)
		}
		if tt.impulse.Negative() != tt.neg || tt.power.Negative() != tt.neg {
			t.Errorf("Negative: %q/%q should report %v", tt.impulse, tt.power, tt.neg)
		}
	}
	if Identifier("Voltage").Negative() {
		t.Error("unknown identifier should not be negative")
	}
}
