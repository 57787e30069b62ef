package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Open          bool       `json:"open"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	LastReading   string     `json:"last_reading,omitempty"`
	Power         *PowerJSON `json:"power,omitempty"`
	Counts        CountsJSON `json:"impulse_counts"`
	Errors        ErrorsJSON `json:"read_errors"`
	Config        ConfigJSON `json:"config"`
}

// PowerJSON is the most recent power reading.
type PowerJSON struct {
	Identifier string  `json:"identifier"`
	Watts      float64 `json:"watts"`
}

// CountsJSON is the JSON representation of impulse counts.
type CountsJSON struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
}

// ErrorsJSON reports failed reads.
type ErrorsJSON struct {
	Count int    `json:"count"`
	Last  string `json:"last,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Source      string `json:"source"`
	Resolution  int    `json:"resolution"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Open:          snap.Open,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Counts: CountsJSON{
			Positive: snap.Counts.Impulses,
			Negative: snap.Counts.ImpulsesNeg,
		},
		Errors: ErrorsJSON{Count: snap.ReadErrors, Last: snap.LastError},
		Config: ConfigJSON{
			Source:      snap.Config.Source,
			Resolution:  snap.Config.Resolution,
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
		},
	}
	if !snap.LastReading.IsZero() {
		inner.LastReading = snap.LastReading.UTC().Format(time.RFC3339Nano)
	}
	if snap.HasPower() {
		inner.Power = &PowerJSON{Identifier: string(snap.PowerID), Watts: snap.LastPower}
	}
	return inner
}

// FormatJSON returns the indented JSON status (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the compact JSON status for a lifecycle event
// such as HEARTBEAT or SHUTDOWN.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
