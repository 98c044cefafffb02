package model

import "time"

// PresenceStatus is the debounced network presence of a resident.
type PresenceStatus uint8

const (
	// PresenceUnknown is reported for residents without any identifiers.
	PresenceUnknown PresenceStatus = iota
	PresenceOffline
	PresenceOnline
)

func (s PresenceStatus) String() string {
	switch s {
	case PresenceOffline:
		return "OFFLINE"
	case PresenceOnline:
		return "ONLINE"
	}
	return "UNKNOWN"
}

// ParsePresenceStatus reads the value stored in presence_events.status.
func ParsePresenceStatus(s string) PresenceStatus {
	switch s {
	case "ONLINE":
		return PresenceOnline
	case "OFFLINE":
		return PresenceOffline
	}
	return PresenceUnknown
}

// PresenceState is the per-resident debounce state kept by the tracker.
type PresenceState struct {
	Status            PresenceStatus
	ConsecutiveHits   int
	ConsecutiveMisses int
	LastTransitionAt  time.Time
}

// PresenceEvent is one status transition. Events are immutable once
// written and ordered by At, then Seq (insertion order).
type PresenceEvent struct {
	Seq        uint64         // presence_events.id
	ResidentID uint64         // presence_events.resident_id
	Status     PresenceStatus // presence_events.status
	At         time.Time      // presence_events.at
}
