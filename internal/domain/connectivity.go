package domain

import "time"

// ConnectivityState is the last-known reachability of the remote service.
type ConnectivityState int32

const (
	Offline ConnectivityState = iota
	Degraded
	Online
)

// String returns a human-readable representation of the state.
func (s ConnectivityState) String() string {
	switch s {
	case Online:
		return "ONLINE"
	case Offline:
		return "OFFLINE"
	case Degraded:
		return "DEGRADED"
	default:
		return "UNKNOWN"
	}
}

// CanPush reports whether queued mutations may be submitted.
// Degraded suspends pushing.
func (s ConnectivityState) CanPush() bool { return s == Online }

// CanPull reports whether remote changes may be fetched.
func (s ConnectivityState) CanPull() bool { return s == Online || s == Degraded }

// Transition is emitted whenever the connectivity state changes.
type Transition struct {
	From ConnectivityState `json:"from"`
	To   ConnectivityState `json:"to"`
	At   time.Time         `json:"at"`
	// Reason is the probe error that caused a downgrade, if any.
	Reason string `json:"reason,omitempty"`
}
