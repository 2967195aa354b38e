package advertise

import (
	"errors"
	"fmt"

	"github.com/chaz8081/presenced/internal/ble"
	"github.com/chaz8081/presenced/internal/peerid"
)

// State is an advertising lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateAdvertising
	StateStopping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateAdvertising:
		return "advertising"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// EventKind is the closed set of advertising events.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventStarted
	EventStopped
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventStarted:
		return "advertising_started"
	case EventStopped:
		return "advertising_stopped"
	case EventFailed:
		return "advertising_failed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event is emitted on every transition. From is set for EventStateChanged,
// Reason for EventFailed.
type Event struct {
	Kind    EventKind `json:"kind"`
	From    State     `json:"from"`
	State   State     `json:"state"`
	PeerID  peerid.ID `json:"peer_id,omitempty"`
	Reason  Reason    `json:"reason"`
	Attempt int       `json:"attempt,omitempty"`
}

// ReasonKind classifies why a start failed.
type ReasonKind int

const (
	ReasonNone ReasonKind = iota
	// ReasonAdapterDisabled needs the user to switch Bluetooth on.
	ReasonAdapterDisabled
	// ReasonAdvertiserUnavailable means the hardware cannot advertise.
	ReasonAdvertiserUnavailable
	// ReasonHostRejected is a platform refusal with a code; retried.
	ReasonHostRejected
)

// Reason is the cause carried by AdvertisingFailed.
type Reason struct {
	Kind ReasonKind `json:"kind"`
	Code int        `json:"code,omitempty"` // host code for ReasonHostRejected
}

func (k ReasonKind) String() string {
	switch k {
	case ReasonNone:
		return ""
	case ReasonAdapterDisabled:
		return "adapter_disabled"
	case ReasonAdvertiserUnavailable:
		return "advertiser_unavailable"
	case ReasonHostRejected:
		return "host_rejected"
	default:
		return fmt.Sprintf("reason(%d)", int(k))
	}
}

// MarshalText encodes the kind by name.
func (k ReasonKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (r Reason) String() string {
	if r.Kind == ReasonHostRejected {
		return fmt.Sprintf("host_rejected(%d)", r.Code)
	}
	return r.Kind.String()
}

// Retryable reports whether the policy retries this reason.
func (r Reason) Retryable() bool { return r.Kind == ReasonHostRejected }

// FailureError is returned by Start when advertising could not begin.
type FailureError struct {
	Reason Reason
	Err    error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("advertise: %s: %v", e.Reason, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// classify maps a host error onto a failure reason. Unknown errors are
// treated as an internal host rejection.
func classify(err error) Reason {
	var he *ble.HostError
	switch {
	case errors.Is(err, ble.ErrAdapterDisabled):
		return Reason{Kind: ReasonAdapterDisabled}
	case errors.Is(err, ble.ErrAdvertiserUnavailable):
		return Reason{Kind: ReasonAdvertiserUnavailable}
	case errors.As(err, &he):
		return Reason{Kind: ReasonHostRejected, Code: he.Code}
	default:
		return Reason{Kind: ReasonHostRejected, Code: ble.CodeInternalError}
	}
}
