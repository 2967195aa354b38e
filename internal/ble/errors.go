package ble

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig marks a malformed AdvertisingConfig. It is raised
	// before any host call.
	ErrInvalidConfig = errors.New("ble: invalid advertising config")

	// ErrHostUnavailable is the class of failures that need the user to
	// change radio state before anything can succeed.
	ErrHostUnavailable = errors.New("ble: host unavailable")

	ErrAdapterDisabled       = fmt.Errorf("%w: adapter disabled", ErrHostUnavailable)
	ErrAdvertiserUnavailable = fmt.Errorf("%w: advertiser unavailable", ErrHostUnavailable)

	// ErrHostRejected matches any *HostError via errors.Is.
	ErrHostRejected = errors.New("ble: host rejected request")
)

// Platform advertise failure codes.
const (
	CodeDataTooLarge       = 1
	CodeTooManyAdvertisers = 2
	CodeAlreadyStarted     = 3
	CodeInternalError      = 4
	CodeFeatureUnsupported = 5
)

// HostError is a rejection reported by the platform advertiser. It is
// usually transient.
type HostError struct {
	Code int
	Err  error // underlying host error, may be nil
}

func (e *HostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ble: host rejected advertising (code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("ble: host rejected advertising (code %d)", e.Code)
}

func (e *HostError) Is(target error) bool { return target == ErrHostRejected }

func (e *HostError) Unwrap() error { return e.Err }
