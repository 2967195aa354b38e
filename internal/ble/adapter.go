// Package ble defines the host radio boundary used by the presence engine:
// adapter power, the platform advertiser and the platform scanner. The
// production implementation wraps tinygo.org/x/bluetooth; tests use the
// scripted radio in package bletest.
package ble

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ServiceUUID identifies this application's advertisements among unrelated
// BLE traffic.
var ServiceUUID = uuid.MustParse("F47B5E2D-4A9E-4C5A-9B3F-8E1D2C3A4B5C")

// Advertisement is a single advertisement observed by a Scanner.
type Advertisement struct {
	LocalName    string
	Address      string
	RSSI         int // dBm
	ServiceUUIDs []uuid.UUID
	ObservedAt   time.Time
}

// HasService reports whether the advertisement lists the given service UUID.
func (a Advertisement) HasService(id uuid.UUID) bool {
	for _, u := range a.ServiceUUIDs {
		if u == id {
			return true
		}
	}
	return false
}

// AdvertisementParams is everything the host needs to start advertising.
type AdvertisementParams struct {
	LocalName   string
	ServiceUUID uuid.UUID
	Config      AdvertisingConfig
}

// Advertiser is the platform's BLE advertiser.
type Advertiser interface {
	// StartAdvertising begins broadcasting. A host rejection is returned as
	// a *HostError.
	StartAdvertising(ctx context.Context, params AdvertisementParams) error
	// StopAdvertising stops a broadcast started by StartAdvertising.
	StopAdvertising() error
}

// Scanner is the platform's BLE scanner.
type Scanner interface {
	// Scan delivers advertisements carrying serviceUUID to fn until ctx is
	// cancelled or the host fails. fn may be called from a host goroutine.
	Scan(ctx context.Context, serviceUUID uuid.UUID, fn func(Advertisement)) error
}

// Radio abstracts the BLE hardware adapter for testing.
type Radio interface {
	// Enabled reports whether the adapter is present and powered.
	Enabled() (bool, error)
	// Advertiser returns the platform advertiser, or ErrAdvertiserUnavailable.
	Advertiser() (Advertiser, error)
	// Scanner returns the platform scanner.
	Scanner() (Scanner, error)
}
