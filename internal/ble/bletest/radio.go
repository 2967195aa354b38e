// Package bletest provides a scripted in-memory ble.Radio for tests.
package bletest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/chaz8081/presenced/internal/ble"
)

// Radio is a ble.Radio whose adapter state and advertise outcomes are
// scripted by the test. Safe for concurrent use.
type Radio struct {
	mu             sync.Mutex
	enabled        bool
	noAdvertiser   bool
	startErrs      []error
	gate           chan struct{}
	stopGate       chan struct{}
	starts         []ble.AdvertisementParams
	stops          int
	hostCalls      int
	advertising    bool
	scanFns        map[int]func(ble.Advertisement)
	scanService    uuid.UUID
	nextScan       int
	scanning       chan struct{}
	scanningClosed bool
	scanAttempts   int
}

// NewRadio returns an enabled radio whose advertiser always accepts.
func NewRadio() *Radio {
	return &Radio{
		enabled:  true,
		scanFns:  make(map[int]func(ble.Advertisement)),
		scanning: make(chan struct{}),
	}
}

// SetEnabled switches adapter power.
func (r *Radio) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// SetAdvertiserAvailable controls whether Advertiser() succeeds.
func (r *Radio) SetAdvertiserAvailable(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noAdvertiser = !ok
}

// QueueStartErrors scripts the results of the next StartAdvertising calls.
// A nil entry means success. Calls beyond the script succeed.
func (r *Radio) QueueStartErrors(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startErrs = append(r.startErrs, errs...)
}

// HoldStarts makes StartAdvertising block until the returned release
// function is called.
func (r *Radio) HoldStarts() (release func()) {
	gate := make(chan struct{})
	r.mu.Lock()
	r.gate = gate
	r.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if r.gate == gate {
				r.gate = nil
			}
			r.mu.Unlock()
			close(gate)
		})
	}
}

// HoldStops makes StopAdvertising block until the returned release
// function is called.
func (r *Radio) HoldStops() (release func()) {
	gate := make(chan struct{})
	r.mu.Lock()
	r.stopGate = gate
	r.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if r.stopGate == gate {
				r.stopGate = nil
			}
			r.mu.Unlock()
			close(gate)
		})
	}
}

// Starts returns the parameters of every StartAdvertising call.
func (r *Radio) Starts() []ble.AdvertisementParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ble.AdvertisementParams, len(r.starts))
	copy(out, r.starts)
	return out
}

// Stops returns the number of StopAdvertising calls.
func (r *Radio) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

// HostCalls counts every call made into the radio.
func (r *Radio) HostCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostCalls
}

// Advertising reports whether the fake is currently broadcasting.
func (r *Radio) Advertising() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advertising
}

// ScanAttempts returns how many times Scan was called.
func (r *Radio) ScanAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanAttempts
}

// Scanning is closed once the first Scan call is registered.
func (r *Radio) Scanning() <-chan struct{} {
	return r.scanning
}

// Emit delivers adv to every active scan whose service filter it matches.
// It reports whether any scan received it.
func (r *Radio) Emit(adv ble.Advertisement) bool {
	r.mu.Lock()
	var fns []func(ble.Advertisement)
	if adv.HasService(r.scanService) {
		for _, fn := range r.scanFns {
			fns = append(fns, fn)
		}
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(adv)
	}
	return len(fns) > 0
}

func (r *Radio) Enabled() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hostCalls++
	return r.enabled, nil
}

func (r *Radio) Advertiser() (ble.Advertiser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hostCalls++
	if r.noAdvertiser {
		return nil, ble.ErrAdvertiserUnavailable
	}
	return advertiser{r}, nil
}

func (r *Radio) Scanner() (ble.Scanner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hostCalls++
	return scanner{r}, nil
}

var _ ble.Radio = (*Radio)(nil)

type advertiser struct{ r *Radio }

func (a advertiser) StartAdvertising(ctx context.Context, params ble.AdvertisementParams) error {
	a.r.mu.Lock()
	gate := a.r.gate
	a.r.mu.Unlock()
	if gate != nil {
		<-gate
	}

	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	a.r.hostCalls++
	a.r.starts = append(a.r.starts, params)
	if len(a.r.startErrs) > 0 {
		err := a.r.startErrs[0]
		a.r.startErrs = a.r.startErrs[1:]
		if err != nil {
			return err
		}
	}
	a.r.advertising = true
	return nil
}

func (a advertiser) StopAdvertising() error {
	a.r.mu.Lock()
	gate := a.r.stopGate
	a.r.mu.Unlock()
	if gate != nil {
		<-gate
	}

	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	a.r.hostCalls++
	a.r.stops++
	a.r.advertising = false
	return nil
}

type scanner struct{ r *Radio }

func (s scanner) Scan(ctx context.Context, serviceUUID uuid.UUID, fn func(ble.Advertisement)) error {
	s.r.mu.Lock()
	s.r.scanAttempts++
	if !s.r.enabled {
		s.r.mu.Unlock()
		return ble.ErrAdapterDisabled
	}
	id := s.r.nextScan
	s.r.nextScan++
	s.r.scanFns[id] = fn
	s.r.scanService = serviceUUID
	if !s.r.scanningClosed {
		s.r.scanningClosed = true
		close(s.r.scanning)
	}
	s.r.mu.Unlock()

	<-ctx.Done()

	s.r.mu.Lock()
	delete(s.r.scanFns, id)
	s.r.mu.Unlock()
	return ctx.Err()
}
