package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// PowerProbe reports adapter power from outside the BLE stack.
type PowerProbe interface {
	Powered() (bool, error)
}

// TinyGoRadio wraps tinygo-org/bluetooth. It works against BlueZ on Linux
// and CoreBluetooth on macOS.
type TinyGoRadio struct {
	adapter *bluetooth.Adapter
	probe   PowerProbe // optional

	// mu protects enabled and adv.
	mu      sync.Mutex
	enabled bool
	adv     *tinygoAdvertiser
}

// NewTinyGoRadio creates a Radio on the named adapter ("" or "hci0" is the
// default one; other names are only honoured on Linux). probe may be nil,
// in which case a failed Enable is taken to mean the adapter is disabled.
func NewTinyGoRadio(name string, probe PowerProbe) *TinyGoRadio {
	return &TinyGoRadio{
		adapter: newAdapter(name),
		probe:   probe,
	}
}

func (r *TinyGoRadio) Enabled() (bool, error) {
	if r.probe != nil {
		powered, err := r.probe.Powered()
		if err != nil {
			return false, fmt.Errorf("ble: probe adapter power: %w", err)
		}
		if !powered {
			return false, nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled {
		return true, nil
	}
	// Enable is retried on every call so that switching the radio on
	// later is picked up.
	if err := r.adapter.Enable(); err != nil {
		slog.Debug("[BLE] enable failed", "error", err)
		return false, nil
	}
	r.enabled = true
	return true, nil
}

func (r *TinyGoRadio) Advertiser() (Advertiser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.adv != nil {
		return r.adv, nil
	}
	adv := r.adapter.DefaultAdvertisement()
	if adv == nil {
		return nil, ErrAdvertiserUnavailable
	}
	r.adv = &tinygoAdvertiser{adv: adv}
	return r.adv, nil
}

// Scanner returns a scanner that enables the adapter before every scan.
func (r *TinyGoRadio) Scanner() (Scanner, error) {
	return &tinygoScanner{radio: r}, nil
}

// Compile-time check that TinyGoRadio implements Radio.
var _ Radio = (*TinyGoRadio)(nil)

type tinygoAdvertiser struct {
	adv *bluetooth.Advertisement
}

func (a *tinygoAdvertiser) StartAdvertising(ctx context.Context, params AdvertisementParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	svc, err := toBluetoothUUID(params.ServiceUUID)
	if err != nil {
		return err
	}

	advType := bluetooth.AdvertisingTypeNonConnInd
	if params.Config.Connectable {
		advType = bluetooth.AdvertisingTypeInd
	}

	// tinygo has no tx power knob; the level only affects what we report.
	if err := a.adv.Configure(bluetooth.AdvertisementOptions{
		AdvertisementType: advType,
		LocalName:         params.LocalName,
		ServiceUUIDs:      []bluetooth.UUID{svc},
		Interval:          bluetooth.NewDuration(params.Config.Mode.Interval()),
	}); err != nil {
		return &HostError{Code: CodeDataTooLarge, Err: err}
	}
	if err := a.adv.Start(); err != nil {
		return &HostError{Code: CodeInternalError, Err: err}
	}
	return nil
}

func (a *tinygoAdvertiser) StopAdvertising() error {
	if err := a.adv.Stop(); err != nil {
		return fmt.Errorf("ble: stop advertising: %w", err)
	}
	return nil
}

type tinygoScanner struct {
	radio *TinyGoRadio
}

func (s *tinygoScanner) Scan(ctx context.Context, serviceUUID uuid.UUID, fn func(Advertisement)) error {
	svc, err := toBluetoothUUID(serviceUUID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// The adapter must be enabled before Scan touches the host stack.
	enabled, err := s.radio.Enabled()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdapterDisabled, err)
	}
	if !enabled {
		return ErrAdapterDisabled
	}
	adapter := s.radio.adapter

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			adapter.StopScan()
		case <-done:
		}
	}()

	err = adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(svc) {
			return
		}
		fn(Advertisement{
			LocalName:    result.LocalName(),
			Address:      result.Address.String(),
			RSSI:         int(result.RSSI),
			ServiceUUIDs: []uuid.UUID{serviceUUID},
			ObservedAt:   time.Now(),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return ctx.Err()
}

func toBluetoothUUID(id uuid.UUID) (bluetooth.UUID, error) {
	u, err := bluetooth.ParseUUID(id.String())
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	return u, nil
}
