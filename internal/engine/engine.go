// Package engine is the presence engine: it advertises this device's peer
// id, discovers other peers, and exposes who is nearby.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/presenced/internal/advertise"
	"github.com/chaz8081/presenced/internal/ble"
	"github.com/chaz8081/presenced/internal/discovery"
	"github.com/chaz8081/presenced/internal/peerid"
	"github.com/chaz8081/presenced/internal/presence"
)

// Options configures an Engine.
type Options struct {
	Codec     peerid.Codec
	History   int // signal samples kept per peer
	Advertise advertise.Options
	Discovery discovery.Options
	// StopTimeout bounds the advertising shutdown when Run returns.
	StopTimeout time.Duration
	// RescanBase and RescanMax bound the backoff between scan attempts
	// while the radio is unavailable.
	RescanBase time.Duration
	RescanMax  time.Duration
}

// Engine wires the advertising state machine, the discovery aggregator and
// the presence registry over one radio.
type Engine struct {
	radio    ble.Radio
	registry *presence.Registry
	agg      *discovery.Aggregator
	adv      *advertise.Machine
	opts     Options
}

// New creates an Engine. Nothing touches the radio until Run or Start.
func New(radio ble.Radio, opts Options) *Engine {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.RescanBase <= 0 {
		opts.RescanBase = time.Second
	}
	if opts.RescanMax < opts.RescanBase {
		opts.RescanMax = 30 * time.Second
	}
	reg := presence.NewRegistry(opts.History)
	e := &Engine{
		radio:    radio,
		registry: reg,
		agg:      discovery.New(reg, opts.Codec, opts.Discovery),
		adv:      advertise.New(radio, opts.Codec, opts.Advertise),
		opts:     opts,
	}
	// Starting is announced before the host call, so our own broadcasts
	// are filtered from the first packet.
	e.adv.Subscribe(func(ev advertise.Event) {
		if ev.Kind == advertise.EventStateChanged && ev.State == advertise.StateStarting && ev.PeerID != "" {
			e.agg.SetSelf(ev.PeerID)
		}
	})
	return e
}

// Run scans for peers until ctx is cancelled, then stops advertising. A
// radio that is off or failing does not end Run: presence is reported as
// unavailable and scanning is retried with backoff.
func (e *Engine) Run(ctx context.Context) error {
	defer e.shutdown()

	failures := 0
	for {
		began := time.Now()
		err := e.scan(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(began) > e.opts.RescanMax {
			failures = 0
		}
		delay := advertise.BackoffDelay(failures, e.opts.RescanBase, e.opts.RescanMax)
		failures++
		if errors.Is(err, ble.ErrHostUnavailable) {
			slog.Warn("[ENGINE] presence unavailable, radio is off", "error", err, "retry_in", delay)
		} else {
			slog.Warn("[ENGINE] presence unavailable, scan failed", "error", err, "retry_in", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		// Nobody is heard while the radio is down; let peers age out.
		e.agg.Sweep()
	}
}

// scan runs one discovery pass. It returns nil only when ctx ends.
func (e *Engine) scan(ctx context.Context) error {
	scanner, err := e.radio.Scanner()
	if err != nil {
		return fmt.Errorf("engine: scanner: %w", err)
	}
	if err := e.agg.Run(ctx, scanner); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if ctx.Err() == nil {
		return errors.New("engine: scan ended")
	}
	return nil
}

func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.StopTimeout)
	defer cancel()
	if _, err := e.adv.Stop(ctx); err != nil {
		slog.Warn("[ENGINE] stop advertising on shutdown", "error", err)
	}
}

// Start advertises id with cfg. See advertise.Machine.Start.
func (e *Engine) Start(ctx context.Context, cfg ble.AdvertisingConfig, id peerid.ID) (advertise.State, error) {
	return e.adv.Start(ctx, cfg, id)
}

// Stop ends advertising. See advertise.Machine.Stop.
func (e *Engine) Stop(ctx context.Context) (advertise.State, error) {
	return e.adv.Stop(ctx)
}

// State returns the advertising state.
func (e *Engine) State() advertise.State {
	return e.adv.State()
}

// Session returns the advertising session on air.
func (e *Engine) Session() (advertise.Session, bool) {
	return e.adv.Session()
}

// Subscribe registers presence callbacks; either may be nil. The returned
// function unsubscribes.
func (e *Engine) Subscribe(onDiscovered func(presence.Entry), onLost func(peerid.ID)) (cancel func()) {
	return e.agg.Subscribe(discovery.Subscriber{OnDiscovered: onDiscovered, OnLost: onLost})
}

// SubscribeAdvertising registers fn for advertising events.
func (e *Engine) SubscribeAdvertising(fn func(advertise.Event)) (cancel func()) {
	return e.adv.Subscribe(fn)
}

// Snapshot returns visible peers, most recently seen first.
func (e *Engine) Snapshot() []presence.Entry {
	return e.registry.Snapshot()
}

// SetConnectionState records a connection state for a visible peer.
func (e *Engine) SetConnectionState(id peerid.ID, s presence.State) error {
	return e.agg.SetConnectionState(id, s)
}
