// Package discovery turns raw BLE advertisements into presence: it decodes
// peer ids from local names, keeps the presence registry current, ages out
// peers that stop advertising, and tells subscribers who came and went.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/presenced/internal/ble"
	"github.com/chaz8081/presenced/internal/peerid"
	"github.com/chaz8081/presenced/internal/presence"
)

// Options configures the aggregator.
type Options struct {
	ServiceUUID   uuid.UUID        // advertisements without it are ignored
	StaleAfter    time.Duration    // evict peers unseen for this long
	SweepInterval time.Duration    // how often to look for stale peers
	QueueSize     int              // buffered scan results awaiting the loop
	Now           func() time.Time // clock for sweeps; defaults to time.Now
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		ServiceUUID:   ble.ServiceUUID,
		StaleAfter:    30 * time.Second,
		SweepInterval: 5 * time.Second,
		QueueSize:     256,
		Now:           time.Now,
	}
}

// Subscriber receives presence changes. Either callback may be nil.
type Subscriber struct {
	OnDiscovered func(presence.Entry)
	OnLost       func(peerid.ID)
}

// Aggregator is the only writer of its registry.
type Aggregator struct {
	registry *presence.Registry
	codec    peerid.Codec
	opts     Options

	mu      sync.Mutex
	self    peerid.ID
	subs    map[int]Subscriber
	nextSub int
}

// New creates an aggregator that writes to registry.
func New(registry *presence.Registry, codec peerid.Codec, opts Options) *Aggregator {
	d := DefaultOptions()
	if opts.ServiceUUID == uuid.Nil {
		opts.ServiceUUID = d.ServiceUUID
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = d.StaleAfter
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = d.SweepInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = d.QueueSize
	}
	if opts.Now == nil {
		opts.Now = d.Now
	}
	return &Aggregator{
		registry: registry,
		codec:    codec,
		opts:     opts,
		subs:     make(map[int]Subscriber),
	}
}

// SetSelf makes the aggregator ignore advertisements carrying id, which
// would otherwise be this device hearing itself.
func (a *Aggregator) SetSelf(id peerid.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.self = id
}

// Subscribe registers s. The returned function unsubscribes.
func (a *Aggregator) Subscribe(s Subscriber) (cancel func()) {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = s
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

// Run scans with scanner and sweeps stale peers until ctx is cancelled.
// Scan results are handled on a single goroutine together with sweeps.
func (a *Aggregator) Run(ctx context.Context, scanner ble.Scanner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan ble.Advertisement, a.opts.QueueSize)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- scanner.Scan(ctx, a.opts.ServiceUUID, func(adv ble.Advertisement) {
			select {
			case results <- adv:
			case <-ctx.Done():
			default:
				slog.Warn("[SCAN] queue full, dropping advertisement", "name", adv.LocalName)
			}
		})
	}()

	ticker := time.NewTicker(a.opts.SweepInterval)
	defer ticker.Stop()

	slog.Info("[SCAN] discovery running", "service", a.opts.ServiceUUID,
		"stale_after", a.opts.StaleAfter, "sweep_interval", a.opts.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("discovery: scan: %w", err)
			}
			return nil
		case adv := <-results:
			a.Observe(adv)
		case <-ticker.C:
			a.Sweep()
		}
	}
}

// Observe handles one advertisement. Names that are not peer names, and
// advertisements for other services, are ignored.
func (a *Aggregator) Observe(adv ble.Advertisement) {
	if !adv.HasService(a.opts.ServiceUUID) {
		return
	}
	id, ok := a.codec.Decode(adv.LocalName)
	if !ok {
		slog.Debug("[SCAN] ignoring non-peer name", "name", adv.LocalName, "address", adv.Address)
		return
	}
	a.mu.Lock()
	self := a.self
	a.mu.Unlock()
	if id == self {
		return
	}

	at := adv.ObservedAt
	if at.IsZero() {
		at = a.opts.Now()
	}
	entry, res := a.registry.Upsert(presence.Entry{
		PeerID:     id,
		Address:    adv.Address,
		LastSeenAt: at,
		RSSI:       adv.RSSI,
		State:      presence.StateDiscovered,
	})
	switch res {
	case presence.Created:
		slog.Info("[SCAN] peer discovered", "peer", id, "rssi", adv.RSSI, "address", adv.Address)
		for _, s := range a.subscribers() {
			if s.OnDiscovered != nil {
				s.OnDiscovered(entry)
			}
		}
	case presence.Ignored:
		slog.Debug("[SCAN] stale observation ignored", "peer", id, "observed_at", at, "last_seen_at", entry.LastSeenAt)
	}
}

// Sweep evicts peers not seen within the staleness threshold and returns
// their ids.
func (a *Aggregator) Sweep() []peerid.ID {
	cutoff := a.opts.Now().Add(-a.opts.StaleAfter)
	lost := a.registry.EvictIf(cutoff)
	if len(lost) == 0 {
		return nil
	}
	subs := a.subscribers()
	ids := make([]peerid.ID, 0, len(lost))
	for _, e := range lost {
		slog.Info("[SCAN] peer lost", "peer", e.PeerID, "last_seen_at", e.LastSeenAt)
		ids = append(ids, e.PeerID)
		for _, s := range subs {
			if s.OnLost != nil {
				s.OnLost(e.PeerID)
			}
		}
	}
	return ids
}

// SetConnectionState records a connection state reported by an upper
// layer. Lost is reserved for eviction.
func (a *Aggregator) SetConnectionState(id peerid.ID, s presence.State) error {
	if s == presence.StateLost {
		return fmt.Errorf("discovery: %s is set by eviction only", s)
	}
	if _, ok := a.registry.SetState(id, s); !ok {
		return fmt.Errorf("discovery: peer %s not present", id)
	}
	return nil
}

func (a *Aggregator) subscribers() []Subscriber {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Subscriber, 0, len(a.subs))
	for _, s := range a.subs {
		out = append(out, s)
	}
	return out
}
