// Package advertise owns the BLE advertising lifecycle for this device:
// Stopped → Starting → Advertising → Stopping → Stopped, with
// Starting → Failed → Stopped when the host refuses. Transitions are run
// by one worker at a time; requests that arrive mid-transition are queued.
package advertise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/presenced/internal/ble"
	"github.com/chaz8081/presenced/internal/peerid"
)

// ErrStartAborted is returned by Start when a Stop arrived before the
// start reached Advertising.
var ErrStartAborted = errors.New("advertise: start aborted by stop")

// Options configures retry behavior.
type Options struct {
	MaxAttempts int           // host rejections tolerated per start, including the first
	BaseDelay   time.Duration // backoff before the second attempt
	MaxDelay    time.Duration // backoff cap
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

type startRequest struct {
	cfg  ble.AdvertisingConfig
	id   peerid.ID
	name string

	waiters []*startWaiter // guarded by Machine.mu
}

// startWaiter is one Start call blocked on a request. A request replaced by
// a later Start hands its waiters to the replacement.
type startWaiter struct {
	done  chan struct{}
	state State
	err   error
}

func (w *startWaiter) finish(s State, err error) {
	w.state, w.err = s, err
	close(w.done)
}

func finishAll(ws []*startWaiter, s State, err error) {
	for _, w := range ws {
		w.finish(s, err)
	}
}

// Machine is the advertising state machine. Safe for concurrent use.
type Machine struct {
	radio ble.Radio
	codec peerid.Codec
	opts  Options

	mu           sync.Mutex
	state        State
	busy         bool          // a worker is driving transitions
	idle         chan struct{} // closed when the current worker exits
	startPending *startRequest
	current      *startRequest // start being driven by the worker
	stopPending  bool
	abort        chan struct{} // interrupts a backoff wait
	adv          ble.Advertiser
	session      Session
	outbox       []Event
	subs         map[int]func(Event)
	nextSub      int
}

// Session describes the advertising session currently on air.
type Session struct {
	PeerID    peerid.ID
	Name      string
	Config    ble.AdvertisingConfig
	StartedAt time.Time
	Attempts  int
}

// New creates a Machine in the Stopped state.
func New(radio ble.Radio, codec peerid.Codec, opts Options) *Machine {
	d := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = d.MaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = d.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = d.MaxDelay
	}
	return &Machine{
		radio: radio,
		codec: codec,
		opts:  opts,
		state: StateStopped,
		abort: make(chan struct{}, 1),
		subs:  make(map[int]func(Event)),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the session on air; ok is false unless Advertising.
func (m *Machine) Session() (s Session, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAdvertising {
		return Session{}, false
	}
	return m.session, true
}

// Subscribe registers fn for every event. Events are delivered in order
// from the transition worker; fn must not block for long. The returned
// function unsubscribes.
func (m *Machine) Subscribe(fn func(Event)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Start begins advertising id with cfg. Invalid input is rejected before
// any host call. If the machine is already Starting or Advertising, Start
// returns the current state, does nothing, and cancels any stop still
// pending. If a stop is in progress the start is queued behind it; a later
// Start replaces the queued one and both callers get the later outcome.
//
// Start blocks until the request resolves. If ctx ends first, Start
// returns ctx.Err() and the abandoned start is stopped as soon as it
// settles.
func (m *Machine) Start(ctx context.Context, cfg ble.AdvertisingConfig, id peerid.ID) (State, error) {
	if err := cfg.Validate(); err != nil {
		return m.State(), fmt.Errorf("advertise: %w", err)
	}
	name, err := m.codec.Encode(id)
	if err != nil {
		return m.State(), fmt.Errorf("advertise: %w", err)
	}

	w := &startWaiter{done: make(chan struct{})}
	req := &startRequest{cfg: cfg, id: id, name: name, waiters: []*startWaiter{w}}

	m.mu.Lock()
	switch m.state {
	case StateStarting, StateAdvertising:
		// Latest intent wins over a stop queued behind this session.
		m.stopPending = false
		m.drainAbortLocked()
		s := m.state
		m.mu.Unlock()
		return s, nil
	}
	if prev := m.startPending; prev != nil {
		req.waiters = append(req.waiters, m.detachLocked(prev)...)
	}
	m.startPending = req
	m.kickLocked()
	m.mu.Unlock()

	select {
	case <-w.done:
		return w.state, w.err
	case <-ctx.Done():
	}

	m.mu.Lock()
	if pending := m.startPending; pending != nil && removeWaiter(pending, w) {
		if len(pending.waiters) == 0 {
			m.startPending = nil
		}
		s := m.state
		m.mu.Unlock()
		return s, ctx.Err()
	}
	if cur := m.current; cur != nil && removeWaiter(cur, w) {
		if len(cur.waiters) == 0 {
			slog.Info("[ADV] start abandoned, stopping once settled", "peer", cur.id)
			m.stopPending = true
			m.signalAbortLocked()
		}
		s := m.state
		m.mu.Unlock()
		return s, ctx.Err()
	}
	m.mu.Unlock()

	// Settled before we could abandon it.
	<-w.done
	return w.state, w.err
}

// detachLocked takes req's waiters so they can be finished or handed on.
func (m *Machine) detachLocked(req *startRequest) []*startWaiter {
	ws := req.waiters
	req.waiters = nil
	if m.current == req {
		m.current = nil
	}
	return ws
}

func removeWaiter(req *startRequest, w *startWaiter) bool {
	for i, x := range req.waiters {
		if x == w {
			req.waiters = append(req.waiters[:i], req.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Stop ends advertising. It is a no-op when already Stopped. A stop that
// arrives while Starting takes effect once the start settles, and drops
// any start queued behind the current transition.
func (m *Machine) Stop(ctx context.Context) (State, error) {
	m.mu.Lock()
	if m.startPending != nil {
		finishAll(m.detachLocked(m.startPending), m.state, ErrStartAborted)
		m.startPending = nil
	}
	switch m.state {
	case StateStopped:
		if !m.busy {
			m.mu.Unlock()
			return StateStopped, nil
		}
	case StateStarting:
		m.stopPending = true
		m.signalAbortLocked()
	case StateAdvertising:
		m.stopPending = true
		m.kickLocked()
	}
	idle := m.idle
	m.mu.Unlock()

	if idle != nil {
		select {
		case <-idle:
		case <-ctx.Done():
			return m.State(), ctx.Err()
		}
	}
	return m.State(), nil
}

// kickLocked starts a worker if none is running. Caller holds mu.
func (m *Machine) kickLocked() {
	if m.busy {
		return
	}
	m.busy = true
	m.idle = make(chan struct{})
	go m.drive()
}

func (m *Machine) signalAbortLocked() {
	select {
	case m.abort <- struct{}{}:
	default:
	}
}

// drive runs queued transitions until there is nothing left to do.
func (m *Machine) drive() {
	for {
		m.mu.Lock()
		switch {
		case m.state == StateAdvertising && m.stopPending:
			m.stopPending = false
			m.setStateLocked(StateStopping)
			adv := m.adv
			m.mu.Unlock()
			m.flush()
			m.stopHost(adv)

		case m.state == StateStopped && m.startPending != nil:
			req := m.startPending
			m.startPending = nil
			m.current = req
			m.stopPending = false
			m.drainAbortLocked()
			m.transitionLocked(StateStarting, req.id)
			m.mu.Unlock()
			m.flush()
			m.startHost(req)

		default:
			m.busy = false
			idle := m.idle
			m.idle = nil
			m.mu.Unlock()
			close(idle)
			return
		}
	}
}

func (m *Machine) drainAbortLocked() {
	select {
	case <-m.abort:
	default:
	}
}

// startHost runs the start procedure with retries and settles req.
func (m *Machine) startHost(req *startRequest) {
	for attempt := 1; ; attempt++ {
		adv, err := m.attempt(req)
		if err == nil {
			m.mu.Lock()
			m.adv = adv
			m.session = Session{
				PeerID:    req.id,
				Name:      req.name,
				Config:    req.cfg,
				StartedAt: time.Now(),
				Attempts:  attempt,
			}
			m.setStateLocked(StateAdvertising)
			m.queueLocked(Event{Kind: EventStarted, State: StateAdvertising, PeerID: req.id, Attempt: attempt})
			ws := m.detachLocked(req)
			m.mu.Unlock()
			m.flush()
			slog.Info("[ADV] advertising", "peer", req.id, "name", req.name,
				"mode", req.cfg.Mode, "tx_power", req.cfg.TxPower, "connectable", req.cfg.Connectable, "attempt", attempt)
			finishAll(ws, StateAdvertising, nil)
			return
		}

		reason := classify(err)
		if !reason.Retryable() || attempt >= m.opts.MaxAttempts {
			m.fail(req, reason, attempt, err)
			return
		}

		delay := BackoffDelay(attempt-1, m.opts.BaseDelay, m.opts.MaxDelay)
		slog.Warn("[ADV] host rejected start, retrying", "code", reason.Code, "attempt", attempt, "delay", delay)
		if !m.waitBackoff(delay) {
			m.mu.Lock()
			m.stopPending = false
			m.setStateLocked(StateStopped)
			ws := m.detachLocked(req)
			m.mu.Unlock()
			m.flush()
			slog.Info("[ADV] start aborted during backoff", "peer", req.id, "attempt", attempt)
			finishAll(ws, StateStopped, ErrStartAborted)
			return
		}
	}
}

// waitBackoff sleeps for d and reports false if a stop is requested first.
// An abort signal whose stop was since cancelled by a newer Start is ignored.
func (m *Machine) waitBackoff(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return true
		case <-m.abort:
			m.mu.Lock()
			stop := m.stopPending
			m.mu.Unlock()
			if stop {
				return false
			}
		}
	}
}

// attempt performs the host calls for one start attempt.
func (m *Machine) attempt(req *startRequest) (ble.Advertiser, error) {
	enabled, err := m.radio.Enabled()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ble.ErrAdapterDisabled, err)
	}
	if !enabled {
		return nil, ble.ErrAdapterDisabled
	}
	adv, err := m.radio.Advertiser()
	if err != nil {
		if errors.Is(err, ble.ErrAdvertiserUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ble.ErrAdvertiserUnavailable, err)
	}
	if adv == nil {
		return nil, ble.ErrAdvertiserUnavailable
	}
	err = adv.StartAdvertising(context.Background(), ble.AdvertisementParams{
		LocalName:   req.name,
		ServiceUUID: ble.ServiceUUID,
		Config:      req.cfg,
	})
	if err != nil {
		return nil, err
	}
	return adv, nil
}

func (m *Machine) fail(req *startRequest, reason Reason, attempt int, err error) {
	m.mu.Lock()
	m.stopPending = false
	m.setStateLocked(StateFailed)
	m.queueLocked(Event{Kind: EventFailed, State: StateFailed, PeerID: req.id, Reason: reason, Attempt: attempt})
	m.setStateLocked(StateStopped)
	ws := m.detachLocked(req)
	m.mu.Unlock()
	m.flush()
	slog.Error("[ADV] advertising failed", "peer", req.id, "reason", reason, "attempt", attempt, "error", err)
	finishAll(ws, StateStopped, &FailureError{Reason: reason, Err: err})
}

func (m *Machine) stopHost(adv ble.Advertiser) {
	if adv != nil {
		if err := adv.StopAdvertising(); err != nil {
			// The host has nothing useful to do with this; the session is
			// over either way.
			slog.Warn("[ADV] stop advertising", "error", err)
		}
	}
	m.mu.Lock()
	peer := m.session.PeerID
	m.adv = nil
	m.session = Session{}
	m.setStateLocked(StateStopped)
	m.queueLocked(Event{Kind: EventStopped, State: StateStopped, PeerID: peer})
	m.mu.Unlock()
	m.flush()
	slog.Info("[ADV] stopped", "peer", peer)
}

func (m *Machine) setStateLocked(s State) {
	m.transitionLocked(s, "")
}

// transitionLocked changes state and queues StateChanged carrying id.
func (m *Machine) transitionLocked(s State, id peerid.ID) {
	from := m.state
	m.state = s
	m.queueLocked(Event{Kind: EventStateChanged, From: from, State: s, PeerID: id})
}

func (m *Machine) queueLocked(ev Event) {
	m.outbox = append(m.outbox, ev)
}

// flush delivers queued events outside the lock. Only the worker calls it,
// so events reach subscribers in transition order.
func (m *Machine) flush() {
	m.mu.Lock()
	events := m.outbox
	m.outbox = nil
	subs := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// BackoffDelay returns the delay before retry n (0-based): base·2ⁿ, capped.
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}
