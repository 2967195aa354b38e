// Package presence holds the set of currently visible peers. It is the
// single source of truth read by upper layers; only the discovery
// aggregator writes to it.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/chaz8081/presenced/internal/peerid"
)

// DefaultHistory is the number of signal samples kept per peer.
const DefaultHistory = 8

// State is a peer's connection state.
type State int

const (
	StateDiscovered State = iota
	StateConnecting
	StateConnected
	StateLost
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sample is one signal-strength reading.
type Sample struct {
	At   time.Time `json:"at"`
	RSSI int       `json:"rssi"`
}

// Entry is the presence record for one peer.
type Entry struct {
	PeerID      peerid.ID `json:"peer_id"`
	Address     string    `json:"address,omitempty"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	RSSI        int       `json:"rssi"`
	State       State     `json:"state"`
	History     []Sample  `json:"history,omitempty"`
}

func (e Entry) clone() Entry {
	e.History = append([]Sample(nil), e.History...)
	return e
}

// Result describes what Upsert did.
type Result int

const (
	// Ignored means the observation was older than the stored one.
	Ignored Result = iota
	Created
	Refreshed
)

// Registry is safe for concurrent use.
type Registry struct {
	history int

	mu      sync.RWMutex
	entries map[peerid.ID]*Entry
}

// NewRegistry keeps up to history signal samples per peer; history <= 0
// selects DefaultHistory.
func NewRegistry(history int) *Registry {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Registry{
		history: history,
		entries: make(map[peerid.ID]*Entry),
	}
}

// Upsert records an observation of e.PeerID at e.LastSeenAt with signal
// e.RSSI. An observation older than the stored one is ignored, so the
// entry always reflects the latest sample. State and FirstSeenAt of an
// existing entry are kept; use SetState to change state.
func (r *Registry) Upsert(e Entry) (Entry, Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[e.PeerID]
	if !ok {
		stored := Entry{
			PeerID:      e.PeerID,
			Address:     e.Address,
			FirstSeenAt: e.LastSeenAt,
			LastSeenAt:  e.LastSeenAt,
			RSSI:        e.RSSI,
			State:       e.State,
			History:     []Sample{{At: e.LastSeenAt, RSSI: e.RSSI}},
		}
		r.entries[e.PeerID] = &stored
		return stored.clone(), Created
	}

	if e.LastSeenAt.Before(cur.LastSeenAt) {
		return cur.clone(), Ignored
	}
	cur.LastSeenAt = e.LastSeenAt
	cur.RSSI = e.RSSI
	if e.Address != "" {
		cur.Address = e.Address
	}
	cur.History = append(cur.History, Sample{At: e.LastSeenAt, RSSI: e.RSSI})
	if n := len(cur.History); n > r.history {
		cur.History = append(cur.History[:0], cur.History[n-r.history:]...)
	}
	return cur.clone(), Refreshed
}

// SetState changes the connection state of a live entry.
func (r *Registry) SetState(id peerid.ID, s State) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	cur.State = s
	return cur.clone(), true
}

// Evict removes id and returns the removed entry marked lost.
func (r *Registry) Evict(id peerid.ID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	delete(r.entries, id)
	out := cur.clone()
	out.State = StateLost
	return out, true
}

// EvictIf removes every entry last seen before cutoff and returns them.
// The check and the removal happen under one lock, so a peer refreshed
// concurrently is never evicted.
func (r *Registry) EvictIf(cutoff time.Time) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for id, e := range r.entries {
		if e.LastSeenAt.Before(cutoff) {
			delete(r.entries, id)
			lost := e.clone()
			lost.State = StateLost
			out = append(out, lost)
		}
	}
	sortEntries(out)
	return out
}

// Get returns the entry for id.
func (r *Registry) Get(id peerid.ID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns all entries, most recently seen first. Ties are broken
// by peer id so the order is deterministic.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.clone())
	}
	r.mu.RUnlock()
	sortEntries(out)
	return out
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].LastSeenAt.Equal(es[j].LastSeenAt) {
			return es[i].LastSeenAt.After(es[j].LastSeenAt)
		}
		return es[i].PeerID < es[j].PeerID
	})
}
