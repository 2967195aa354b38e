package presence

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/presenced/internal/peerid"
)

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func obs(id string, at time.Duration, rssi int) Entry {
	return Entry{PeerID: peerid.ID(id), LastSeenAt: t0.Add(at), RSSI: rssi}
}

func TestUpsertCreateRefreshIgnore(t *testing.T) {
	r := NewRegistry(0)

	e, res := r.Upsert(obs("ca5c3d64", 0, -60))
	if res != Created {
		t.Fatalf("first Upsert result = %v, want Created", res)
	}
	if e.State != StateDiscovered || !e.FirstSeenAt.Equal(t0) {
		t.Errorf("created entry = %+v", e)
	}

	e, res = r.Upsert(obs("ca5c3d64", 2*time.Second, -50))
	if res != Refreshed {
		t.Fatalf("second Upsert result = %v, want Refreshed", res)
	}
	if e.RSSI != -50 || !e.LastSeenAt.Equal(t0.Add(2*time.Second)) {
		t.Errorf("refreshed entry = %+v", e)
	}
	if !e.FirstSeenAt.Equal(t0) {
		t.Errorf("FirstSeenAt changed to %v", e.FirstSeenAt)
	}

	// An older sample must not replace the newer signal reading.
	e, res = r.Upsert(obs("ca5c3d64", time.Second, -90))
	if res != Ignored {
		t.Fatalf("stale Upsert result = %v, want Ignored", res)
	}
	if e.RSSI != -50 {
		t.Errorf("stale sample leaked: RSSI = %d, want -50", e.RSSI)
	}
	if len(e.History) != 2 {
		t.Errorf("History length = %d, want 2", len(e.History))
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestUpsertHistoryBounded(t *testing.T) {
	r := NewRegistry(3)
	for i := 0; i < 10; i++ {
		r.Upsert(obs("0000aaaa", time.Duration(i)*time.Second, -40-i))
	}
	e, ok := r.Get("0000aaaa")
	if !ok {
		t.Fatal("entry missing")
	}
	if len(e.History) != 3 {
		t.Fatalf("History length = %d, want 3", len(e.History))
	}
	for i, s := range e.History {
		want := -47 - i
		if s.RSSI != want {
			t.Errorf("History[%d].RSSI = %d, want %d", i, s.RSSI, want)
		}
	}
}

func TestSnapshotOrder(t *testing.T) {
	r := NewRegistry(0)
	r.Upsert(obs("aaaaaaaa", 1*time.Second, -70))
	r.Upsert(obs("bbbbbbbb", 3*time.Second, -70))
	r.Upsert(obs("cccccccc", 2*time.Second, -70))
	r.Upsert(obs("dddddddd", 3*time.Second, -70))

	snap := r.Snapshot()
	want := []peerid.ID{"bbbbbbbb", "dddddddd", "cccccccc", "aaaaaaaa"}
	if len(snap) != len(want) {
		t.Fatalf("Snapshot() length = %d, want %d", len(snap), len(want))
	}
	for i, id := range want {
		if snap[i].PeerID != id {
			t.Errorf("Snapshot()[%d] = %s, want %s", i, snap[i].PeerID, id)
		}
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	r := NewRegistry(0)
	r.Upsert(obs("aaaaaaaa", 0, -70))
	snap := r.Snapshot()
	snap[0].History[0].RSSI = 0
	snap[0].RSSI = 0
	e, _ := r.Get("aaaaaaaa")
	if e.RSSI != -70 || e.History[0].RSSI != -70 {
		t.Error("mutating a snapshot changed the registry")
	}
}

func TestEvict(t *testing.T) {
	r := NewRegistry(0)
	r.Upsert(obs("aaaaaaaa", 0, -70))

	e, ok := r.Evict("aaaaaaaa")
	if !ok {
		t.Fatal("Evict() ok = false")
	}
	if e.State != StateLost {
		t.Errorf("evicted State = %v, want lost", e.State)
	}
	if _, ok := r.Evict("aaaaaaaa"); ok {
		t.Error("second Evict() ok = true")
	}
	if len(r.Snapshot()) != 0 {
		t.Error("Snapshot() not empty after Evict")
	}
}

func TestEvictIf(t *testing.T) {
	r := NewRegistry(0)
	r.Upsert(obs("aaaaaaaa", 0, -70))
	r.Upsert(obs("bbbbbbbb", 10*time.Second, -70))
	r.Upsert(obs("cccccccc", 20*time.Second, -70))

	lost := r.EvictIf(t0.Add(15 * time.Second))
	if len(lost) != 2 {
		t.Fatalf("EvictIf() removed %d, want 2", len(lost))
	}
	if lost[0].PeerID != "bbbbbbbb" || lost[1].PeerID != "aaaaaaaa" {
		t.Errorf("EvictIf() = %s, %s", lost[0].PeerID, lost[1].PeerID)
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].PeerID != "cccccccc" {
		t.Errorf("Snapshot() after EvictIf = %+v", snap)
	}
}

func TestSetState(t *testing.T) {
	r := NewRegistry(0)
	if _, ok := r.SetState("aaaaaaaa", StateConnected); ok {
		t.Error("SetState on unknown peer ok = true")
	}
	r.Upsert(obs("aaaaaaaa", 0, -70))
	if _, ok := r.SetState("aaaaaaaa", StateConnecting); !ok {
		t.Fatal("SetState ok = false")
	}
	e, _ := r.Upsert(obs("aaaaaaaa", time.Second, -65))
	if e.State != StateConnecting {
		t.Errorf("refresh reset State to %v", e.State)
	}
}

func TestConcurrentUpsertsConverge(t *testing.T) {
	for round := 0; round < 20; round++ {
		r := NewRegistry(0)
		const n = 64
		order := rand.Perm(n)

		var wg sync.WaitGroup
		for _, i := range order {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r.Upsert(obs("ca5c3d64", time.Duration(i)*time.Millisecond, -i))
			}(i)
		}
		wg.Wait()

		e, ok := r.Get("ca5c3d64")
		if !ok {
			t.Fatal("entry missing")
		}
		if !e.LastSeenAt.Equal(t0.Add((n - 1) * time.Millisecond)) {
			t.Fatalf("round %d: LastSeenAt = %v, want latest", round, e.LastSeenAt)
		}
		if e.RSSI != -(n - 1) {
			t.Fatalf("round %d: RSSI = %d, want %d", round, e.RSSI, -(n - 1))
		}
		if r.Len() != 1 {
			t.Fatalf("round %d: Len() = %d, want 1", round, r.Len())
		}
	}
}

func TestConcurrentSnapshotDuringWrites(t *testing.T) {
	r := NewRegistry(0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			r.Upsert(obs(fmt.Sprintf("%08x", i%16), time.Duration(i)*time.Millisecond, -50))
			if i%7 == 0 {
				r.Evict(peerid.ID(fmt.Sprintf("%08x", i%16)))
			}
		}
	}()
	for i := 0; i < 200; i++ {
		seen := make(map[peerid.ID]bool)
		for _, e := range r.Snapshot() {
			if seen[e.PeerID] {
				t.Fatalf("duplicate entry for %s", e.PeerID)
			}
			seen[e.PeerID] = true
		}
	}
	<-done
}

func TestStateText(t *testing.T) {
	b, err := StateConnected.MarshalText()
	if err != nil || string(b) != "connected" {
		t.Errorf("MarshalText() = %q, %v", b, err)
	}
}
