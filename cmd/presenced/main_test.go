package main

import (
	"bytes"
	"testing"

	"github.com/chaz8081/presenced/internal/peerid"
)

func TestPeerIDSourceFixed(t *testing.T) {
	next := peerIDSource("ca5c3d64", nil)
	for i := 0; i < 3; i++ {
		id, err := next()
		if err != nil || id != "ca5c3d64" {
			t.Fatalf("next() = %q, %v", id, err)
		}
	}
}

func TestPeerIDSourcePerSession(t *testing.T) {
	next := peerIDSource("", bytes.Repeat([]byte{1}, peerid.SecretLen))
	seen := make(map[peerid.ID]bool)
	for i := 0; i < 5; i++ {
		id, err := next()
		if err != nil {
			t.Fatalf("next() error = %v", err)
		}
		if !id.Valid() {
			t.Fatalf("next() = %q, not a valid id", id)
		}
		seen[id] = true
	}
	// Five random sessions colliding on a 32-bit id is not a realistic outcome.
	if len(seen) < 2 {
		t.Errorf("per-session ids all equal: %v", seen)
	}
}
