package peerid

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo domain-separates peer id derivation from other uses of the
// session secret.
const hkdfInfo = "presenced peer id v1"

// SecretLen is the size of a session secret.
const SecretLen = 32

// Session is the identity this device advertises for one run.
type Session struct {
	ID     uuid.UUID
	PeerID ID
}

// NewSession draws a fresh session id and derives the peer id from it and
// secret. A nil secret is replaced by random bytes.
func NewSession(secret []byte) (Session, error) {
	if secret == nil {
		secret = make([]byte, SecretLen)
		if _, err := io.ReadFull(rand.Reader, secret); err != nil {
			return Session{}, fmt.Errorf("peerid: generate secret: %w", err)
		}
	}
	sid, err := uuid.NewRandom()
	if err != nil {
		return Session{}, fmt.Errorf("peerid: generate session id: %w", err)
	}
	pid, err := Derive(secret, sid)
	if err != nil {
		return Session{}, err
	}
	return Session{ID: sid, PeerID: pid}, nil
}

// Derive computes a peer id from a session secret using HKDF-SHA256 with
// the session id as salt. Same inputs always give the same id.
func Derive(secret []byte, session uuid.UUID) (ID, error) {
	if len(secret) != SecretLen {
		return "", fmt.Errorf("peerid: secret must be %d bytes, got %d", SecretLen, len(secret))
	}
	r := hkdf.New(sha256.New, secret, session[:], []byte(hkdfInfo))
	raw := make([]byte, Len/2)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", fmt.Errorf("peerid: hkdf expand: %w", err)
	}
	return ID(hex.EncodeToString(raw)), nil
}

// ParseSecret decodes a hex-encoded session secret.
func ParseSecret(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("peerid: secret: %w", err)
	}
	if len(b) != SecretLen {
		return nil, fmt.Errorf("peerid: secret must be %d bytes, got %d", SecretLen, len(b))
	}
	return b, nil
}
