// Package peerid encodes mesh peer identifiers into the BLE local-name field
// and recognizes them in names advertised by other devices.
package peerid

import (
	"errors"
	"fmt"
)

// Len is the length of a peer id in characters.
const Len = 8

// MaxNameLen is the longest local name that fits a legacy 31-byte
// advertising PDU alongside its 2-byte AD header.
const MaxNameLen = 29

// ErrInvalidIdentifier is returned for ids that are not exactly Len
// lowercase hex characters.
var ErrInvalidIdentifier = errors.New("peerid: invalid identifier")

// ID is an 8-character lowercase hex peer identifier.
type ID string

// Parse validates s and returns it as an ID.
func Parse(s string) (ID, error) {
	if !valid(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return ID(s), nil
}

// Valid reports whether id is well formed.
func (id ID) Valid() bool { return valid(string(id)) }

func (id ID) String() string { return string(id) }

func valid(s string) bool {
	if len(s) != Len {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Codec frames ids into radio names. The zero value advertises the bare id.
type Codec struct {
	prefix string
	suffix string
}

// NewCodec returns a codec that wraps ids in prefix and suffix.
func NewCodec(prefix, suffix string) (Codec, error) {
	if n := len(prefix) + Len + len(suffix); n > MaxNameLen {
		return Codec{}, fmt.Errorf("peerid: framed name is %d bytes, limit %d", n, MaxNameLen)
	}
	return Codec{prefix: prefix, suffix: suffix}, nil
}

// Encode returns the radio name advertising id.
func (c Codec) Encode(id ID) (string, error) {
	if !id.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, string(id))
	}
	return c.prefix + string(id) + c.suffix, nil
}

// Decode extracts the id from a radio name. ok is false for names this
// codec did not produce; other devices advertise unrelated names.
func (c Codec) Decode(name string) (id ID, ok bool) {
	if len(name) != len(c.prefix)+Len+len(c.suffix) {
		return "", false
	}
	if name[:len(c.prefix)] != c.prefix || name[len(name)-len(c.suffix):] != c.suffix {
		return "", false
	}
	s := name[len(c.prefix) : len(c.prefix)+Len]
	if !valid(s) {
		return "", false
	}
	return ID(s), true
}
