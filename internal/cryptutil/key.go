// Package cryptutil implements the symmetric keys, invitations, and
// TOML-persisted service configuration described in spec.md §4.1, grounded
// on the original's paddington/src/{crypto,invite}.rs for shape and on
// arkeep's server/internal/db/encrypt.go for the at-rest AES-GCM encoding
// this port reuses directly.
package cryptutil

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/openportal/mesh/internal/grammar"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Key is a symmetric key, hex-encoded when persisted to TOML.
type Key struct {
	data [KeySize]byte
}

// GenerateKey produces a new random key, the Go equivalent of the
// original's Key::generate().
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k.data[:]); err != nil {
		return Key{}, grammar.Wrap(grammar.KindUnknown, err, "failed to generate key")
	}
	return k, nil
}

// Bytes returns the raw key material.
func (k Key) Bytes() []byte { return k.data[:] }

// MarshalText hex-encodes the key for TOML/JSON persistence.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(k.data[:])), nil
}

// UnmarshalText decodes a hex-encoded key.
func (k *Key) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return grammar.Wrap(grammar.KindParse, err, "invalid key hex")
	}
	if len(decoded) != KeySize {
		return grammar.New(grammar.KindParse, "key must be %d bytes, got %d", KeySize, len(decoded))
	}
	copy(k.data[:], decoded)
	return nil
}

func (k Key) String() string { return "[[REDACTED]]" }
