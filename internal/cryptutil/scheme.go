package cryptutil

import (
	"crypto/sha256"
	"os"

	"github.com/openportal/mesh/internal/grammar"
)

// EncryptionScheme derives the key used to encrypt/decrypt secrets at rest
// for a given service config (spec.md §4.1).
type EncryptionScheme interface {
	Key(serviceName string) (Key, error)
	String() string
}

// SimpleScheme derives a key deterministically from the service name.
// Diagnostic only — it gives no real secrecy, since the "secret" is the
// name itself, which is not itself confidential.
type SimpleScheme struct{}

func (SimpleScheme) String() string { return "Simple" }

func (SimpleScheme) Key(serviceName string) (Key, error) {
	sum := sha256.Sum256([]byte("openportal-simple-scheme:" + serviceName))
	var k Key
	copy(k.data[:], sum[:])
	return k, nil
}

// EnvironmentScheme reads the key material from a named environment
// variable at unlock time, hex-decoded the same way a persisted Key is.
type EnvironmentScheme struct {
	Var string
}

func (e EnvironmentScheme) String() string { return "Environment{" + e.Var + "}" }

func (e EnvironmentScheme) Key(serviceName string) (Key, error) {
	raw := os.Getenv(e.Var)
	if raw == "" {
		return Key{}, grammar.New(grammar.KindMisconfigured, "environment variable %q is not set", e.Var)
	}
	var k Key
	if err := k.UnmarshalText([]byte(raw)); err != nil {
		// Fall back to deriving a key from the raw env value directly,
		// so operators can set a passphrase instead of a hex key.
		sum := sha256.Sum256([]byte(raw))
		copy(k.data[:], sum[:])
		return k, nil
	}
	return k, nil
}
