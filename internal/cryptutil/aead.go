package cryptutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/openportal/mesh/internal/grammar"
)

// Seal AES-256-GCM-encrypts data under key, returning base64(nonce||ciphertext).
// Directly grounded on arkeep's EncryptedString Value()/Scan() encoding, the
// shape the original's crypto.rs "seal" wraps with a different AEAD.
func Seal(key Key, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return "", grammar.Wrap(grammar.KindUnknown, err, "aes cipher init")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", grammar.Wrap(grammar.KindUnknown, err, "gcm init")
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", grammar.Wrap(grammar.KindUnknown, err, "nonce generation")
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func Open(key Key, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, grammar.Wrap(grammar.KindParse, err, "invalid base64 ciphertext")
	}
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, grammar.Wrap(grammar.KindUnknown, err, "aes cipher init")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, grammar.Wrap(grammar.KindUnknown, err, "gcm init")
	}
	if len(raw) < gcm.NonceSize() {
		return nil, grammar.New(grammar.KindParse, "ciphertext too short")
	}
	nonce, body := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, grammar.Wrap(grammar.KindUnknown, err, "decryption failed")
	}
	return plaintext, nil
}

// EncryptValue JSON-serialises v and seals it under the key the scheme
// derives for serviceName (spec.md §4.1's encrypt<T>).
func EncryptValue[T any](scheme EncryptionScheme, serviceName string, v T) (string, error) {
	key, err := scheme.Key(serviceName)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", grammar.Wrap(grammar.KindUnknown, err, "marshal value")
	}
	return Seal(key, data)
}

// DecryptValue reverses EncryptValue (spec.md §4.1's decrypt<T>).
func DecryptValue[T any](scheme EncryptionScheme, serviceName, encoded string) (T, error) {
	var zero T
	key, err := scheme.Key(serviceName)
	if err != nil {
		return zero, err
	}
	plaintext, err := Open(key, encoded)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(plaintext, &v); err != nil {
		return zero, grammar.Wrap(grammar.KindUnknown, err, "unmarshal value")
	}
	return v, nil
}
