package vault

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Portable blobs are laid out as magic || salt || nonce || ciphertext.
var passphraseMagic = []byte("MIA1")

const (
	saltSize      = 16
	argonTime     = 3
	argonMemoryKB = 64 * 1024
	argonThreads  = 2
)

// ErrPassphraseRequired is returned when sealing with an empty passphrase.
var ErrPassphraseRequired = errors.New("passphrase required")

// SealWithPassphrase encrypts v under a key derived from passphrase with
// argon2id, so the blob can be restored on another installation.
func SealWithPassphrase(passphrase string, v any) (string, error) {
	if passphrase == "" {
		return "", ErrPassphraseRequired
	}
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode plaintext: %w", err)
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	aead, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return "", err
	}
	sealed, err := sealBytes(aead, plaintext)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, len(passphraseMagic)+saltSize+len(sealed))
	out = append(out, passphraseMagic...)
	out = append(out, salt...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// OpenWithPassphrase reverses SealWithPassphrase. A wrong passphrase surfaces
// as ErrDecryption.
func OpenWithPassphrase(passphrase, blob string, out any) error {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return fmt.Errorf("%w: bad encoding", ErrDecryption)
	}
	if !IsPassphraseBlob(raw) {
		return fmt.Errorf("%w: not a passphrase blob", ErrDecryption)
	}
	raw = raw[len(passphraseMagic):]
	if len(raw) < saltSize {
		return fmt.Errorf("%w: blob truncated", ErrDecryption)
	}
	aead, err := newGCM(deriveKey(passphrase, raw[:saltSize]))
	if err != nil {
		return err
	}
	plaintext, err := openBytes(aead, raw[saltSize:])
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: bad payload", ErrDecryption)
	}
	return nil
}

// IsPassphraseBlob reports whether raw (already base64-decoded) carries the
// portable-blob header.
func IsPassphraseBlob(raw []byte) bool {
	return bytes.HasPrefix(raw, passphraseMagic)
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemoryKB, argonThreads, KeySize)
}
