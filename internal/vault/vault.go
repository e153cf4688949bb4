// Package vault provides symmetric encryption of Instagram account secrets
// at rest.
//
// Keys are derived from a process-wide master secret plus a per-record salt
// using PBKDF2-SHA256, so key material is never stored next to the
// ciphertext. Encryption is AES-256-GCM with a random nonce per call.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/pbkdf2"

	"github.com/gramgate/gramgate/internal/models"
	"github.com/gramgate/gramgate/internal/util"
)

const (
	// MinKDFIterations is the floor for PBKDF2 iteration counts. Configured
	// values below it are raised to it.
	MinKDFIterations = 100000
	// SaltSize is the number of random bytes generated per record salt.
	SaltSize = 16
	// keySize selects AES-256.
	keySize = 32
	// nonceSize is the standard GCM nonce length. The nonce is prepended to
	// the ciphertext so decryption needs no extra stored field.
	nonceSize = 12
)

// Vault derives per-record keys from the master secret and encrypts or
// decrypts account secrets. It never logs plaintext or key material.
type Vault struct {
	master     []byte
	iterations int
}

// New creates a Vault from the process master secret. An empty master secret
// is rejected; iteration counts below MinKDFIterations are raised to it.
func New(masterSecret string, iterations int) (*Vault, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret must not be empty")
	}
	if iterations < MinKDFIterations {
		slog.Warn("Vault iteration count below minimum, raising", "configured", iterations, "minimum", MinKDFIterations)
		iterations = MinKDFIterations
	}
	return &Vault{master: []byte(masterSecret), iterations: iterations}, nil
}

// Iterations returns the KDF iteration count used for new records.
func (v *Vault) Iterations() int {
	return v.iterations
}

// DeriveKey derives the symmetric key for a record from the master secret
// and its salt. Same (master, salt, iterations) always yields the same key.
func (v *Vault) DeriveKey(salt []byte, iterations int) []byte {
	return pbkdf2.Key(v.master, salt, iterations, keySize, sha256.New)
}

// Seal encrypts plaintext under a fresh salt and returns the ciphertext,
// the salt, and the iteration count used. The salt must be persisted
// alongside the ciphertext; the derived key is discarded.
func (v *Vault) Seal(plaintext []byte) (ciphertext, salt []byte, iterations int, err error) {
	salt, err = util.GenerateSalt(SaltSize)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to generate salt: %w", err)
	}
	key := v.DeriveKey(salt, v.iterations)
	ciphertext, err = Encrypt(plaintext, key)
	if err != nil {
		return nil, nil, 0, err
	}
	return ciphertext, salt, v.iterations, nil
}

// Open decrypts a ciphertext previously produced by Seal using the stored
// salt and iteration count. Returns models.ErrIntegrity if the ciphertext
// was tampered with or the master secret does not match.
func (v *Vault) Open(ciphertext, salt []byte, iterations int) ([]byte, error) {
	key := v.DeriveKey(salt, iterations)
	return Decrypt(ciphertext, key)
}

// Encrypt seals the plaintext with AES-256-GCM under the given key. Each
// call generates a random nonce, so the same inputs yield different
// ciphertext, but all of them decrypt back to the same plaintext.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	// nonce || sealed
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens an Encrypt-produced ciphertext. Any authentication failure
// (wrong key, truncated or modified data) surfaces as models.ErrIntegrity;
// the underlying crypto error is deliberately not exposed.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < nonceSize {
		slog.Error("Vault decrypt failed", "reason", "ciphertext shorter than nonce", "length", len(ciphertext))
		return nil, models.ErrIntegrity
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		slog.Error("Vault decrypt failed", "reason", "authentication failure")
		return nil, models.ErrIntegrity
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return aead, nil
}
