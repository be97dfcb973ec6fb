// Package vault holds evidence custody primitives: content hashing and sealing of inline secrets
// such as license keys, so they are never stored in plaintext.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrSealedPayloadCorrupt = errors.New("sealed payload cannot be opened")

// Sealer encrypts inline payloads with XChaCha20-Poly1305. The transaction id is bound as
// associated data so a payload cannot be replayed onto another transaction.
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("vault sealer: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewSealerFromEnv reads a base64 32-byte key from VAULT_SEALING_KEY.
// With allowEphemeral a missing key yields a random one; sealed payloads then do not survive a restart.
func NewSealerFromEnv(allowEphemeral bool) (*Sealer, error) {
	raw := strings.TrimSpace(os.Getenv("VAULT_SEALING_KEY"))
	if raw == "" {
		if !allowEphemeral {
			return nil, errors.New("VAULT_SEALING_KEY is required")
		}
		key := make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		return NewSealer(key)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid VAULT_SEALING_KEY: %w", err)
	}
	return NewSealer(key)
}

// Seal returns nonce || ciphertext.
func (s *Sealer) Seal(plaintext []byte, transactionId string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(transactionId)), nil
}

func (s *Sealer) Open(sealed []byte, transactionId string) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, ErrSealedPayloadCorrupt
	}
	out, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], []byte(transactionId))
	if err != nil {
		return nil, ErrSealedPayloadCorrupt
	}
	return out, nil
}

// ContentHash is the lowercase hex sha256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ClientFingerprint condenses request metadata into a stable opaque value for the access log.
func ClientFingerprint(clientIP, userAgent string) string {
	if clientIP == "" && userAgent == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(clientIP + "|" + userAgent))
	return hex.EncodeToString(sum[:16])
}
