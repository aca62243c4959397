// Package sealer provides XChaCha20-Poly1305 body transforms that plug into
// kunci's encryption gate.
//
//	s, err := sealer.New(key)
//	client, err := kunci.New(
//	    kunci.WithEncryption(kunci.EncryptionConfig{
//	        EncryptURLMarker:  "secure",
//	        RequestTransform:  s.RequestTransform,
//	        ResponseTransform: s.ResponseTransform,
//	    }),
//	    ...
//	)
//
// Sealed bodies are base64 (standard encoding) of nonce || ciphertext.
package sealer

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/crypto/chacha20poly1305"
)

// HeaderSealed marks a body produced by a Sealer.
const HeaderSealed = "X-Kunci-Sealed"

const algorithm = "xchacha20poly1305"

var (
	// ErrKeySize is returned by New for keys that are not 32 bytes long.
	ErrKeySize = fmt.Errorf("sealer: key must be %d bytes", chacha20poly1305.KeySize)
	// ErrMalformed is returned when a sealed body cannot be decoded or is too short.
	ErrMalformed = errors.New("sealer: malformed sealed body")
)

// Sealer encrypts and decrypts message bodies with one symmetric key.
type Sealer struct {
	aead cipher.AEAD
}

// New returns a Sealer for a 32 byte key.
func New(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrKeySize
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext with a random nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sealer: nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)

	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

// Open reverses Seal.
func (s *Sealer) Open(body []byte) ([]byte, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(body)))
	n, err := base64.StdEncoding.Decode(raw, body)
	if err != nil {
		return nil, ErrMalformed
	}
	raw = raw[:n]
	if len(raw) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, ErrMalformed
	}

	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("sealer: open: %w", err)
	}
	return plaintext, nil
}

// RequestTransform seals an outgoing body and marks it with HeaderSealed.
func (s *Sealer) RequestTransform(body []byte, header http.Header) ([]byte, error) {
	sealed, err := s.Seal(body)
	if err != nil {
		return nil, err
	}
	header.Set(HeaderSealed, algorithm)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return sealed, nil
}

// ResponseTransform opens an incoming body.
func (s *Sealer) ResponseTransform(body []byte, header http.Header) ([]byte, error) {
	plaintext, err := s.Open(body)
	if err != nil {
		return nil, err
	}
	header.Del(HeaderSealed)
	return plaintext, nil
}
