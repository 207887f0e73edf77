package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// KeySize is the required key length for AES-256.
const KeySize = 32

// plainPrefix marks values written while encryption is disabled so that a
// codec configured with a key never mistakes them for ciphertext.
const plainPrefix = "plain:"

// warnInterval bounds how often the unencrypted-storage warning repeats.
const warnInterval = time.Minute

var (
	// ErrIntegrity is returned by Open when an envelope cannot be
	// authenticated: tampering, a wrong key, truncation or corruption.
	ErrIntegrity = errors.New("envelope failed integrity check")

	// ErrConfig is returned when the codec is constructed with an
	// unusable key.
	ErrConfig = errors.New("invalid encryption configuration")
)

// Envelope is the opaque, storage-safe form of a sealed value:
// base64(nonce || ciphertext || tag).
type Envelope string

// Codec seals and opens token payloads with AES-256-GCM.
// A Codec without a key passes values through unencrypted and keeps
// warning about it.
type Codec struct {
	aead     cipher.AEAD
	logger   *slog.Logger
	lastWarn atomic.Int64
}

// New creates a codec for the given key. An empty key disables encryption.
func New(key []byte, logger *slog.Logger) (*Codec, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Codec{logger: logger}

	if len(key) == 0 {
		c.warnUnencrypted()
		return c, nil
	}

	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be exactly %d bytes for AES-256, got %d", ErrConfig, KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create cipher: %v", ErrConfig, err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create GCM: %v", ErrConfig, err)
	}
	c.aead = aead

	return c, nil
}

// NewFromBase64 creates a codec from a base64-encoded key, as read from
// configuration. An empty string disables encryption.
func NewFromBase64(encoded string, logger *slog.Logger) (*Codec, error) {
	key, err := KeyFromBase64(encoded)
	if err != nil {
		return nil, err
	}
	return New(key, logger)
}

// Enabled reports whether values are actually encrypted.
func (c *Codec) Enabled() bool {
	return c.aead != nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (c *Codec) Seal(plaintext []byte) (Envelope, error) {
	if c.aead == nil {
		c.warnUnencrypted()
		return Envelope(plainPrefix + base64.StdEncoding.EncodeToString(plaintext)), nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends ciphertext and tag to the nonce slice.
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return Envelope(base64.StdEncoding.EncodeToString(sealed)), nil
}

// Open authenticates and decrypts an envelope produced by Seal.
func (c *Codec) Open(env Envelope) ([]byte, error) {
	s := string(env)

	if c.aead == nil {
		if !strings.HasPrefix(s, plainPrefix) {
			return nil, fmt.Errorf("%w: value is encrypted but no key is configured", ErrIntegrity)
		}
		plaintext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, plainPrefix))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
		}
		return plaintext, nil
	}

	if strings.HasPrefix(s, plainPrefix) {
		return nil, fmt.Errorf("%w: value was stored unencrypted", ErrIntegrity)
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: envelope too short", ErrIntegrity)
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return plaintext, nil
}

// SealString is Seal for string payloads.
func (c *Codec) SealString(plaintext string) (Envelope, error) {
	return c.Seal([]byte(plaintext))
}

// OpenString is Open for string payloads.
func (c *Codec) OpenString(env Envelope) (string, error) {
	b, err := c.Open(env)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Codec) warnUnencrypted() {
	now := time.Now().UnixNano()
	last := c.lastWarn.Load()
	if last != 0 && time.Duration(now-last) < warnInterval {
		return
	}
	if !c.lastWarn.CompareAndSwap(last, now) {
		return
	}
	c.logger.Warn("token storage is NOT encrypted: no encryption key configured",
		"recommendation", "set OAUTH_ENCRYPTION_KEY (generate one with: calendar-mcp keygen)")
}

// GenerateKey returns a new random key, base64 encoded.
// The key must be persisted; generating one per start makes stored
// records unreadable after a restart.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// KeyFromBase64 decodes a configured key. An empty string yields a nil key.
func KeyFromBase64(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: key is not valid base64: %v", ErrConfig, err)
	}

	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d bytes", ErrConfig, KeySize, len(key))
	}

	return key, nil
}
