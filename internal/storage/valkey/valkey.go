// Package valkey is the managed key-value storage variant, backed by a
// Valkey (or Redis compatible) server. It holds no state in process and is
// the variant to use when requests may land on different instances.
package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
)

const (
	// DefaultKeyPrefix is the default prefix for all keys.
	DefaultKeyPrefix = "calendar-mcp:"

	// scanBatchSize is the number of keys to fetch per SCAN iteration.
	scanBatchSize = 100

	// connectionVerifyTimeout bounds the initial PING.
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds connection settings.
type Config struct {
	// Address is the server address (required), e.g. "localhost:6379"
	Address string

	// Password is the optional AUTH password
	Password string

	// DB is the database number (default 0)
	DB int

	// KeyPrefix is prepended to every key (default "calendar-mcp:")
	KeyPrefix string

	// TLS enables TLS when non-nil
	TLS *tls.Config

	// Logger is the structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store implements the storage backend on a Valkey client.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// New connects to the server described by cfg and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	s := NewWithClient(client, cfg.KeyPrefix, cfg.Logger)

	pingCtx, cancel := context.WithTimeout(ctx, connectionVerifyTimeout)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	s.logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", s.prefix,
		"tls", cfg.TLS != nil)
	return s, nil
}

// NewWithClient wraps an existing client. The store takes ownership and
// closes the client on Close.
func NewWithClient(client valkeygo.Client, prefix string, logger *slog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Get returns the value for key. Expiry is enforced by the server.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(key)).Build()).AsBytes()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get key: %w", err)
	}
	return v, true, nil
}

// Set stores value under key with millisecond TTL precision.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k := s.key(key)
	v := valkeygo.BinaryString(value)

	var cmd valkeygo.Completed
	if ttl > 0 {
		cmd = s.client.B().Set().Key(k).Value(v).Px(ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(k).Value(v).Build()
	}

	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Replace uses SET XX, so the server refuses the write once the key has
// expired or been deleted.
func (s *Store) Replace(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	k := s.key(key)
	v := valkeygo.BinaryString(value)

	var cmd valkeygo.Completed
	if ttl > 0 {
		cmd = s.client.B().Set().Key(k).Value(v).Xx().Px(ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(k).Value(v).Xx().Build()
	}

	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if valkeygo.IsValkeyNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to replace key: %w", err)
	}
	return true, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Take uses GETDEL, so concurrent redeemers on any instance race on the
// server and exactly one receives the value.
func (s *Store) Take(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.key(key)).Build()).AsBytes()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to take key: %w", err)
	}
	return v, true, nil
}

// List scans for live keys with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(s.key(prefix)) + "*"

	// SCAN may return a key more than once across iterations.
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		for _, k := range result.Elements {
			seen[strings.TrimPrefix(k, s.prefix)] = struct{}{}
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// Close closes the client connection.
func (s *Store) Close() error {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
	return nil
}

// escapeGlob escapes SCAN MATCH metacharacters so prefixes match literally.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
