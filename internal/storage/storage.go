package storage

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/teemow/calendar-mcp/internal/storage/file"
	"github.com/teemow/calendar-mcp/internal/storage/memory"
	"github.com/teemow/calendar-mcp/internal/storage/valkey"
)

// Backend is durable key/value persistence with per-key expiry.
//
// All variants share the same semantics: a value written with a positive
// TTL reads as absent once the TTL has elapsed, and reading an absent or
// expired key returns ok == false with a nil error.
type Backend interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key. A ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Replace stores value under key only if key currently holds a live
	// value, and reports whether it did. The check and the write are one
	// atomic step.
	Replace(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the live keys starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Take atomically reads and deletes key. Of several concurrent
	// callers for the same key at most one observes ok == true.
	Take(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error
}

// Type selects a storage variant.
type Type string

const (
	// TypeMemory keeps everything in process memory. Only suitable when a
	// single long-lived process serves all requests.
	TypeMemory Type = "memory"

	// TypeFile persists one JSON document per namespace on local disk.
	TypeFile Type = "file"

	// TypeValkey uses an external Valkey (or Redis compatible) server.
	// Required for stateless deployments.
	TypeValkey Type = "valkey"
)

// Config selects and configures a backend.
type Config struct {
	// Type is the storage variant (default: memory)
	Type Type

	// Dir is the directory for the file variant.
	Dir string

	// Valkey configures the valkey variant.
	Valkey ValkeyConfig
}

// ValkeyConfig holds connection settings for the valkey variant.
type ValkeyConfig struct {
	// URL is the server address, e.g. "valkey.namespace.svc:6379"
	URL string

	// Password is the optional AUTH password
	Password string

	// TLSEnabled enables TLS for the connection
	TLSEnabled bool

	// TLSCAFile is an optional PEM bundle for servers signed by a private CA
	TLSCAFile string

	// KeyPrefix is prepended to every key (default: "calendar-mcp:")
	KeyPrefix string

	// DB is the database number
	DB int
}

// Validate reports configuration errors that must stop the process at startup.
func (c Config) Validate() error {
	switch c.Type {
	case "", TypeMemory:
		return nil
	case TypeFile:
		if c.Dir == "" {
			return fmt.Errorf("storage directory is required for file storage")
		}
		return nil
	case TypeValkey:
		if c.Valkey.URL == "" {
			return fmt.Errorf("valkey URL is required for valkey storage")
		}
		return nil
	default:
		return fmt.Errorf("unsupported storage type %q (supported: memory, file, valkey)", c.Type)
	}
}

// New constructs the backend selected by cfg. Callers depend only on the
// Backend interface and never branch on the concrete variant.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "", TypeMemory:
		logger.Info("Using in-memory OAuth storage (state is lost on restart)")
		return memory.New(memory.WithLogger(logger)), nil

	case TypeFile:
		store, err := file.New(cfg.Dir, file.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open file storage: %w", err)
		}
		return store, nil

	case TypeValkey:
		vcfg := valkey.Config{
			Address:   cfg.Valkey.URL,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
			Logger:    logger,
		}
		if cfg.Valkey.TLSEnabled {
			tlsConfig, err := buildTLSConfig(cfg.Valkey.TLSCAFile)
			if err != nil {
				return nil, err
			}
			vcfg.TLS = tlsConfig
		}
		store, err := valkey.New(ctx, vcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open valkey storage: %w", err)
		}
		return store, nil
	}

	return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
}

func buildTLSConfig(caFile string) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return tlsConfig, nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read valkey CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("valkey CA file %s contains no valid certificates", caFile)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}
