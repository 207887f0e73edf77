package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/teemow/calendar-mcp/internal/codec"
	"github.com/teemow/calendar-mcp/internal/config"
	"github.com/teemow/calendar-mcp/internal/instrumentation"
	"github.com/teemow/calendar-mcp/internal/logging"
	"github.com/teemow/calendar-mcp/internal/mcp/oauth"
	"github.com/teemow/calendar-mcp/internal/storage"
)

// oauthNamespace prefixes every key the authorization subsystem writes. The
// file backend stores txn, grant and token records in separate documents
// because the prefix contains no colon.
const oauthNamespace = "oauth-"

// newLogger builds the process logger from the configuration. Logs always
// go to stderr so that stdout stays free for the stdio transport.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel())
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return logging.NewLogger(os.Stderr, level, cfg.Log.Format), nil
}

// openBackend opens the configured storage variant, reporting its
// operations to metrics when given.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *instrumentation.Metrics) (storage.Backend, error) {
	storageCfg := cfg.StorageBackend()
	backend, err := storage.New(ctx, storageCfg, logger)
	if err != nil {
		return nil, err
	}

	if metrics != nil {
		name := string(storageCfg.Type)
		if name == "" {
			name = string(storage.TypeMemory)
		}
		backend = storage.WithRecorder(backend, name, metrics)
	}
	return storage.WithNamespace(backend, oauthNamespace), nil
}

// openTokenStore gives the administrative commands access to the token
// records the server persisted.
func openTokenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*oauth.TokenStore, storage.Backend, error) {
	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, nil, err
	}
	c, err := codec.New(key, logger)
	if err != nil {
		return nil, nil, err
	}

	backend, err := openBackend(ctx, cfg, logger, nil)
	if err != nil {
		return nil, nil, err
	}
	return oauth.NewTokenStore(backend, c, cfg.OAuth.TokenTTL), backend, nil
}
