package config

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
)

// RegisterFlags defines the serve flags on fs. A flag only overrides the
// environment when it was set explicitly on the command line.
func RegisterFlags(fs *pflag.FlagSet) {
	defaults := Defaults()
	bindFlags(fs, &defaults)
}

// RegisterStorageFlags defines the subset of flags the administrative
// commands need to reach the token store.
func RegisterStorageFlags(fs *pflag.FlagSet) {
	defaults := Defaults()
	bindStorageFlags(fs, &defaults)
}

func bindFlags(fs *pflag.FlagSet, c *Config) {
	fs.BoolVar(&c.Log.Debug, "debug", c.Log.Debug, "Enable debug logging. Can also use DEBUG env var.")
	fs.StringVar(&c.Log.Format, "log-format", c.Log.Format, "Log format: text or json. Can also use LOG_FORMAT env var.")

	fs.StringVar(&c.Server.Transport, "transport", c.Server.Transport, "Transport type: stdio or streamable-http. Can also use MCP_TRANSPORT env var.")
	fs.StringVar(&c.Server.HTTPAddr, "http-addr", c.Server.HTTPAddr, "HTTP server address. In stdio mode the OAuth endpoints still listen here. Can also use MCP_HTTP_ADDR env var.")
	fs.StringVar(&c.Server.BaseURL, "base-url", c.Server.BaseURL, "Public base URL of this server. Auto-detected for localhost. Can also use MCP_BASE_URL env var. Example: https://mcp.example.com")
	fs.BoolVar(&c.Server.Yolo, "yolo", c.Server.Yolo, "Enable write operations (event creation and deletion). Default is read-only mode.")
	fs.BoolVar(&c.Server.DisableStreaming, "disable-streaming", c.Server.DisableStreaming, "Disable streaming for HTTP transport (for compatibility with certain clients)")
	fs.StringVar(&c.Server.TLSCertFile, "tls-cert-file", c.Server.TLSCertFile, "Path to TLS certificate file (PEM format). Can also use TLS_CERT_FILE env var.")
	fs.StringVar(&c.Server.TLSKeyFile, "tls-key-file", c.Server.TLSKeyFile, "Path to TLS private key file (PEM format). Can also use TLS_KEY_FILE env var.")

	fs.StringVar(&c.Google.ClientID, "google-client-id", c.Google.ClientID, "Google OAuth client ID. Can also use GOOGLE_CLIENT_ID env var.")
	fs.StringVar(&c.Google.ClientSecret, "google-client-secret", c.Google.ClientSecret, "Google OAuth client secret. Can also use GOOGLE_CLIENT_SECRET env var.")

	fs.StringSliceVar(&c.OAuth.Scopes, "oauth-scopes", c.OAuth.Scopes, "Default scopes requested from Google (comma-separated). Can also use OAUTH_SCOPES env var.")
	fs.StringVar(&c.OAuth.CallbackURL, "oauth-callback-url", c.OAuth.CallbackURL, "Callback URL registered with Google. Defaults to <base-url>/oauth/callback. Can also use OAUTH_CALLBACK_URL env var.")
	fs.StringSliceVar(&c.OAuth.RedirectAllowlist, "oauth-redirect-allowlist", c.OAuth.RedirectAllowlist, "Exact client redirect URIs accepted at /authorize (comma-separated). Can also use OAUTH_REDIRECT_ALLOWLIST env var.")

	fs.BoolVar(&c.Metrics.Enabled, "metrics-enabled", c.Metrics.Enabled, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	fs.StringVar(&c.Metrics.Addr, "metrics-addr", c.Metrics.Addr, "Metrics server address. Can also use METRICS_ADDR env var.")

	bindStorageFlags(fs, c)
}

func bindStorageFlags(fs *pflag.FlagSet, c *Config) {
	fs.StringVar(&c.OAuth.EncryptionKey, "oauth-encryption-key", c.OAuth.EncryptionKey, "AES-256 key for token records at rest (32 bytes, base64). Generate with: calendar-mcp keygen. Can also use OAUTH_ENCRYPTION_KEY env var.")
	fs.StringVar(&c.Storage.Type, "oauth-storage-type", c.Storage.Type, "OAuth storage type: memory, file or valkey. Can also use OAUTH_STORAGE_TYPE env var.")
	fs.StringVar(&c.Storage.Dir, "oauth-storage-dir", c.Storage.Dir, "Directory for file storage (default ~/.calendar-mcp/oauth). Can also use OAUTH_STORAGE_DIR env var.")
	fs.StringVar(&c.Storage.Valkey.URL, "valkey-url", c.Storage.Valkey.URL, "Valkey server address (e.g., valkey.namespace.svc:6379). Can also use VALKEY_URL env var.")
	fs.StringVar(&c.Storage.Valkey.Password, "valkey-password", c.Storage.Valkey.Password, "Valkey authentication password. Can also use VALKEY_PASSWORD env var.")
	fs.BoolVar(&c.Storage.Valkey.TLSEnabled, "valkey-tls", c.Storage.Valkey.TLSEnabled, "Enable TLS for Valkey connections. Can also use VALKEY_TLS_ENABLED env var.")
	fs.StringVar(&c.Storage.Valkey.TLSCAFile, "valkey-tls-ca-file", c.Storage.Valkey.TLSCAFile, "CA bundle for Valkey TLS. Can also use VALKEY_TLS_CA_FILE env var.")
	fs.StringVar(&c.Storage.Valkey.KeyPrefix, "valkey-key-prefix", c.Storage.Valkey.KeyPrefix, "Prefix for all Valkey keys. Can also use VALKEY_KEY_PREFIX env var.")
	fs.IntVar(&c.Storage.Valkey.DB, "valkey-db", c.Storage.Valkey.DB, "Valkey database number. Can also use VALKEY_DB env var.")
}

// applyFlags copies every flag that was set on fs onto c. The values are
// replayed through a flag set bound to c, so parsing stays with pflag.
func applyFlags(fs *pflag.FlagSet, c *Config) error {
	bound := pflag.NewFlagSet("config", pflag.ContinueOnError)
	bindFlags(bound, c)

	var errs []error
	fs.Visit(func(f *pflag.Flag) {
		target := bound.Lookup(f.Name)
		if target == nil {
			return
		}
		if src, ok := f.Value.(pflag.SliceValue); ok {
			if dst, ok := target.Value.(pflag.SliceValue); ok {
				if err := dst.Replace(src.GetSlice()); err != nil {
					errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
				}
				return
			}
		}
		if err := target.Value.Set(f.Value.String()); err != nil {
			errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}
