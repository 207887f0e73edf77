package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/teemow/calendar-mcp/internal/codec"
	"github.com/teemow/calendar-mcp/internal/storage"
)

// Transport types
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

// Config is the complete runtime configuration of calendar-mcp.
type Config struct {
	Google    GoogleConfig
	OAuth     OAuthConfig
	Storage   StorageConfig
	Server    ServerConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
	Log       LogConfig
}

// GoogleConfig holds the OAuth client registered with Google.
type GoogleConfig struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
}

// OAuthConfig configures the authorization subsystem.
type OAuthConfig struct {
	// Scopes requested from Google when the client asks for none.
	// Empty means openid, email, profile and calendar.
	Scopes []string `env:"OAUTH_SCOPES" envSeparator:","`

	// CallbackURL is registered with Google. Defaults to <base-url>/oauth/callback.
	CallbackURL string `env:"OAUTH_CALLBACK_URL"`

	// RedirectAllowlist holds the exact client redirect targets accepted at /authorize.
	RedirectAllowlist []string `env:"OAUTH_REDIRECT_ALLOWLIST" envSeparator:","`

	// EncryptionKey is the base64 AES-256 key for token records at rest.
	EncryptionKey string `env:"OAUTH_ENCRYPTION_KEY"`

	TransactionTTL time.Duration `env:"OAUTH_TRANSACTION_TTL" envDefault:"10m"`
	GrantTTL       time.Duration `env:"OAUTH_GRANT_TTL" envDefault:"10m"`
	TokenTTL       time.Duration `env:"OAUTH_TOKEN_TTL" envDefault:"720h"`
}

// StorageConfig selects the persistence variant.
type StorageConfig struct {
	Type string `env:"OAUTH_STORAGE_TYPE" envDefault:"memory"`

	// Dir is used by the file variant. Defaults to ~/.calendar-mcp/oauth.
	Dir string `env:"OAUTH_STORAGE_DIR"`

	Valkey ValkeyConfig
}

// ValkeyConfig holds connection settings for the valkey variant.
type ValkeyConfig struct {
	URL        string `env:"VALKEY_URL"`
	Password   string `env:"VALKEY_PASSWORD"`
	TLSEnabled bool   `env:"VALKEY_TLS_ENABLED"`
	TLSCAFile  string `env:"VALKEY_TLS_CA_FILE"`
	KeyPrefix  string `env:"VALKEY_KEY_PREFIX" envDefault:"calendar-mcp:"`
	DB         int    `env:"VALKEY_DB"`
}

// ServerConfig configures the MCP transport and HTTP listener.
type ServerConfig struct {
	Transport        string `env:"MCP_TRANSPORT" envDefault:"streamable-http"`
	HTTPAddr         string `env:"MCP_HTTP_ADDR" envDefault:":8080"`
	BaseURL          string `env:"MCP_BASE_URL"`
	Yolo             bool   `env:"MCP_YOLO"`
	DisableStreaming bool   `env:"MCP_DISABLE_STREAMING"`

	// BearerToken identifies the user of a stdio session. It is obtained
	// through the OAuth endpoints, which keep running next to stdio.
	BearerToken string `env:"CALENDAR_MCP_BEARER_TOKEN"`

	TLSCertFile string `env:"TLS_CERT_FILE"`
	TLSKeyFile  string `env:"TLS_KEY_FILE"`
}

// RateLimitConfig configures per-IP limiting of the OAuth endpoints.
type RateLimitConfig struct {
	RPS               int  `env:"RATE_LIMIT_RPS" envDefault:"10"`
	Burst             int  `env:"RATE_LIMIT_BURST" envDefault:"20"`
	TrustProxy        bool `env:"RATE_LIMIT_TRUST_PROXY"`
	TrustedProxyCount int  `env:"RATE_LIMIT_TRUSTED_PROXY_COUNT" envDefault:"1"`
}

// MetricsConfig configures the dedicated metrics listener.
type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	Addr    string `env:"METRICS_ADDR" envDefault:":9090"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
	Debug  bool   `env:"DEBUG"`
}

// Defaults returns the configuration with every default applied and no
// environment consulted.
func Defaults() Config {
	var c Config
	// Parsing against an empty environment only applies envDefault tags,
	// which are constant and always valid.
	_ = env.ParseWithOptions(&c, env.Options{Environment: map[string]string{}})
	return c
}

// Load builds the configuration from, in increasing precedence: defaults,
// a .env file in the working directory, the environment, and flags that
// were set explicitly on fs. fs may be nil.
func Load(fs *pflag.FlagSet, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := godotenv.Load(); err == nil {
		warnInsecureEnvFile(".env", logger)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if fs != nil {
		if err := applyFlags(fs, cfg); err != nil {
			return nil, fmt.Errorf("applying flags: %w", err)
		}
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// warnInsecureEnvFile checks whether the .env file has overly permissive
// permissions. Group or world readable files expose the client secret and
// the encryption key to other users.
func warnInsecureEnvFile(path string, logger *slog.Logger) {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return
	}

	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		logger.Warn("Environment file has insecure permissions; recommended 0600",
			slog.String("path", path),
			slog.String("mode", fmt.Sprintf("%04o", mode)))
	}
}

// finalize derives the values that depend on other settings.
func (c *Config) finalize() error {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = defaultBaseURL(c.Server.HTTPAddr, c.Server.TLSCertFile != "")
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")

	if c.OAuth.CallbackURL == "" {
		c.OAuth.CallbackURL = c.Server.BaseURL + "/oauth/callback"
	}

	if c.Storage.Type == string(storage.TypeFile) && c.Storage.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("determining home directory: %w", err)
		}
		c.Storage.Dir = filepath.Join(home, ".calendar-mcp", "oauth")
	}
	return nil
}

// defaultBaseURL derives a loopback URL from the listen address for local
// development.
func defaultBaseURL(addr string, tls bool) string {
	scheme := "http"
	if tls {
		scheme = "https"
	}
	if strings.HasPrefix(addr, ":") {
		return scheme + "://localhost" + addr
	}
	return scheme + "://" + addr
}

// BaseURLDerived reports whether the base URL was auto-detected rather than
// configured.
func (c *Config) BaseURLDerived() bool {
	return c.Server.BaseURL == strings.TrimRight(defaultBaseURL(c.Server.HTTPAddr, c.Server.TLSCertFile != ""), "/")
}

// LogLevel returns the effective log level.
func (c *Config) LogLevel() string {
	if c.Log.Debug {
		return "debug"
	}
	return c.Log.Level
}

// EncryptionKey decodes the configured key. A nil key with a nil error
// means encryption is disabled.
func (c *Config) EncryptionKey() ([]byte, error) {
	return codec.KeyFromBase64(c.OAuth.EncryptionKey)
}

// StorageBackend returns the storage package configuration.
func (c *Config) StorageBackend() storage.Config {
	return storage.Config{
		Type: storage.Type(c.Storage.Type),
		Dir:  c.Storage.Dir,
		Valkey: storage.ValkeyConfig{
			URL:        c.Storage.Valkey.URL,
			Password:   c.Storage.Valkey.Password,
			TLSEnabled: c.Storage.Valkey.TLSEnabled,
			TLSCAFile:  c.Storage.Valkey.TLSCAFile,
			KeyPrefix:  c.Storage.Valkey.KeyPrefix,
			DB:         c.Storage.Valkey.DB,
		},
	}
}

// ValidateStorage checks what the administrative commands need: a usable
// storage backend and encryption key.
func (c *Config) ValidateStorage() error {
	var errs []error
	if err := c.StorageBackend().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.EncryptionKey(); err != nil {
		errs = append(errs, fmt.Errorf("OAUTH_ENCRYPTION_KEY: %w", err))
	}
	return errors.Join(errs...)
}

// Validate reports every misconfiguration that must stop the server at
// startup.
func (c *Config) Validate() error {
	var errs []error
	if err := c.ValidateStorage(); err != nil {
		errs = append(errs, err)
	}

	if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required"))
	}
	if len(c.OAuth.RedirectAllowlist) == 0 {
		errs = append(errs, errors.New("OAUTH_REDIRECT_ALLOWLIST must list at least one client redirect target"))
	}
	for _, target := range c.OAuth.RedirectAllowlist {
		if u, err := url.Parse(target); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("redirect allowlist entry %q is not an absolute URL", target))
		}
	}

	switch c.Server.Transport {
	case TransportStdio, TransportStreamableHTTP:
	default:
		errs = append(errs, fmt.Errorf("unsupported transport %q (supported: %s, %s)",
			c.Server.Transport, TransportStdio, TransportStreamableHTTP))
	}

	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}

	ttls := []struct {
		name string
		d    time.Duration
	}{
		{"OAUTH_TRANSACTION_TTL", c.OAuth.TransactionTTL},
		{"OAUTH_GRANT_TTL", c.OAuth.GrantTTL},
		{"OAUTH_TOKEN_TTL", c.OAuth.TokenTTL},
	}
	for _, ttl := range ttls {
		if ttl.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive (got %s)", ttl.name, ttl.d))
		}
	}

	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate limit values cannot be negative"))
	}

	return errors.Join(errs...)
}
