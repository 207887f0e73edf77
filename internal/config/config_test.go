package config

import (
	"bytes"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calendar-mcp/internal/storage"
)

func validKey() string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
}

func TestDefaults(t *testing.T) {
	c := Defaults()

	assert.Equal(t, "memory", c.Storage.Type)
	assert.Equal(t, "calendar-mcp:", c.Storage.Valkey.KeyPrefix)
	assert.Equal(t, TransportStreamableHTTP, c.Server.Transport)
	assert.Equal(t, ":8080", c.Server.HTTPAddr)
	assert.Equal(t, 10*time.Minute, c.OAuth.TransactionTTL)
	assert.Equal(t, 720*time.Hour, c.OAuth.TokenTTL)
	assert.Equal(t, 10, c.RateLimit.RPS)
	assert.Equal(t, 20, c.RateLimit.Burst)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, "info", c.LogLevel())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "id.apps.googleusercontent.com")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret")
	t.Setenv("OAUTH_REDIRECT_ALLOWLIST", "https://a.example/cb, https://b.example/cb")
	t.Setenv("OAUTH_STORAGE_TYPE", "valkey")
	t.Setenv("VALKEY_URL", "valkey:6379")
	t.Setenv("VALKEY_DB", "3")
	t.Setenv("OAUTH_TRANSACTION_TTL", "5m")
	t.Setenv("MCP_BASE_URL", "https://mcp.example.com/")

	c, err := Load(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "id.apps.googleusercontent.com", c.Google.ClientID)
	assert.Len(t, c.OAuth.RedirectAllowlist, 2)
	assert.Equal(t, "valkey", c.Storage.Type)
	assert.Equal(t, 3, c.Storage.Valkey.DB)
	assert.Equal(t, 5*time.Minute, c.OAuth.TransactionTTL)
	assert.Equal(t, "https://mcp.example.com", c.Server.BaseURL)
	assert.Equal(t, "https://mcp.example.com/oauth/callback", c.OAuth.CallbackURL)
	assert.False(t, c.BaseURLDerived())

	sc := c.StorageBackend()
	assert.Equal(t, storage.TypeValkey, sc.Type)
	assert.Equal(t, "valkey:6379", sc.Valkey.URL)
}

func TestLoad_FlagsOverrideOnlyWhenSet(t *testing.T) {
	t.Setenv("MCP_HTTP_ADDR", ":7000")
	t.Setenv("OAUTH_STORAGE_TYPE", "file")
	t.Setenv("OAUTH_STORAGE_DIR", t.TempDir())

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--oauth-storage-type=memory",
		"--oauth-redirect-allowlist=https://x.example/cb,https://y.example/cb",
		"--debug",
	}))

	c, err := Load(fs, nil)
	require.NoError(t, err)

	assert.Equal(t, ":7000", c.Server.HTTPAddr, "unset flag must not override the environment")
	assert.Equal(t, "memory", c.Storage.Type)
	assert.Equal(t, []string{"https://x.example/cb", "https://y.example/cb"}, c.OAuth.RedirectAllowlist)
	assert.Equal(t, "debug", c.LogLevel())
	assert.Equal(t, "http://localhost:7000", c.Server.BaseURL)
	assert.True(t, c.BaseURLDerived())
}

func TestLoad_FileStorageDefaultDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OAUTH_STORAGE_TYPE", "file")
	t.Setenv("OAUTH_STORAGE_DIR", "")

	c, err := Load(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".calendar-mcp", "oauth"), c.Storage.Dir)
}

func TestDefaultBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", defaultBaseURL(":8080", false))
	assert.Equal(t, "https://localhost:8443", defaultBaseURL(":8443", true))
	assert.Equal(t, "http://127.0.0.1:8080", defaultBaseURL("127.0.0.1:8080", false))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Defaults()
		c.Google.ClientID = "id"
		c.Google.ClientSecret = "secret"
		c.OAuth.RedirectAllowlist = []string{"https://client.example/cb"}
		c.OAuth.EncryptionKey = validKey()
		return &c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid"},
		{name: "missing google secret", mutate: func(c *Config) { c.Google.ClientSecret = "" }, wantErr: "GOOGLE_CLIENT_SECRET"},
		{name: "empty allowlist", mutate: func(c *Config) { c.OAuth.RedirectAllowlist = nil }, wantErr: "OAUTH_REDIRECT_ALLOWLIST"},
		{name: "relative allowlist entry", mutate: func(c *Config) { c.OAuth.RedirectAllowlist = []string{"/cb"} }, wantErr: "not an absolute URL"},
		{name: "malformed key", mutate: func(c *Config) { c.OAuth.EncryptionKey = "not-base64!" }, wantErr: "OAUTH_ENCRYPTION_KEY"},
		{name: "short key", mutate: func(c *Config) { c.OAuth.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("short")) }, wantErr: "32 bytes"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Type = "postgres" }, wantErr: "unsupported storage type"},
		{name: "valkey without url", mutate: func(c *Config) { c.Storage.Type = "valkey" }, wantErr: "valkey URL is required"},
		{name: "file without dir", mutate: func(c *Config) { c.Storage.Type = "file" }, wantErr: "directory is required"},
		{name: "unknown transport", mutate: func(c *Config) { c.Server.Transport = "sse" }, wantErr: "unsupported transport"},
		{name: "tls cert without key", mutate: func(c *Config) { c.Server.TLSCertFile = "cert.pem" }, wantErr: "must be set together"},
		{name: "zero ttl", mutate: func(c *Config) { c.OAuth.GrantTTL = 0 }, wantErr: "OAUTH_GRANT_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			if tt.mutate != nil {
				tt.mutate(c)
			}
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEncryptionKey_EmptyDisables(t *testing.T) {
	c := Defaults()
	key, err := c.EncryptionKey()
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestWarnInsecureEnvFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GOOGLE_CLIENT_ID=x\n"), 0o644))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	warnInsecureEnvFile(path, logger)
	assert.Contains(t, buf.String(), "insecure permissions")

	buf.Reset()
	require.NoError(t, os.Chmod(path, 0o600))
	warnInsecureEnvFile(path, logger)
	assert.False(t, strings.Contains(buf.String(), "insecure"))
}
