// Package config loads the calendar-mcp configuration.
//
// Values are resolved in increasing precedence: defaults, a .env file in the
// working directory, environment variables, then command-line flags that
// were set explicitly. Validate reports every misconfiguration at once so
// that the server refuses to start instead of failing on first use.
package config
