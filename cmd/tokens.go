package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/calendar-mcp/internal/config"
	"github.com/teemow/calendar-mcp/internal/logging"
	"github.com/teemow/calendar-mcp/internal/mcp/oauth"
)

func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect and purge stored OAuth token records",
		Long: `Inspect and purge the token records the server keeps for authorized agents.

Records are identified by the SHA-256 hash of their bearer token. Neither the
bearer tokens nor the Google tokens are ever printed.

The memory storage type lives inside the server process, so these commands
are only useful with the file or valkey storage types.`,
	}

	cmd.AddCommand(newTokensListCmd())
	cmd.AddCommand(newTokensPurgeCmd())
	return cmd
}

func newTokensListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored token records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTokenStore(cmd, func(ctx context.Context, store *oauth.TokenStore) error {
				tokens, err := store.List(ctx)
				if err != nil {
					return err
				}
				return printTokens(cmd.OutOrStdout(), tokens, time.Now())
			})
		},
	}
	config.RegisterStorageFlags(cmd.Flags())
	return cmd
}

func newTokensPurgeCmd() *cobra.Command {
	var expiredOnly bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete stored token records",
		Long: `Delete stored token records. Agents holding a purged bearer token must
authorize again.

With --expired-only, only records that can no longer be used are deleted:
records whose Google access token expired without a refresh token, and
records that cannot be decrypted with the configured key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTokenStore(cmd, func(ctx context.Context, store *oauth.TokenStore) error {
				tokens, err := store.List(ctx)
				if err != nil {
					return err
				}

				now := time.Now()
				purged := 0
				for _, t := range tokens {
					if expiredOnly && !isPurgeable(t, now) {
						continue
					}
					if err := store.DeleteHash(ctx, t.Hash); err != nil {
						return err
					}
					purged++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d of %d token records\n", purged, len(tokens))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&expiredOnly, "expired-only", false, "Only delete records that can no longer be refreshed")
	config.RegisterStorageFlags(cmd.Flags())
	return cmd
}

// withTokenStore loads the storage configuration, opens the token store and
// closes the backend once fn returns.
func withTokenStore(cmd *cobra.Command, fn func(context.Context, *oauth.TokenStore) error) error {
	logger := logging.NewLogger(os.Stderr, slog.LevelWarn, logging.FormatText)

	cfg, err := config.Load(cmd.Flags(), logger)
	if err != nil {
		return err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return fmt.Errorf("invalid storage configuration: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, backend, err := openTokenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("Failed to close storage", logging.Err(err))
		}
	}()

	return fn(ctx, store)
}

// isPurgeable reports whether a record can no longer serve any request.
func isPurgeable(t oauth.StoredToken, now time.Time) bool {
	if t.Record == nil {
		return true
	}
	if t.Record.HasRefreshToken() {
		return false
	}
	return !t.Record.Expiry.IsZero() && !now.Before(t.Record.Expiry)
}

func printTokens(w io.Writer, tokens []oauth.StoredToken, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HASH\tEMAIL\tISSUED\tEXPIRY\tREFRESHABLE\tSTATUS")
	for _, t := range tokens {
		hash := t.Hash
		if len(hash) > 16 {
			hash = hash[:16]
		}
		if t.Record == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\tunreadable\n", hash)
			continue
		}

		status := "active"
		if isPurgeable(t, now) {
			status = "expired"
		}
		expiry := "-"
		if !t.Record.Expiry.IsZero() {
			expiry = t.Record.Expiry.UTC().Format(time.RFC3339)
		}
		email := t.Record.Email
		if email == "" {
			email = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			hash, email, t.Record.IssuedAt.UTC().Format(time.RFC3339), expiry, t.Record.HasRefreshToken(), status)
	}
	return tw.Flush()
}
