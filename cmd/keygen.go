package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teemow/calendar-mcp/internal/codec"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an encryption key for OAuth token storage",
		Long: `Generate a random 32-byte AES-256 key, base64 encoded.

Set it as OAUTH_ENCRYPTION_KEY (or --oauth-encryption-key) so that Google
tokens are encrypted before they reach the storage backend. Keep the key
secret: anyone holding it and the storage can read the tokens.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := codec.GenerateKey()
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
