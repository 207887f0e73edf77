package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the calendar-mcp application
var rootCmd = &cobra.Command{
	Use:   "calendar-mcp",
	Short: "MCP server for Google Calendar with OAuth 2.1 authorization",
	Long: `calendar-mcp exposes Google Calendar to AI assistants through the
Model Context Protocol (MCP).

Agents authorize through the server's OAuth 2.1 endpoints, which proxy
consent to Google. The server keeps the Google tokens, encrypted at rest,
and only hands opaque bearer tokens to agents.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "calendar-mcp version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newTokensCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
