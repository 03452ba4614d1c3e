// Package main provides the CLI entry point for the Vantage chat backend.
//
// Vantage serves a streaming chat API with tool-dispatching agent turns:
// sandboxed shell execution, file tools, web search, and a headless-browser
// fallback, backed by Anthropic and OpenAI providers.
//
// # Basic Usage
//
// Start the server:
//
//	vantage serve --config vantage.yaml
//
// Apply database migrations:
//
//	vantage migrate --config vantage.yaml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models and moderation
//   - VANTAGE_JWT_SECRET: bearer-token signing secret
//   - VANTAGE_SANDBOX_API_KEY: sandbox provider API key
//   - VANTAGE_SEARCH_API_KEY: search provider API key
//   - VANTAGE_DB_PATH: sqlite database file path
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "vantage",
		Short:        "Vantage - streaming agent chat backend",
		Long:         "Vantage serves the chat, agent, and tasks routes with sandboxed tool execution.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
	)
	return rootCmd
}
