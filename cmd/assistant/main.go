// Package main is the CLI entry point for the assistant platform: a
// multi-tenant host that runs one Telegram bot per owner, each backed by
// a knowledge-grounded LLM and a calendar confirmation flow.
//
// # Basic Usage
//
// Start the platform:
//
//	assistant serve --config assistant.yaml
//
// Manage owners:
//
//	assistant owners add --id 42 --token 123:abc --knowledge kb-42
//	assistant owners list
//
// # Environment Variables
//
// The YAML config expands ${VAR} references, so secrets like
// OPENROUTER_API_KEY and bot tokens can live in the environment.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "assistant",
		Short: "Multi-tenant Telegram assistant platform",
		Long: `Runs one Telegram bot per registered owner. Each bot answers from the
owner's knowledge base, enforces per-plan rate limits and monthly token
budgets, and executes calendar actions behind explicit confirmation.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildOwnersCmd(),
	)
	return rootCmd
}
