// Karakana — ephemeral project sandboxes driven by LLM agents.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "karakana",
	Short: "Karakana — ephemeral per-project sandboxes for LLM agents.",
	Long: `Karakana provisions isolated Docker sandboxes per project through the
dock-route CLI and exposes file and command tools to LLM agents over
WebSocket sessions, an HTTP API, and MCP stdio.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, deployCmd, sandboxCmd, mcpCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
