// Package main provides the entry point for the outreach automation server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "outreach_agent",
	Short: "LinkedIn outreach automation engine",
	Long:  "Executes and schedules outreach touchpoints (profile visits, connection requests, messages) across accounts, with per-account serialization, daily quotas, and a failure circuit breaker.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
