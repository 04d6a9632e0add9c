// Package main provides the entry point for the job application agent CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "job_applier",
	Short: "Automated job application agent",
	Long:  "job_applier fills and submits online job application forms from a candidate profile, resolving verification challenges in tiers and recording every attempt.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
