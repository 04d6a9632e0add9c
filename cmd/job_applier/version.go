package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags.
var version = "dev"

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print the job_applier version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("job_applier " + version)
	},
}

func init() {
	rootCmd.AddCommand(versionCommand)
}
