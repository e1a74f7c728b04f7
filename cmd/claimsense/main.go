package main

import (
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "claimsense",
		Short:         "Clinical note to billing claim service",
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(mapCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
