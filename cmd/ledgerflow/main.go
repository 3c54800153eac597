package main

import (
	"fmt"
	"os"

	"ledgerflow/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()
	logging.InitFromEnv()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledgerflow",
		Short:         "Transfer saga over a partitioned log and a double-entry ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(transferCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(healthCmd())
	return rootCmd
}
