// ledgerhound is a personal finance ingestion and categorization engine:
// it imports bank statements and receipts, categorizes transactions with
// rules and an LLM fallback, and serves the results over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ledgerhound/ledgerhound/internal/common"
)

var (
	version = "dev"

	rootCmd = &cobra.Command{
		Use:   "ledgerhound",
		Short: "Personal finance ingestion and categorization engine",
		Long: `ledgerhound ingests bank statements and receipts, categorizes every
transaction with user rules and an LLM fallback, and serves ledgers,
rules, and monthly analytics over an HTTP API.`,
		PersistentPreRunE: setupLogging,
	}
)

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")

	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received interrupt signal, shutting down gracefully...")
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(_ *cobra.Command, _ []string) error {
	level := common.ParseLogLevel(viper.GetString("log_level"))
	return common.SetupLogger(level, viper.GetString("log_format"))
}
