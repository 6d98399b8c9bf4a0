package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ledgerhound/ledgerhound/internal/config"
	"github.com/ledgerhound/ledgerhound/internal/engine"
	"github.com/ledgerhound/ledgerhound/internal/ingest"
	"github.com/ledgerhound/ledgerhound/internal/llm"
	"github.com/ledgerhound/ledgerhound/internal/storage"
)

func importCmd() *cobra.Command {
	var (
		accountID string
		ownerID   string
		mimeType  string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a statement or receipt from the command line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("cannot read %s: %w", args[0], err)
			}

			store, err := storage.NewSQLiteStorage(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			var adapter *llm.Adapter
			if cfg.LLMCategorizationEnabled {
				client, err := llm.NewClient(cfg.LLMConfig())
				if err != nil {
					return err
				}
				adapter = llm.NewAdapter(client, cfg.LLMConfig())
				defer adapter.Close()
			}

			var orchestrator *engine.Orchestrator
			var pipeline *ingest.Pipeline
			if adapter != nil {
				orchestrator = engine.NewOrchestrator(store, adapter, true)
				pipeline = ingest.NewPipeline(store, adapter, orchestrator)
			} else {
				orchestrator = engine.NewOrchestrator(store, nil, false)
				pipeline = ingest.NewPipeline(store, nil, orchestrator)
			}

			var bar *progressbar.ProgressBar
			result, err := pipeline.Run(cmd.Context(), ingest.Input{
				OwnerID:   ownerID,
				AccountID: accountID,
				Filename:  filepath.Base(args[0]),
				MimeType:  mimeType,
				Content:   content,
				OnProgress: func(processed, total int) {
					if bar == nil {
						bar = progressbar.NewOptions(total,
							progressbar.OptionSetWriter(os.Stderr),
							progressbar.OptionShowCount(),
							progressbar.OptionSetWidth(40),
							progressbar.OptionSetDescription("Importing transactions..."),
						)
					}
					if err := bar.Set(processed); err != nil {
						slog.Warn("Failed to update progress bar", "error", err)
					}
				},
			})
			if err != nil {
				return err
			}
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(os.Stderr)
			}

			fmt.Printf("Import %s: %d created, %d duplicates, %d skipped\n",
				result.Import.ID, result.Created, result.Duplicates, result.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "account id to import into (required)")
	cmd.Flags().StringVar(&ownerID, "owner", "local-dev", "owner id the import belongs to")
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "override the detected MIME type")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}
