package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerhound/ledgerhound/internal/analytics"
	"github.com/ledgerhound/ledgerhound/internal/config"
	"github.com/ledgerhound/ledgerhound/internal/engine"
	"github.com/ledgerhound/ledgerhound/internal/ingest"
	"github.com/ledgerhound/ledgerhound/internal/ledger"
	"github.com/ledgerhound/ledgerhound/internal/llm"
	"github.com/ledgerhound/ledgerhound/internal/rules"
	"github.com/ledgerhound/ledgerhound/internal/server"
	"github.com/ledgerhound/ledgerhound/internal/storage"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
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

	ruleService := rules.NewService(store)
	ledgerService := ledger.NewService(store, ruleService)
	aggregator := analytics.NewAggregator(store)

	var orchestrator *engine.Orchestrator
	var pipeline *ingest.Pipeline
	if adapter != nil {
		orchestrator = engine.NewOrchestrator(store, adapter, true)
		pipeline = ingest.NewPipeline(store, adapter, orchestrator)
	} else {
		orchestrator = engine.NewOrchestrator(store, nil, false)
		pipeline = ingest.NewPipeline(store, nil, orchestrator)
	}

	srv := server.New(store, ruleService, ledgerService, orchestrator, pipeline, aggregator,
		server.Options{
			CORSAllowedOrigin:   cfg.CORSAllowedOrigin,
			AllowLocalDevBypass: cfg.AllowLocalDevBypass,
		})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening",
			"port", cfg.Port,
			"llmProvider", cfg.LLMProvider,
			"llmEnabled", cfg.LLMCategorizationEnabled)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("Server stopped")
	return nil
}
