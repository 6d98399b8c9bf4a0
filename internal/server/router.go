package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ledgerhound/ledgerhound/internal/analytics"
	"github.com/ledgerhound/ledgerhound/internal/engine"
	"github.com/ledgerhound/ledgerhound/internal/ingest"
	"github.com/ledgerhound/ledgerhound/internal/ledger"
	"github.com/ledgerhound/ledgerhound/internal/rules"
	"github.com/ledgerhound/ledgerhound/internal/service"
)

// Options configures the HTTP surface.
type Options struct {
	CORSAllowedOrigin   string
	AllowLocalDevBypass bool
}

// Server bundles the services behind the HTTP API.
type Server struct {
	store        service.Storage
	rules        *rules.Service
	ledger       *ledger.Service
	orchestrator *engine.Orchestrator
	pipeline     *ingest.Pipeline
	analytics    *analytics.Aggregator
	opts         Options
}

// New creates the server.
func New(store service.Storage, ruleService *rules.Service, ledgerService *ledger.Service,
	orchestrator *engine.Orchestrator, pipeline *ingest.Pipeline,
	aggregator *analytics.Aggregator, opts Options) *Server {
	return &Server{
		store:        store,
		rules:        ruleService,
		ledger:       ledgerService,
		orchestrator: orchestrator,
		pipeline:     pipeline,
		analytics:    aggregator,
		opts:         opts,
	}
}

// Router builds the chi router with the full API surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsMiddleware(s.opts.CORSAllowedOrigin))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware(s.opts.AllowLocalDevBypass))

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleCreateAccount)
			r.Get("/{id}", s.handleGetAccount)
			r.Patch("/{id}", s.handleUpdateAccount)
			r.Delete("/{id}", s.handleDeleteAccount)
		})

		r.Get("/categories", s.handleListCategories)

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", s.handleListTransactions)
			r.Get("/{id}", s.handleGetTransaction)
			r.Patch("/{id}", s.handleUpdateTransaction)
			r.Post("/{id}/split", s.handleSplitTransaction)
			r.Post("/{id}/unsplit", s.handleUnsplitTransaction)
			r.Get("/{id}/splits", s.handleGetSplits)
			r.Post("/recategorize", s.handleRecategorize)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Get("/{id}", s.handleGetRule)
			r.Patch("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
			r.Post("/reorder", s.handleReorderRules)
			r.Post("/suggestions/accept", s.handleAcceptSuggestion)
			r.Post("/suggestions/dismiss", s.handleDismissSuggestion)
		})

		r.Route("/imports", func(r chi.Router) {
			r.Get("/", s.handleListImports)
			r.Post("/upload", s.handleUploadImport)
			r.Get("/{id}", s.handleGetImport)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/monthly", s.handleMonthlyOverview)
			r.Get("/trend", s.handleSpendingTrend)
			r.Get("/categories", s.handleCategoryBreakdown)
			r.Get("/accounts", s.handleAccountsOverview)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
