package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerhound/ledgerhound/internal/ledger"
	"github.com/ledgerhound/ledgerhound/internal/model"
	"github.com/ledgerhound/ledgerhound/internal/service"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

func respondInvalidParameter(w http.ResponseWriter, format string, args ...any) {
	respondCode(w, http.StatusBadRequest, codeInvalidParameter, fmt.Sprintf(format, args...))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTransactionFilter(r)
	if err != nil {
		respondInvalidParameter(w, "%v", err)
		return
	}

	page, err := s.store.ListTransactions(r.Context(), ownerFromContext(r.Context()), *filter)
	if err != nil {
		respondError(w, err)
		return
	}
	respondMeta(w, http.StatusOK, page.Transactions, &meta{
		Pagination: &pagination{NextCursor: page.NextCursor, HasMore: page.HasMore},
	})
}

func parseTransactionFilter(r *http.Request) (*service.TransactionFilter, error) {
	q := r.URL.Query()
	filter := &service.TransactionFilter{Limit: defaultPageLimit}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return nil, fmt.Errorf("limit must be a positive integer")
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}
		filter.Limit = limit
	}
	filter.Cursor = q.Get("cursor")

	if v := q.Get("startDate"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return nil, fmt.Errorf("startDate must be YYYY-MM-DD")
		}
		filter.StartDate = &t
	}
	if v := q.Get("endDate"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return nil, fmt.Errorf("endDate must be YYYY-MM-DD")
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		filter.EndDate = &end
	}
	if v := q.Get("month"); v != "" {
		t, err := time.Parse("2006-01", v)
		if err != nil {
			return nil, fmt.Errorf("month must be YYYY-MM")
		}
		setMonthRange(filter, t.Year(), t.Month())
	} else if filter.StartDate == nil && filter.EndDate == nil {
		// Without an explicit range the listing covers the current month.
		now := time.Now().UTC()
		setMonthRange(filter, now.Year(), now.Month())
	}
	if v := q.Get("categoryId"); v != "" {
		filter.CategoryID = &v
	}
	if q.Get("uncategorized") == "true" {
		filter.Uncategorized = true
	}
	if v := q.Get("accountId"); v != "" {
		filter.AccountID = &v
	}
	if v := q.Get("importId"); v != "" {
		filter.ImportID = &v
	}
	if v := q.Get("merchant"); v != "" {
		filter.Merchant = &v
	}
	if v := q.Get("minAmount"); v != "" {
		amount, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("minAmount must be an integer")
		}
		filter.MinAmount = &amount
	}
	if v := q.Get("maxAmount"); v != "" {
		amount, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("maxAmount must be an integer")
		}
		filter.MaxAmount = &amount
	}
	if v := q.Get("tags"); v != "" {
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Tags = append(filter.Tags, tag)
			}
		}
	}
	if v := q.Get("manualOverride"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("manualOverride must be a boolean")
		}
		filter.ManualOverride = &b
	}
	return filter, nil
}

func setMonthRange(filter *service.TransactionFilter, year int, month time.Month) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	filter.StartDate = &start
	filter.EndDate = &end
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := s.store.GetTransaction(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, txn)
}

// transactionUpdateResponse bundles the updated transaction with the rule
// suggestion a correction may emit.
type transactionUpdateResponse struct {
	Transaction    *model.Transaction    `json:"transaction"`
	RuleSuggestion *model.RuleSuggestion `json:"ruleSuggestion,omitempty"`
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CategoryID *string  `json:"categoryId"`
		Notes      *string  `json:"notes"`
		Tags       []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "malformed JSON body")
		return
	}

	txn, suggestion, err := s.ledger.Apply(r.Context(),
		ownerFromContext(r.Context()), chi.URLParam(r, "id"),
		ledger.Update{CategoryID: req.CategoryID, Notes: req.Notes, Tags: req.Tags})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, transactionUpdateResponse{
		Transaction:    txn,
		RuleSuggestion: suggestion,
	})
}

func (s *Server) handleSplitTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Splits []struct {
			Amount     int64   `json:"amount"`
			CategoryID *string `json:"categoryId"`
			Notes      string  `json:"notes"`
		} `json:"splits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "malformed JSON body")
		return
	}

	parts := make([]ledger.SplitPart, 0, len(req.Splits))
	for _, p := range req.Splits {
		parts = append(parts, ledger.SplitPart{
			Amount:     p.Amount,
			CategoryID: p.CategoryID,
			Notes:      p.Notes,
		})
	}

	children, err := s.ledger.Split(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "id"), parts)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, children)
}

func (s *Server) handleUnsplitTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := s.ledger.Unsplit(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, txn)
}

func (s *Server) handleGetSplits(w http.ResponseWriter, r *http.Request) {
	children, err := s.ledger.GetSplits(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, children)
}

func (s *Server) handleRecategorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionIDs         []string `json:"transactionIds"`
		IncludeManualOverrides bool     `json:"includeManualOverrides"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "malformed JSON body")
		return
	}
	if len(req.TransactionIDs) == 0 {
		respondInvalidParameter(w, "transactionIds must not be empty")
		return
	}

	result, err := s.orchestrator.Recategorize(r.Context(),
		ownerFromContext(r.Context()), req.TransactionIDs, req.IncludeManualOverrides)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, result)
}
