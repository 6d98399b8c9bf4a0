package server

import (
	"net/http"
	"strconv"
	"time"
)

func (s *Server) handleMonthlyOverview(w http.ResponseWriter, r *http.Request) {
	year, month, ok := parseMonth(w, r)
	if !ok {
		return
	}

	overview, err := s.analytics.Overview(r.Context(), ownerFromContext(r.Context()), year, month)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, overview)
}

func (s *Server) handleSpendingTrend(w http.ResponseWriter, r *http.Request) {
	year, month, ok := parseMonth(w, r)
	if !ok {
		return
	}

	months := 6
	if v := r.URL.Query().Get("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondInvalidParameter(w, "months must be an integer")
			return
		}
		months = n
	}

	trend, err := s.analytics.Trend(r.Context(), ownerFromContext(r.Context()), year, month, months)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, trend)
}

// handleCategoryBreakdown serves just the category slice of the monthly
// overview, for clients that only render the breakdown chart.
func (s *Server) handleCategoryBreakdown(w http.ResponseWriter, r *http.Request) {
	year, month, ok := parseMonth(w, r)
	if !ok {
		return
	}

	overview, err := s.analytics.Overview(r.Context(), ownerFromContext(r.Context()), year, month)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, overview.Categories)
}

func (s *Server) handleAccountsOverview(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.analytics.Accounts(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, summaries)
}

// parseMonth reads the month=YYYY-MM query param, defaulting to the current
// UTC month.
func parseMonth(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	now := time.Now().UTC()
	year, month := now.Year(), int(now.Month())

	if v := r.URL.Query().Get("month"); v != "" {
		t, err := time.Parse("2006-01", v)
		if err != nil {
			respondInvalidParameter(w, "month must be YYYY-MM")
			return 0, 0, false
		}
		year, month = t.Year(), int(t.Month())
	}
	return year, month, true
}
