package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
	"github.com/ledgerhound/ledgerhound/internal/rules"
	"github.com/ledgerhound/ledgerhound/internal/service"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.rules.List(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, list)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string               `json:"name"`
		Priority   *int                 `json:"priority"`
		Enabled    *bool                `json:"enabled"`
		Conditions model.RuleConditions `json:"conditions"`
		Action     model.RuleAction     `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "malformed JSON body")
		return
	}

	rule, err := s.rules.Create(r.Context(), ownerFromContext(r.Context()), rules.CreateInput{
		Name:       req.Name,
		Priority:   req.Priority,
		Enabled:    req.Enabled,
		Conditions: req.Conditions,
		Action:     req.Action,
		Source:     model.RuleSourceUser,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.Get(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       *string               `json:"name"`
		Enabled    *bool                 `json:"enabled"`
		Priority   *int                  `json:"priority"`
		Conditions *model.RuleConditions `json:"conditions"`
		Action     *model.RuleAction     `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "malformed JSON body")
		return
	}

	rule, err := s.rules.Update(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "id"),
		service.RuleUpdate{
			Name:       req.Name,
			Enabled:    req.Enabled,
			Priority:   req.Priority,
			Conditions: req.Conditions,
			Action:     req.Action,
		})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.Delete(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"deleted": chi.URLParam(r, "id")})
}

func (s *Server) handleReorderRules(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RuleIDs []string `json:"ruleIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "malformed JSON body")
		return
	}

	owner := ownerFromContext(r.Context())
	if err := s.rules.Reorder(r.Context(), owner, req.RuleIDs); err != nil {
		respondError(w, err)
		return
	}

	list, err := s.rules.List(r.Context(), owner)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, list)
}

func (s *Server) handleAcceptSuggestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rule model.RuleTemplate `json:"rule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "malformed JSON body")
		return
	}

	rule, err := s.rules.Accept(r.Context(), ownerFromContext(r.Context()), req.Rule)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, rule)
}

func (s *Server) handleDismissSuggestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MerchantNormalized string `json:"merchantNormalized"`
		CategoryID         string `json:"categoryId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "malformed JSON body")
		return
	}
	if req.MerchantNormalized == "" || req.CategoryID == "" {
		respondError(w, common.Validationf("merchantNormalized and categoryId are required"))
		return
	}

	if err := s.rules.Dismiss(r.Context(), ownerFromContext(r.Context()),
		req.MerchantNormalized, req.CategoryID); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"dismissed": req.MerchantNormalized})
}
