package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
)

type accountRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Institution string `json:"institution"`
	LastFour    string `json:"lastFour"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, accounts)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "malformed JSON body")
		return
	}
	if req.Name == "" {
		respondError(w, common.Validationf("account name is required"))
		return
	}
	accountType := model.AccountType(req.Type)
	if !model.ValidAccountType(accountType) {
		respondError(w, common.Validationf("unknown account type %q", req.Type))
		return
	}

	account := &model.Account{
		ID:          uuid.NewString(),
		OwnerID:     ownerFromContext(r.Context()),
		Name:        req.Name,
		Type:        accountType,
		Institution: req.Institution,
		LastFour:    req.LastFour,
	}
	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, account)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.GetAccount(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, account)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	account, err := s.store.GetAccount(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	var req struct {
		Name        *string `json:"name"`
		Type        *string `json:"type"`
		Institution *string `json:"institution"`
		LastFour    *string `json:"lastFour"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "malformed JSON body")
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			respondError(w, common.Validationf("account name must not be empty"))
			return
		}
		account.Name = *req.Name
	}
	if req.Type != nil {
		t := model.AccountType(*req.Type)
		if !model.ValidAccountType(t) {
			respondError(w, common.Validationf("unknown account type %q", *req.Type))
			return
		}
		account.Type = t
	}
	if req.Institution != nil {
		account.Institution = *req.Institution
	}
	if req.LastFour != nil {
		account.LastFour = *req.LastFour
	}

	if err := s.store.UpdateAccount(r.Context(), account); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, account)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	count, err := s.store.CountTransactionsByAccount(r.Context(), owner, id)
	if err != nil {
		respondError(w, err)
		return
	}
	if count > 0 {
		respondError(w, common.Conflictf("account has %d transactions", count))
		return
	}

	if err := s.store.DeleteAccount(r.Context(), owner, id); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListCategories(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, categories)
}
