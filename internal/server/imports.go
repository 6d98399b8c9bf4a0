package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/ingest"
)

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	imports, err := s.store.ListImports(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, imports)
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	imp, err := s.store.GetImport(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, imp)
}

// uploadRequest is the JSON body of an upload: the document travels as
// base64 so the endpoint stays a plain JSON surface.
type uploadRequest struct {
	AccountID string `json:"accountId"`
	Content   string `json:"content"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
}

// handleUploadImport ingests a statement. The body reader is capped above
// the decoded limit (base64 inflates by a third) so an oversized upload is
// refused without buffering it whole.
func (s *Server) handleUploadImport(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if mt := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])); mt != "" && mt != "application/json" {
		respondCode(w, http.StatusUnsupportedMediaType, codeUnsupportedContentType,
			"upload body must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 2*ingest.MaxUploadSize)

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, ingest.ErrFileTooLarge)
			return
		}
		respondBadRequest(w, "malformed JSON body")
		return
	}

	if req.AccountID == "" {
		respondError(w, common.Validationf("accountId is required"))
		return
	}
	if req.Content == "" {
		respondError(w, common.Validationf("content is required"))
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		respondError(w, common.Validationf("content must be base64"))
		return
	}

	result, err := s.pipeline.Run(r.Context(), ingest.Input{
		OwnerID:   ownerFromContext(r.Context()),
		AccountID: req.AccountID,
		Filename:  req.Filename,
		MimeType:  req.MimeType,
		Content:   content,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusCreated, map[string]any{
		"import":  result.Import,
		"created": result.Created,
		"skipped": result.Duplicates + result.Skipped,
	})
}
