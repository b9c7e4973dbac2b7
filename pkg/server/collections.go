package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/strata-ai/strata/pkg/store"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	reg, err := s.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if strings.Contains(err.Error(), "invalid email") || strings.Contains(err.Error(), "password") {
			writeError(w, r, invalid(err.Error()))
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

type collectionRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Config      *store.CollectionConfig `json:"config,omitempty"`
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, invalid("name is required"))
		return
	}

	cfg := store.CollectionConfig{}
	if req.Config != nil {
		cfg = *req.Config
	}
	col, err := s.store.CreateCollection(r.Context(), currentUser(r).ID,
		req.Name, req.Description, store.JSONMap(req.Metadata), cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, col)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	cols, total, err := s.store.ListCollections(r.Context(), currentUser(r).ID, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cols == nil {
		cols = []*store.Collection{}
	}
	writeList(w, cols, page, total)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	col, err := s.store.GetCollection(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, col)
}

type collectionPatchRequest struct {
	Name        *string                 `json:"name,omitempty"`
	Description *string                 `json:"description,omitempty"`
	Metadata    map[string]interface{}  `json:"metadata,omitempty"`
	Config      *store.CollectionConfig `json:"config,omitempty"`
}

func (s *Server) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionPatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		writeError(w, r, invalid("name cannot be empty"))
		return
	}

	col, err := s.store.UpdateCollection(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), store.CollectionPatch{
		Name:        req.Name,
		Description: req.Description,
		Metadata:    store.JSONMap(req.Metadata),
		Config:      req.Config,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, col)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	err := s.coordinator.DeleteCollection(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
