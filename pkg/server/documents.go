package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/strata-ai/strata/pkg/ingest"
	"github.com/strata-ai/strata/pkg/store"
)

// handleUploadDocument accepts a multipart file upload or, when a
// "url" field is present instead, a remote source submission.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, r, invalid("invalid multipart form: "+err.Error()))
		return
	}

	collectionID := r.FormValue("collection_id")
	if collectionID == "" {
		writeError(w, r, invalid("collection_id is required"))
		return
	}

	var metadata map[string]interface{}
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			writeError(w, r, invalid("metadata must be a JSON object"))
			return
		}
	}

	user := currentUser(r)

	if sourceURL := r.FormValue("url"); sourceURL != "" {
		doc, created, err := s.coordinator.SubmitURL(r.Context(), user.ID, collectionID, sourceURL, metadata)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeDocumentSubmission(w, doc, created)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, invalid("file is required"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if int64(len(content)) > s.cfg.MaxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file exceeds upload limit"})
		return
	}

	doc, created, err := s.coordinator.Submit(r.Context(), &ingest.SubmitRequest{
		UserID:       user.ID,
		CollectionID: collectionID,
		Filename:     header.Filename,
		Title:        r.FormValue("title"),
		ContentType:  header.Header.Get("Content-Type"),
		Metadata:     metadata,
		Content:      content,
	})
	if err != nil {
		if strings.Contains(err.Error(), "unsupported content type") || strings.Contains(err.Error(), "empty document") {
			writeError(w, r, invalid(err.Error()))
			return
		}
		writeError(w, r, err)
		return
	}
	writeDocumentSubmission(w, doc, created)
}

// writeDocumentSubmission returns 202 for a freshly accepted pending
// document and 200 when dedupe handed back an existing one.
func writeDocumentSubmission(w http.ResponseWriter, doc *store.Document, created bool) {
	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	filter := store.DocumentFilter{
		CollectionID: r.URL.Query().Get("collection_id"),
		Status:       store.DocumentStatus(r.URL.Query().Get("status")),
	}
	docs, total, err := s.store.ListDocuments(r.Context(), currentUser(r).ID, filter, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*store.Document{}
	}
	writeList(w, docs, page, total)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type documentPatchRequest struct {
	Title    *string                `json:"title,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var req documentPatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := s.store.UpdateDocument(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), store.DocumentPatch{
		Title:    req.Title,
		Metadata: store.JSONMap(req.Metadata),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	err := s.coordinator.DeleteDocument(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.GetStatus(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRetryDocument(w http.ResponseWriter, r *http.Request) {
	err := s.coordinator.RetryDocument(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleDocumentURL issues a presigned link to the stored original.
func (s *Server) handleDocumentURL(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	key, _ := doc.Metadata["blob_key"].(string)
	if key == "" {
		writeError(w, r, store.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"url":          s.blobs.SignURL(key),
		"expires_in":   int(s.blobs.URLExpiry().Seconds()),
		"filename":     doc.Filename,
		"content_type": doc.ContentType,
	})
}

// handleMedia serves a blob referenced by a presigned URL.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	q := r.URL.Query()
	if err := s.blobs.VerifyURL(key, q.Get("expires"), q.Get("signature")); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid or expired link"})
		return
	}

	rc, err := s.blobs.Open(key)
	if err != nil {
		writeError(w, r, store.ErrNotFound)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	// A failed copy means the client went away mid-download.
	_, _ = io.Copy(w, rc)
}
