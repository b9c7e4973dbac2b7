package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/strata-ai/strata/pkg/retrieval"
)

// documentRef is the per-result document summary in retrieval
// responses.
type documentRef struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title,omitempty"`
	Filename string                 `json:"filename,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type retrievalResult struct {
	retrieval.Result
	Document     documentRef `json:"document"`
	CollectionID string      `json:"collection_id"`
}

type retrievalResponse struct {
	Query            string            `json:"query"`
	Mode             retrieval.Mode    `json:"mode"`
	Results          []retrievalResult `json:"results"`
	TotalResults     int               `json:"total_results"`
	ProcessingTimeMS int64             `json:"processing_time_ms"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieval.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user := currentUser(r)
	if req.CollectionID != "" {
		if _, err := s.store.GetCollection(r.Context(), user.ID, req.CollectionID); err != nil {
			writeError(w, r, err)
			return
		}
	}

	start := time.Now()
	resp, err := s.engine.Retrieve(r.Context(), &req)
	if err != nil {
		if isValidationMessage(err) {
			writeError(w, r, invalid(err.Error()))
			return
		}
		writeError(w, r, err)
		return
	}
	s.metrics.ObserveRetrieval(string(resp.Mode), time.Since(start))

	// Hydrate document references once per distinct document.
	docs := map[string]documentRef{}
	results := make([]retrievalResult, 0, len(resp.Results))
	for _, res := range resp.Results {
		ref, ok := docs[res.DocumentID]
		if !ok {
			ref = documentRef{ID: res.DocumentID}
			if doc, err := s.store.GetDocument(r.Context(), user.ID, res.DocumentID); err == nil {
				ref.Title = doc.Title
				ref.Filename = doc.Filename
				ref.Metadata = doc.Metadata
			}
			docs[res.DocumentID] = ref
		}
		results = append(results, retrievalResult{
			Result:       res,
			Document:     ref,
			CollectionID: req.CollectionID,
		})
	}

	writeJSON(w, http.StatusOK, retrievalResponse{
		Query:            req.Query,
		Mode:             resp.Mode,
		Results:          results,
		TotalResults:     resp.Total,
		ProcessingTimeMS: resp.ProcessingTimeMS,
	})
}

// isValidationMessage distinguishes the engine's request validation
// failures from infrastructure errors.
func isValidationMessage(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"query is required",
		"query exceeds",
		"top_k must be",
		"unknown retrieval mode",
		"collection_id is required",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
