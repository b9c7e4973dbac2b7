package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/strata-ai/strata/pkg/auth"
	"github.com/strata-ai/strata/pkg/retrieval"
	"github.com/strata-ai/strata/pkg/store"
)

// pagination is the list-response envelope.
type pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

type listResponse struct {
	Data       interface{} `json:"data"`
	Pagination pagination  `json:"pagination"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			slog.Warn("Failed to encode response", "error", err)
		}
	}
}

func writeList(w http.ResponseWriter, data interface{}, page store.Page, total int) {
	writeJSON(w, http.StatusOK, listResponse{
		Data:       data,
		Pagination: pagination{Limit: page.Limit, Offset: page.Offset, Total: total},
	})
}

// validationError is surfaced as 422 with its message.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalid(msg string) error { return &validationError{msg: msg} }

// writeError maps domain errors onto HTTP statuses. Unknown errors get
// a generic 500 with the correlation id, never the raw message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *validationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": ve.msg})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": auth.SanitizeText(err.Error())})
	case errors.Is(err, store.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, retrieval.ErrTimeout):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "retrieval deadline exceeded"})
	default:
		slog.Error("Request failed",
			"error", auth.SanitizeText(err.Error()),
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()))
		writeInternalError(w, r)
	}
}

func writeInternalError(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":      "internal error",
		"request_id": middleware.GetReqID(r.Context()),
	})
}

// decodeBody parses a JSON request body, rejecting unknown garbage as
// a validation error.
func decodeBody(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return invalid("invalid JSON body: " + err.Error())
	}
	return nil
}

func pageFromQuery(r *http.Request) store.Page {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return store.Page{Limit: limit, Offset: offset}.Clamp()
}

func itoa(n int) string { return strconv.Itoa(n) }
