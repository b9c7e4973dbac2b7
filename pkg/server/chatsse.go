package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/strata-ai/strata/pkg/chat"
	"github.com/strata-ai/strata/pkg/store"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user := currentUser(r)
	if req.Stream != nil && !*req.Stream {
		out, err := s.chat.Complete(r.Context(), user.ID, &req)
		if err != nil {
			s.metrics.ObserveChatTurn(req.ReasoningMode, "error")
			writeChatError(w, r, err)
			return
		}
		s.metrics.ObserveChatTurn(req.ReasoningMode, "done")
		writeJSON(w, http.StatusOK, out)
		return
	}

	events, err := s.chat.Stream(r.Context(), user.ID, &req)
	if err != nil {
		writeChatError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	outcome := "aborted"
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		if ev.Type == chat.EventDone || ev.Type == chat.EventError {
			outcome = ev.Type
		}
	}
	s.metrics.ObserveChatTurn(req.ReasoningMode, outcome)
}

// writeChatError maps pre-stream chat failures; validation phrasing
// from the orchestrator becomes 422.
func writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	msg := err.Error()
	switch {
	case containsAny(msg, "message", "preset", "reasoning mode", "exceeds"):
		writeError(w, r, invalid(msg))
	default:
		writeError(w, r, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	sessions, total, err := s.store.ListSessions(r.Context(), currentUser(r).ID, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*store.ChatSession{}
	}
	writeList(w, sessions, page, total)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	msgs, total, err := s.store.GetMessages(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*store.ChatMessage{}
	}
	writeList(w, msgs, page, total)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteSession(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
