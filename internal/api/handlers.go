package api

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/SwasthPipe/internal/dataset"
	"github.com/BTreeMap/SwasthPipe/internal/models"
	"github.com/BTreeMap/SwasthPipe/internal/store"
)

// HealthStatus is the result of GET /healthz.
type HealthStatus struct {
	Status string `json:"status"`
}

// ChatList is the result of GET /api/chats.
type ChatList struct {
	Chats []string `json:"chats"`
}

// ChatMessages is the result of GET /api/chats/{chatID}.
type ChatMessages struct {
	ChatID   string              `json:"chat_id"`
	Messages []models.Transcript `json:"messages"`
}

// DatasetResult is the result of the dataset search routes.
type DatasetResult struct {
	Source  dataset.Source `json:"source"`
	Query   string         `json:"query"`
	Results string         `json:"results"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, HealthStatus{Status: "UP"})
}

func (s *Server) listChatsHandler(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		writeError(w, http.StatusServiceUnavailable, "Transcript storage not configured")
		return
	}
	ids, err := s.transcripts.ListConversations(r.Context())
	if err != nil {
		slog.Error("Server.listChatsHandler: failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list chats")
		return
	}
	writeSuccess(w, ChatList{Chats: ids})
}

func (s *Server) getChatHandler(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		writeError(w, http.StatusServiceUnavailable, "Transcript storage not configured")
		return
	}
	chatID := chi.URLParam(r, "chatID")
	messages, err := s.transcripts.GetTranscripts(r.Context(), chatID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Server.getChatHandler: failed to load transcripts", "error", err, "chatID", chatID)
		writeError(w, http.StatusInternalServerError, "Failed to load chat")
		return
	}
	if messages == nil {
		messages = []models.Transcript{}
	}
	writeSuccess(w, ChatMessages{ChatID: chatID, Messages: messages})
}

func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil || s.reports == nil {
		writeError(w, http.StatusServiceUnavailable, "Reports not configured")
		return
	}
	chatID := chi.URLParam(r, "chatID")
	messages, err := s.transcripts.GetTranscripts(r.Context(), chatID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No transcripts for chat")
		return
	}
	if err != nil {
		slog.Error("Server.reportHandler: failed to load transcripts", "error", err, "chatID", chatID)
		writeError(w, http.StatusInternalServerError, "Failed to load chat")
		return
	}

	var buf bytes.Buffer
	if err := s.reports.Render(&buf, chatID, messages); err != nil {
		slog.Error("Server.reportHandler: failed to render report", "error", err, "chatID", chatID)
		writeError(w, http.StatusInternalServerError, "Failed to render report")
		return
	}
	writePDF(w, "report_"+chatID+".pdf", buf.Bytes())
}

func (s *Server) datasetSearchHandler(source dataset.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.datasets == nil {
			writeError(w, http.StatusServiceUnavailable, "Datasets not loaded")
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeError(w, http.StatusBadRequest, "Missing 'q' parameter")
			return
		}
		writeSuccess(w, DatasetResult{
			Source:  source,
			Query:   q,
			Results: s.datasets.Search(source, q),
		})
	}
}
