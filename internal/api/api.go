// Package api provides the HTTP server for SwasthPipe: health checks,
// transcript browsing, dataset search and the Twilio webhook.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/SwasthPipe/internal/dataset"
	"github.com/BTreeMap/SwasthPipe/internal/models"
	"github.com/BTreeMap/SwasthPipe/internal/store"
)

// Constants for server configuration
const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout guards against slow clients.
	DefaultReadHeaderTimeout = 10 * time.Second
)

// DatasetSearcher looks up dataset context for a query.
type DatasetSearcher interface {
	Search(source dataset.Source, query string) string
}

// ReportRenderer writes a transcript report.
type ReportRenderer interface {
	Render(w io.Writer, conversationID string, transcripts []models.Transcript) error
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	transcripts   store.TranscriptStore
	datasets      DatasetSearcher
	reports       ReportRenderer
	twilioWebhook http.HandlerFunc
	router        chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithTranscriptStore enables the /api/chats routes.
func WithTranscriptStore(s store.TranscriptStore) Option {
	return func(srv *Server) { srv.transcripts = s }
}

// WithDatasets enables the dataset search routes.
func WithDatasets(d DatasetSearcher) Option {
	return func(srv *Server) { srv.datasets = d }
}

// WithReportRenderer enables PDF reports.
func WithReportRenderer(r ReportRenderer) Option {
	return func(srv *Server) { srv.reports = r }
}

// WithTwilioWebhook mounts the Twilio inbound webhook.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(srv *Server) { srv.twilioWebhook = h }
}

// NewServer builds the router.
func NewServer(opts ...Option) *Server {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	r.Route("/api", func(r chi.Router) {
		r.Get("/chats", s.listChatsHandler)
		r.Get("/chats/{chatID}", s.getChatHandler)
		r.Get("/chats/{chatID}/report.pdf", s.reportHandler)
		r.Get("/dataset1/search", s.datasetSearchHandler(dataset.Primary))
		r.Get("/dataset2/search", s.datasetSearchHandler(dataset.Supplementary))
	})
	if s.twilioWebhook != nil {
		r.Post("/webhooks/twilio", s.twilioWebhook)
	}
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("API server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
		return err
	}
	return nil
}

// requestLogger logs each request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"requestID", middleware.GetReqID(r.Context()))
	})
}
