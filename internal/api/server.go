package api

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/mattjoyce/mediaflow/internal/dispatch"
	"github.com/mattjoyce/mediaflow/internal/events"
	"github.com/mattjoyce/mediaflow/internal/guard"
	"github.com/mattjoyce/mediaflow/internal/history"
	"github.com/mattjoyce/mediaflow/internal/session"
	"github.com/mattjoyce/mediaflow/internal/workspace"
)

// JobDispatcher accepts batches and cancel requests.
type JobDispatcher interface {
	SubmitBatch(ctx context.Context, clientID, service string, files []dispatch.Upload) (dispatch.Receipt, error)
	RequestCancel(ctx context.Context, clientID, service string) error
	Services() []string
}

// ProgressReader serves progress reads under each service's terminal policy.
type ProgressReader interface {
	GetProgress(clientID, service string) session.Progress
}

// ArtifactStore exposes the persistent area of each client.
type ArtifactStore interface {
	List(service, clientID string) ([]workspace.ArtifactGroup, error)
	OpenFile(service, clientID, rel string) (*os.File, fs.FileInfo, error)
	Resolve(service, clientID, baseName string) ([]string, error)
	Delete(ctx context.Context, service, clientID, baseName string) (int, error)
	WriteArchive(ctx context.Context, w io.Writer, service, clientID string, rels []string) error
	Preview(service, clientID, baseName string) (string, string, error)
}

// HistoryReader lists recent job outcomes.
type HistoryReader interface {
	Recent(ctx context.Context, clientID, service string, limit int) ([]history.Entry, error)
}

// EventSource is the lifecycle event stream.
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
	SnapshotSince(lastID int64) []events.Event
}

// GuardStats reports the transcription guard for /healthz.
type GuardStats interface {
	Stats() guard.Stats
}

// Config holds API server configuration
type Config struct {
	Listen            string
	TrustProxyHeaders bool
	CORSOrigins       []string
	MaxUploadBytes    int64
	ExposeAllEvents   bool
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	dispatcher JobDispatcher
	progress   ProgressReader
	artifacts  ArtifactStore
	history    HistoryReader
	events     EventSource
	guard      GuardStats
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a new API server instance. history and guard may be nil.
func New(config Config, dispatcher JobDispatcher, progress ProgressReader, artifacts ArtifactStore, history HistoryReader, hub EventSource, guard GuardStats, logger *slog.Logger) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 2 << 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		progress:   progress,
		artifacts:  artifacts,
		history:    history,
		events:     hub,
		guard:      guard,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Uploads and archive downloads can be large; no overall write deadline.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Disposition"},
	}).Handler)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)
	r.Get("/events", s.handleEvents)

	r.Route("/{service}", func(r chi.Router) {
		r.Use(s.serviceMiddleware)
		r.Post("/upload", s.handleUpload)
		r.Post("/cancel", s.handleCancel)
		r.Get("/progress", s.handleProgress)
		r.Get("/files", s.handleListFiles)
		r.Delete("/files/{base}", s.handleDeleteFiles)
		r.Get("/download/*", s.handleDownload)
		r.Get("/download-single/{base}", s.handleDownloadSingle)
		r.Get("/batch-download", s.handleBatchDownload)
		r.Get("/preview/{base}", s.handlePreview)
		r.Get("/history", s.handleHistory)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
