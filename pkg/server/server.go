// Package server exposes the read-only dashboard API: decision history,
// charge sessions, daily summaries, a schedule preview and a live feed of
// persisted records. It never mutates controller state.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/rs/cors"

	"github.com/voltvakt/voltvakt/pkg/log"
	"github.com/voltvakt/voltvakt/pkg/prices"
	"github.com/voltvakt/voltvakt/pkg/storage"
	"github.com/voltvakt/voltvakt/pkg/types"
)

// Server handles the HTTP dashboard API for one controlled system.
type Server struct {
	settings *types.Settings
	db       storage.Database
	provider prices.Provider
	hub      *hub

	listenAddr     string
	allowedOrigins []string
	serverName     string
	httpServer     *http.Server
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(settings *types.Settings, db storage.Database, provider prices.Provider) *Server {
	srv := &Server{
		settings:   settings,
		db:         db,
		provider:   provider,
		hub:        newHub(),
		serverName: "voltvakt",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	allowedOrigins := lflag.String("allowed-origins", "", "comma-delimited list of origins allowed to call the API")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *allowedOrigins != "" {
			srv.allowedOrigins = strings.Split(*allowedOrigins, ",")
			for i, o := range srv.allowedOrigins {
				srv.allowedOrigins[i] = strings.TrimSpace(o)
			}
		}
	})

	return srv
}

// New builds a server without flag registration, for tests.
func New(settings *types.Settings, db storage.Database, provider prices.Provider) *Server {
	return &Server{
		settings:   settings,
		db:         db,
		provider:   provider,
		hub:        newHub(),
		serverName: "voltvakt",
	}
}

// PublishRecord pushes a persisted record to every live-feed subscriber.
// Wire it to the controller's OnRecord hook.
func (s *Server) PublishRecord(rec types.IntervalRecord) {
	s.hub.broadcastRecord(rec)
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/history/intervals", s.handleHistoryIntervals)
	apiMux.HandleFunc("GET /api/history/sessions", s.handleHistorySessions)
	apiMux.HandleFunc("GET /api/summary", s.handleSummary)
	apiMux.HandleFunc("GET /api/prices", s.handlePrices)
	apiMux.HandleFunc("GET /api/schedule", s.handleSchedule)
	apiMux.HandleFunc("GET /api/settings", s.handleSettings)

	mux := http.NewServeMux()
	mux.Handle("/api/", gziphandler.GzipHandler(apiMux))
	// The live feed hijacks the connection, so it must bypass gzip.
	mux.HandleFunc("GET /api/live", s.handleLive)
	mux.HandleFunc("/healthz", s.handleHealthz)

	handler := s.securityHeadersMiddleware(mux)
	if len(s.allowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: s.allowedOrigins,
			AllowedMethods: []string{http.MethodGet},
		}).Handler(handler)
	}
	return s.revisionMiddleware(handler)
}

// Run starts the HTTP server and blocks until the context is canceled or an
// error occurs. It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capture server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		s.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// handleSettings exposes the effective settings. The dashboard renders them;
// changes require a restart.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.settings)
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Strict-Transport-Security: max-age=2 years
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")

		// Prevent MIME-sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
