// Package httpapi exposes the operator HTTP surface: health, metrics and
// per-user record export.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Veraticus/tonometer/internal/series"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json; charset=utf-8"
	contentTypeCSV    = "text/csv; charset=utf-8"
	contentTypeText   = "text/plain; charset=utf-8"

	paramUserID     = "userID"
	requestTimeout  = 30 * time.Second
	readHeaderLimit = 10 * time.Second
)

// Exporter returns a user's durable record.
type Exporter interface {
	Export(ctx context.Context, userID string) ([]byte, error)
}

// httpError is an error with a status code and a message safe to show clients.
type httpError struct {
	cause   error
	message string
	code    int
}

func (e *httpError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%d %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%d %s", e.code, e.message)
}

func (e *httpError) Unwrap() error {
	return e.cause
}

// appHandler is a handler that reports failures by returning them.
type appHandler func(w http.ResponseWriter, r *http.Request) error

// handle adapts an appHandler, mapping returned errors to JSON error responses.
func handle(logger *slog.Logger, h appHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}

		code := http.StatusInternalServerError
		message := "internal server error"
		level := slog.LevelError

		var httpErr *httpError
		if errors.As(err, &httpErr) {
			code = httpErr.code
			message = httpErr.message
			if code < http.StatusInternalServerError {
				level = slog.LevelWarn
			}
		}

		logger.Log(r.Context(), level, "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", code),
			slog.Any("error", err))

		respondJSON(w, code, map[string]string{"error": message})
	}
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		code = http.StatusInternalServerError
		body = []byte(`{"error":"internal server error"}`)
	}
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// NewRouter builds the HTTP routes.
func NewRouter(store Exporter, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "http"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", handleHealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/users/{"+paramUserID+"}", func(r chi.Router) {
		r.Get("/readings.csv", handle(logger, exportReadings(store)))
	})

	return r
}

func handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(headerContentType, contentTypeText)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func exportReadings(store Exporter) appHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		userID := chi.URLParam(r, paramUserID)
		if userID == "" {
			return &httpError{code: http.StatusBadRequest, message: "user id is required"}
		}

		data, err := store.Export(r.Context(), userID)
		if errors.Is(err, series.ErrNotFound) {
			return &httpError{code: http.StatusNotFound, message: "no readings for user", cause: err}
		}
		if err != nil {
			return fmt.Errorf("export %s: %w", userID, err)
		}

		w.Header().Set(headerContentType, contentTypeCSV)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", userID+".csv"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return nil
	}
}

// Server runs the router on a TCP listener.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server for addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderLimit,
		},
		logger: slog.Default().With(slog.String("component", "http")),
	}
}

// ListenAndServe serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}

	s.logger.InfoContext(ctx, "http server listening", slog.String("addr", ln.Addr().String()))

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
