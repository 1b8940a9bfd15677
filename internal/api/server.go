package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sheriff-roster-crawler/internal/metrics"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/worker"
)

const shutdownTimeout = 5 * time.Second

// Progress is a point-in-time view of a run.
type Progress struct {
	RunID     string         `json:"run_id"`
	Started   time.Time      `json:"started_at"`
	Finished  *time.Time     `json:"finished_at,omitempty"`
	Sources   []string       `json:"sources"`
	Completed []worker.Stats `json:"completed"`
}

// Pending lists selected sources that have not finished yet.
func (p Progress) Pending() []string {
	done := make(map[string]struct{}, len(p.Completed))
	for _, s := range p.Completed {
		done[s.Source] = struct{}{}
	}
	out := make([]string, 0, len(p.Sources))
	for _, s := range p.Sources {
		if _, ok := done[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// ProgressSource reports the current run. ok is false before a run starts.
type ProgressSource interface {
	Progress() (p Progress, ok bool)
}

// SiteLister lists the sources the harvester knows about.
type SiteLister interface {
	Sources() []string
}

// Server serves the operator endpoints.
type Server struct {
	router   chi.Router
	progress ProgressSource
	sites    SiteLister
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(progress ProgressSource, sites SiteLister, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		progress: progress,
		sites:    sites,
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sites", s.listSites)
		r.Route("/run", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Get("/sources/{source}", s.getSource)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown ops server: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.progress == nil {
		writeError(w, http.StatusServiceUnavailable, "no run")
		return
	}
	if _, ok := s.progress.Progress(); !ok {
		writeError(w, http.StatusServiceUnavailable, "run not started")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listSites(w http.ResponseWriter, _ *http.Request) {
	if s.sites == nil {
		writeJSON(w, http.StatusOK, map[string][]string{"sites": {}})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sites": s.sites.Sources()})
}

type runResponse struct {
	Progress
	Pending []string `json:"pending"`
}

func (s *Server) getRun(w http.ResponseWriter, _ *http.Request) {
	p, ok := s.current(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Progress: p, Pending: p.Pending()})
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	p, ok := s.current(w)
	if !ok {
		return
	}
	source := chi.URLParam(r, "source")
	for _, stats := range p.Completed {
		if strings.EqualFold(stats.Source, source) {
			writeJSON(w, http.StatusOK, stats)
			return
		}
	}
	for _, pending := range p.Pending() {
		if strings.EqualFold(pending, source) {
			writeJSON(w, http.StatusAccepted, map[string]string{"source": pending, "status": "running"})
			return
		}
	}
	writeError(w, http.StatusNotFound, "source not in run")
}

func (s *Server) current(w http.ResponseWriter) (Progress, bool) {
	if s.progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress unavailable")
		return Progress{}, false
	}
	p, ok := s.progress.Progress()
	if !ok {
		writeError(w, http.StatusNotFound, "no run in progress")
		return Progress{}, false
	}
	return p, true
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
