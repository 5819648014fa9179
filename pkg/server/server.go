package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elonfeng/modelwatch/internal/artifact"
	"github.com/elonfeng/modelwatch/internal/metrics"
	"github.com/elonfeng/modelwatch/internal/store"
	"github.com/elonfeng/modelwatch/pkg/audit"
	"github.com/elonfeng/modelwatch/pkg/score"
	"github.com/elonfeng/modelwatch/pkg/selector"
)

// Server provides the read-only HTTP API over stored results.
type Server struct {
	store   store.Store
	out     *artifact.Dir
	metrics *metrics.Recorder
	port    int
	logger  *slog.Logger
}

// New creates a new HTTP server. The server never writes; m may be nil.
func New(s store.Store, out *artifact.Dir, m *metrics.Recorder, port int, logger *slog.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:   s,
		out:     out,
		metrics: m,
		port:    port,
		logger:  logger,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/hotlists/{name}", s.handleHotlist)
	mux.HandleFunc("/api/v1/daily/{date}", s.handleDaily)
	mux.HandleFunc("/api/v1/dates", s.handleDates)
	mux.HandleFunc("/api/v1/coverage", s.handleCoverage)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	if reg := s.metrics.Registry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves the API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHotlist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	h, err := s.store.LoadHotlist(r.Context(), r.PathValue("name"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(h.ByCategory) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "hotlist not found"})
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	day := r.PathValue("date")
	if day == "latest" {
		dates, err := s.store.Dates(r.Context(), 1)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if len(dates) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no daily selection yet"})
			return
		}
		day = dates[0]
	} else if _, err := time.Parse(score.DayLayout, day); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
		return
	}

	d, err := s.store.LoadDaily(r.Context(), day)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no selection for " + day})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	dates, err := s.store.Dates(r.Context(), selector.MaxDates)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  dates,
		"count": len(dates),
	})
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var sum audit.Summary
	if err := s.out.Read(artifact.CoverageFile, &sum); err != nil {
		if artifact.Missing(err) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no coverage report yet"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  runs,
		"count": len(runs),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
