package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/census-etl/pkg/metrics"
	"github.com/Sternrassler/census-etl/pkg/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// status is what the status server reports on. The runner is set once the
// reference data is loaded.
type status struct {
	redis *redis.Client

	mu     sync.RWMutex
	runner *pipeline.Runner
}

func newStatus(rdb *redis.Client) *status {
	return &status{redis: rdb}
}

func (s *status) setRunner(r *pipeline.Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runner = r
}

func (s *status) currentRunner() *pipeline.Runner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runner
}

func newRouter(st *status) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(st))
	r.Get("/status", statusHandler(st))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports ready once the run has started and Redis, when
// configured, answers.
func readyHandler(st *status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st.currentRunner() == nil {
			http.Error(w, "reference data not loaded", http.StatusServiceUnavailable)
			return
		}

		if st.redis != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := st.redis.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// statusHandler serves the run progress as JSON.
func statusHandler(st *status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		runner := st.currentRunner()
		if runner == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"state": "loading"})
			return
		}

		json.NewEncoder(w).Encode(runner.Progress())
	}
}

func startStatusServer(addr string, st *status, logger zerolog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(st),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("Status server failed")
		}
	}()

	return srv
}

func shutdownStatusServer(srv *http.Server, timeout time.Duration, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Status server shutdown")
		return
	}
	logger.Info().Msg("Status server stopped")
}
