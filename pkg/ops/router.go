// Package ops serves the worker operational surface: liveness, readiness
// against dependency pingers, and the Prometheus scrape endpoint.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/picknest-core/pkg/config"
	"github.com/angelmondragon/picknest-core/pkg/logger"
)

const (
	readyTimeout    = 3 * time.Second
	shutdownTimeout = 5 * time.Second
	envHeader       = "X-Picknest-Env"
)

// Pinger is any dependency with a health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewRouter builds the ops router. checks are keyed by dependency name.
func NewRouter(cfg *config.Config, logg *logger.Logger, gatherer prometheus.Gatherer, checks map[string]Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	env := ""
	if cfg != nil {
		env = cfg.App.Env
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set(envHeader, env)
			writeJSON(w, http.StatusOK, envelope{Data: map[string]string{"status": "live"}})
		})
		r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set(envHeader, env)
			results, healthy := runChecks(req.Context(), checks)
			if !healthy {
				if logg != nil {
					logg.Warn(logg.WithField(req.Context(), "checks", results), "ops.ready.degraded")
				}
				writeJSON(w, http.StatusServiceUnavailable, envelope{Data: results, Error: "dependency unavailable"})
				return
			}
			writeJSON(w, http.StatusOK, envelope{Data: results})
		})
	})

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func runChecks(ctx context.Context, checks map[string]Pinger) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := checks[name].Ping(ctx); err != nil {
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}
	return results, healthy
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logg *logger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if logg != nil {
			logg.Info(logg.WithField(ctx, "addr", addr), "ops server listening")
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
