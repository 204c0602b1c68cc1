package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"sales-crm-docgen/internal/config"
	"sales-crm-docgen/internal/infra/api/apiv1"
	red "sales-crm-docgen/internal/infra/redis"
)

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

type RouterDeps struct {
	API         *apiv1.Server
	Auth        *AuthManager
	RateLimiter *red.RateLimiter
	HTTP        config.HTTPConfig
	Redis       config.RedisConfig
	Health      map[string]HealthFunc
}

// NewRouter builds the full handler tree. Generation routes skip the request
// timeout: sync generation carries its own deadline and streams are unbounded.
func NewRouter(d RouterDeps, logger *zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(logger), Recover(logger))

	r.Get("/health", healthHandler(d.Health))
	r.Handle("/metrics", promhttp.Handler())

	rt := d.API.Routes()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(d.Auth))

		r.With(RateLimit(d.RateLimiter, "documents", d.Redis.RateLimit, d.Redis.RateWindow, logger)).
			Post("/documents", rt.Generate)

		r.Group(func(r chi.Router) {
			r.Use(Timeout(d.HTTP.RequestTimeout))
			r.With(RateLimit(d.RateLimiter, "jobs", d.Redis.RateLimit, d.Redis.RateWindow, logger)).
				Post("/jobs", rt.CreateJob)
			r.Get("/jobs/{id}", rt.GetJob)
			r.Post("/jobs/{id}/claim", rt.ClaimJob)
			r.Put("/credentials/{provider}", rt.PutCredential)
		})
	})
	return r
}

func healthHandler(checks map[string]HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		var errs []error
		for name, check := range checks {
			if err := check(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
		if err := errors.Join(errs...); err != nil {
			apiv1.WriteError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// Server is the HTTP listener with graceful shutdown.
type Server struct {
	srv *http.Server
	log *zerolog.Logger
}

func NewServer(port int, h http.Handler, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "HTTPServer").Logger()
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: &l,
	}
}

// Run serves until ctx is done, then shuts down within grace.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	s.log.Info().Msg("HTTP server shutting down")
	return s.srv.Shutdown(shutdownCtx)
}
