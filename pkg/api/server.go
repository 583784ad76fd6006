package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/courierlabs/pushgate/pkg/config"
	"github.com/courierlabs/pushgate/pkg/httperr"
	"github.com/courierlabs/pushgate/pkg/log"
	"github.com/courierlabs/pushgate/pkg/metrics"
	"github.com/courierlabs/pushgate/pkg/middleware"
)

// Server is the gateway's HTTP surface.
type Server struct {
	cfg    *config.Config
	chain  *middleware.Chain
	router chi.Router
	http   *http.Server

	sweepStop chan struct{}
}

// NewServer wires the admission chain and routes around the given store and
// provider pools.
func NewServer(cfg *config.Config, store SubmitStore, ios IOSSender, android AndroidSender) *Server {
	chain := middleware.New(middleware.Options{
		RequireHTTPS:     cfg.RequireHTTPS,
		TrustProxy:       cfg.TrustProxy,
		AllowlistEnabled: cfg.IPAllowlistEnabled,
		AllowedIPs:       cfg.AllowedIPs,
		RateWindow:       cfg.RateLimitWindow,
		RateMax:          cfg.RateLimitMax,
		BodyLimit:        cfg.BodyLimit,
		RequireAuth:      cfg.RequireAuth,
		RequireHMAC:      cfg.RequireHMAC,
		HMACWindow:       cfg.HMACWindow,
		Secrets:          store,
		Nonces:           store,
	})

	s := &Server{
		cfg:       cfg,
		chain:     chain,
		sweepStop: make(chan struct{}),
	}
	s.router = s.routes(&NotifyHandler{Configs: store, IOS: ios, Android: android})
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SubmitStore is the storage surface the server needs: credential reads for
// admission and dispatch, plus nonce consumption.
type SubmitStore interface {
	ConfigSource
	middleware.SecretSource
	middleware.NonceConsumer
}

func (s *Server) routes(notify *NotifyHandler) chi.Router {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(recoverer)
	r.Use(s.chain.SecurityHeaders)
	r.Use(s.chain.EnforceHTTPS)
	r.Use(s.chain.IPAllowlist)
	r.Use(s.chain.RateLimit)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httperr.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "healthy"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(countRequests)
		r.Use(s.chain.CaptureBody)
		r.Use(s.chain.APIKeyAuth)
		r.Use(s.chain.HMACVerify)
		r.Method(http.MethodPost, "/notify", notify)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperr.Write(w, httperr.NotFound("Not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperr.Write(w, httperr.New(http.StatusMethodNotAllowed, "Method not allowed"))
	})

	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	s.chain.Limiter().StartSweeper(time.Minute, s.sweepStop)
	logger := log.WithComponent("api")
	logger.Info().Str("addr", s.http.Addr).Msg("listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests and stops the sweeper.
func (s *Server) Stop(ctx context.Context) error {
	close(s.sweepStop)
	return s.http.Shutdown(ctx)
}

// requestID echoes the caller's X-Request-Id or assigns one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// recoverer converts handler panics into the standard 500 envelope.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger := log.WithComponent("api")
				logger.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				httperr.Write(w, httperr.Internal("Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// countRequests records the submit outcome by status code.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		metrics.RequestsTotal.WithLabelValues(fmt.Sprintf("%d", rec.status)).Inc()
	})
}
