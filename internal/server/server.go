// Package server exposes the relay and its supporting endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/consultrelay/internal/config"
	"github.com/1ureka/consultrelay/internal/relay"
	"github.com/1ureka/consultrelay/internal/transcript"
	"github.com/1ureka/consultrelay/internal/util"
)

const shutdownTimeout = 5 * time.Second

// Server owns the HTTP listener in front of a relay.
type Server struct {
	cfg       config.HTTPConfig
	relay     *relay.Relay
	store     transcript.Store
	metrics   *prometheus.Registry
	startedAt time.Time
}

// New builds a server for r. Metrics are registered on a private registry so
// several servers can coexist in one process.
func New(cfg config.HTTPConfig, r *relay.Relay, store transcript.Store) (*Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := util.RegisterStats(reg, r.Rooms); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return &Server{
		cfg:       cfg,
		relay:     r,
		store:     store,
		metrics:   reg,
		startedAt: time.Now(),
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Browsers connect to the bare host as well as to /ws.
	r.Get("/ws", s.relay.ServeHTTP)
	r.Get("/", s.relay.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(requestLogger)
		r.Get("/socket", s.handleBootstrap)
		r.Get("/health", s.handleHealth)
		r.Get("/rooms/{room}/transcript", s.handleTranscript)
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	return r
}

// requestLogger logs API requests at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		util.LogDebug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// Run listens on the configured address until ctx is cancelled, then shuts
// the HTTP server down and disconnects every relay peer.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	util.LogInfo("server has started", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		s.relay.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	s.relay.Close()
	if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	if err != nil {
		return err
	}

	util.LogInfo("server has stopped", "addr", ln.Addr().String())
	return nil
}
