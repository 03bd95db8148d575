// Package server is the WireChat reference daemon: durable message and
// notification storage behind a REST API, and per-user topic delivery
// over websockets.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Server ties the store, hub, and REST handlers together.
type Server struct {
	cfg     *Config
	log     *slog.Logger
	store   Store
	hub     *Hub
	metrics *Metrics
	http    *http.Server
}

func New(cfg *Config, store Store, log *slog.Logger) *Server {
	metrics := NewMetrics()
	hub := NewHub(log, metrics)
	handlers := NewHandlers(store, hub, cfg, log, metrics)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		if cfg.AuthToken != "" && req.URL.Query().Get("token") != cfg.AuthToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID := req.URL.Query().Get("userId")
		if userID == "" {
			http.Error(w, "userId is required", http.StatusBadRequest)
			return
		}
		ServeWS(hub, w, req, userID, rate.Limit(cfg.TypingRate), cfg.TypingBurst)
	})

	api := r.PathPrefix("/api").Subrouter()
	api.Use(AuthMiddleware(cfg.AuthToken))
	handlers.Register(api)

	return &Server{
		cfg:     cfg,
		log:     log,
		store:   store,
		hub:     hub,
		metrics: metrics,
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
	}
}

// Hub exposes the fan-out layer, mainly for tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.store.Close()
}
