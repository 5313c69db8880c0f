package record

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	config "github.com/kolla/backend/config/record"
	"github.com/kolla/backend/gateways/record/handler"
	"github.com/kolla/backend/services/pipeline/metrics"
)

type Server struct {
	cfg     *config.Config
	log     *slog.Logger
	met     *metrics.Metrics
	handler *handler.Handler
}

func New(cfg *config.Config, h *handler.Handler, met *metrics.Metrics, log *slog.Logger) *Server {
	log.Info("creating new record server")
	log.Debug("server config",
		slog.Int("port", cfg.Port),
		slog.String("allowed_origins", cfg.AllowedOrigins),
		slog.String("sign_service_url", cfg.SignService.Url),
		slog.Int("sign_service_port", cfg.SignService.Port))
	return &Server{
		cfg:     cfg,
		log:     log,
		met:     met,
		handler: h,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.log.Info("starting record server")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(s.cfg.AllowedOrigins, ","),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.log.Debug("registering routes")
	s.handler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())
	s.log.Info("routes registered successfully")

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.log.Info("HTTP server configured", slog.String("addr", addr))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info("record gateway started", slog.String("address", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		s.log.Error("server error received", slog.String("error", err.Error()))
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		s.log.Info("start shutdown", slog.String("signal", sig.String()))
		return s.stop(srv)
	case <-ctx.Done():
		s.log.Info("closing server due to context cancellation")
		return s.stop(srv)
	}
}

func (s *Server) stop(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.log.Info("shutting down HTTP server gracefully")
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Error("graceful shutdown failed", slog.String("error", err.Error()))
		srv.Close()
		return fmt.Errorf("failed to gracefully shutdown server: %w", err)
	}
	s.log.Info("server shutdown completed successfully")
	return nil
}

// requestMetrics counts every request by method, matched route pattern
// and status code.
func (s *Server) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.met == nil {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		s.met.HTTPRequests.WithLabelValues(
			r.Method, endpoint, strconv.Itoa(ww.Status())).Inc()
	})
}
