// Пакет server — HTTP-сервер с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goshare/internal/api/handlers"
	"github.com/bigkaa/goshare/internal/api/middleware"
	"github.com/bigkaa/goshare/internal/config"
)

// Handlers — обработчики, монтируемые в роутер.
type Handlers struct {
	Files       *handlers.FilesHandler
	System      *handlers.SystemHandler
	Maintenance *handlers.MaintenanceHandler
	Health      *handlers.HealthHandler
}

// NewRouter собирает маршруты API.
// auth == nil — аутентификация выключена, все запросы анонимные.
func NewRouter(h Handlers, auth *middleware.JWTAuth, logger *slog.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		if auth != nil {
			r.Use(auth.Middleware())
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/info", h.System.GetInfo)

			r.Route("/files", func(r chi.Router) {
				r.Post("/upload", h.Files.UploadFile)
				r.Get("/", h.Files.ListFiles)
				r.Get("/{id}", h.Files.GetFileMetadata)
				r.Get("/{id}/download", h.Files.DownloadFile)
				r.Get("/{id}/qr", h.Files.QRCode)
				r.Delete("/{id}", h.Files.DeleteFile)
			})

			r.Route("/maintenance", func(r chi.Router) {
				r.Use(middleware.RequireScope(middleware.ScopeAdmin))
				r.Post("/sweep", h.Maintenance.Sweep)
				r.Post("/reconcile", h.Maintenance.Reconcile)
			})
		})

		// Маршруты исходного веб-клиента
		r.Route("/api/files", func(r chi.Router) {
			r.Post("/upload", h.Files.UploadFileLegacy)
			r.Get("/", h.Files.ListFilesLegacy)
			r.Get("/file/{id}", h.Files.DownloadFile)
			r.Get("/{id}", h.Files.GetFileMetadataLegacy)
			r.Delete("/{id}", h.Files.DeleteFileLegacy)
		})
	})

	return router
}

// Server — HTTP-сервер.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер. Таймауты чтения тела и записи ответа не
// задаются: загрузка и скачивание ограничены SH_UPLOAD_TIMEOUT и
// SH_DOWNLOAD_TIMEOUT в handlers.
func New(cfg *config.Config, logger *slog.Logger, handler http.Handler) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown с таймаутом
// SH_SHUTDOWN_TIMEOUT.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		tlsEnabled := s.cfg.TLSCert != "" && s.cfg.TLSKey != ""
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", tlsEnabled),
		)

		var err error
		if tlsEnabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
