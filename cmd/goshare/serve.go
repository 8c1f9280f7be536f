package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goshare/internal/api/handlers"
	"github.com/bigkaa/goshare/internal/api/middleware"
	"github.com/bigkaa/goshare/internal/bootstrap"
	"github.com/bigkaa/goshare/internal/config"
	"github.com/bigkaa/goshare/internal/server"
	"github.com/bigkaa/goshare/internal/service"
)

// Параметры клиента JWKS.
const (
	jwksClientTimeout   = 10 * time.Second
	jwksRefreshInterval = 15 * time.Minute
	jwtLeeway           = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP-сервер с фоновой очисткой и сверкой",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	logger := config.SetupLogger(cfg)
	logger.Info("goshare запускается",
		slog.String("instance_id", cfg.InstanceID),
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("blob_backend", cfg.BlobBackend),
		slog.String("meta_backend", cfg.MetaBackend),
	)

	// --- Инициализация компонентов ---

	// 1. Хранилища, WAL и менеджер
	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилищ", slog.String("error", err.Error()))
		return err
	}
	defer app.Close()

	// 2. Восстановление: все транзакции из журнала остались от прошлого запуска
	recovered, err := app.Manager.Recover(ctx, 0)
	if err != nil {
		logger.Error("Ошибка восстановления WAL", slog.String("error", err.Error()))
		return err
	}
	if recovered.Pending > 0 {
		logger.Warn("Обработаны незавершённые WAL-транзакции",
			slog.Int("pending", recovered.Pending),
			slog.Int("completed", recovered.Completed),
			slog.Int("rolled_back", recovered.RolledBack),
			slog.Int("failed", recovered.Failed),
		)
	}

	// 3. Фоновые процессы
	sweeper := service.NewSweeper(app.Manager, cfg.SweepSchedule, logger)
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("Ошибка запуска очистки", slog.String("error", err.Error()))
		return err
	}
	defer sweeper.Stop()

	reconciler := service.NewReconciler(app.Manager, app.Blobs, app.Metas, app.WAL,
		cfg.ReconcileInterval, cfg.ReconcileGrace, logger)
	reconciler.Start(ctx)
	defer reconciler.Stop()

	// 4. topologymetrics — мониторинг зависимостей
	var depHealth handlers.DependencyHealth
	dephealthSvc, err := service.NewDephealthService(
		cfg.InstanceID,
		cfg.DephealthGroup,
		service.Dependencies{JWKSURL: cfg.JWKSUrl, DB: app.SQLDB, PGURL: postgresURL(cfg)},
		cfg.DephealthCheckInterval,
		logger,
	)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		logger.Info("Внешних зависимостей нет, topologymetrics не запускается")
	case err != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	default:
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		} else {
			depHealth = dephealthSvc
			defer dephealthSvc.Stop()
			logger.Info("topologymetrics запущен",
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 5. Аутентификация
	auth, err := newAuth(cfg, logger)
	if err != nil {
		logger.Error("Ошибка настройки аутентификации", slog.String("error", err.Error()))
		return err
	}

	// 6. Handlers
	var diskUsage handlers.DiskUsageFunc
	if cfg.BlobBackend == config.BlobLocal {
		diskUsage = diskUsageFn(cfg.DataDir)
	}
	router := server.NewRouter(server.Handlers{
		Files: handlers.NewFilesHandler(app.Manager, cfg.MaxFileSize,
			cfg.UploadTimeout, cfg.DownloadTimeout, logger),
		System:      handlers.NewSystemHandler(cfg, app.Manager, diskUsage, logger),
		Maintenance: handlers.NewMaintenanceHandler(sweeper, reconciler, logger),
		Health:      handlers.NewHealthHandler(cfg.WALDir, app.Pingers(), depHealth),
	}, auth, logger)

	// 7. HTTP-сервер
	if err := server.New(cfg, logger, router).Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Остановка фоновых процессов...")
	return nil
}

// newAuth выбирает проверку токенов: JWKS (RS256) или общий секрет (HS256).
// nil — аутентификация выключена, все запросы анонимные.
func newAuth(cfg *config.Config, logger *slog.Logger) (*middleware.JWTAuth, error) {
	switch {
	case cfg.JWKSUrl != "":
		auth, err := middleware.NewJWKSAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			CACertPath:      cfg.JWKSCACert,
			ClientTimeout:   jwksClientTimeout,
			RefreshInterval: jwksRefreshInterval,
			JWTLeeway:       jwtLeeway,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации JWKS: %w", err)
		}
		logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))
		return auth, nil

	case cfg.JWTSecret != "":
		logger.Info("JWT аутентификация настроена по общему секрету")
		return middleware.NewSecretAuth([]byte(cfg.JWTSecret), jwtLeeway, logger), nil
	}

	logger.Warn("Аутентификация выключена: все загрузки анонимные")
	return nil, nil
}

// postgresURL — адрес PostgreSQL без учётных данных для меток dephealth.
func postgresURL(cfg *config.Config) string {
	if cfg.MetaBackend != config.MetaPostgres {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.DBHost, strconv.Itoa(cfg.DBPort)),
		Path:   "/" + cfg.DBName,
	}
	return u.String()
}

// diskUsageFn возвращает функцию для получения информации об ёмкости диска.
func diskUsageFn(dataDir string) handlers.DiskUsageFunc {
	return func() (int64, int64, int64, error) {
		return getDiskUsage(dataDir)
	}
}
