// Пакет bootstrap собирает хранилища и менеджер по конфигурации.
// Используется всеми командами CLI.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/bigkaa/goshare/internal/api/handlers"
	"github.com/bigkaa/goshare/internal/config"
	"github.com/bigkaa/goshare/internal/database"
	"github.com/bigkaa/goshare/internal/domain/policy"
	"github.com/bigkaa/goshare/internal/lifecycle"
	"github.com/bigkaa/goshare/internal/storage/blob"
	"github.com/bigkaa/goshare/internal/storage/blob/gridfs"
	"github.com/bigkaa/goshare/internal/storage/blob/local"
	s3store "github.com/bigkaa/goshare/internal/storage/blob/s3"
	"github.com/bigkaa/goshare/internal/storage/meta"
	"github.com/bigkaa/goshare/internal/storage/meta/cached"
	"github.com/bigkaa/goshare/internal/storage/meta/filemeta"
	mongometa "github.com/bigkaa/goshare/internal/storage/meta/mongo"
	"github.com/bigkaa/goshare/internal/storage/meta/postgres"
	"github.com/bigkaa/goshare/internal/storage/meta/sqlite"
	"github.com/bigkaa/goshare/internal/storage/wal"
)

// metaCollection — коллекция метаданных в MongoDB.
const metaCollection = "files"

// App — собранные компоненты сервиса.
type App struct {
	Blobs   blob.Store
	Metas   meta.Store
	WAL     *wal.WAL
	Manager *lifecycle.Manager

	// SQLDB — database/sql поверх пула PostgreSQL для проверок dephealth.
	// nil, если метаданные хранятся не в PostgreSQL.
	SQLDB *sql.DB

	pool   *pgxpool.Pool
	mongo  *mongo.Client
	logger *slog.Logger
}

// Build подключается к бэкендам и создаёт менеджер.
// При ошибке уже открытые подключения закрываются.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	app := &App{logger: logger.With(slog.String("component", "bootstrap"))}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	if cfg.BlobBackend == config.BlobGridFS || cfg.MetaBackend == config.MetaMongo {
		if app.mongo, err = database.ConnectMongo(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	if app.Blobs, err = app.openBlobs(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if app.Metas, err = app.openMeta(ctx, cfg, logger); err != nil {
		return nil, err
	}

	if app.WAL, err = wal.New(cfg.WALDir, logger); err != nil {
		return nil, fmt.Errorf("ошибка инициализации WAL: %w", err)
	}

	app.Manager = lifecycle.New(lifecycle.Config{
		MaxFileSize:       cfg.MaxFileSize,
		AllowedTypes:      cfg.AllowedTypes,
		MinExpiryDays:     cfg.MinExpiryDays,
		MaxExpiryDays:     cfg.MaxExpiryDays,
		DefaultExpiryDays: cfg.DefaultExpiryDays,
		ShareBaseURL:      cfg.ShareBaseURL,
		Policy:            policy.Policy{PrivateFiles: cfg.PrivateFiles},
		SweepBatchSize:    cfg.SweepBatchSize,
		StorageRetries:    cfg.StorageRetries,
		StorageRetryDelay: cfg.StorageRetryDelay,
	}, app.Blobs, app.Metas, app.WAL, logger)

	app.logger.Info("Хранилища инициализированы",
		slog.String("blob_backend", cfg.BlobBackend),
		slog.String("meta_backend", cfg.MetaBackend),
		slog.Bool("meta_cache", cfg.CacheSize > 0 && cfg.MetaBackend != config.MetaFile),
	)
	return app, nil
}

func (a *App) openBlobs(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blob.Store, error) {
	switch cfg.BlobBackend {
	case config.BlobLocal:
		s, err := local.New(cfg.DataDir, logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации локального хранилища: %w", err)
		}
		return s, nil

	case config.BlobGridFS:
		s, err := gridfs.New(a.mongo.Database(cfg.MongoDB), cfg.GridFSBucket, logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации GridFS: %w", err)
		}
		return s, nil

	case config.BlobS3:
		client, err := s3store.NewClient(ctx, s3store.Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		s, err := s3store.New(ctx, client, cfg.S3Bucket, cfg.S3Prefix, logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации S3: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("неизвестный бэкенд содержимого %q", cfg.BlobBackend)
}

func (a *App) openMeta(ctx context.Context, cfg *config.Config, logger *slog.Logger) (meta.Store, error) {
	var (
		store meta.Store
		err   error
	)

	switch cfg.MetaBackend {
	case config.MetaFile:
		// Файловый бэкенд держит индекс в памяти, кэш ему не нужен
		s, err := filemeta.New(cfg.MetaDir, logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации файловых метаданных: %w", err)
		}
		return s, nil

	case config.MetaPostgres:
		if err := database.Migrate(cfg, logger); err != nil {
			return nil, err
		}
		if a.pool, err = database.Connect(ctx, cfg, logger); err != nil {
			return nil, err
		}
		a.SQLDB = stdlib.OpenDBFromPool(a.pool)
		store = postgres.New(a.pool)

	case config.MetaMongo:
		if store, err = mongometa.New(ctx, a.mongo.Database(cfg.MongoDB), metaCollection); err != nil {
			return nil, fmt.Errorf("ошибка инициализации метаданных MongoDB: %w", err)
		}

	case config.MetaSQLite:
		if store, err = sqlite.Open(cfg.SQLitePath); err != nil {
			return nil, fmt.Errorf("ошибка инициализации SQLite: %w", err)
		}

	default:
		return nil, fmt.Errorf("неизвестный бэкенд метаданных %q", cfg.MetaBackend)
	}

	if cfg.CacheSize > 0 {
		store = cached.New(store, cfg.CacheSize, cfg.CacheTTL)
	}
	return store, nil
}

// Pingers возвращает хранилища для readiness probe.
func (a *App) Pingers() map[string]handlers.Pinger {
	pingers := map[string]handlers.Pinger{}
	if p, ok := a.Blobs.(meta.Pinger); ok {
		pingers["blob"] = p
	}
	if p, ok := a.Metas.(meta.Pinger); ok {
		pingers["meta"] = p
	}
	return pingers
}

// Close закрывает хранилища и подключения. Безопасен для частично
// собранного App.
func (a *App) Close() {
	if a.Metas != nil {
		if err := a.Metas.Close(); err != nil {
			a.logger.Warn("Ошибка закрытия хранилища метаданных", slog.String("error", err.Error()))
		}
	}
	if a.SQLDB != nil {
		_ = a.SQLDB.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.mongo != nil {
		if err := a.mongo.Disconnect(context.Background()); err != nil {
			a.logger.Warn("Ошибка отключения от MongoDB", slog.String("error", err.Error()))
		}
	}
}
