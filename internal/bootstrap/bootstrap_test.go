package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goshare/internal/config"
	"github.com/bigkaa/goshare/internal/domain/filetype"
	"github.com/bigkaa/goshare/internal/domain/policy"
	"github.com/bigkaa/goshare/internal/lifecycle"
	"github.com/bigkaa/goshare/internal/storage/meta/cached"
	"github.com/bigkaa/goshare/internal/storage/meta/filemeta"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func localConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		BlobBackend:       config.BlobLocal,
		DataDir:           filepath.Join(dir, "data"),
		MetaBackend:       config.MetaFile,
		MetaDir:           filepath.Join(dir, "meta"),
		WALDir:            filepath.Join(dir, "wal"),
		MaxFileSize:       1 << 20,
		AllowedTypes:      filetype.Default(),
		MinExpiryDays:     1,
		MaxExpiryDays:     30,
		DefaultExpiryDays: 7,
		ShareBaseURL:      "http://localhost:3000",
		SweepBatchSize:    100,
		CacheSize:         16,
		CacheTTL:          time.Minute,
	}
}

func TestBuild_LocalBackends(t *testing.T) {
	cfg := localConfig(t)

	app, err := Build(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer app.Close()

	_, isFile := app.Metas.(*filemeta.Store)
	assert.True(t, isFile, "файловые метаданные не оборачиваются кэшем")
	assert.Nil(t, app.SQLDB)

	pingers := app.Pingers()
	require.Contains(t, pingers, "blob")
	require.Contains(t, pingers, "meta")
	for name, p := range pingers {
		assert.NoError(t, p.Ping(context.Background()), name)
	}

	entry, err := app.Manager.Upload(context.Background(), lifecycle.UploadRequest{
		Body:     strings.NewReader("hello"),
		Filename: "hello.txt",
		Size:     5,
	}, nil)
	require.NoError(t, err)

	got, err := app.Manager.Get(context.Background(), entry.ID, policy.Anonymous)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.SizeBytes)
}

func TestBuild_SQLiteWithCache(t *testing.T) {
	cfg := localConfig(t)
	cfg.MetaBackend = config.MetaSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "meta.db")

	app, err := Build(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer app.Close()

	_, isCached := app.Metas.(*cached.Store)
	assert.True(t, isCached, "удалённые метаданные оборачиваются LRU-кэшем")
	assert.NoError(t, app.Pingers()["meta"].Ping(context.Background()))
}

func TestBuild_UnknownBackend(t *testing.T) {
	cfg := localConfig(t)
	cfg.MetaBackend = "redis"

	_, err := Build(context.Background(), cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}
