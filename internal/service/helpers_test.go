package service

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goshare/internal/domain/filetype"
	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/lifecycle"
	"github.com/bigkaa/goshare/internal/storage/blob"
	"github.com/bigkaa/goshare/internal/storage/blob/local"
	"github.com/bigkaa/goshare/internal/storage/meta"
	"github.com/bigkaa/goshare/internal/storage/meta/filemeta"
	"github.com/bigkaa/goshare/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// clock — управляемые часы для очистки.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testEnv — менеджер над локальными хранилищами во временной директории.
type testEnv struct {
	m     *lifecycle.Manager
	blobs *local.Store
	metas meta.Store
	wal   *wal.WAL
}

// setupTestEnv собирает окружение. opts передаются менеджеру.
func setupTestEnv(t *testing.T, opts ...lifecycle.Option) *testEnv {
	t.Helper()
	root := t.TempDir()
	logger := testLogger()

	ls, err := local.New(root+"/blobs", logger)
	if err != nil {
		t.Fatalf("Ошибка создания хранилища содержимого: %v", err)
	}
	fm, err := filemeta.New(root+"/meta", logger)
	if err != nil {
		t.Fatalf("Ошибка создания хранилища метаданных: %v", err)
	}
	w, err := wal.New(root+"/wal", logger)
	if err != nil {
		t.Fatalf("Ошибка создания WAL: %v", err)
	}

	cfg := lifecycle.Config{
		MaxFileSize:       1 << 20,
		AllowedTypes:      filetype.Default(),
		MinExpiryDays:     1,
		MaxExpiryDays:     30,
		DefaultExpiryDays: 7,
		ShareBaseURL:      "https://share.example.com",
		SweepBatchSize:    10,
	}
	return &testEnv{
		m:     lifecycle.New(cfg, ls, fm, w, logger, opts...),
		blobs: ls,
		metas: fm,
		wal:   w,
	}
}

// upload загружает текстовый файл со сроком жизни days.
func (e *testEnv) upload(t *testing.T, content string, days int) *model.FileEntry {
	t.Helper()
	entry, err := e.m.Upload(context.Background(), lifecycle.UploadRequest{
		Body:     strings.NewReader(content),
		Filename: "note.txt",
		Size:     int64(len(content)),
	}, &days)
	if err != nil {
		t.Fatalf("Ошибка загрузки: %v", err)
	}
	return entry
}

func (e *testEnv) metaCount(t *testing.T) int {
	t.Helper()
	_, total, err := e.metas.List(context.Background(), meta.Filter{})
	if err != nil {
		t.Fatalf("Ошибка чтения метаданных: %v", err)
	}
	return total
}

func (e *testEnv) blobExists(t *testing.T, key string) bool {
	t.Helper()
	_, err := e.blobs.Stat(context.Background(), key)
	return err == nil
}

// putOrphan записывает содержимое без записи метаданных.
func (e *testEnv) putOrphan(t *testing.T) string {
	t.Helper()
	key := blob.NewKey()
	if _, err := e.blobs.Put(context.Background(), key, strings.NewReader("сирота")); err != nil {
		t.Fatalf("Ошибка записи содержимого: %v", err)
	}
	return key
}
