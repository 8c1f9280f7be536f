package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goshare/internal/domain/filetype"
	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/storage/blob"
	"github.com/bigkaa/goshare/internal/storage/blob/local"
	"github.com/bigkaa/goshare/internal/storage/meta"
	"github.com/bigkaa/goshare/internal/storage/meta/filemeta"
	"github.com/bigkaa/goshare/internal/storage/wal"
)

var errInjected = errors.New("сбой хранилища")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeClock — управляемые часы.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// faultyMeta — хранилище метаданных с внедряемыми сбоями.
// Счётчик > 0 — столько следующих вызовов завершится ошибкой, < 0 — все.
type faultyMeta struct {
	meta.Store
	failCreate atomic.Int32
	failGet    atomic.Int32
	failDelete atomic.Int32
	gets       atomic.Int32
}

func fail(counter *atomic.Int32) bool {
	for {
		n := counter.Load()
		switch {
		case n < 0:
			return true
		case n == 0:
			return false
		case counter.CompareAndSwap(n, n-1):
			return true
		}
	}
}

func (f *faultyMeta) Create(ctx context.Context, e *model.FileEntry) error {
	if fail(&f.failCreate) {
		return errInjected
	}
	return f.Store.Create(ctx, e)
}

func (f *faultyMeta) Get(ctx context.Context, id string) (*model.FileEntry, error) {
	f.gets.Add(1)
	if fail(&f.failGet) {
		return nil, errInjected
	}
	return f.Store.Get(ctx, id)
}

func (f *faultyMeta) Delete(ctx context.Context, id string) error {
	if fail(&f.failDelete) {
		return errInjected
	}
	return f.Store.Delete(ctx, id)
}

// faultyBlobs — хранилище содержимого, которое не удаляет указанные ключи.
type faultyBlobs struct {
	*local.Store
	mu        sync.Mutex
	stuckKeys map[string]bool
}

func (f *faultyBlobs) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	stuck := f.stuckKeys[key]
	f.mu.Unlock()
	if stuck {
		return errInjected
	}
	return f.Store.Delete(ctx, key)
}

func (f *faultyBlobs) stick(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stuckKeys[key] = true
}

type testEnv struct {
	m     *Manager
	cfg   Config
	blobs *faultyBlobs
	metas *faultyMeta
	wal   *wal.WAL
	clock *fakeClock
}

func testConfig() Config {
	return Config{
		MaxFileSize:       64 << 10,
		AllowedTypes:      filetype.Default(),
		MinExpiryDays:     1,
		MaxExpiryDays:     30,
		DefaultExpiryDays: 7,
		ShareBaseURL:      "https://share.example.com",
		SweepBatchSize:    2,
		StorageRetries:    0,
	}
}

// newEnv собирает менеджер над локальным хранилищем, файловыми
// метаданными и WAL во временных директориях.
func newEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	root := t.TempDir()
	logger := testLogger()

	ls, err := local.New(root+"/blobs", logger)
	require.NoError(t, err)
	fm, err := filemeta.New(root+"/meta", logger)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	w, err := wal.New(root+"/wal", logger, wal.WithClock(clock.Now))
	require.NoError(t, err)

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	env := &testEnv{
		cfg:   cfg,
		blobs: &faultyBlobs{Store: ls, stuckKeys: map[string]bool{}},
		metas: &faultyMeta{Store: fm},
		wal:   w,
		clock: clock,
	}
	env.m = env.restart()
	return env
}

// restart создаёт новый менеджер над теми же хранилищами.
func (e *testEnv) restart() *Manager {
	return New(e.cfg, e.blobs, e.metas, e.wal, testLogger(), WithClock(e.clock.Now))
}

func (e *testEnv) blobCount(t *testing.T) int {
	t.Helper()
	n := 0
	require.NoError(t, e.blobs.List(context.Background(), func(blob.Info) error {
		n++
		return nil
	}))
	return n
}

func (e *testEnv) metaCount(t *testing.T) int {
	t.Helper()
	_, total, err := e.metas.List(context.Background(), meta.Filter{})
	require.NoError(t, err)
	return total
}

func (e *testEnv) pendingCount(t *testing.T) int {
	t.Helper()
	p, err := e.wal.Pending()
	require.NoError(t, err)
	return len(p)
}

func textBody(size int) string {
	line := "Hello, world! This is a plain text file.\n"
	return strings.Repeat(line, size/len(line)+1)[:size]
}

func txtUpload(body string, owner *string) UploadRequest {
	return UploadRequest{
		Body:     strings.NewReader(body),
		Filename: "notes.txt",
		Size:     -1,
		OwnerID:  owner,
	}
}

func ptr[T any](v T) *T { return &v }

// hookWriter вызывает hook один раз, перед первой записью.
type hookWriter struct {
	bytes.Buffer
	once sync.Once
	hook func()
}

func (w *hookWriter) Write(p []byte) (int, error) {
	w.once.Do(w.hook)
	return w.Buffer.Write(p)
}

// readAll открывает и полностью читает содержимое записи.
func (e *testEnv) readAll(t *testing.T, d *Download) string {
	t.Helper()
	defer d.Close()
	var buf bytes.Buffer
	_, err := d.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}

// brokenWriter отказывает с первой записи.
type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

// failingReader отдаёт n байт и затем ошибку.
type failingReader struct {
	r   io.Reader
	n   int
	err error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.n <= 0 {
		return 0, f.err
	}
	if len(p) > f.n {
		p = p[:f.n]
	}
	n, err := f.r.Read(p)
	f.n -= n
	return n, err
}
