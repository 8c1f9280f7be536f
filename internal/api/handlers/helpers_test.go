package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goshare/internal/api/middleware"
	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/domain/policy"
	"github.com/bigkaa/goshare/internal/lifecycle"
	"github.com/bigkaa/goshare/internal/storage/blob/local"
	"github.com/bigkaa/goshare/internal/storage/meta/filemeta"
	"github.com/bigkaa/goshare/internal/storage/wal"
)

const testMaxFileSize = 1 << 10

var testSecret = []byte("секрет-для-тестов")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

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

// testEnv — файловый handler поверх локальных хранилищ во временной директории.
type testEnv struct {
	manager *lifecycle.Manager
	clock   *clock
	router  http.Handler
}

func newTestEnv(t *testing.T, private bool) *testEnv {
	t.Helper()
	logger := testLogger()

	blobs, err := local.New(t.TempDir(), logger)
	require.NoError(t, err)
	metas, err := filemeta.New(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { metas.Close() })
	w, err := wal.New(t.TempDir(), logger)
	require.NoError(t, err)

	c := &clock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := lifecycle.New(lifecycle.Config{
		MaxFileSize:       testMaxFileSize,
		MinExpiryDays:     1,
		MaxExpiryDays:     30,
		DefaultExpiryDays: 7,
		ShareBaseURL:      "https://share.example.com",
		Policy:            policy.Policy{PrivateFiles: private},
		SweepBatchSize:    10,
	}, blobs, metas, w, logger, lifecycle.WithClock(c.Now))

	files := NewFilesHandler(m, testMaxFileSize, time.Minute, time.Minute, logger)
	auth := middleware.NewSecretAuth(testSecret, 0, logger)

	r := chi.NewRouter()
	r.Use(auth.Middleware())
	r.Post("/files/upload", files.UploadFile)
	r.Post("/legacy/upload", files.UploadFileLegacy)
	r.Get("/files", files.ListFiles)
	r.Get("/files/{id}", files.GetFileMetadata)
	r.Get("/files/{id}/download", files.DownloadFile)
	r.Get("/files/{id}/qr", files.QRCode)
	r.Delete("/files/{id}", files.DeleteFile)
	r.Get("/legacy", files.ListFilesLegacy)
	r.Get("/legacy/{id}", files.GetFileMetadataLegacy)
	r.Delete("/legacy/{id}", files.DeleteFileLegacy)

	return &testEnv{manager: m, clock: c, router: r}
}

// formPart — часть multipart формы в порядке добавления.
type formPart struct {
	name, filename, value string
}

func fileField(filename, content string) formPart {
	return formPart{name: "file", filename: filename, value: content}
}

func textField(name, value string) formPart {
	return formPart{name: name, value: value}
}

func multipartBody(t *testing.T, parts ...formPart) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.filename != "" {
			fw, err := mw.CreateFormFile(p.name, p.filename)
			require.NoError(t, err)
			_, err = fw.Write([]byte(p.value))
			require.NoError(t, err)
			continue
		}
		require.NoError(t, mw.WriteField(p.name, p.value))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func token(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

// do выполняет запрос. Пустой subject — анонимный запрос.
func (e *testEnv) do(t *testing.T, method, path, subject string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequestWithContext(context.Background(), method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, subject))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// upload загружает текстовый файл и возвращает ответ.
func (e *testEnv) upload(t *testing.T, subject, content string, extra ...formPart) model.PublicEntry {
	t.Helper()
	parts := append([]formPart{fileField("заметка.txt", content)}, extra...)
	body, ct := multipartBody(t, parts...)
	rec := e.do(t, http.MethodPost, "/files/upload", subject, body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var pub model.PublicEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pub))
	return pub
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}
