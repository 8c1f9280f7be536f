package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type staticDeps map[string]bool

func (d staticDeps) Health() map[string]bool { return d }

func okPing(context.Context) error { return nil }

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler("", nil, nil)

	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		walDir     func(t *testing.T) string
		backends   map[string]Pinger
		deps       DependencyHealth
		wantCode   int
		wantStatus string
	}{
		{
			name:       "всё доступно",
			walDir:     func(t *testing.T) string { return t.TempDir() },
			backends:   map[string]Pinger{"blob": pingFunc(okPing), "meta": pingFunc(okPing)},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:   "хранилище недоступно",
			walDir: func(t *testing.T) string { return t.TempDir() },
			backends: map[string]Pinger{
				"blob": pingFunc(okPing),
				"meta": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
		},
		{
			name:       "директория WAL отсутствует",
			walDir:     func(t *testing.T) string { return filepath.Join(t.TempDir(), "нет", "такой") },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
		},
		{
			name:       "зависимость недоступна",
			walDir:     func(t *testing.T) string { return t.TempDir() },
			backends:   map[string]Pinger{"blob": pingFunc(okPing)},
			deps:       staticDeps{"jwks:keycloak": false},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.walDir(t), tt.backends, tt.deps)

			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var body struct {
				Status string         `json:"status"`
				Checks map[string]any `json:"checks"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Contains(t, body.Checks, "wal")
			for name := range tt.backends {
				assert.Contains(t, body.Checks, name)
			}
		})
	}
}
