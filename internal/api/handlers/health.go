// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goshare/internal/config"
)

const (
	statusOK   = "ok"
	statusFail = "fail"

	pingTimeout = 3 * time.Second
)

// Pinger — зависимость, доступность которой проверяет readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DependencyHealth — состояние зависимостей из мониторинга dephealth.
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler реализует /health/live и /health/ready.
type HealthHandler struct {
	version string
	walDir  string
	// backends — хранилища, которые умеют Ping, по именам проверок
	backends map[string]Pinger
	deps     DependencyHealth
}

// NewHealthHandler создаёт обработчик health endpoints.
// deps может быть nil, если мониторинг зависимостей выключен.
func NewHealthHandler(walDir string, backends map[string]Pinger, deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		version:  config.Version,
		walDir:   walDir,
		backends: backends,
		deps:     deps,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Зависимости не проверяются.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "goshare",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Недоступное хранилище или WAL — 503. Некритичные зависимости
// из dephealth понижают статус до degraded.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	overallStatus := statusOK
	httpStatus := http.StatusOK
	checks := map[string]any{}

	walCheck := h.checkWAL()
	checks["wal"] = walCheck
	if walCheck["status"] != statusOK {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()
	for name, p := range h.backends {
		if err := p.Ping(ctx); err != nil {
			checks[name] = map[string]any{"status": statusFail, "message": err.Error()}
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		checks[name] = map[string]any{"status": statusOK}
	}

	if h.deps != nil {
		deps := h.deps.Health()
		checks["dependencies"] = deps
		for _, healthy := range deps {
			if !healthy && overallStatus == statusOK {
				overallStatus = "degraded"
			}
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "goshare",
		"checks":    checks,
	})
}

// checkWAL проверяет доступность директории WAL на запись.
func (h *HealthHandler) checkWAL() map[string]any {
	if h.walDir == "" {
		return map[string]any{"status": statusOK, "message": "Проверка не настроена"}
	}

	testFile := filepath.Join(h.walDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория WAL недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{"status": statusOK}
}
