// system.go — обработчик GET /api/v1/info.
// Публичный endpoint: версия, бэкенды, ограничения загрузки, счётчики.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/goshare/internal/config"
	"github.com/bigkaa/goshare/internal/lifecycle"
)

// DiskUsageFunc возвращает ёмкость диска: total, used, available в байтах.
type DiskUsageFunc func() (total, used, available int64, err error)

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	cfg       *config.Config
	manager   *lifecycle.Manager
	diskUsage DiskUsageFunc
	logger    *slog.Logger
}

// NewSystemHandler создаёт обработчик системных endpoints.
// diskUsage может быть nil, если содержимое хранится не на локальном диске.
func NewSystemHandler(cfg *config.Config, manager *lifecycle.Manager, diskUsage DiskUsageFunc, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{
		cfg:       cfg,
		manager:   manager,
		diskUsage: diskUsage,
		logger:    logger.With(slog.String("component", "system_handler")),
	}
}

type capacityInfo struct {
	TotalBytes     int64 `json:"totalBytes"`
	UsedBytes      int64 `json:"usedBytes"`
	AvailableBytes int64 `json:"availableBytes"`
}

type limitsInfo struct {
	MaxFileSize       int64    `json:"maxFileSize"`
	MinExpiryDays     int      `json:"minExpiryDays"`
	MaxExpiryDays     int      `json:"maxExpiryDays"`
	DefaultExpiryDays int      `json:"defaultExpiryDays"`
	AllowedTypes      []string `json:"allowedTypes"`
}

type infoResponse struct {
	InstanceID   string        `json:"instanceId"`
	Version      string        `json:"version"`
	Status       string        `json:"status"`
	BlobBackend  string        `json:"blobBackend"`
	MetaBackend  string        `json:"metaBackend"`
	PrivateFiles bool          `json:"privateFiles"`
	AuthEnabled  bool          `json:"authEnabled"`
	Limits       limitsInfo    `json:"limits"`
	ActiveFiles  *int          `json:"activeFiles,omitempty"`
	TotalFiles   *int          `json:"totalFiles,omitempty"`
	Capacity     *capacityInfo `json:"capacity,omitempty"`
	Timestamp    string        `json:"timestamp"`
}

// GetInfo обрабатывает GET /api/v1/info.
// Сбой хранилища метаданных не делает ответ ошибкой: счётчики
// опускаются, статус становится degraded.
func (h *SystemHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	resp := infoResponse{
		InstanceID:   h.cfg.InstanceID,
		Version:      config.Version,
		Status:       "online",
		BlobBackend:  h.cfg.BlobBackend,
		MetaBackend:  h.cfg.MetaBackend,
		PrivateFiles: h.cfg.PrivateFiles,
		AuthEnabled:  h.cfg.AuthEnabled(),
		Limits: limitsInfo{
			MaxFileSize:       h.cfg.MaxFileSize,
			MinExpiryDays:     h.cfg.MinExpiryDays,
			MaxExpiryDays:     h.cfg.MaxExpiryDays,
			DefaultExpiryDays: h.cfg.DefaultExpiryDays,
			AllowedTypes:      h.cfg.AllowedTypes.Extensions(),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if st, err := h.manager.Stats(r.Context()); err != nil {
		h.logger.Warn("Не удалось получить счётчики записей", slog.String("error", err.Error()))
		resp.Status = "degraded"
	} else {
		resp.ActiveFiles = &st.Active
		resp.TotalFiles = &st.Total
	}

	if h.diskUsage != nil {
		if total, used, available, err := h.diskUsage(); err != nil {
			h.logger.Warn("Не удалось получить ёмкость диска", slog.String("error", err.Error()))
		} else {
			resp.Capacity = &capacityInfo{TotalBytes: total, UsedBytes: used, AvailableBytes: available}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
