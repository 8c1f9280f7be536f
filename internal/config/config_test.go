package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

// allKeys — все переменные, которые читает Load.
var allKeys = []string{
	"SH_PORT", "SH_INSTANCE_ID", "SH_BLOB_BACKEND", "SH_DATA_DIR",
	"SH_META_BACKEND", "SH_META_DIR", "SH_WAL_DIR", "SH_MAX_FILE_SIZE",
	"SH_ALLOWED_TYPES", "SH_MIN_EXPIRY_DAYS", "SH_MAX_EXPIRY_DAYS",
	"SH_DEFAULT_EXPIRY_DAYS", "SH_SHARE_BASE_URL", "SH_PRIVATE_FILES",
	"SH_SWEEP_SCHEDULE", "SH_SWEEP_BATCH_SIZE", "SH_RECONCILE_INTERVAL",
	"SH_RECONCILE_GRACE", "SH_STORAGE_RETRIES", "SH_STORAGE_RETRY_DELAY",
	"SH_UPLOAD_TIMEOUT", "SH_DOWNLOAD_TIMEOUT", "SH_JWKS_URL",
	"SH_JWKS_CA_CERT", "SH_JWT_SECRET", "SH_CACHE_SIZE", "SH_CACHE_TTL",
	"SH_DB_HOST", "SH_DB_PORT", "SH_DB_NAME", "SH_DB_USER", "SH_DB_PASSWORD",
	"SH_DB_SSL_MODE", "SH_MONGO_URI", "SH_MONGO_DB", "SH_GRIDFS_BUCKET",
	"SH_S3_ENDPOINT", "SH_S3_REGION", "SH_S3_BUCKET", "SH_S3_PREFIX",
	"SH_S3_ACCESS_KEY", "SH_S3_SECRET_KEY", "SH_S3_USE_PATH_STYLE",
	"SH_SQLITE_PATH", "SH_TLS_CERT", "SH_TLS_KEY", "SH_LOG_LEVEL",
	"SH_LOG_FORMAT", "SH_DEPHEALTH_CHECK_INTERVAL", "SH_DEPHEALTH_GROUP",
	"SH_SHUTDOWN_TIMEOUT",
}

// clearEnv очищает все переменные SH_* и переходит во временную
// директорию, чтобы случайный .env не влиял на тест.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port: ожидалось 8080, получено %d", cfg.Port)
	}
	if cfg.BlobBackend != BlobLocal || cfg.MetaBackend != MetaFile {
		t.Errorf("бэкенды по умолчанию: %s/%s", cfg.BlobBackend, cfg.MetaBackend)
	}
	if cfg.MaxFileSize != 100<<20 {
		t.Errorf("MaxFileSize: ожидалось %d, получено %d", 100<<20, cfg.MaxFileSize)
	}
	if cfg.MinExpiryDays != 1 || cfg.MaxExpiryDays != 30 || cfg.DefaultExpiryDays != 7 {
		t.Errorf("срок жизни: %d/%d/%d", cfg.MinExpiryDays, cfg.MaxExpiryDays, cfg.DefaultExpiryDays)
	}
	if cfg.ShareBaseURL != "http://localhost:3000" {
		t.Errorf("ShareBaseURL: получено %q", cfg.ShareBaseURL)
	}
	if cfg.SweepSchedule != "@every 1h" {
		t.Errorf("SweepSchedule: получено %q", cfg.SweepSchedule)
	}
	if cfg.ReconcileInterval != 6*time.Hour {
		t.Errorf("ReconcileInterval: ожидалось 6h, получено %v", cfg.ReconcileInterval)
	}
	if cfg.ReconcileGrace < cfg.UploadTimeout {
		t.Errorf("ReconcileGrace %v меньше UploadTimeout %v", cfg.ReconcileGrace, cfg.UploadTimeout)
	}
	if cfg.StorageRetries != 3 {
		t.Errorf("StorageRetries: ожидалось 3, получено %d", cfg.StorageRetries)
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "json" {
		t.Errorf("логирование: %v/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.AuthEnabled() {
		t.Error("без JWKS и секрета аутентификация должна быть выключена")
	}
	if !slices.Contains(cfg.AllowedTypes.Extensions(), ".pdf") {
		t.Error("pdf должен быть разрешён по умолчанию")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	setEnv(t, map[string]string{
		"SH_PORT":                "9000",
		"SH_MAX_FILE_SIZE":       "1048576",
		"SH_ALLOWED_TYPES":       ".txt=text/plain",
		"SH_DEFAULT_EXPIRY_DAYS": "3",
		"SH_PRIVATE_FILES":       "true",
		"SH_SWEEP_SCHEDULE":      "*/5 * * * *",
		"SH_JWT_SECRET":          "secret",
		"SH_LOG_LEVEL":           "debug",
		"SH_LOG_FORMAT":          "text",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cfg.Port != 9000 || cfg.MaxFileSize != 1048576 || cfg.DefaultExpiryDays != 3 {
		t.Errorf("значения не применены: %+v", cfg)
	}
	if !cfg.PrivateFiles || !cfg.AuthEnabled() {
		t.Error("PrivateFiles и аутентификация должны быть включены")
	}
	if slices.Contains(cfg.AllowedTypes.Extensions(), ".pdf") {
		t.Error("pdf не должен быть разрешён")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel: получено %v", cfg.LogLevel)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	// t.Setenv("", ...) оставил пустые значения, godotenv их не перезапишет
	for _, k := range []string{"SH_PORT", "SH_SHARE_BASE_URL"} {
		os.Unsetenv(k)
	}

	path := filepath.Join(t.TempDir(), "test.env")
	content := "SH_PORT=8181\nSH_SHARE_BASE_URL=https://share.example.com\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("SH_PORT")
		os.Unsetenv("SH_SHARE_BASE_URL")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cfg.Port != 8181 {
		t.Errorf("Port: ожидалось 8181, получено %d", cfg.Port)
	}
	if cfg.ShareBaseURL != "https://share.example.com" {
		t.Errorf("ShareBaseURL: получено %q", cfg.ShareBaseURL)
	}
}

func TestLoad_MissingDotEnvFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Fatal("ожидалась ошибка для отсутствующего файла")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		wantSub string
	}{
		{"некорректный порт", map[string]string{"SH_PORT": "abc"}, "SH_PORT"},
		{"порт вне диапазона", map[string]string{"SH_PORT": "70000"}, "SH_PORT"},
		{"неизвестный blob бэкенд", map[string]string{"SH_BLOB_BACKEND": "ftp"}, "SH_BLOB_BACKEND"},
		{"неизвестный meta бэкенд", map[string]string{"SH_META_BACKEND": "redis"}, "SH_META_BACKEND"},
		{"нулевой размер", map[string]string{"SH_MAX_FILE_SIZE": "0"}, "SH_MAX_FILE_SIZE"},
		{"срок по умолчанию вне границ", map[string]string{"SH_DEFAULT_EXPIRY_DAYS": "45"}, "SH_DEFAULT_EXPIRY_DAYS"},
		{"максимум меньше минимума", map[string]string{"SH_MIN_EXPIRY_DAYS": "10", "SH_MAX_EXPIRY_DAYS": "5", "SH_DEFAULT_EXPIRY_DAYS": "7"}, "SH_MAX_EXPIRY_DAYS"},
		{"некорректный список типов", map[string]string{"SH_ALLOWED_TYPES": ".pdf"}, "SH_ALLOWED_TYPES"},
		{"s3 без бакета", map[string]string{"SH_BLOB_BACKEND": "s3"}, "SH_S3_BUCKET"},
		{"postgres без хоста", map[string]string{"SH_META_BACKEND": "postgres"}, "SH_DB_HOST"},
		{"mongo без URI", map[string]string{"SH_META_BACKEND": "mongo"}, "SH_MONGO_URI"},
		{"gridfs без URI", map[string]string{"SH_BLOB_BACKEND": "gridfs"}, "SH_MONGO_URI"},
		{"TLS только сертификат", map[string]string{"SH_TLS_CERT": "/tmp/tls.crt"}, "SH_TLS_KEY"},
		{"некорректное расписание", map[string]string{"SH_SWEEP_SCHEDULE": "когда-нибудь"}, "SH_SWEEP_SCHEDULE"},
		{"некорректная длительность", map[string]string{"SH_UPLOAD_TIMEOUT": "10"}, "SH_UPLOAD_TIMEOUT"},
		{"сверка короче загрузки", map[string]string{"SH_RECONCILE_GRACE": "10m", "SH_UPLOAD_TIMEOUT": "30m"}, "SH_RECONCILE_GRACE"},
		{"некорректный уровень логов", map[string]string{"SH_LOG_LEVEL": "verbose"}, "SH_LOG_LEVEL"},
		{"некорректный формат логов", map[string]string{"SH_LOG_FORMAT": "xml"}, "SH_LOG_FORMAT"},
		{"некорректный base URL", map[string]string{"SH_SHARE_BASE_URL": "not a url"}, "SH_SHARE_BASE_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setEnv(t, tt.vars)

			_, err := Load()
			if err == nil {
				t.Fatal("ожидалась ошибка")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("ошибка должна упоминать %s: %v", tt.wantSub, err)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p", DBHost: "db", DBPort: 5432, DBName: "share", DBSSLMode: "disable"}
	want := "postgres://u:p@db:5432/share?sslmode=disable"
	if got := cfg.DatabaseDSN(); got != want {
		t.Errorf("ожидалось %q, получено %q", want, got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.input)
		if err != nil {
			t.Errorf("parseLogLevel(%q): неожиданная ошибка: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q): ожидалось %v, получено %v", tt.input, tt.want, got)
		}
	}
}
