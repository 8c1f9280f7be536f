// Пакет config — загрузка и валидация конфигурации сервиса
// из переменных окружения и необязательного .env файла.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/bigkaa/goshare/internal/domain/filetype"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранилища содержимого.
const (
	BlobLocal  = "local"
	BlobGridFS = "gridfs"
	BlobS3     = "s3"
)

// Бэкенды хранилища метаданных.
const (
	MetaFile     = "file"
	MetaPostgres = "postgres"
	MetaMongo    = "mongo"
	MetaSQLite   = "sqlite"
)

// Config содержит все параметры конфигурации сервиса.
// Тег env задаёт имя переменной окружения и используется в сообщениях валидации.
type Config struct {
	// Порт HTTP-сервера
	Port int `env:"SH_PORT" validate:"min=1,max=65535"`
	// Идентификатор экземпляра (метки метрик, логи)
	InstanceID string `env:"SH_INSTANCE_ID" validate:"required"`

	// Бэкенд содержимого: local, gridfs, s3
	BlobBackend string `env:"SH_BLOB_BACKEND" validate:"oneof=local gridfs s3"`
	// Директория содержимого для local
	DataDir string `env:"SH_DATA_DIR" validate:"required_if=BlobBackend local"`
	// Бэкенд метаданных: file, postgres, mongo, sqlite
	MetaBackend string `env:"SH_META_BACKEND" validate:"oneof=file postgres mongo sqlite"`
	// Директория attr-файлов для file
	MetaDir string `env:"SH_META_DIR" validate:"required_if=MetaBackend file"`
	// Директория WAL
	WALDir string `env:"SH_WAL_DIR" validate:"required"`

	// Максимальный размер файла в байтах
	MaxFileSize int64 `env:"SH_MAX_FILE_SIZE" validate:"gt=0"`
	// Разрешённые типы файлов
	AllowedTypes *filetype.AllowList `env:"SH_ALLOWED_TYPES" validate:"required"`
	// Границы и значение по умолчанию срока жизни в днях
	MinExpiryDays     int `env:"SH_MIN_EXPIRY_DAYS" validate:"min=1"`
	MaxExpiryDays     int `env:"SH_MAX_EXPIRY_DAYS" validate:"gtefield=MinExpiryDays"`
	DefaultExpiryDays int `env:"SH_DEFAULT_EXPIRY_DAYS" validate:"gtefield=MinExpiryDays,ltefield=MaxExpiryDays"`
	// Базовый URL публичных ссылок
	ShareBaseURL string `env:"SH_SHARE_BASE_URL" validate:"required,url"`
	// Файлы с владельцем доступны только владельцу
	PrivateFiles bool `env:"SH_PRIVATE_FILES"`

	// Расписание очистки просроченных файлов (формат cron или @every)
	SweepSchedule string `env:"SH_SWEEP_SCHEDULE" validate:"required"`
	// Сколько записей очистка обрабатывает за один запрос к метаданным
	SweepBatchSize int `env:"SH_SWEEP_BATCH_SIZE" validate:"min=1,max=10000"`
	// Интервал автоматической сверки
	ReconcileInterval time.Duration `env:"SH_RECONCILE_INTERVAL" validate:"gt=0"`
	// Минимальный возраст содержимого и транзакций журнала, которые сверка
	// может считать брошенными. Не меньше таймаута загрузки: иначе сверка
	// из другого процесса (goshare reconcile) откатит идущую загрузку.
	ReconcileGrace time.Duration `env:"SH_RECONCILE_GRACE" validate:"gtefield=UploadTimeout"`

	// Число повторов операций хранилища при временных ошибках
	StorageRetries int `env:"SH_STORAGE_RETRIES" validate:"min=0,max=10"`
	// Пауза между повторами (растёт линейно)
	StorageRetryDelay time.Duration `env:"SH_STORAGE_RETRY_DELAY" validate:"gte=0"`
	// Таймауты загрузки и скачивания
	UploadTimeout   time.Duration `env:"SH_UPLOAD_TIMEOUT" validate:"gt=0"`
	DownloadTimeout time.Duration `env:"SH_DOWNLOAD_TIMEOUT" validate:"gt=0"`

	// URL JWKS endpoint (RS256). Пустой — проверка по JWKS отключена
	JWKSUrl string `env:"SH_JWKS_URL" validate:"omitempty,url"`
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string `env:"SH_JWKS_CA_CERT"`
	// Общий секрет HS256, используется, если JWKS не задан
	JWTSecret string `env:"SH_JWT_SECRET"`

	// Кэш метаданных: число записей (0 — отключён) и время жизни
	CacheSize int           `env:"SH_CACHE_SIZE" validate:"min=0"`
	CacheTTL  time.Duration `env:"SH_CACHE_TTL" validate:"gte=0"`

	// PostgreSQL
	DBHost     string `env:"SH_DB_HOST" validate:"required_if=MetaBackend postgres"`
	DBPort     int    `env:"SH_DB_PORT" validate:"min=1,max=65535"`
	DBName     string `env:"SH_DB_NAME" validate:"required_if=MetaBackend postgres"`
	DBUser     string `env:"SH_DB_USER" validate:"required_if=MetaBackend postgres"`
	DBPassword string `env:"SH_DB_PASSWORD"`
	DBSSLMode  string `env:"SH_DB_SSL_MODE" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	// MongoDB (метаданные mongo и содержимое gridfs)
	MongoURI     string `env:"SH_MONGO_URI"`
	MongoDB      string `env:"SH_MONGO_DB"`
	GridFSBucket string `env:"SH_GRIDFS_BUCKET"`

	// S3-совместимое хранилище
	S3Endpoint     string `env:"SH_S3_ENDPOINT" validate:"omitempty,url"`
	S3Region       string `env:"SH_S3_REGION"`
	S3Bucket       string `env:"SH_S3_BUCKET" validate:"required_if=BlobBackend s3"`
	S3Prefix       string `env:"SH_S3_PREFIX"`
	S3AccessKey    string `env:"SH_S3_ACCESS_KEY"`
	S3SecretKey    string `env:"SH_S3_SECRET_KEY"`
	S3UsePathStyle bool   `env:"SH_S3_USE_PATH_STYLE"`

	// SQLite
	SQLitePath string `env:"SH_SQLITE_PATH" validate:"required_if=MetaBackend sqlite"`

	// Путь к TLS сертификату и ключу (оба или ни одного)
	TLSCert string `env:"SH_TLS_CERT"`
	TLSKey  string `env:"SH_TLS_KEY"`

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level `env:"SH_LOG_LEVEL"`
	// Формат логов (json, text)
	LogFormat string `env:"SH_LOG_FORMAT" validate:"oneof=json text"`

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration `env:"SH_DEPHEALTH_CHECK_INTERVAL" validate:"gt=0"`
	// Имя группы в метриках topologymetrics
	DephealthGroup string `env:"SH_DEPHEALTH_GROUP"`

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration `env:"SH_SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// Load загружает конфигурацию. Сначала читаются .env файлы (если указаны,
// иначе ./.env при наличии), переменные окружения имеют приоритет.
func Load(envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return nil, err
	}

	cfg := &Config{}
	var err error

	if cfg.Port, err = getEnvInt("SH_PORT", 8080); err != nil {
		return nil, fmt.Errorf("SH_PORT: %w", err)
	}

	cfg.InstanceID = getEnvDefault("SH_INSTANCE_ID", defaultInstanceID())

	cfg.BlobBackend = strings.ToLower(getEnvDefault("SH_BLOB_BACKEND", BlobLocal))
	cfg.DataDir = getEnvDefault("SH_DATA_DIR", "./data/blobs")
	cfg.MetaBackend = strings.ToLower(getEnvDefault("SH_META_BACKEND", MetaFile))
	cfg.MetaDir = getEnvDefault("SH_META_DIR", "./data/meta")
	cfg.WALDir = getEnvDefault("SH_WAL_DIR", "./data/wal")

	// SH_MAX_FILE_SIZE — по умолчанию 100 MiB
	if cfg.MaxFileSize, err = getEnvInt64("SH_MAX_FILE_SIZE", 100<<20); err != nil {
		return nil, fmt.Errorf("SH_MAX_FILE_SIZE: %w", err)
	}

	if cfg.AllowedTypes, err = filetype.Parse(getEnvDefault("SH_ALLOWED_TYPES", filetype.DefaultAllowed)); err != nil {
		return nil, fmt.Errorf("SH_ALLOWED_TYPES: %w", err)
	}

	if cfg.MinExpiryDays, err = getEnvInt("SH_MIN_EXPIRY_DAYS", 1); err != nil {
		return nil, fmt.Errorf("SH_MIN_EXPIRY_DAYS: %w", err)
	}
	if cfg.MaxExpiryDays, err = getEnvInt("SH_MAX_EXPIRY_DAYS", 30); err != nil {
		return nil, fmt.Errorf("SH_MAX_EXPIRY_DAYS: %w", err)
	}
	if cfg.DefaultExpiryDays, err = getEnvInt("SH_DEFAULT_EXPIRY_DAYS", 7); err != nil {
		return nil, fmt.Errorf("SH_DEFAULT_EXPIRY_DAYS: %w", err)
	}

	cfg.ShareBaseURL = getEnvDefault("SH_SHARE_BASE_URL", "http://localhost:3000")
	if cfg.PrivateFiles, err = getEnvBool("SH_PRIVATE_FILES", false); err != nil {
		return nil, fmt.Errorf("SH_PRIVATE_FILES: %w", err)
	}

	cfg.SweepSchedule = getEnvDefault("SH_SWEEP_SCHEDULE", "@every 1h")
	if cfg.SweepBatchSize, err = getEnvInt("SH_SWEEP_BATCH_SIZE", 100); err != nil {
		return nil, fmt.Errorf("SH_SWEEP_BATCH_SIZE: %w", err)
	}
	if cfg.ReconcileInterval, err = getEnvDuration("SH_RECONCILE_INTERVAL", 6*time.Hour); err != nil {
		return nil, fmt.Errorf("SH_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.ReconcileGrace, err = getEnvDuration("SH_RECONCILE_GRACE", time.Hour); err != nil {
		return nil, fmt.Errorf("SH_RECONCILE_GRACE: %w", err)
	}

	if cfg.StorageRetries, err = getEnvInt("SH_STORAGE_RETRIES", 3); err != nil {
		return nil, fmt.Errorf("SH_STORAGE_RETRIES: %w", err)
	}
	if cfg.StorageRetryDelay, err = getEnvDuration("SH_STORAGE_RETRY_DELAY", 100*time.Millisecond); err != nil {
		return nil, fmt.Errorf("SH_STORAGE_RETRY_DELAY: %w", err)
	}
	if cfg.UploadTimeout, err = getEnvDuration("SH_UPLOAD_TIMEOUT", 30*time.Minute); err != nil {
		return nil, fmt.Errorf("SH_UPLOAD_TIMEOUT: %w", err)
	}
	if cfg.DownloadTimeout, err = getEnvDuration("SH_DOWNLOAD_TIMEOUT", time.Hour); err != nil {
		return nil, fmt.Errorf("SH_DOWNLOAD_TIMEOUT: %w", err)
	}

	cfg.JWKSUrl = getEnvDefault("SH_JWKS_URL", "")
	cfg.JWKSCACert = getEnvDefault("SH_JWKS_CA_CERT", "")
	cfg.JWTSecret = getEnvDefault("SH_JWT_SECRET", "")

	if cfg.CacheSize, err = getEnvInt("SH_CACHE_SIZE", 1024); err != nil {
		return nil, fmt.Errorf("SH_CACHE_SIZE: %w", err)
	}
	if cfg.CacheTTL, err = getEnvDuration("SH_CACHE_TTL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("SH_CACHE_TTL: %w", err)
	}

	cfg.DBHost = getEnvDefault("SH_DB_HOST", "")
	if cfg.DBPort, err = getEnvInt("SH_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("SH_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("SH_DB_NAME", "")
	cfg.DBUser = getEnvDefault("SH_DB_USER", "")
	cfg.DBPassword = getEnvDefault("SH_DB_PASSWORD", "")
	cfg.DBSSLMode = getEnvDefault("SH_DB_SSL_MODE", "disable")

	cfg.MongoURI = getEnvDefault("SH_MONGO_URI", "")
	cfg.MongoDB = getEnvDefault("SH_MONGO_DB", "goshare")
	cfg.GridFSBucket = getEnvDefault("SH_GRIDFS_BUCKET", "uploads")

	cfg.S3Endpoint = getEnvDefault("SH_S3_ENDPOINT", "")
	cfg.S3Region = getEnvDefault("SH_S3_REGION", "us-east-1")
	cfg.S3Bucket = getEnvDefault("SH_S3_BUCKET", "")
	cfg.S3Prefix = getEnvDefault("SH_S3_PREFIX", "")
	cfg.S3AccessKey = getEnvDefault("SH_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvDefault("SH_S3_SECRET_KEY", "")
	if cfg.S3UsePathStyle, err = getEnvBool("SH_S3_USE_PATH_STYLE", cfg.S3Endpoint != ""); err != nil {
		return nil, fmt.Errorf("SH_S3_USE_PATH_STYLE: %w", err)
	}

	cfg.SQLitePath = getEnvDefault("SH_SQLITE_PATH", "./data/goshare.db")

	cfg.TLSCert = getEnvDefault("SH_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("SH_TLS_KEY", "")

	if cfg.LogLevel, err = parseLogLevel(getEnvDefault("SH_LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("SH_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("SH_LOG_FORMAT", "json")

	if cfg.DephealthCheckInterval, err = getEnvDuration("SH_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("SH_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("SH_DEPHEALTH_GROUP", "goshare")

	if cfg.ShutdownTimeout, err = getEnvDuration("SH_SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, fmt.Errorf("SH_SHUTDOWN_TIMEOUT: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// В сообщениях об ошибках используем имя переменной окружения
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

// Validate проверяет согласованность параметров.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: недопустимое значение %v (правило %s)", fe.Field(), fe.Value(), fe.ActualTag())
		}
		return fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	if (c.MetaBackend == MetaMongo || c.BlobBackend == BlobGridFS) && c.MongoURI == "" {
		return errors.New("SH_MONGO_URI: обязателен для бэкендов mongo и gridfs")
	}

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("SH_TLS_CERT и SH_TLS_KEY задаются только вместе")
	}

	if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
		return fmt.Errorf("SH_SWEEP_SCHEDULE: некорректное расписание %q: %w", c.SweepSchedule, err)
	}

	return nil
}

// AuthEnabled сообщает, настроена ли проверка JWT.
func (c *Config) AuthEnabled() bool {
	return c.JWKSUrl != "" || c.JWTSecret != ""
}

// DatabaseDSN возвращает DSN для подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// loadDotEnv читает .env файлы. Уже заданные переменные окружения
// не перезаписываются.
func loadDotEnv(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("ошибка чтения .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("ошибка чтения %s: %w", strings.Join(files, ", "), err)
	}
	return nil
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "goshare"
	}
	return host
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
