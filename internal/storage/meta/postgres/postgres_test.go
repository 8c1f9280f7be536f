package postgres

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goshare/internal/config"
	"github.com/bigkaa/goshare/internal/database"
	"github.com/bigkaa/goshare/internal/storage/meta"
	"github.com/bigkaa/goshare/internal/storage/meta/metatest"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере, применяет миграции
// и возвращает пул подключений.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		tcpostgres.WithDatabase("goshare_test"),
		tcpostgres.WithUsername("goshare"),
		tcpostgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}
	portNum, _ := strconv.Atoi(port.Port())

	cfg := &config.Config{
		DBHost:     host,
		DBPort:     portNum,
		DBName:     "goshare_test",
		DBUser:     "goshare",
		DBPassword: "test-password",
		DBSSLMode:  "disable",
	}

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestContract(t *testing.T) {
	pool := setupTestDB(t)

	metatest.Run(t, func(t *testing.T) meta.Store {
		if _, err := pool.Exec(context.Background(), `TRUNCATE files`); err != nil {
			t.Fatalf("Ошибка очистки таблицы: %v", err)
		}
		return New(pool)
	})
}

func TestPing(t *testing.T) {
	pool := setupTestDB(t)
	if err := New(pool).Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestIsUUID(t *testing.T) {
	tests := map[string]bool{
		"0b6d4e2c-7f7e-4a57-9c1f-2d3b1f6c8a10": true,
		"0B6D4E2C-7F7E-4A57-9C1F-2D3B1F6C8A10": true,
		"0b6d4e2c7f7e4a579c1f2d3b1f6c8a10":     false,
		"0b6d4e2c-7f7e-4a57-9c1f-2d3b1f6c8a1z": false,
		"'; DROP TABLE files; --":              false,
		"":                                     false,
	}
	for in, want := range tests {
		if got := isUUID(in); got != want {
			t.Errorf("isUUID(%q): ожидалось %v, получено %v", in, want, got)
		}
	}
}
