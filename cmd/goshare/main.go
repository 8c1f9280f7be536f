// Точка входа goshare — сервиса временного обмена файлами.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goshare/internal/config"
)

// envFiles — .env файлы из флага --env-file
var envFiles []string

func main() {
	rootCmd := &cobra.Command{
		Use:   "goshare",
		Short: "Сервис обмена файлами с ограниченным сроком хранения",
		Long: `goshare принимает файлы, выдаёт публичные ссылки и удаляет
файлы по истечении срока хранения.

Конфигурация читается из переменных окружения SH_*.

Примеры:
  # HTTP-сервер с фоновой очисткой и сверкой
  goshare serve

  # Однократная очистка просроченных файлов
  goshare sweep --env-file prod.env`,
		SilenceUsage: true,
		// Без подкоманды запускается сервер
		RunE: runServe,
	}
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil,
		".env файлы для загрузки (переменные окружения имеют приоритет)")

	rootCmd.AddCommand(newServeCmd(), newSweepCmd(), newReconcileCmd(), newVersionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.Version)
		},
	}
}

// loadConfig загружает конфигурацию с учётом --env-file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("ошибка конфигурации: %w", err)
	}
	return cfg, nil
}
