package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goshare/internal/bootstrap"
	"github.com/bigkaa/goshare/internal/config"
	"github.com/bigkaa/goshare/internal/service"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Однократно удалить просроченные файлы",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := config.SetupLogger(cfg)

			app, err := bootstrap.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := service.NewSweeper(app.Manager, cfg.SweepSchedule, logger).RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("ошибка очистки: %w", err)
			}
			return printJSON(cmd, res)
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Однократно сверить содержимое и метаданные",
		Long: `Доводит до конца незавершённые операции из WAL, затем удаляет
содержимое без записей и записи без содержимого старше SH_RECONCILE_GRACE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := config.SetupLogger(cfg)

			app, err := bootstrap.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			reconciler := service.NewReconciler(app.Manager, app.Blobs, app.Metas, app.WAL,
				cfg.ReconcileInterval, cfg.ReconcileGrace, logger)
			// Отдельный процесс: параллельной сверки в нём быть не может
			res, _ := reconciler.RunOnce(cmd.Context())

			logger.Info("Сверка завершена",
				slog.Int("files_checked", res.FilesChecked),
				slog.Int("issues", len(res.Issues)),
			)
			return printJSON(cmd, res)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
