// maintenance.go — служебные endpoints: внеплановая очистка и сверка.
// Доступны только со scope files:admin.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goshare/internal/api/errors"
	"github.com/bigkaa/goshare/internal/lifecycle"
	"github.com/bigkaa/goshare/internal/service"
)

// SweepRunner — запуск очистки просроченных файлов.
type SweepRunner interface {
	RunOnce(ctx context.Context) (lifecycle.SweepResult, error)
}

// ReconcileRunner — запуск сверки. Второй результат — "уже выполняется".
type ReconcileRunner interface {
	RunOnce(ctx context.Context) (*service.ReconcileResult, bool)
}

// MaintenanceHandler — обработчик maintenance endpoints.
type MaintenanceHandler struct {
	sweeper    SweepRunner
	reconciler ReconcileRunner
	logger     *slog.Logger
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(sweeper SweepRunner, reconciler ReconcileRunner, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		sweeper:    sweeper,
		reconciler: reconciler,
		logger:     logger.With(slog.String("component", "maintenance_handler")),
	}
}

// Sweep обрабатывает POST /api/v1/maintenance/sweep.
func (h *MaintenanceHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		apierrors.Lifecycle(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reconcile обрабатывает POST /api/v1/maintenance/reconcile.
// Если сверка уже выполняется — 409 RECONCILE_IN_PROGRESS.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, inProgress := h.reconciler.RunOnce(r.Context())
	if inProgress {
		apierrors.ReconcileInProgress(w, "Сверка уже выполняется")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
