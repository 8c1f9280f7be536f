// reconcile.go — фоновая сверка хранилища содержимого и метаданных.
//
// Обнаруживает проблемы:
//   - orphaned_blob: содержимое без записи метаданных (удаляется)
//   - missing_blob: запись метаданных без содержимого (запись удаляется)
//   - size_mismatch: размер содержимого не совпадает с записью (только отчёт)
//
// Объекты моложе grace не трогаются: они могут принадлежать идущей
// загрузке. Ключи незавершённых транзакций журнала тоже пропускаются.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/lifecycle"
	"github.com/bigkaa/goshare/internal/storage/blob"
	"github.com/bigkaa/goshare/internal/storage/meta"
	"github.com/bigkaa/goshare/internal/storage/wal"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goshare_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goshare_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных сверкой",
	}, []string{"type"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "goshare_reconcile_duration_seconds",
		Help:    "Длительность сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// IssueType — тип расхождения.
type IssueType string

const (
	OrphanedBlob IssueType = "orphaned_blob"
	MissingBlob  IssueType = "missing_blob"
	SizeMismatch IssueType = "size_mismatch"
)

// Issue — одно найденное расхождение.
type Issue struct {
	Type        IssueType `json:"type"`
	FileID      string    `json:"file_id,omitempty"`
	StorageKey  string    `json:"storage_key"`
	Description string    `json:"description"`
	// Fixed — расхождение устранено в этом проходе
	Fixed bool `json:"fixed"`
}

// ReconcileSummary — сводка по типам расхождений.
type ReconcileSummary struct {
	OrphanedBlobs  int `json:"orphaned_blobs"`
	MissingBlobs   int `json:"missing_blobs"`
	SizeMismatches int `json:"size_mismatches"`
	Ok             int `json:"ok"`
}

// ReconcileResult — итог одного прохода сверки.
type ReconcileResult struct {
	StartedAt    time.Time               `json:"started_at"`
	CompletedAt  time.Time               `json:"completed_at"`
	FilesChecked int                     `json:"files_checked"`
	Issues       []Issue                 `json:"issues"`
	Summary      ReconcileSummary        `json:"summary"`
	Recovered    lifecycle.RecoverResult `json:"recovered"`
}

// Reconciler — сервис фоновой сверки хранилищ.
type Reconciler struct {
	manager  *lifecycle.Manager
	blobs    blob.Store
	metas    meta.Store
	wal      *wal.WAL
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconciler создаёт сервис сверки. blobs и metas должны быть
// теми же экземплярами, с которыми работает manager.
func NewReconciler(
	manager *lifecycle.Manager,
	blobs blob.Store,
	metas meta.Store,
	w *wal.WAL,
	interval, grace time.Duration,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		manager:  manager,
		blobs:    blobs,
		metas:    metas,
		wal:      w,
		interval: interval,
		grace:    grace,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *Reconciler) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.interval.String()),
		slog.String("grace", rs.grace.String()),
	)
}

// Stop останавливает сверку и дожидается выхода горутины.
func (rs *Reconciler) Stop() {
	if rs.cancel == nil {
		return
	}
	rs.cancel()
	<-rs.done
	rs.logger.Info("Сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *Reconciler) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *Reconciler) run(ctx context.Context) {
	defer close(rs.done)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход сверки.
// Если сверка уже выполняется, возвращает nil, true.
func (rs *Reconciler) RunOnce(ctx context.Context) (*ReconcileResult, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	res := &ReconcileResult{StartedAt: rs.manager.Now(), Issues: []Issue{}}
	rs.logger.Info("Сверка начата")

	// Сначала закрываем зависшие транзакции: после этого журнал
	// содержит только операции, идущие прямо сейчас
	recovered, err := rs.manager.Recover(ctx, rs.grace)
	if err != nil {
		rs.logger.Error("Ошибка разбора журнала", slog.String("error", err.Error()))
	}
	res.Recovered = recovered

	if err := rs.reconcile(ctx, res); err != nil {
		rs.logger.Error("Сверка прервана", slog.String("error", err.Error()))
	}

	res.CompletedAt = rs.manager.Now()
	for _, issue := range res.Issues {
		switch issue.Type {
		case OrphanedBlob:
			res.Summary.OrphanedBlobs++
		case MissingBlob:
			res.Summary.MissingBlobs++
		case SizeMismatch:
			res.Summary.SizeMismatches++
		}
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}
	res.Summary.Ok = max(res.FilesChecked-res.Summary.MissingBlobs-res.Summary.SizeMismatches, 0)

	duration := res.CompletedAt.Sub(res.StartedAt)
	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())

	rs.logger.Info("Сверка завершена",
		slog.Int("files_checked", res.FilesChecked),
		slog.Int("issues", len(res.Issues)),
		slog.Int("ok", res.Summary.Ok),
		slog.Duration("duration", duration),
	)
	return res, false
}

// reconcile сравнивает содержимое с метаданными.
// Порядок важен: список содержимого, затем журнал, затем снимок
// метаданных. Содержимое, попавшее в список, либо уже учтено
// в метаданных к моменту снимка, либо его транзакция видна в журнале.
func (rs *Reconciler) reconcile(ctx context.Context, res *ReconcileResult) error {
	now := rs.manager.Now()
	cutoff := now.Add(-rs.grace)

	var listed map[string]blob.Info
	lister, canList := rs.blobs.(blob.Lister)
	if canList {
		listed = make(map[string]blob.Info)
		err := lister.List(ctx, func(info blob.Info) error {
			listed[info.Key] = info
			return nil
		})
		if err != nil {
			return err
		}
	}

	pending, err := rs.wal.PendingKeys()
	if err != nil {
		return err
	}

	entries, _, err := rs.metas.List(ctx, meta.Filter{})
	if err != nil {
		return err
	}
	res.FilesChecked = len(entries)

	known := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		known[e.StorageKey] = struct{}{}
		if _, busy := pending[e.StorageKey]; busy {
			continue
		}
		rs.checkEntry(ctx, e, listed, cutoff, res)
	}

	if !canList {
		return nil
	}

	for key, info := range listed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := known[key]; ok {
			continue
		}
		if _, busy := pending[key]; busy {
			continue
		}
		if info.ModTime.After(cutoff) {
			continue
		}

		issue := Issue{
			Type:        OrphanedBlob,
			StorageKey:  key,
			Description: "Содержимое без записи метаданных",
		}
		if err := rs.blobs.Delete(ctx, key); err != nil {
			rs.logger.Warn("Не удалось удалить осиротевшее содержимое",
				slog.String("storage_key", key),
				slog.String("error", err.Error()),
			)
		} else {
			issue.Fixed = true
		}
		res.Issues = append(res.Issues, issue)
	}
	return nil
}

// checkEntry проверяет наличие и размер содержимого одной записи.
func (rs *Reconciler) checkEntry(
	ctx context.Context,
	e *model.FileEntry,
	listed map[string]blob.Info,
	cutoff time.Time,
	res *ReconcileResult,
) {
	info, ok := listed[e.StorageKey]
	if !ok {
		// Содержимое могло появиться после получения списка
		var err error
		info, err = rs.blobs.Stat(ctx, e.StorageKey)
		if err != nil && !errors.Is(err, blob.ErrNotFound) {
			rs.logger.Warn("Не удалось проверить содержимое",
				slog.String("file_id", e.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		ok = err == nil
	}

	if !ok {
		if e.CreatedAt.After(cutoff) {
			return
		}
		issue := Issue{
			Type:        MissingBlob,
			FileID:      e.ID,
			StorageKey:  e.StorageKey,
			Description: "Запись метаданных без содержимого",
		}
		if err := rs.metas.Delete(ctx, e.ID); err != nil {
			rs.logger.Warn("Не удалось удалить запись без содержимого",
				slog.String("file_id", e.ID),
				slog.String("error", err.Error()),
			)
		} else {
			issue.Fixed = true
		}
		res.Issues = append(res.Issues, issue)
		return
	}

	if info.Size != e.SizeBytes {
		rs.logger.Warn("Размер содержимого не совпадает с метаданными",
			slog.String("file_id", e.ID),
			slog.Int64("expected", e.SizeBytes),
			slog.Int64("actual", info.Size),
		)
		res.Issues = append(res.Issues, Issue{
			Type:        SizeMismatch,
			FileID:      e.ID,
			StorageKey:  e.StorageKey,
			Description: "Размер содержимого не совпадает с метаданными",
		})
	}
}
