package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/domain/policy"
	"github.com/bigkaa/goshare/internal/storage/wal"
)

// Delete удаляет запись по запросу caller. Просроченная запись
// удаляется без проверки политики, клиент получает ErrNotFound.
func (m *Manager) Delete(ctx context.Context, id string, caller policy.Caller) error {
	e, err := m.find(ctx, id, true)
	if err != nil {
		return err
	}

	if e.IsExpired(m.Now()) {
		if err := m.purge(ctx, e); err != nil {
			m.logger.Warn("Не удалось удалить просроченную запись",
				slog.String("file_id", e.ID),
				slog.String("error", err.Error()),
			)
		}
		return &expiredError{id: id}
	}

	if err := m.authorize(e, caller, policy.OpDelete); err != nil {
		return err
	}

	err = m.purge(ctx, e)
	observe("delete", err)
	if err != nil {
		return err
	}
	m.logger.Info("Файл удалён",
		slog.String("file_id", e.ID),
		slog.String("caller", caller.Subject),
	)
	return nil
}

// purge удаляет содержимое, затем метаданные. Транзакция журнала
// держится до удаления обеих частей: сбой между шагами завершит
// восстановление или следующее обращение к записи.
func (m *Manager) purge(ctx context.Context, e *model.FileEntry) error {
	tx, err := m.begin(wal.OpFileDelete, e.ID, e.StorageKey)
	if err != nil {
		return storageErr("журнал операций", err)
	}

	err = m.retry.do(ctx, "blob.delete", func(ctx context.Context) error {
		return m.blobs.Delete(ctx, e.StorageKey)
	})
	if err != nil {
		// Ничего не удалено, запись остаётся доступной
		if rbErr := m.rollbackTx(tx); rbErr != nil {
			m.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", tx.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
		return storageErr("удаление содержимого", err)
	}

	err = m.retry.do(ctx, "meta.delete", func(ctx context.Context) error {
		return m.meta.Delete(ctx, e.ID)
	})
	if err != nil {
		// Транзакция остаётся в журнале. Пока запись не удалена, find
		// дочищает её и отвечает NotFound.
		m.release(tx)
		m.markDeleting(tx)
		return storageErr("удаление метаданных", err)
	}

	m.settled(e.ID, tx)
	if err := m.commitTx(tx); err != nil {
		m.logger.Error("Ошибка коммита WAL (данные удалены)",
			slog.String("tx_id", tx.TransactionID),
			slog.String("file_id", e.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// SweepResult — итог одного прохода очистки.
type SweepResult struct {
	// Scanned — просмотрено просроченных записей
	Scanned int `json:"scanned"`
	// Deleted — удалено
	Deleted int `json:"deleted"`
	// Failed — не удалось удалить (останутся до следующего прохода)
	Failed int `json:"failed"`
	// Duration — длительность прохода
	Duration time.Duration `json:"duration"`
}

// Sweep удаляет записи с ExpiresAt <= now страницами по SweepBatchSize.
// Сбой одной записи не прерывает проход. Повторный запуск над уже
// удалёнными записями ничего не делает.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	start := time.Now()
	var res SweepResult
	failed := make(map[string]struct{})

	defer func() {
		res.Duration = time.Since(start)
	}()

	for {
		// Неудалённые записи остаются в выборке, страница расширяется на них
		limit := m.cfg.SweepBatchSize + len(failed)
		var batch []*model.FileEntry
		err := m.retry.do(ctx, "meta.list_expired", func(ctx context.Context) error {
			var err error
			batch, err = m.meta.ListExpired(ctx, now, limit)
			return err
		})
		if err != nil {
			return res, storageErr("выборка просроченных записей", err)
		}

		progress := 0
		for _, e := range batch {
			if _, seen := failed[e.ID]; seen {
				continue
			}
			if err := ctx.Err(); err != nil {
				return res, err
			}

			res.Scanned++
			if err := m.purge(ctx, e); err != nil {
				if errors.Is(err, context.Canceled) {
					return res, err
				}
				res.Failed++
				failed[e.ID] = struct{}{}
				m.logger.Warn("Не удалось удалить просроченный файл",
					slog.String("file_id", e.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			res.Deleted++
			progress++
			sweepDeletedTotal.Inc()
		}

		// Неполная страница: просроченных больше нет
		if len(batch) < limit || progress == 0 {
			return res, nil
		}
	}
}
