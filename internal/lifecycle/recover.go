package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/goshare/internal/storage/meta"
	"github.com/bigkaa/goshare/internal/storage/wal"
)

// RecoverResult — итог разбора журнала.
type RecoverResult struct {
	// Pending — незавершённых транзакций в журнале
	Pending int `json:"pending"`
	// Completed — доведены до конца
	Completed int `json:"completed"`
	// RolledBack — отменены (частичное содержимое удалено)
	RolledBack int `json:"rolled_back"`
	// Failed — не удалось разобрать, остались в журнале
	Failed int `json:"failed"`
}

// Recover завершает незавершённые транзакции журнала старше olderThan.
// Возраст считается по часам журнала. Транзакции, которые ещё ведёт
// этот процесс (загрузка или удаление в работе), пропускаются при
// любом olderThan. При старте вызывается с нулём: все записи журнала
// принадлежат прерванному процессу.
//
// file_create: если запись метаданных создана, загрузка состоялась,
// иначе содержимое удаляется. file_delete: удаление доводится до конца.
func (m *Manager) Recover(ctx context.Context, olderThan time.Duration) (RecoverResult, error) {
	var res RecoverResult

	pending, err := m.wal.Pending()
	if err != nil {
		return res, storageErr("чтение журнала", err)
	}

	cutoff := m.wal.Now().Add(-olderThan)
	for _, tx := range pending {
		if olderThan > 0 && tx.StartedAt.After(cutoff) {
			continue
		}
		if m.isInflight(tx) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Pending++

		rolledBack, err := m.finish(ctx, tx)
		if tx.Operation == wal.OpFileDelete {
			if err != nil {
				m.markDeleting(tx)
			} else {
				m.settled(tx.FileID, tx)
			}
		}
		switch {
		case err != nil:
			res.Failed++
			m.logger.Error("Не удалось завершить транзакцию журнала",
				slog.String("tx_id", tx.TransactionID),
				slog.String("operation", string(tx.Operation)),
				slog.String("file_id", tx.FileID),
				slog.String("error", err.Error()),
			)
		case rolledBack:
			res.RolledBack++
		default:
			res.Completed++
		}
	}

	if res.Pending > 0 {
		m.logger.Info("Журнал операций разобран",
			slog.Int("pending", res.Pending),
			slog.Int("completed", res.Completed),
			slog.Int("rolled_back", res.RolledBack),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// finish доводит одну транзакцию до согласованного состояния.
func (m *Manager) finish(ctx context.Context, tx *wal.Entry) (rolledBack bool, err error) {
	switch tx.Operation {
	case wal.OpFileCreate:
		e, err := m.meta.Get(ctx, tx.FileID)
		switch {
		case err == nil && e.StorageKey == tx.StorageKey:
			return false, m.wal.Commit(tx)
		case err != nil && !errors.Is(err, meta.ErrNotFound):
			return false, err
		}
		if err := m.retry.do(ctx, "blob.delete", func(ctx context.Context) error {
			return m.blobs.Delete(ctx, tx.StorageKey)
		}); err != nil {
			return false, err
		}
		return true, m.wal.Rollback(tx)

	case wal.OpFileDelete:
		if err := m.retry.do(ctx, "blob.delete", func(ctx context.Context) error {
			return m.blobs.Delete(ctx, tx.StorageKey)
		}); err != nil {
			return false, err
		}
		if err := m.retry.do(ctx, "meta.delete", func(ctx context.Context) error {
			return m.meta.Delete(ctx, tx.FileID)
		}); err != nil {
			return false, err
		}
		return false, m.wal.Commit(tx)
	}

	return false, fmt.Errorf("неизвестная операция журнала %q", tx.Operation)
}
