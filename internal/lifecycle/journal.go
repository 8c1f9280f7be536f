package lifecycle

import (
	"context"
	"log/slog"

	"github.com/bigkaa/goshare/internal/storage/wal"
)

// begin открывает транзакцию и отмечает её как выполняемую.
// Запись в журнал и отметка идут под одной блокировкой, чтобы Recover
// не увидел транзакцию в журнале раньше, чем в inflight.
func (m *Manager) begin(op wal.OperationType, fileID, storageKey string) (*wal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.wal.Begin(op, fileID, storageKey)
	if err != nil {
		return nil, err
	}
	m.inflight[tx.TransactionID] = struct{}{}
	return tx, nil
}

// release снимает отметку выполнения. Транзакция, оставшаяся в журнале,
// после этого доступна восстановлению.
func (m *Manager) release(tx *wal.Entry) {
	m.mu.Lock()
	delete(m.inflight, tx.TransactionID)
	m.mu.Unlock()
}

func (m *Manager) isInflight(tx *wal.Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[tx.TransactionID]
	return ok
}

func (m *Manager) commitTx(tx *wal.Entry) error {
	defer m.release(tx)
	return m.wal.Commit(tx)
}

func (m *Manager) rollbackTx(tx *wal.Entry) error {
	defer m.release(tx)
	return m.wal.Rollback(tx)
}

// markDeleting запоминает незавершённое удаление записи.
func (m *Manager) markDeleting(tx *wal.Entry) {
	m.mu.Lock()
	m.deleting[tx.FileID] = tx
	m.mu.Unlock()
}

// settled забывает незавершённое удаление fileID. Если его транзакция
// отличается от done, она тоже закрывается: запись уже удалена.
func (m *Manager) settled(fileID string, done *wal.Entry) {
	m.mu.Lock()
	tx, ok := m.deleting[fileID]
	if ok {
		delete(m.deleting, fileID)
	}
	m.mu.Unlock()

	if !ok || (done != nil && tx.TransactionID == done.TransactionID) {
		return
	}
	if err := m.wal.Commit(tx); err != nil {
		m.logger.Warn("Не удалось закрыть транзакцию удаления",
			slog.String("tx_id", tx.TransactionID),
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
}

// pendingDelete возвращает незавершённое удаление fileID.
func (m *Manager) pendingDelete(fileID string) (*wal.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.deleting[fileID]
	return tx, ok
}

// finishDelete пытается удалить запись метаданных, чьё содержимое уже
// удалено. Содержимое не затрагивается. Возвращает false, если запись
// удалить не удалось и ID остаётся в незавершённых удалениях.
func (m *Manager) finishDelete(ctx context.Context, tx *wal.Entry) bool {
	err := m.retry.do(context.WithoutCancel(ctx), "meta.delete", func(ctx context.Context) error {
		return m.meta.Delete(ctx, tx.FileID)
	})
	if err != nil {
		m.logger.Warn("Удаление записи по-прежнему не завершено",
			slog.String("file_id", tx.FileID),
			slog.String("error", err.Error()),
		)
		return false
	}

	// Транзакцию закрывает только тот, кто снял её из deleting
	m.mu.Lock()
	cur, ok := m.deleting[tx.FileID]
	owned := ok && cur.TransactionID == tx.TransactionID
	if owned {
		delete(m.deleting, tx.FileID)
	}
	m.mu.Unlock()
	if !owned {
		return true
	}
	if err := m.wal.Commit(tx); err != nil {
		m.logger.Warn("Не удалось закрыть транзакцию удаления",
			slog.String("tx_id", tx.TransactionID),
			slog.String("file_id", tx.FileID),
			slog.String("error", err.Error()),
		)
	}
	return true
}

// settleDeletes пытается завершить все незавершённые удаления и
// возвращает ID, которые остались незавершёнными.
func (m *Manager) settleDeletes(ctx context.Context) map[string]struct{} {
	m.mu.Lock()
	pending := make([]*wal.Entry, 0, len(m.deleting))
	for _, tx := range m.deleting {
		pending = append(pending, tx)
	}
	m.mu.Unlock()

	left := make(map[string]struct{})
	for _, tx := range pending {
		if !m.finishDelete(ctx, tx) {
			left[tx.FileID] = struct{}{}
		}
	}
	return left
}
