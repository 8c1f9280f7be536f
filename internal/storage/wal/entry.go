// Пакет wal — файловый журнал незавершённых операций загрузки и удаления.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в SH_WAL_DIR,
// который существует, пока операция не завершена. После аварийного
// рестарта оставшиеся записи показывают, какие пары
// (запись метаданных, blob) могли остаться несогласованными.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

const (
	// OpFileCreate — загрузка: blob записывается, затем создаётся запись
	OpFileCreate OperationType = "file_create"
	// OpFileDelete — удаление: сначала blob, затем запись
	OpFileDelete OperationType = "file_delete"
)

// Entry — запись WAL. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// FileID — публичный ID записи
	FileID string `json:"file_id"`

	// StorageKey — ключ содержимого в Blob Store
	StorageKey string `json:"storage_key"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`
}

// walFileName возвращает имя файла WAL для данной транзакции.
func walFileName(txID string) string {
	return txID + ".wal.json"
}
