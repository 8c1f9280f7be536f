package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WAL — файловый журнал операций.
// Перед изменением хранилищ создаётся запись, после завершения
// (успешного или с откатом) она удаляется. Записи, пережившие рестарт,
// возвращает Pending.
type WAL struct {
	// dir — директория хранения WAL-файлов (SH_WAL_DIR)
	dir string
	// mu — мьютекс для потокобезопасности
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// Option настраивает WAL.
type Option func(*WAL)

// WithClock подменяет источник времени StartedAt.
func WithClock(now func() time.Time) Option {
	return func(w *WAL) { w.now = func() time.Time { return now().UTC() } }
}

// New создаёт новый WAL-движок. Проверяет и создаёт директорию
// если она не существует. Возвращает ошибку при проблемах с FS.
func New(dir string, logger *slog.Logger, opts ...Option) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию WAL %s: %w", dir, err)
	}

	// Проверяем доступность на запись через temp файл
	testFile := filepath.Join(dir, ".wal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория WAL %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	w := &WAL{
		dir:    dir,
		logger: logger.With(slog.String("component", "wal")),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Now возвращает текущее время по часам журнала. С ним сравнивается
// StartedAt при определении возраста транзакции.
func (w *WAL) Now() time.Time {
	return w.now()
}

// Begin создаёт новую запись для операции над fileID/storageKey.
// Запись сохраняется атомарно: temp файл → fsync → rename.
func (w *WAL) Begin(op OperationType, fileID, storageKey string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		FileID:        fileID,
		StorageKey:    storageKey,
		StartedAt:     w.now(),
	}

	if err := w.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать WAL-запись: %w", err)
	}

	w.logger.Debug("WAL транзакция начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(entry.Operation)),
		slog.String("file_id", entry.FileID),
	)

	return entry, nil
}

// Commit завершает транзакцию: обе стороны операции выполнены.
func (w *WAL) Commit(entry *Entry) error {
	return w.finish(entry, "завершена")
}

// Rollback завершает транзакцию, последствия которой отменены
// (частичные данные удалены).
func (w *WAL) Rollback(entry *Entry) error {
	return w.finish(entry, "отменена")
}

func (w *WAL) finish(entry *Entry, outcome string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(w.dir, walFileName(entry.TransactionID))
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("WAL-запись %s не найдена", entry.TransactionID)
		}
		return fmt.Errorf("не удалось удалить WAL-запись %s: %w", entry.TransactionID, err)
	}

	w.logger.Debug("WAL транзакция "+outcome,
		slog.String("tx_id", entry.TransactionID),
		slog.String("file_id", entry.FileID),
		slog.Duration("duration", w.now().Sub(entry.StartedAt)),
	)
	return nil
}

// Pending возвращает все незавершённые записи, от старых к новым.
func (w *WAL) Pending() ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(w.dir, "*.wal.json"))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию WAL: %w", err)
	}

	pending := make([]*Entry, 0, len(paths))
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), ".wal.json")
		entry, err := w.readEntry(txID)
		if err != nil {
			w.logger.Warn("Не удалось прочитать WAL-запись",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		pending = append(pending, entry)
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].StartedAt.Before(pending[j].StartedAt)
	})
	return pending, nil
}

// PendingKeys возвращает множество ключей содержимого, с которыми
// сейчас идут незавершённые операции.
func (w *WAL) PendingKeys() (map[string]struct{}, error) {
	pending, err := w.Pending()
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(pending))
	for _, e := range pending {
		keys[e.StorageKey] = struct{}{}
	}
	return keys, nil
}

// writeEntry атомарно записывает WAL-запись на диск.
// Паттерн: temp файл → fsync → atomic rename.
func (w *WAL) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(w.dir, walFileName(entry.TransactionID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

func (w *WAL) readEntry(txID string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, walFileName(txID)))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}

	return &entry, nil
}

// Dir возвращает путь к директории WAL.
func (w *WAL) Dir() string {
	return w.dir
}
