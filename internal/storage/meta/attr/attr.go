// Пакет attr — чтение и запись файлов метаданных {id}.attr.json.
// Для бэкенда file это единственный источник истины о записях.
// Все операции записи выполняются атомарно: temp → fsync → rename.
package attr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goshare/internal/domain/model"
)

// Suffix — суффикс файла метаданных.
const Suffix = ".attr.json"

// maxAttrFileSize — максимальный допустимый размер attr.json (4 КБ).
// Ограничение гарантирует атомарность записи.
const maxAttrFileSize = 4096

// Path возвращает путь к attr.json записи id в директории dir.
func Path(dir, id string) string {
	return filepath.Join(dir, id+Suffix)
}

// IDFromPath извлекает ID записи из пути attr.json.
func IDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), Suffix)
}

// Write атомарно записывает запись в attr.json.
// Возвращает ошибку, если сериализованные данные превышают 4 КБ.
func Write(path string, e *model.FileEntry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	if len(data) > maxAttrFileSize {
		return fmt.Errorf("размер attr.json (%d байт) превышает максимум (%d байт)", len(data), maxAttrFileSize)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"

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

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Read читает запись из attr.json.
func Read(path string) (*model.FileEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения attr.json %s: %w", path, err)
	}

	var e model.FileEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("ошибка десериализации attr.json %s: %w", path, err)
	}
	if e.ID == "" || e.StorageKey == "" {
		return nil, fmt.Errorf("attr.json %s: отсутствует id или storage_key", path)
	}

	return &e, nil
}

// Delete удаляет attr.json. Возвращает nil, если файла уже нет.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления attr.json %s: %w", path, err)
	}
	return nil
}

// ScanResult — результат сканирования директории.
type ScanResult struct {
	Entries []*model.FileEntry
	// Broken — пути attr.json, которые не удалось прочитать
	Broken []string
}

// ScanDir читает все attr.json директории (не рекурсивно).
// Используется при построении индекса при старте.
func ScanDir(dir string) (*ScanResult, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+Suffix))
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", dir, err)
	}

	res := &ScanResult{}
	for _, path := range matches {
		e, err := Read(path)
		if err != nil {
			res.Broken = append(res.Broken, path)
			continue
		}
		res.Entries = append(res.Entries, e)
	}

	return res, nil
}
