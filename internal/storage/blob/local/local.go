// Пакет local — Blob Store на локальной файловой системе.
// Содержимое лежит в {dataDir}/{key[:2]}/{key}; запись идёт через
// temp файл → fsync → атомарный rename, поэтому под ключом никогда
// не видно частично записанных данных.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goshare/internal/storage/blob"
)

const tmpSuffix = ".tmp"

// Store — хранилище содержимого на диске.
type Store struct {
	// dataDir — корневая директория хранения (SH_DATA_DIR)
	dataDir string
	logger  *slog.Logger
}

// New создаёт Store. Создаёт директорию, если её нет, и удаляет
// временные файлы, оставшиеся от прерванных записей.
func New(dataDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	s := &Store{
		dataDir: dataDir,
		logger:  logger.With(slog.String("component", "blob_local")),
	}
	s.removeStaleTemp()
	return s, nil
}

// DataDir возвращает путь к директории данных.
func (s *Store) DataDir() string {
	return s.dataDir
}

func (s *Store) path(key string) (string, error) {
	if !blob.ValidKey(key) {
		return "", fmt.Errorf("некорректный ключ %q", key)
	}
	return filepath.Join(s.dataDir, key[:2], key), nil
}

// Put записывает поток в файл.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (blob.PutResult, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return blob.PutResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return blob.PutResult{}, fmt.Errorf("ошибка создания директории: %w", err)
	}

	tmpPath := fullPath + tmpSuffix
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return blob.PutResult{}, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, blob.ContextReader(ctx, r))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return blob.PutResult{}, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return blob.PutResult{}, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return blob.PutResult{}, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return blob.PutResult{}, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return blob.PutResult{Key: key, Size: size}, nil
}

// Open открывает файл на чтение.
func (s *Store) Open(_ context.Context, key string) (io.ReadCloser, blob.Info, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return nil, blob.Info{}, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, blob.Info{}, fmt.Errorf("%w: %s", blob.ErrNotFound, key)
		}
		return nil, blob.Info{}, fmt.Errorf("ошибка открытия файла %s: %w", key, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, blob.Info{}, fmt.Errorf("ошибка получения информации о файле %s: %w", key, err)
	}

	return f, blob.Info{Key: key, Size: st.Size(), ModTime: st.ModTime()}, nil
}

// Delete удаляет файл. Возвращает nil, если файла уже нет.
// Открытые на чтение дескрипторы продолжают работать до закрытия.
func (s *Store) Delete(_ context.Context, key string) error {
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", key, err)
	}
	return nil
}

// Stat возвращает размер и время изменения файла.
func (s *Store) Stat(_ context.Context, key string) (blob.Info, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return blob.Info{}, err
	}

	st, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return blob.Info{}, fmt.Errorf("%w: %s", blob.ErrNotFound, key)
		}
		return blob.Info{}, fmt.Errorf("ошибка получения информации о файле %s: %w", key, err)
	}
	return blob.Info{Key: key, Size: st.Size(), ModTime: st.ModTime()}, nil
}

// List обходит все сохранённые ключи. Временные файлы пропускаются.
func (s *Store) List(ctx context.Context, fn func(blob.Info) error) error {
	return filepath.WalkDir(s.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), tmpSuffix) || !blob.ValidKey(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// Файл удалён во время обхода
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		return fn(blob.Info{Key: d.Name(), Size: info.Size(), ModTime: info.ModTime()})
	})
}

// Ping проверяет, что директория данных доступна на запись.
func (s *Store) Ping(_ context.Context) error {
	testFile := filepath.Join(s.dataDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("директория данных недоступна для записи: %w", err)
	}
	return os.Remove(testFile)
}

// removeStaleTemp удаляет *.tmp, оставшиеся после аварийного завершения.
func (s *Store) removeStaleTemp() {
	_ = filepath.WalkDir(s.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), tmpSuffix) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Не удалось удалить временный файл",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return nil
		}
		s.logger.Info("Удалён временный файл прерванной записи", slog.String("path", path))
		return nil
	})
}
