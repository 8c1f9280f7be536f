// Пакет filemeta — хранилище метаданных на файловой системе:
// по одному attr.json на запись плюс in-memory индекс для выборок.
// Подходит для одного экземпляра сервиса.
package filemeta

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/storage/meta"
	"github.com/bigkaa/goshare/internal/storage/meta/attr"
	"github.com/bigkaa/goshare/internal/storage/meta/index"
)

// Store — хранилище метаданных в attr.json.
type Store struct {
	dir string
	idx *index.Index
	// mu сериализует изменения: attr.json и индекс меняются вместе
	mu     sync.Mutex
	logger *slog.Logger
}

// New создаёт хранилище и строит индекс из attr.json в dir.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию метаданных %s: %w", dir, err)
	}

	s := &Store{
		dir:    dir,
		idx:    index.New(logger),
		logger: logger.With(slog.String("component", "meta_file")),
	}
	if err := s.Rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

// Rebuild пересобирает индекс из attr.json.
func (s *Store) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := attr.ScanDir(s.dir)
	if err != nil {
		return err
	}
	for _, path := range res.Broken {
		s.logger.Warn("Повреждённый attr.json пропущен", slog.String("path", path))
	}
	s.idx.Build(res.Entries)
	s.logger.Info("Индекс метаданных построен",
		slog.Int("entries", s.idx.Count()),
		slog.Int("broken", len(res.Broken)),
	)
	return nil
}

// validID отсекает ID, которые не могли быть выданы сервисом,
// чтобы они не превращались в пути файловой системы.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

// Create сохраняет новую запись.
func (s *Store) Create(_ context.Context, e *model.FileEntry) error {
	if !validID(e.ID) {
		return fmt.Errorf("некорректный ID записи %q", e.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx.Get(e.ID) != nil {
		return fmt.Errorf("%w: %s", meta.ErrAlreadyExists, e.ID)
	}
	if err := attr.Write(attr.Path(s.dir, e.ID), e); err != nil {
		return err
	}
	s.idx.Put(e)
	return nil
}

// Get возвращает запись из индекса.
func (s *Store) Get(_ context.Context, id string) (*model.FileEntry, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", meta.ErrNotFound, id)
	}
	e := s.idx.Get(id)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", meta.ErrNotFound, id)
	}
	return e, nil
}

// List возвращает страницу записей.
func (s *Store) List(_ context.Context, f meta.Filter) ([]*model.FileEntry, int, error) {
	items, total := s.idx.List(f)
	return items, total, nil
}

// IncrementDownloads увеличивает счётчик и перезаписывает attr.json.
func (s *Store) IncrementDownloads(_ context.Context, id string) (int64, error) {
	if !validID(id) {
		return 0, fmt.Errorf("%w: %s", meta.ErrNotFound, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.idx.Get(id)
	if e == nil {
		return 0, fmt.Errorf("%w: %s", meta.ErrNotFound, id)
	}
	e.DownloadCount++
	if err := attr.Write(attr.Path(s.dir, id), e); err != nil {
		return 0, err
	}
	s.idx.Put(e)
	return e.DownloadCount, nil
}

// Delete удаляет attr.json и запись индекса.
func (s *Store) Delete(_ context.Context, id string) error {
	if !validID(id) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := attr.Delete(attr.Path(s.dir, id)); err != nil {
		return err
	}
	s.idx.Remove(id)
	return nil
}

// ListExpired возвращает просроченные записи.
func (s *Store) ListExpired(_ context.Context, now time.Time, limit int) ([]*model.FileEntry, error) {
	return s.idx.Expired(now, limit), nil
}

// Ping проверяет, что индекс построен и директория доступна.
func (s *Store) Ping(_ context.Context) error {
	if !s.idx.IsReady() {
		return fmt.Errorf("индекс метаданных не построен")
	}
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("директория метаданных недоступна: %w", err)
	}
	return nil
}

// Close ничего не делает: attr.json уже на диске.
func (s *Store) Close() error {
	return nil
}
