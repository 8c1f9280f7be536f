// Пакет meta — абстракция хранилища метаданных записей.
// Реализации: filemeta (attr.json + in-memory индекс), postgres,
// mongo, sqlite; cached — LRU-обёртка над любой из них.
package meta

import (
	"context"
	"errors"
	"time"

	"github.com/bigkaa/goshare/internal/domain/model"
)

var (
	// ErrNotFound — запись с указанным ID отсутствует.
	ErrNotFound = errors.New("запись не найдена")
	// ErrAlreadyExists — запись с таким ID уже создана.
	ErrAlreadyExists = errors.New("запись уже существует")
)

// Filter — параметры выборки списка.
type Filter struct {
	// OwnerID — только записи этого владельца ("" — без фильтра)
	OwnerID string
	// AnonymousOnly — только записи без владельца
	AnonymousOnly bool
	// ActiveAt — если задано, только записи, живые в этот момент
	// (ExpiresAt >= ActiveAt)
	ActiveAt time.Time
	// Limit — максимум элементов (0 — без ограничения)
	Limit int
	// Offset — смещение от начала списка
	Offset int
}

// Match проверяет запись на соответствие фильтру без учёта пагинации.
func (f Filter) Match(e *model.FileEntry) bool {
	if f.OwnerID != "" && !e.OwnedBy(f.OwnerID) {
		return false
	}
	if f.AnonymousOnly && !e.IsAnonymous() {
		return false
	}
	if !f.ActiveAt.IsZero() && e.ExpiresAt.Before(f.ActiveAt) {
		return false
	}
	return true
}

// Store — хранилище метаданных.
// Список сортируется по CreatedAt (новые первые), при равенстве по ID.
type Store interface {
	// Create сохраняет новую запись. ErrAlreadyExists при повторе ID.
	Create(ctx context.Context, e *model.FileEntry) error
	// Get возвращает запись или ErrNotFound.
	Get(ctx context.Context, id string) (*model.FileEntry, error)
	// List возвращает страницу записей и общее число подходящих под фильтр.
	List(ctx context.Context, f Filter) ([]*model.FileEntry, int, error)
	// IncrementDownloads атомарно увеличивает счётчик скачиваний
	// и возвращает новое значение. ErrNotFound, если записи нет.
	IncrementDownloads(ctx context.Context, id string) (int64, error)
	// Delete удаляет запись. Отсутствие записи ошибкой не считается.
	Delete(ctx context.Context, id string) error
	// ListExpired возвращает до limit записей с ExpiresAt <= now,
	// самые старые первыми.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.FileEntry, error)
	// Close освобождает ресурсы хранилища.
	Close() error
}

// Pinger — хранилище, умеющее проверить доступность бэкенда.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Uncached — хранилище с кэшем, умеющее прочитать запись в обход него.
type Uncached interface {
	// GetUncached читает запись из нижележащего хранилища и обновляет кэш.
	GetUncached(ctx context.Context, id string) (*model.FileEntry, error)
}
