// Пакет index — потокобезопасный in-memory индекс записей.
//
// Индекс строится при старте из attr.json (Build) и обновляется
// синхронно при записи (Put, Remove). Даёт фильтрацию, пагинацию
// и поиск просроченных записей без обращения к диску.
//
// Не персистентный: при рестарте пересобирается из attr.json.
package index

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/storage/meta"
)

// Index — in-memory индекс. Хранит и отдаёт только копии записей.
type Index struct {
	mu      sync.RWMutex
	entries map[string]*model.FileEntry // id → запись
	ready   bool
	logger  *slog.Logger
}

// New создаёт пустой индекс.
func New(logger *slog.Logger) *Index {
	return &Index{
		entries: make(map[string]*model.FileEntry),
		logger:  logger.With(slog.String("component", "index")),
	}
}

// Build заменяет содержимое индекса и помечает его готовым.
func (idx *Index) Build(entries []*model.FileEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.entries = make(map[string]*model.FileEntry, len(entries))
	for _, e := range entries {
		idx.entries[e.ID] = e.Clone()
	}
	idx.ready = true

	idx.logger.Info("Индекс метаданных построен", slog.Int("entries", len(idx.entries)))
}

// IsReady возвращает true, если индекс построен.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Put добавляет или заменяет запись.
func (idx *Index) Put(e *model.FileEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[e.ID] = e.Clone()
}

// Remove удаляет запись. Возвращает true, если запись была.
func (idx *Index) Remove(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.entries[id]; !ok {
		return false
	}
	delete(idx.entries, id)
	return true
}

// Get возвращает копию записи или nil.
func (idx *Index) Get(id string) *model.FileEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	e, ok := idx.entries[id]
	if !ok {
		return nil
	}
	return e.Clone()
}

// List возвращает страницу записей по фильтру и общее число подходящих.
// Записи отсортированы по CreatedAt (новые первые).
func (idx *Index) List(f meta.Filter) ([]*model.FileEntry, int) {
	idx.mu.RLock()
	var filtered []*model.FileEntry
	for _, e := range idx.entries {
		if f.Match(e) {
			filtered = append(filtered, e.Clone())
		}
	}
	idx.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID < filtered[j].ID
		}
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := len(filtered)
	if f.Offset >= total {
		return nil, total
	}

	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return filtered[f.Offset:end], total
}

// Expired возвращает до limit записей с ExpiresAt <= now, старые первыми.
func (idx *Index) Expired(now time.Time, limit int) []*model.FileEntry {
	idx.mu.RLock()
	var expired []*model.FileEntry
	for _, e := range idx.entries {
		if !e.ExpiresAt.After(now) {
			expired = append(expired, e.Clone())
		}
	}
	idx.mu.RUnlock()

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired
}

// Count возвращает число записей в индексе.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}
