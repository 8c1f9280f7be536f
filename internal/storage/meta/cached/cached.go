// Пакет cached — LRU-кэш записей с TTL поверх любого meta.Store.
// Кэшируются только результаты Get; любое изменение записи
// через этот экземпляр сбрасывает её из кэша. Изменения других
// экземпляров видны через GetUncached или по истечении TTL.
package cached

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/storage/meta"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goshare_meta_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goshare_meta_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных.",
	})
)

// Store — meta.Store с кэшем Get.
type Store struct {
	meta.Store
	cache *expirable.LRU[string, *model.FileEntry]
}

// New оборачивает next кэшем на maxSize записей с временем жизни ttl.
func New(next meta.Store, maxSize int, ttl time.Duration) *Store {
	return &Store{
		Store: next,
		cache: expirable.NewLRU[string, *model.FileEntry](maxSize, nil, ttl),
	}
}

// Get возвращает запись из кэша или из нижележащего хранилища.
func (s *Store) Get(ctx context.Context, id string) (*model.FileEntry, error) {
	if e, ok := s.cache.Get(id); ok {
		cacheHitsTotal.Inc()
		return e.Clone(), nil
	}
	cacheMissesTotal.Inc()

	e, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, e.Clone())
	return e, nil
}

// GetUncached читает запись из нижележащего хранилища. Запись,
// удалённая другим экземпляром, пропадает из кэша сразу.
func (s *Store) GetUncached(ctx context.Context, id string) (*model.FileEntry, error) {
	e, err := s.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, meta.ErrNotFound) {
			s.cache.Remove(id)
		}
		return nil, err
	}
	s.cache.Add(id, e.Clone())
	return e, nil
}

// IncrementDownloads сбрасывает запись из кэша.
func (s *Store) IncrementDownloads(ctx context.Context, id string) (int64, error) {
	n, err := s.Store.IncrementDownloads(ctx, id)
	s.cache.Remove(id)
	return n, err
}

// Delete сбрасывает запись из кэша.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.Store.Delete(ctx, id)
	s.cache.Remove(id)
	return err
}

// Ping делегирует проверку нижележащему хранилищу, если оно умеет.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.Store.(meta.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Len возвращает число записей в кэше.
func (s *Store) Len() int {
	return s.cache.Len()
}
