// Пакет metatest — общий набор проверок контракта meta.Store.
// Каждый бэкенд вызывает Run со своей фабрикой хранилища.
package metatest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/storage/meta"
)

// Factory создаёт пустое хранилище для одного подтеста.
type Factory func(t *testing.T) meta.Store

var base = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// NewEntry строит запись с указанными смещениями создания и срока жизни.
func NewEntry(created, ttl time.Duration, owner string) *model.FileEntry {
	e := &model.FileEntry{
		ID:          uuid.New().String(),
		StorageKey:  uuid.New().String(),
		DisplayName: "файл.txt",
		MediaType:   "text/plain",
		SizeBytes:   42,
		Checksum:    "deadbeef",
		CreatedAt:   base.Add(created),
		ExpiresAt:   base.Add(created + ttl),
	}
	if owner != "" {
		e.OwnerID = &owner
	}
	return e
}

// Run прогоняет все проверки контракта.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateGet", func(t *testing.T) { testCreateGet(t, newStore(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("IncrementDownloads", func(t *testing.T) { testIncrement(t, newStore(t)) })
	t.Run("ConcurrentIncrement", func(t *testing.T) { testConcurrentIncrement(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ListExpired", func(t *testing.T) { testListExpired(t, newStore(t)) })
}

func testCreateGet(t *testing.T, s meta.Store) {
	ctx := context.Background()
	e := NewEntry(0, time.Hour, "alice")
	require.NoError(t, s.Create(ctx, e))

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.StorageKey, got.StorageKey)
	assert.Equal(t, e.DisplayName, got.DisplayName)
	assert.Equal(t, e.MediaType, got.MediaType)
	assert.Equal(t, e.SizeBytes, got.SizeBytes)
	assert.Equal(t, e.Checksum, got.Checksum)
	require.NotNil(t, got.OwnerID)
	assert.Equal(t, "alice", *got.OwnerID)
	assert.True(t, e.CreatedAt.Equal(got.CreatedAt), "CreatedAt: %v != %v", e.CreatedAt, got.CreatedAt)
	assert.True(t, e.ExpiresAt.Equal(got.ExpiresAt), "ExpiresAt: %v != %v", e.ExpiresAt, got.ExpiresAt)

	anon := NewEntry(0, time.Hour, "")
	require.NoError(t, s.Create(ctx, anon))
	got, err = s.Get(ctx, anon.ID)
	require.NoError(t, err)
	assert.Nil(t, got.OwnerID)
}

func testCreateDuplicate(t *testing.T, s meta.Store) {
	ctx := context.Background()
	e := NewEntry(0, time.Hour, "")
	require.NoError(t, s.Create(ctx, e))

	err := s.Create(ctx, e)
	assert.True(t, errors.Is(err, meta.ErrAlreadyExists), "ожидалась ErrAlreadyExists, получено %v", err)
}

func testGetMissing(t *testing.T, s meta.Store) {
	_, err := s.Get(context.Background(), uuid.New().String())
	assert.True(t, errors.Is(err, meta.ErrNotFound), "ожидалась ErrNotFound, получено %v", err)
}

func testList(t *testing.T, s meta.Store) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		owner := ""
		if i%2 == 0 {
			owner = "alice"
		}
		e := NewEntry(time.Duration(i)*time.Minute, time.Hour, owner)
		require.NoError(t, s.Create(ctx, e))
		ids = append(ids, e.ID)
	}
	expired := NewEntry(-48*time.Hour, time.Hour, "")
	require.NoError(t, s.Create(ctx, expired))

	items, total, err := s.List(ctx, meta.Filter{ActiveAt: base})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, items, 5)
	assert.Equal(t, ids[4], items[0].ID, "новые записи первыми")
	assert.Equal(t, ids[0], items[4].ID)

	items, total, err = s.List(ctx, meta.Filter{ActiveAt: base, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, items, 2)
	assert.Equal(t, ids[3], items[0].ID)

	_, total, err = s.List(ctx, meta.Filter{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, total, err = s.List(ctx, meta.Filter{AnonymousOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 3, total, "две живые анонимные и одна просроченная")

	_, total, err = s.List(ctx, meta.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
}

func testIncrement(t *testing.T, s meta.Store) {
	ctx := context.Background()
	e := NewEntry(0, time.Hour, "")
	require.NoError(t, s.Create(ctx, e))

	n, err := s.IncrementDownloads(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.IncrementDownloads(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.DownloadCount)

	_, err = s.IncrementDownloads(ctx, uuid.New().String())
	assert.True(t, errors.Is(err, meta.ErrNotFound), "ожидалась ErrNotFound, получено %v", err)
}

func testConcurrentIncrement(t *testing.T, s meta.Store) {
	ctx := context.Background()
	e := NewEntry(0, time.Hour, "")
	require.NoError(t, s.Create(ctx, e))

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IncrementDownloads(ctx, e.ID); err != nil {
				t.Errorf("ошибка инкремента: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.DownloadCount, "каждое скачивание учтено ровно один раз")
}

func testDelete(t *testing.T, s meta.Store) {
	ctx := context.Background()
	e := NewEntry(0, time.Hour, "")
	require.NoError(t, s.Create(ctx, e))

	require.NoError(t, s.Delete(ctx, e.ID))
	_, err := s.Get(ctx, e.ID)
	assert.True(t, errors.Is(err, meta.ErrNotFound))

	assert.NoError(t, s.Delete(ctx, e.ID), "повторное удаление — не ошибка")
}

func testListExpired(t *testing.T, s meta.Store) {
	ctx := context.Background()
	a := NewEntry(0, time.Minute, "")
	b := NewEntry(0, 2*time.Minute, "")
	c := NewEntry(0, time.Hour, "")
	for _, e := range []*model.FileEntry{c, b, a} {
		require.NoError(t, s.Create(ctx, e))
	}

	got, err := s.ListExpired(ctx, base.Add(2*time.Minute), 100)
	require.NoError(t, err)
	require.Len(t, got, 2, "ExpiresAt <= now")
	assert.Equal(t, a.ID, got[0].ID, "старые первыми")
	assert.Equal(t, b.ID, got[1].ID)

	got, err = s.ListExpired(ctx, base.Add(time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}
