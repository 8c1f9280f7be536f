// Пакет blobtest — общий набор проверок контракта blob.Store.
package blobtest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goshare/internal/storage/blob"
)

// Factory создаёт пустое хранилище для одного подтеста.
type Factory func(t *testing.T) blob.Store

// Run прогоняет все проверки контракта.
func Run(t *testing.T, newStore Factory) {
	t.Run("PutOpen", func(t *testing.T) { testPutOpen(t, newStore(t)) })
	t.Run("Empty", func(t *testing.T) { testEmpty(t, newStore(t)) })
	t.Run("FailedStream", func(t *testing.T) { testFailedStream(t, newStore(t)) })
	t.Run("Missing", func(t *testing.T) { testMissing(t, newStore(t)) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
}

func testPutOpen(t *testing.T, s blob.Store) {
	ctx := context.Background()
	key := blob.NewKey()
	payload := strings.Repeat("содержимое ", 1000)

	res, err := s.Put(ctx, key, strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, key, res.Key)
	assert.Equal(t, int64(len(payload)), res.Size)

	rc, info, err := s.Open(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	assert.Equal(t, int64(len(payload)), info.Size)

	st, err := s.Stat(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), st.Size)
}

func testEmpty(t *testing.T, s blob.Store) {
	ctx := context.Background()
	key := blob.NewKey()

	res, err := s.Put(ctx, key, bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Size)

	rc, _, err := s.Open(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Empty(t, data)
}

// FailingReader отдаёт n байт и затем ошибку.
type FailingReader struct {
	N   int
	Err error
}

func (r *FailingReader) Read(p []byte) (int, error) {
	if r.N <= 0 {
		return 0, r.Err
	}
	n := min(len(p), r.N)
	for i := range n {
		p[i] = 'x'
	}
	r.N -= n
	return n, nil
}

func testFailedStream(t *testing.T, s blob.Store) {
	ctx := context.Background()
	key := blob.NewKey()
	boom := errors.New("обрыв соединения")

	_, err := s.Put(ctx, key, &FailingReader{N: 1024, Err: boom})
	require.Error(t, err)

	_, err = s.Stat(ctx, key)
	assert.True(t, errors.Is(err, blob.ErrNotFound), "после сбоя содержимое не должно остаться: %v", err)
}

func testMissing(t *testing.T, s blob.Store) {
	ctx := context.Background()
	key := blob.NewKey()

	_, _, err := s.Open(ctx, key)
	assert.True(t, errors.Is(err, blob.ErrNotFound), "Open: ожидалась ErrNotFound, получено %v", err)

	_, err = s.Stat(ctx, key)
	assert.True(t, errors.Is(err, blob.ErrNotFound), "Stat: ожидалась ErrNotFound, получено %v", err)
}

func testDelete(t *testing.T, s blob.Store) {
	ctx := context.Background()
	key := blob.NewKey()
	_, err := s.Put(ctx, key, strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Stat(ctx, key)
	assert.True(t, errors.Is(err, blob.ErrNotFound))

	assert.NoError(t, s.Delete(ctx, key), "повторное удаление — не ошибка")
}

func testList(t *testing.T, s blob.Store) {
	lister, ok := s.(blob.Lister)
	if !ok {
		t.Skip("бэкенд не поддерживает листинг")
	}
	ctx := context.Background()

	want := map[string]bool{}
	for range 3 {
		key := blob.NewKey()
		_, err := s.Put(ctx, key, strings.NewReader("abc"))
		require.NoError(t, err)
		want[key] = true
	}

	got := map[string]bool{}
	require.NoError(t, lister.List(ctx, func(info blob.Info) error {
		got[info.Key] = true
		assert.Equal(t, int64(3), info.Size)
		return nil
	}))
	assert.Equal(t, want, got)
}
