package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goshare/internal/storage/meta"
	"github.com/bigkaa/goshare/internal/storage/meta/metatest"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "goshare.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestContract(t *testing.T) {
	metatest.Run(t, func(t *testing.T) meta.Store { return openStore(t) })
}

// TestReopen проверяет, что данные переживают повторное открытие файла.
func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goshare.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	e := metatest.NewEntry(0, 24*time.Hour, "bob")
	require.NoError(t, s.Create(ctx, e))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", *got.OwnerID)
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
}

// TestMillisecondPrecision проверяет усечение времени до миллисекунд.
func TestMillisecondPrecision(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	e := metatest.NewEntry(0, time.Hour, "")
	e.CreatedAt = e.CreatedAt.Add(1500 * time.Microsecond)
	require.NoError(t, s.Create(ctx, e))

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, e.CreatedAt.Truncate(time.Millisecond).Equal(got.CreatedAt))
}
