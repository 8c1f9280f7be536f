// Пакет sqlite — хранилище метаданных в одном файле SQLite.
// Подходит для однонодовой установки без внешней СУБД.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/storage/meta"
)

const schema = `CREATE TABLE IF NOT EXISTS files (
	id             TEXT PRIMARY KEY,
	storage_key    TEXT NOT NULL UNIQUE,
	display_name   TEXT NOT NULL,
	media_type     TEXT NOT NULL,
	size_bytes     INTEGER NOT NULL,
	checksum       TEXT NOT NULL,
	owner_id       TEXT,
	download_count INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	expires_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_expires_at ON files (expires_at);
CREATE INDEX IF NOT EXISTS idx_files_owner_created ON files (owner_id, created_at DESC);`

const columns = `id, storage_key, display_name, media_type, size_bytes, checksum,
	owner_id, download_count, created_at, expires_at`

// Store — хранилище метаданных в SQLite.
// Время хранится в миллисекундах Unix (UTC).
type Store struct {
	db *sql.DB
}

// Open открывает (или создаёт) файл базы и схему.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite %s: %w", path, err)
	}
	// SQLite допускает одного писателя: один коннект убирает SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New создаёт таблицы в уже открытой базе.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("ошибка создания схемы: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("ошибка настройки журнала SQLite: %w", err)
	}
	return &Store{db: db}, nil
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*model.FileEntry, error) {
	var (
		e                  model.FileEntry
		owner              sql.NullString
		created, expiresAt int64
	)
	if err := row.Scan(&e.ID, &e.StorageKey, &e.DisplayName, &e.MediaType, &e.SizeBytes,
		&e.Checksum, &owner, &e.DownloadCount, &created, &expiresAt); err != nil {
		return nil, err
	}
	if owner.Valid {
		e.OwnerID = &owner.String
	}
	e.CreatedAt = fromMillis(created)
	e.ExpiresAt = fromMillis(expiresAt)
	return &e, nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Create сохраняет новую запись.
func (s *Store) Create(ctx context.Context, e *model.FileEntry) error {
	var owner sql.NullString
	if e.OwnerID != nil {
		owner = sql.NullString{String: *e.OwnerID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO files ("+columns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.StorageKey, e.DisplayName, e.MediaType, e.SizeBytes, e.Checksum,
		owner, e.DownloadCount, toMillis(e.CreatedAt), toMillis(e.ExpiresAt),
	)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: %s", meta.ErrAlreadyExists, e.ID)
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

// Get возвращает запись по ID.
func (s *Store) Get(ctx context.Context, id string) (*model.FileEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM files WHERE id = ?", id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", meta.ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return e, nil
}

func buildWhere(f meta.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.AnonymousOnly {
		conds = append(conds, "owner_id IS NULL")
	}
	if !f.ActiveAt.IsZero() {
		conds = append(conds, "expires_at >= ?")
		args = append(args, toMillis(f.ActiveAt))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List возвращает страницу записей и общее количество.
func (s *Store) List(ctx context.Context, f meta.Filter) ([]*model.FileEntry, int, error) {
	where, args := buildWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}

	query := "SELECT " + columns + " FROM files" + where + " ORDER BY created_at DESC, id"
	// В SQLite OFFSET допустим только вместе с LIMIT, -1 — без ограничения
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	items, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// IncrementDownloads атомарно увеличивает счётчик скачиваний.
func (s *Store) IncrementDownloads(ctx context.Context, id string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"UPDATE files SET download_count = download_count + 1 WHERE id = ? RETURNING download_count", id,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", meta.ErrNotFound, id)
		}
		return 0, fmt.Errorf("ошибка обновления счётчика: %w", err)
	}
	return n, nil
}

// Delete удаляет запись. Отсутствие записи ошибкой не считается.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id); err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	return nil
}

// ListExpired возвращает просроченные записи, старые первыми.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.FileEntry, error) {
	return s.query(ctx,
		"SELECT "+columns+" FROM files WHERE expires_at <= ? ORDER BY expires_at, id LIMIT ?",
		toMillis(now), limit,
	)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*model.FileEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки записей: %w", err)
	}
	defer rows.Close()

	var entries []*model.FileEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации: %w", err)
	}
	return entries, nil
}

// Ping проверяет доступность базы.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает базу.
func (s *Store) Close() error {
	return s.db.Close()
}
