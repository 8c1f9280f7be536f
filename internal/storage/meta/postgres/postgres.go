// Пакет postgres — хранилище метаданных в PostgreSQL.
// Схема создаётся миграциями пакета database. Все запросы — чистый SQL
// через pgx, без ORM.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/storage/meta"
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// columns — список столбцов таблицы files для SELECT-запросов.
const columns = `id::text, storage_key, display_name, media_type, size_bytes, checksum,
	owner_id, download_count, created_at, expires_at`

// uniqueViolation — код ошибки PostgreSQL при нарушении уникальности.
const uniqueViolation = "23505"

// Store — хранилище метаданных в PostgreSQL.
type Store struct {
	db DBTX
}

// New создаёт хранилище поверх пула или транзакции.
// Пул закрывает вызывающий код.
func New(db DBTX) *Store {
	return &Store{db: db}
}

func scan(row pgx.Row) (*model.FileEntry, error) {
	e := &model.FileEntry{}
	if err := row.Scan(
		&e.ID, &e.StorageKey, &e.DisplayName, &e.MediaType, &e.SizeBytes, &e.Checksum,
		&e.OwnerID, &e.DownloadCount, &e.CreatedAt, &e.ExpiresAt,
	); err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.ExpiresAt = e.ExpiresAt.UTC()
	return e, nil
}

// isUUID отсекает строки, на которых PostgreSQL вернул бы ошибку приведения типа.
func isUUID(id string) bool {
	if len(id) != 36 {
		return false
	}
	for i, c := range id {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
				return false
			}
		}
	}
	return true
}

// Create сохраняет новую запись.
func (s *Store) Create(ctx context.Context, e *model.FileEntry) error {
	query := `
		INSERT INTO files (id, storage_key, display_name, media_type, size_bytes, checksum,
			owner_id, download_count, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.Exec(ctx, query,
		e.ID, e.StorageKey, e.DisplayName, e.MediaType, e.SizeBytes, e.Checksum,
		e.OwnerID, e.DownloadCount, e.CreatedAt, e.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", meta.ErrAlreadyExists, e.ID)
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

// Get возвращает запись по ID или meta.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*model.FileEntry, error) {
	if !isUUID(id) {
		return nil, fmt.Errorf("%w: %s", meta.ErrNotFound, id)
	}

	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = $1`, columns)
	e, err := scan(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", meta.ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return e, nil
}

// buildWhere строит WHERE-условие по фильтру.
func buildWhere(f meta.Filter) (string, []any) {
	var conditions []string
	var args []any

	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if f.AnonymousOnly {
		conditions = append(conditions, "owner_id IS NULL")
	}
	if !f.ActiveAt.IsZero() {
		args = append(args, f.ActiveAt)
		conditions = append(conditions, fmt.Sprintf("expires_at >= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// List возвращает страницу записей и общее количество.
func (s *Store) List(ctx context.Context, f meta.Filter) ([]*model.FileEntry, int, error) {
	where, args := buildWhere(f)

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM files %s`, where)
	if err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}

	dataQuery := fmt.Sprintf(`SELECT %s FROM files %s ORDER BY created_at DESC, id`, columns, where)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		dataQuery += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		dataQuery += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	items, err := s.query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// IncrementDownloads атомарно увеличивает счётчик одной командой UPDATE.
func (s *Store) IncrementDownloads(ctx context.Context, id string) (int64, error) {
	if !isUUID(id) {
		return 0, fmt.Errorf("%w: %s", meta.ErrNotFound, id)
	}

	var count int64
	err := s.db.QueryRow(ctx,
		`UPDATE files SET download_count = download_count + 1 WHERE id = $1 RETURNING download_count`,
		id,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", meta.ErrNotFound, id)
		}
		return 0, fmt.Errorf("ошибка обновления счётчика: %w", err)
	}
	return count, nil
}

// Delete удаляет запись. Отсутствие записи ошибкой не считается.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !isUUID(id) {
		return nil
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	return nil
}

// ListExpired возвращает просроченные записи, старые первыми.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.FileEntry, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM files WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2`, columns,
	)
	return s.query(ctx, query, now, limit)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*model.FileEntry, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки записей: %w", err)
	}
	defer rows.Close()

	var result []*model.FileEntry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// Ping проверяет доступность PostgreSQL.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("PostgreSQL недоступен: %w", err)
	}
	return nil
}

// Close ничего не делает: пулом владеет вызывающий код.
func (s *Store) Close() error {
	return nil
}
