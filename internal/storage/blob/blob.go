// Пакет blob — абстракция хранилища содержимого файлов.
// Реализации: local (файловая система), gridfs (MongoDB), s3.
// Blob Store ничего не знает о метаданных, владельцах и сроках жизни.
package blob

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound — содержимое с указанным ключом отсутствует.
var ErrNotFound = errors.New("blob не найден")

// PutResult — результат записи содержимого.
type PutResult struct {
	// Key — ключ, под которым содержимое сохранено
	Key string
	// Size — число записанных байт по данным бэкенда
	Size int64
}

// Info — сведения о сохранённом содержимом.
type Info struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store — хранилище содержимого.
type Store interface {
	// Put записывает поток целиком. При ошибке частично записанные
	// данные не должны оставаться видимыми под ключом key.
	Put(ctx context.Context, key string, r io.Reader) (PutResult, error)
	// Open открывает содержимое на чтение. Вызывающий закрывает поток.
	// Возвращает ErrNotFound, если ключа нет.
	Open(ctx context.Context, key string) (io.ReadCloser, Info, error)
	// Delete удаляет содержимое. Отсутствие ключа ошибкой не считается.
	Delete(ctx context.Context, key string) error
	// Stat возвращает сведения о содержимом или ErrNotFound.
	Stat(ctx context.Context, key string) (Info, error)
}

// Lister — хранилище, умеющее перечислить свои ключи.
// Используется при сверке для поиска осиротевшего содержимого.
type Lister interface {
	List(ctx context.Context, fn func(Info) error) error
}

// NewKey генерирует ключ для нового содержимого.
// Ключ не связан с публичным ID записи.
func NewKey() string {
	return uuid.New().String()
}

// ValidKey проверяет, что ключ имеет формат, выдаваемый NewKey.
// Защищает бэкенды от путей вида "../x".
func ValidKey(key string) bool {
	_, err := uuid.Parse(key)
	return err == nil && len(key) == 36
}

// ContextReader прерывает чтение после отмены контекста.
// Нужен для источников, которые сами контекст не учитывают (файлы на диске).
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
