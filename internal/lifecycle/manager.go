// Пакет lifecycle — менеджер жизненного цикла файлов.
// Связывает хранилище содержимого, хранилище метаданных и WAL:
// загрузка, просмотр, скачивание со счётчиком, удаление, очистка
// просроченных записей и восстановление после сбоя.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goshare/internal/domain/filetype"
	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/domain/policy"
	"github.com/bigkaa/goshare/internal/storage/blob"
	"github.com/bigkaa/goshare/internal/storage/meta"
	"github.com/bigkaa/goshare/internal/storage/wal"
)

// Границы пагинации списка.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Config — параметры менеджера.
type Config struct {
	// MaxFileSize — максимальный размер файла в байтах
	MaxFileSize int64
	// AllowedTypes — разрешённые расширения и их MIME-типы
	AllowedTypes *filetype.AllowList
	// Границы и значение по умолчанию срока жизни в днях
	MinExpiryDays     int
	MaxExpiryDays     int
	DefaultExpiryDays int
	// ShareBaseURL — база публичных ссылок
	ShareBaseURL string
	// Policy — политика доступа
	Policy policy.Policy
	// SweepBatchSize — размер страницы очистки
	SweepBatchSize int
	// StorageRetries — число повторов операций хранилища
	StorageRetries int
	// StorageRetryDelay — базовая пауза между повторами
	StorageRetryDelay time.Duration
}

// Manager — менеджер жизненного цикла файлов.
// Безопасен для конкурентного использования.
type Manager struct {
	cfg    Config
	blobs  blob.Store
	meta   meta.Store
	wal    *wal.WAL
	retry  retrier
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex
	// inflight — транзакции журнала, которые ещё выполняет этот процесс.
	// Recover их не трогает.
	inflight map[string]struct{}
	// deleting — удаления, у которых содержимое уже удалено, а запись
	// метаданных нет. Для клиента такой ID уже не существует.
	deleting map[string]*wal.Entry
}

// Option настраивает Manager.
type Option func(*Manager)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New создаёт менеджер.
func New(cfg Config, blobs blob.Store, metas meta.Store, w *wal.WAL, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.AllowedTypes == nil {
		cfg.AllowedTypes = filetype.Default()
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	logger = logger.With(slog.String("component", "lifecycle"))

	m := &Manager{
		cfg:    cfg,
		blobs:  blobs,
		meta:   metas,
		wal:    w,
		retry:  retrier{retries: cfg.StorageRetries, delay: cfg.StorageRetryDelay, logger: logger},
		now:    time.Now,
		logger: logger,

		inflight: make(map[string]struct{}),
		deleting: make(map[string]*wal.Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Now возвращает текущее время по часам менеджера (UTC).
func (m *Manager) Now() time.Time {
	return m.now().UTC()
}

// ShareReference возвращает публичную ссылку на запись.
func (m *Manager) ShareReference(id string) string {
	return model.ShareReference(m.cfg.ShareBaseURL, id)
}

// Public возвращает публичное представление записи.
func (m *Manager) Public(e *model.FileEntry) model.PublicEntry {
	return e.Public(m.cfg.ShareBaseURL)
}

// Legacy возвращает представление записи для исходного веб-клиента.
func (m *Manager) Legacy(e *model.FileEntry) model.LegacyEntry {
	return e.Legacy(m.cfg.ShareBaseURL)
}

// find загружает запись без проверки срока жизни. Запись с
// незавершённым удалением дочищается и считается отсутствующей.
// fresh читает запись в обход кэша метаданных, если он есть.
func (m *Manager) find(ctx context.Context, id string, fresh bool) (*model.FileEntry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFoundErr(id)
	}
	if tx, ok := m.pendingDelete(id); ok {
		m.finishDelete(ctx, tx)
		return nil, notFoundErr(id)
	}

	get := m.meta.Get
	if u, ok := m.meta.(meta.Uncached); ok && fresh {
		get = u.GetUncached
	}

	var e *model.FileEntry
	err := m.retry.do(ctx, "meta.get", func(ctx context.Context) error {
		var err error
		e, err = get(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, meta.ErrNotFound) {
			return nil, notFoundErr(id)
		}
		return nil, storageErr("чтение метаданных", err)
	}
	return e, nil
}

// lookup загружает живую запись. Просроченная запись — ErrExpired,
// даже если очистка её ещё не удалила.
func (m *Manager) lookup(ctx context.Context, id string, fresh bool) (*model.FileEntry, error) {
	e, err := m.find(ctx, id, fresh)
	if err != nil {
		return nil, err
	}
	if e.IsExpired(m.Now()) {
		return nil, &expiredError{id: id}
	}
	return e, nil
}

// expiredError — ErrExpired, которая одновременно считается ErrNotFound:
// для клиента просроченный файл неотличим от удалённого.
type expiredError struct {
	id string
}

func (e *expiredError) Error() string {
	return ErrExpired.Error() + ": " + e.id
}

func (e *expiredError) Is(target error) bool {
	return target == ErrExpired || target == ErrNotFound
}

func (m *Manager) authorize(e *model.FileEntry, caller policy.Caller, op policy.Operation) error {
	d := m.cfg.Policy.CanAccess(e, caller, op)
	if d.Allowed {
		return nil
	}
	return &AccessError{Op: op, Caller: caller, Reason: d.Reason}
}

// AccessError — отказ политики доступа.
// Anonymous сообщает HTTP-слою, выбрать 401 или 403.
type AccessError struct {
	Op     policy.Operation
	Caller policy.Caller
	Reason string
}

func (e *AccessError) Error() string {
	return ErrUnauthorized.Error() + ": " + e.Reason
}

func (e *AccessError) Unwrap() error { return ErrUnauthorized }

// Anonymous сообщает, что отказ получил вызывающий без идентичности.
func (e *AccessError) Anonymous() bool { return !e.Caller.Known() }

// Get возвращает метаданные живой записи. Содержимое и счётчик не
// затрагиваются. Запись читается в обход кэша: удаление, сделанное
// другим экземпляром сервиса, видно сразу.
func (m *Manager) Get(ctx context.Context, id string, caller policy.Caller) (*model.FileEntry, error) {
	e, err := m.lookup(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(e, caller, policy.OpView); err != nil {
		return nil, err
	}
	return e, nil
}

// ListResult — страница списка записей.
type ListResult struct {
	Items   []*model.FileEntry
	Total   int
	Limit   int
	Offset  int
	HasMore bool
}

// List возвращает живые записи, видимые caller, в границах
// policy.ListScope. Записи с незавершённым удалением в список не попадают.
func (m *Manager) List(ctx context.Context, caller policy.Caller, limit, offset int) (*ListResult, error) {
	if limit < 0 || offset < 0 {
		return nil, validationErr("limit и offset не могут быть отрицательными")
	}
	if limit == 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	scope := m.cfg.Policy.ListScope(caller)
	f := meta.Filter{
		OwnerID:       scope.OwnerID,
		AnonymousOnly: scope.AnonymousOnly,
		ActiveAt:      m.Now(),
		Limit:         limit,
		Offset:        offset,
	}
	deleting := m.settleDeletes(ctx)

	var (
		items []*model.FileEntry
		total int
	)
	err := m.retry.do(ctx, "meta.list", func(ctx context.Context) error {
		var err error
		items, total, err = m.meta.List(ctx, f)
		return err
	})
	if err != nil {
		return nil, storageErr("список метаданных", err)
	}

	if len(deleting) > 0 {
		kept := items[:0]
		for _, e := range items {
			if _, gone := deleting[e.ID]; gone {
				total--
				continue
			}
			kept = append(kept, e)
		}
		items = kept
	}

	return &ListResult{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	}, nil
}

// Stats — сводка по записям.
type Stats struct {
	// Active — живые записи
	Active int
	// Total — все записи, включая просроченные и ещё не очищенные
	Total int
}

// Stats считает записи в хранилище метаданных.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := m.retry.do(ctx, "meta.count", func(ctx context.Context) error {
		var err error
		if _, st.Total, err = m.meta.List(ctx, meta.Filter{Limit: 1}); err != nil {
			return err
		}
		_, st.Active, err = m.meta.List(ctx, meta.Filter{ActiveAt: m.Now(), Limit: 1})
		return err
	})
	if err != nil {
		return Stats{}, storageErr("подсчёт записей", err)
	}
	return st, nil
}
