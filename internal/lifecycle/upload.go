package lifecycle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bigkaa/goshare/internal/domain/filetype"
	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/storage/blob"
	"github.com/bigkaa/goshare/internal/storage/meta"
	"github.com/bigkaa/goshare/internal/storage/wal"
)

// maxNameLength — предел длины отображаемого имени в байтах.
const maxNameLength = 255

// UploadRequest — входящая загрузка.
type UploadRequest struct {
	// Body — поток содержимого
	Body io.Reader
	// Filename — имя файла от клиента
	Filename string
	// DeclaredType — MIME-тип от клиента, только для журнала
	DeclaredType string
	// Size — объявленный размер, -1 если неизвестен
	Size int64
	// OwnerID — владелец, nil для анонимной загрузки
	OwnerID *string
}

// Staged — содержимое записано, запись метаданных ещё не создана.
// Завершается ровно одним вызовом Commit или Abort.
type Staged struct {
	m         *Manager
	tx        *wal.Entry
	id        string
	key       string
	name      string
	mediaType string
	size      int64
	checksum  string
	owner     *string
	done      bool
}

// Size возвращает размер записанного содержимого.
func (s *Staged) Size() int64 { return s.size }

// ParseExpiryDays разбирает срок жизни из формы. Пустая строка — nil
// (срок по умолчанию).
func ParseExpiryDays(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return nil, validationErr("expiryDays должно быть целым числом, получено %q", raw)
	}
	return &days, nil
}

// clampExpiry приводит срок жизни к допустимому диапазону.
func (m *Manager) clampExpiry(days *int) int {
	if days == nil {
		return m.cfg.DefaultExpiryDays
	}
	return min(max(*days, m.cfg.MinExpiryDays), m.cfg.MaxExpiryDays)
}

// displayName оставляет от имени клиента только последний компонент пути.
func displayName(raw string) (string, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "", validationErr("не указано имя файла")
	}
	if !utf8.ValidString(name) || strings.ContainsAny(name, "\x00\r\n\"") {
		return "", validationErr("недопустимые символы в имени файла %q", name)
	}
	if len(name) > maxNameLength {
		return "", validationErr("имя файла длиннее %d байт", maxNameLength)
	}
	return name, nil
}

// Stage проверяет тип и размер и записывает поток в хранилище содержимого.
// До проверки сигнатуры ни один байт не записывается. При любом сбое
// частичное содержимое удаляется до возврата ошибки.
func (m *Manager) Stage(ctx context.Context, req UploadRequest) (*Staged, error) {
	name, err := displayName(req.Filename)
	if err != nil {
		return nil, err
	}
	if req.Size > m.cfg.MaxFileSize {
		return nil, fmtTooLarge(req.Size, m.cfg.MaxFileSize)
	}

	br := bufio.NewReaderSize(blob.ContextReader(ctx, req.Body), filetype.HeadSize)
	head, err := br.Peek(filetype.HeadSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, storageErr("чтение начала потока", err)
	}

	mediaType, err := m.cfg.AllowedTypes.Check(name, head)
	if err != nil {
		m.logger.Info("Загрузка отклонена: недопустимый тип",
			slog.String("filename", name),
			slog.String("declared_type", req.DeclaredType),
			slog.String("reason", err.Error()),
		)
		return nil, validationErr("%v", err)
	}

	id := uuid.New().String()
	key := blob.NewKey()
	tx, err := m.begin(wal.OpFileCreate, id, key)
	if err != nil {
		return nil, storageErr("журнал операций", err)
	}

	mr := newMeasuringReader(&limitReader{r: br, remaining: m.cfg.MaxFileSize})
	if _, err := m.blobs.Put(ctx, key, mr); err != nil {
		m.discard(ctx, tx)
		observe("upload", err)
		if errors.Is(err, errTooLarge) {
			return nil, fmtTooLarge(mr.size, m.cfg.MaxFileSize)
		}
		return nil, storageErr("запись содержимого", err)
	}

	return &Staged{
		m:         m,
		tx:        tx,
		id:        id,
		key:       key,
		name:      name,
		mediaType: mediaType,
		size:      mr.size,
		checksum:  mr.Checksum(),
		owner:     req.OwnerID,
	}, nil
}

func fmtTooLarge(size, limit int64) error {
	return fmt.Errorf("%w: размер больше %d байт (получено не менее %d)", ErrPayloadTooLarge, limit, size)
}

// discard удаляет записанное содержимое и откатывает транзакцию.
// Если удалить не удалось, транзакция остаётся в журнале и будет
// завершена восстановлением или сверкой.
func (m *Manager) discard(ctx context.Context, tx *wal.Entry) {
	ctx = context.WithoutCancel(ctx)
	err := m.retry.do(ctx, "blob.delete", func(ctx context.Context) error {
		return m.blobs.Delete(ctx, tx.StorageKey)
	})
	if err != nil {
		m.release(tx)
		m.logger.Error("Не удалось удалить частичное содержимое",
			slog.String("file_id", tx.FileID),
			slog.String("storage_key", tx.StorageKey),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := m.rollbackTx(tx); err != nil {
		m.logger.Error("Ошибка отката WAL",
			slog.String("tx_id", tx.TransactionID),
			slog.String("error", err.Error()),
		)
	}
}

// Commit создаёт запись метаданных. expiryDays приводится к допустимому
// диапазону, nil — срок по умолчанию. Если запись создать не удалось,
// содержимое удаляется.
func (s *Staged) Commit(ctx context.Context, expiryDays *int) (*model.FileEntry, error) {
	if s.done {
		return nil, errors.New("загрузка уже завершена")
	}
	s.done = true
	m := s.m

	created := m.Now().Truncate(time.Millisecond)
	days := m.clampExpiry(expiryDays)
	e := &model.FileEntry{
		ID:          s.id,
		StorageKey:  s.key,
		DisplayName: s.name,
		MediaType:   s.mediaType,
		SizeBytes:   s.size,
		Checksum:    s.checksum,
		OwnerID:     s.owner,
		CreatedAt:   created,
		ExpiresAt:   created.AddDate(0, 0, days),
	}

	err := m.retry.do(ctx, "meta.create", func(ctx context.Context) error {
		return m.meta.Create(ctx, e)
	})
	if errors.Is(err, meta.ErrAlreadyExists) && m.createdByUs(ctx, e) {
		// Предыдущая попытка успела записать, но вернула ошибку
		err = nil
	}
	if err != nil {
		m.discard(ctx, s.tx)
		observe("upload", err)
		return nil, storageErr("создание метаданных", err)
	}

	if err := m.commitTx(s.tx); err != nil {
		// Данные уже согласованы, восстановление оставит запись как есть
		m.logger.Error("Ошибка коммита WAL (данные сохранены)",
			slog.String("tx_id", s.tx.TransactionID),
			slog.String("file_id", e.ID),
			slog.String("error", err.Error()),
		)
	}

	observe("upload", nil)
	uploadedBytesTotal.Add(float64(e.SizeBytes))
	m.logger.Info("Файл загружен",
		slog.String("file_id", e.ID),
		slog.String("filename", e.DisplayName),
		slog.String("media_type", e.MediaType),
		slog.Int64("size", e.SizeBytes),
		slog.Int("expiry_days", days),
		slog.Bool("anonymous", e.IsAnonymous()),
	)
	return e, nil
}

func (m *Manager) createdByUs(ctx context.Context, e *model.FileEntry) bool {
	got, err := m.meta.Get(ctx, e.ID)
	return err == nil && got.StorageKey == e.StorageKey
}

// Abort отменяет загрузку и удаляет записанное содержимое.
func (s *Staged) Abort(ctx context.Context) {
	if s.done {
		return
	}
	s.done = true
	s.m.discard(ctx, s.tx)
}

// Upload — Stage и Commit одним вызовом.
func (m *Manager) Upload(ctx context.Context, req UploadRequest, expiryDays *int) (*model.FileEntry, error) {
	staged, err := m.Stage(ctx, req)
	if err != nil {
		return nil, err
	}
	return staged.Commit(ctx, expiryDays)
}
