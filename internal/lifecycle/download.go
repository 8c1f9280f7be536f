package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/domain/policy"
	"github.com/bigkaa/goshare/internal/storage/blob"
)

// copyBufferSize — размер буфера потоковой отдачи.
const copyBufferSize = 32 << 10

// Download — открытый поток скачивания.
// Счётчик скачиваний увеличивается один раз, как только первые байты
// приняты получателем (для пустого файла — после полной отдачи).
type Download struct {
	// Entry — запись на момент открытия
	Entry *model.FileEntry

	m       *Manager
	ctx     context.Context
	rc      io.ReadCloser
	once    sync.Once
	counted bool
}

// Open проверяет срок жизни и политику и открывает содержимое записи.
// Если содержимое потеряно, висящая запись удаляется и возвращается ErrNotFound.
func (m *Manager) Open(ctx context.Context, id string, caller policy.Caller) (*Download, error) {
	e, err := m.lookup(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(e, caller, policy.OpDownload); err != nil {
		return nil, err
	}

	var rc io.ReadCloser
	err = m.retry.do(ctx, "blob.open", func(ctx context.Context) error {
		var err error
		rc, _, err = m.blobs.Open(ctx, e.StorageKey)
		return err
	})
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			m.healDangling(ctx, e)
			return nil, notFoundErr(id)
		}
		observe("download", err)
		return nil, storageErr("открытие содержимого", err)
	}

	return &Download{Entry: e, m: m, ctx: ctx, rc: rc}, nil
}

// healDangling удаляет запись, содержимое которой отсутствует.
func (m *Manager) healDangling(ctx context.Context, e *model.FileEntry) {
	m.logger.Warn("Содержимое записи отсутствует, запись удаляется",
		slog.String("file_id", e.ID),
		slog.String("storage_key", e.StorageKey),
	)
	err := m.retry.do(context.WithoutCancel(ctx), "meta.delete", func(ctx context.Context) error {
		return m.meta.Delete(ctx, e.ID)
	})
	if err != nil {
		m.logger.Error("Не удалось удалить висящую запись",
			slog.String("file_id", e.ID),
			slog.String("error", err.Error()),
		)
	}
}

// WriteTo отдаёт содержимое в w. Чтение прерывается отменой контекста,
// переданного в Open.
func (d *Download) WriteTo(w io.Writer) (int64, error) {
	r := blob.ContextReader(d.ctx, d.rc)
	buf := make([]byte, copyBufferSize)

	var written int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			written += int64(wn)
			if wn > 0 {
				d.count()
			}
			if werr != nil {
				return written, werr
			}
			if wn < n {
				return written, io.ErrShortWrite
			}
		}
		if errors.Is(rerr, io.EOF) {
			// Пустой файл учитывается после полной отдачи
			d.count()
			return written, nil
		}
		if rerr != nil {
			if written == 0 {
				observe("download", rerr)
			}
			return written, storageErr("чтение содержимого", rerr)
		}
	}
}

// count увеличивает счётчик ровно один раз за поток. Получатель уже
// принял байты, поэтому отмена запроса не должна помешать учёту.
func (d *Download) count() {
	d.once.Do(func() {
		d.counted = true
		m := d.m
		var n int64
		err := m.retry.do(context.WithoutCancel(d.ctx), "meta.increment", func(ctx context.Context) error {
			var err error
			n, err = m.meta.IncrementDownloads(ctx, d.Entry.ID)
			return err
		})
		if err != nil {
			m.logger.Warn("Не удалось учесть скачивание",
				slog.String("file_id", d.Entry.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		d.Entry.DownloadCount = n
		downloadsTotal.Inc()
		observe("download", nil)
		m.logger.Debug("Скачивание учтено",
			slog.String("file_id", d.Entry.ID),
			slog.Int64("download_count", n),
		)
	})
}

// Counted сообщает, учтён ли этот поток в счётчике.
func (d *Download) Counted() bool {
	return d.counted
}

// Close закрывает поток содержимого.
func (d *Download) Close() error {
	return d.rc.Close()
}
