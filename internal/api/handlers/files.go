// files.go — HTTP handlers файловых операций:
// загрузка, скачивание, метаданные, список, удаление, QR-код ссылки.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	apierrors "github.com/bigkaa/goshare/internal/api/errors"
	"github.com/bigkaa/goshare/internal/api/middleware"
	"github.com/bigkaa/goshare/internal/domain/model"
	"github.com/bigkaa/goshare/internal/lifecycle"
)

const (
	// multipartOverhead — запас на заголовки частей и служебные поля формы
	multipartOverhead = 1 << 20
	// maxFieldSize — предел для текстовых полей формы
	maxFieldSize = 64

	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	manager         *lifecycle.Manager
	maxFileSize     int64
	uploadTimeout   time.Duration
	downloadTimeout time.Duration
	logger          *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
// Нулевой таймаут отключает ограничение.
func NewFilesHandler(
	manager *lifecycle.Manager,
	maxFileSize int64,
	uploadTimeout, downloadTimeout time.Duration,
	logger *slog.Logger,
) *FilesHandler {
	return &FilesHandler{
		manager:         manager,
		maxFileSize:     maxFileSize,
		uploadTimeout:   uploadTimeout,
		downloadTimeout: downloadTimeout,
		logger:          logger.With(slog.String("component", "files_handler")),
	}
}

// listResponse — ответ списка файлов.
type listResponse struct {
	Items   []model.PublicEntry `json:"items"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
	HasMore bool                `json:"hasMore"`
}

// UploadFile обрабатывает POST /api/v1/files/upload.
// Multipart form: file (обязательно), expiryDays (опционально, в любом порядке).
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.upload(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, h.manager.Public(entry))
}

// UploadFileLegacy — POST /api/files/upload: 200 и запись в обёртке
// {"data": ...} в представлении исходного веб-клиента.
func (h *FilesHandler) UploadFileLegacy(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.upload(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": h.manager.Legacy(entry)})
}

// upload разбирает multipart поток без буферизации файла целиком.
// Содержимое пишется в хранилище по мере чтения части file, запись
// метаданных создаётся после того, как прочитана вся форма.
func (h *FilesHandler) upload(w http.ResponseWriter, r *http.Request) (*model.FileEntry, bool) {
	ctx := r.Context()
	if h.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.uploadTimeout)
		defer cancel()
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается multipart/form-data")
		return nil, false
	}

	var (
		staged   *lifecycle.Staged
		rawDays  string
		hasDays  bool
		formErr  error
		ownerPtr *string
	)
	if sub := middleware.SubjectFromContext(ctx); sub != "" {
		ownerPtr = &sub
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			formErr = h.formError(err)
			break
		}

		switch part.FormName() {
		case "file":
			if staged != nil {
				formErr = fmt.Errorf("%w: поле 'file' указано повторно", lifecycle.ErrValidation)
				break
			}
			staged, formErr = h.manager.Stage(ctx, lifecycle.UploadRequest{
				Body:         part,
				Filename:     part.FileName(),
				DeclaredType: part.Header.Get("Content-Type"),
				Size:         -1,
				OwnerID:      ownerPtr,
			})
			var tooLarge *http.MaxBytesError
			if errors.As(formErr, &tooLarge) {
				formErr = h.formError(tooLarge)
			}
		case "expiryDays":
			rawDays, formErr = readField(part)
			hasDays = true
		}
		part.Close()
		if formErr != nil {
			break
		}
	}

	if formErr != nil {
		if staged != nil {
			staged.Abort(ctx)
		}
		apierrors.Lifecycle(w, h.logger, formErr)
		return nil, false
	}
	if staged == nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return nil, false
	}

	var days *int
	if hasDays {
		days, err = lifecycle.ParseExpiryDays(rawDays)
		if err != nil {
			staged.Abort(ctx)
			apierrors.Lifecycle(w, h.logger, err)
			return nil, false
		}
	}

	entry, err := staged.Commit(ctx, days)
	if err != nil {
		apierrors.Lifecycle(w, h.logger, err)
		return nil, false
	}
	return entry, true
}

// formError переводит ошибку разбора формы в ошибку валидации или размера.
func (h *FilesHandler) formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: тело запроса больше %d байт", lifecycle.ErrPayloadTooLarge, tooLarge.Limit)
	}
	return fmt.Errorf("%w: ошибка разбора multipart: %s", lifecycle.ErrValidation, err.Error())
}

// readField читает короткое текстовое поле формы.
func readField(part io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldSize+1))
	if err != nil {
		return "", fmt.Errorf("%w: ошибка чтения поля: %s", lifecycle.ErrValidation, err.Error())
	}
	if len(data) > maxFieldSize {
		return "", fmt.Errorf("%w: значение поля слишком длинное", lifecycle.ErrValidation)
	}
	return string(data), nil
}

// DownloadFile обрабатывает GET /api/v1/files/{id}/download.
// Поддерживает If-None-Match по SHA-256 содержимого.
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.downloadTimeout)
		defer cancel()
	}

	d, err := h.manager.Open(ctx, chi.URLParam(r, "id"), middleware.CallerFromContext(ctx))
	if err != nil {
		apierrors.Lifecycle(w, h.logger, err)
		return
	}
	defer d.Close()

	e := d.Entry
	etag := `"` + e.Checksum + `"`
	w.Header().Set("ETag", etag)
	if e.Checksum != "" && r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", e.MediaType)
	w.Header().Set("Content-Length", strconv.FormatInt(e.SizeBytes, 10))
	w.Header().Set("Content-Disposition", contentDisposition(e.DisplayName))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	// Заголовки отправлены: ошибку можно только залогировать
	if n, err := d.WriteTo(w); err != nil {
		h.logger.Warn("Скачивание прервано",
			slog.String("file_id", e.ID),
			slog.Int64("written", n),
			slog.Bool("counted", d.Counted()),
			slog.String("error", err.Error()),
		)
	}
}

// contentDisposition возвращает attachment; filename="<имя>". Имя из
// загрузки не содержит кавычек и переводов строк. Для не-ASCII имени
// добавляется filename* по RFC 5987.
func contentDisposition(name string) string {
	v := `attachment; filename="` + name + `"`
	for i := 0; i < len(name); i++ {
		if name[i] >= utf8.RuneSelf {
			return v + "; filename*=UTF-8''" + url.PathEscape(name)
		}
	}
	return v
}

// GetFileMetadata обрабатывает GET /api/v1/files/{id}.
func (h *FilesHandler) GetFileMetadata(w http.ResponseWriter, r *http.Request) {
	e, err := h.manager.Get(r.Context(), chi.URLParam(r, "id"), middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.Lifecycle(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.manager.Public(e))
}

// ListFiles обрабатывает GET /api/v1/files?limit&offset.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		apierrors.ValidationError(w, "Параметр limit должен быть целым числом")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		apierrors.ValidationError(w, "Параметр offset должен быть целым числом")
		return
	}

	res, err := h.manager.List(r.Context(), middleware.CallerFromContext(r.Context()), limit, offset)
	if err != nil {
		apierrors.Lifecycle(w, h.logger, err)
		return
	}

	items := make([]model.PublicEntry, 0, len(res.Items))
	for _, e := range res.Items {
		items = append(items, h.manager.Public(e))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Items:   items,
		Total:   res.Total,
		Limit:   res.Limit,
		Offset:  res.Offset,
		HasMore: res.HasMore,
	})
}

// GetFileMetadataLegacy — GET /api/files/{id}, запись без обёртки.
func (h *FilesHandler) GetFileMetadataLegacy(w http.ResponseWriter, r *http.Request) {
	e, err := h.manager.Get(r.Context(), chi.URLParam(r, "id"), middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.Lifecycle(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.manager.Legacy(e))
}

// ListFilesLegacy — GET /api/files: массив всех видимых живых записей
// без пагинации, как ждёт исходный веб-клиент.
func (h *FilesHandler) ListFilesLegacy(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	items := make([]model.LegacyEntry, 0)
	for offset := 0; ; {
		res, err := h.manager.List(r.Context(), caller, lifecycle.MaxListLimit, offset)
		if err != nil {
			apierrors.Lifecycle(w, h.logger, err)
			return
		}
		for _, e := range res.Items {
			items = append(items, h.manager.Legacy(e))
		}
		if !res.HasMore || len(res.Items) == 0 {
			break
		}
		offset += len(res.Items)
	}
	writeJSON(w, http.StatusOK, items)
}

// DeleteFile обрабатывает DELETE /api/v1/files/{id}.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(r.Context(), chi.URLParam(r, "id"), middleware.CallerFromContext(r.Context())); err != nil {
		apierrors.Lifecycle(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteFileLegacy — DELETE /api/files/{id}, ответ 200 с сообщением.
func (h *FilesHandler) DeleteFileLegacy(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(r.Context(), chi.URLParam(r, "id"), middleware.CallerFromContext(r.Context())); err != nil {
		apierrors.Lifecycle(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Файл удалён"})
}

// QRCode обрабатывает GET /api/v1/files/{id}/qr?size.
// Отдаёт PNG с QR-кодом публичной ссылки.
func (h *FilesHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	size, err := queryInt(r, "size")
	if err != nil {
		apierrors.ValidationError(w, "Параметр size должен быть целым числом")
		return
	}
	if size == 0 {
		size = defaultQRSize
	}
	if size < minQRSize || size > maxQRSize {
		apierrors.ValidationError(w, fmt.Sprintf("Параметр size должен быть от %d до %d", minQRSize, maxQRSize))
		return
	}

	e, err := h.manager.Get(r.Context(), chi.URLParam(r, "id"), middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.Lifecycle(w, h.logger, err)
		return
	}

	png, err := qrcode.Encode(h.manager.ShareReference(e.ID), qrcode.Medium, size)
	if err != nil {
		h.logger.Error("Ошибка генерации QR-кода",
			slog.String("file_id", e.ID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка генерации QR-кода")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// queryInt читает целый параметр запроса. Отсутствие параметра — 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
