// Пакет errors — конструкторы ошибок HTTP API.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib

import (
	"encoding/json"
	goerrors "errors"
	"log/slog"
	"net/http"

	"github.com/bigkaa/goshare/internal/lifecycle"
)

// Коды ошибок.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeReconcileInProgress = "RECONCILE_IN_PROGRESS"
	CodeStorageError        = "STORAGE_ERROR"
	CodeInternalError       = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// ReconcileInProgress — 409 сверка уже выполняется.
func ReconcileInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeReconcileInProgress, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// Lifecycle переводит ошибку менеджера жизненного цикла в HTTP-ответ.
// Просроченная запись неотличима от отсутствующей. Подробности сбоев
// хранилища уходят в лог, клиенту — общее сообщение.
func Lifecycle(w http.ResponseWriter, logger *slog.Logger, err error) {
	var accessErr *lifecycle.AccessError

	switch {
	case goerrors.Is(err, lifecycle.ErrNotFound):
		NotFound(w, "Файл не найден")
	case goerrors.As(err, &accessErr):
		if accessErr.Anonymous() {
			Unauthorized(w, "Требуется аутентификация")
		} else {
			Forbidden(w, "Доступ к файлу запрещён")
		}
	case goerrors.Is(err, lifecycle.ErrUnauthorized):
		Forbidden(w, "Доступ к файлу запрещён")
	case goerrors.Is(err, lifecycle.ErrValidation):
		ValidationError(w, err.Error())
	case goerrors.Is(err, lifecycle.ErrPayloadTooLarge):
		FileTooLarge(w, err.Error())
	case goerrors.Is(err, lifecycle.ErrStorage):
		logger.Error("Ошибка хранилища", slog.String("error", err.Error()))
		WriteError(w, http.StatusInternalServerError, CodeStorageError, "Ошибка хранилища, повторите запрос позже")
	default:
		logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		InternalError(w, "Внутренняя ошибка сервера")
	}
}
