package errors //nolint:revive // конфликт имени со stdlib

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/bigkaa/goshare/internal/domain/policy"
	"github.com/bigkaa/goshare/internal/lifecycle"
)

func TestWriteError_Format(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, CodeValidationError, "плохой запрос")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус: ожидался 400, получен %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: получен %q", ct)
	}

	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("тело не JSON: %v", err)
	}
	if body.Error.Code != CodeValidationError || body.Error.Message != "плохой запрос" {
		t.Errorf("неверное тело: %+v", body)
	}
}

func TestLifecycle_Mapping(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"не найден", fmt.Errorf("%w: x", lifecycle.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"валидация", fmt.Errorf("%w: limit", lifecycle.ErrValidation), http.StatusBadRequest, CodeValidationError},
		{"слишком большой", fmt.Errorf("%w: 10 > 5", lifecycle.ErrPayloadTooLarge), http.StatusRequestEntityTooLarge, CodeFileTooLarge},
		{"хранилище", fmt.Errorf("%w: put", lifecycle.ErrStorage), http.StatusInternalServerError, CodeStorageError},
		{"аноним без доступа", &lifecycle.AccessError{Op: policy.OpDownload, Caller: policy.Anonymous}, http.StatusUnauthorized, CodeUnauthorized},
		{"чужой без доступа", &lifecycle.AccessError{Op: policy.OpDelete, Caller: policy.Caller{Subject: "bob"}}, http.StatusForbidden, CodeForbidden},
		{"неизвестная", fmt.Errorf("что-то сломалось"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Lifecycle(rec, logger, tt.err)

			if rec.Code != tt.wantCode {
				t.Errorf("статус: ожидался %d, получен %d", tt.wantCode, rec.Code)
			}
			var body errorBody
			_ = json.NewDecoder(rec.Body).Decode(&body)
			if body.Error.Code != tt.wantBody {
				t.Errorf("код: ожидался %s, получен %s", tt.wantBody, body.Error.Code)
			}
		})
	}
}
