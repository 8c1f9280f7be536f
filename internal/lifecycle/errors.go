package lifecycle

import (
	"errors"
	"fmt"
)

// Виды ошибок менеджера. Конкретные ошибки оборачивают их через %w,
// HTTP-слой сопоставляет вид с кодом ответа.
var (
	// ErrValidation — неверный ввод клиента (тип, имя, срок жизни, пагинация).
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — записи нет, она удалена или её содержимое потеряно.
	ErrNotFound = errors.New("файл не найден")
	// ErrUnauthorized — отказ политики доступа.
	ErrUnauthorized = errors.New("доступ запрещён")
	// ErrExpired — срок жизни записи истёк, очистка ещё не прошла.
	ErrExpired = errors.New("срок хранения файла истёк")
	// ErrStorage — сбой хранилища содержимого или метаданных.
	ErrStorage = errors.New("ошибка хранилища")
	// ErrPayloadTooLarge — файл больше SH_MAX_FILE_SIZE.
	ErrPayloadTooLarge = errors.New("файл слишком большой")
)

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storageErr оборачивает причину так, что errors.Is видит и ErrStorage,
// и исходную ошибку (например, context.Canceled).
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func notFoundErr(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
