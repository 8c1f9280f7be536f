package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bigkaa/goshare/internal/storage/blob"
	"github.com/bigkaa/goshare/internal/storage/meta"
)

// retrier повторяет операции хранилища при временных сбоях.
// retries — число повторов после первой попытки, пауза растёт линейно.
type retrier struct {
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

// retryable отсекает ошибки, которые повтор не исправит.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, blob.ErrNotFound), errors.Is(err, meta.ErrNotFound), errors.Is(err, meta.ErrAlreadyExists):
		return false
	}
	return true
}

func (r retrier) do(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil || !retryable(err) || attempt >= r.retries {
			return err
		}

		storageRetriesTotal.WithLabelValues(op).Inc()
		r.logger.Warn("Повтор операции хранилища",
			slog.String("operation", op),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(r.delay * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}
