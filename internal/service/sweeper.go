// Пакет service — фоновые задачи: очистка просроченных файлов,
// сверка хранилищ и мониторинг зависимостей.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"github.com/bigkaa/goshare/internal/lifecycle"
)

// Prometheus метрики очистки
var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goshare_sweep_runs_total",
		Help: "Количество запусков очистки просроченных файлов",
	}, []string{"result"})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "goshare_sweep_duration_seconds",
		Help:    "Длительность очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
)

// Sweeper — очистка просроченных файлов по расписанию cron.
type Sweeper struct {
	manager  *lifecycle.Manager
	schedule string
	logger   *slog.Logger

	// mu защищает от параллельного запуска RunOnce
	mu        sync.Mutex
	scheduler *cron.Cron
}

// NewSweeper создаёт сервис очистки. schedule — выражение cron
// или дескриптор вида "@every 1h".
func NewSweeper(manager *lifecycle.Manager, schedule string, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		manager:  manager,
		schedule: schedule,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Start регистрирует задачу в планировщике и запускает его.
// Пересекающиеся запуски пропускаются.
func (s *Sweeper) Start(ctx context.Context) error {
	cl := cronLogger{logger: s.logger}
	s.scheduler = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	id, err := s.scheduler.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Очистка завершилась с ошибкой", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("некорректное расписание очистки %q: %w", s.schedule, err)
	}

	s.scheduler.Start()
	s.logger.Info("Очистка просроченных файлов запущена",
		slog.String("schedule", s.schedule),
		slog.Time("next_run", s.scheduler.Entry(id).Next),
	)
	return nil
}

// Stop останавливает планировщик и дожидается текущего прохода.
func (s *Sweeper) Stop() {
	if s.scheduler == nil {
		return
	}
	<-s.scheduler.Stop().Done()
	s.logger.Info("Очистка просроченных файлов остановлена")
}

// RunOnce выполняет один проход очистки на текущий момент.
func (s *Sweeper) RunOnce(ctx context.Context) (lifecycle.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debug("Очистка начата")
	res, err := s.manager.Sweep(ctx, s.manager.Now())

	result := "success"
	if err != nil {
		result = "error"
	}
	sweepRunsTotal.WithLabelValues(result).Inc()
	sweepDurationSeconds.Observe(res.Duration.Seconds())

	s.logger.Info("Очистка завершена",
		slog.Int("scanned", res.Scanned),
		slog.Int("deleted", res.Deleted),
		slog.Int("failed", res.Failed),
		slog.Duration("duration", res.Duration),
	)
	return res, err
}

// cronLogger — адаптер slog для cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
