package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal — операции менеджера по результату.
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goshare_operations_total",
			Help: "Количество операций над файлами",
		},
		[]string{"operation", "result"},
	)

	// uploadedBytesTotal — объём принятого содержимого.
	uploadedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goshare_uploaded_bytes_total",
			Help: "Объём загруженного содержимого в байтах",
		},
	)

	// downloadsTotal — начатые скачивания (учтённые в счётчике записи).
	downloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goshare_downloads_total",
			Help: "Количество учтённых скачиваний",
		},
	)

	// storageRetriesTotal — повторы операций хранилища.
	storageRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goshare_storage_retries_total",
			Help: "Количество повторов операций хранилища",
		},
		[]string{"operation"},
	)

	// sweepDeletedTotal — записи, удалённые очисткой.
	sweepDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goshare_sweep_deleted_total",
			Help: "Количество просроченных файлов, удалённых очисткой",
		},
	)
)

func observe(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(op, result).Inc()
}
