package utils

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MigrationMetrics は移行処理のカウンター群です
type MigrationMetrics struct {
	Registry *prometheus.Registry

	EntitiesCreated *prometheus.CounterVec
	EntitiesFailed  *prometheus.CounterVec
	EntitiesDeleted *prometheus.CounterVec
	FileUploads     *prometheus.CounterVec
	APIRequests     *prometheus.CounterVec
	APILatency      *prometheus.HistogramVec
}

var metricsSingleton = sync.OnceValue(func() *MigrationMetrics {
	return NewMigrationMetrics(prometheus.NewRegistry())
})

// Metrics はプロセス共通のメトリクスを返します
func Metrics() *MigrationMetrics {
	return metricsSingleton()
}

// NewMigrationMetrics は指定レジストリにメトリクスを登録します
func NewMigrationMetrics(reg *prometheus.Registry) *MigrationMetrics {
	f := promauto.With(reg)
	return &MigrationMetrics{
		Registry: reg,
		EntitiesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pivotal_import",
			Name:      "entities_created_total",
			Help:      "Total number of entities created in Shortcut.",
		}, []string{"type"}),
		EntitiesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pivotal_import",
			Name:      "entities_failed_total",
			Help:      "Total number of entities that failed to be created.",
		}, []string{"type"}),
		EntitiesDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pivotal_import",
			Name:      "entities_deleted_total",
			Help:      "Total number of imported entities deleted from Shortcut.",
		}, []string{"type", "result"}),
		FileUploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pivotal_import",
			Name:      "file_uploads_total",
			Help:      "Total number of attachment uploads.",
		}, []string{"result"}),
		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shortcut_api",
			Name:      "requests_total",
			Help:      "Total number of Shortcut API requests.",
		}, []string{"method", "status"}),
		APILatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shortcut_api",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for Shortcut API requests.",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method"}),
	}
}

// WriteMetricsFile はメトリクスをテキスト形式でファイルに書き出します。path が空なら何もしません
func WriteMetricsFile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, Metrics().Registry)
}
