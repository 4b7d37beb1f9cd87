package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	domrepo "Heimdall/internal/domain/repository"
	pkgmetrics "Heimdall/pkg/metrics"
)

// FraudMetrics records engine outcomes on top of the shared recorder.
type FraudMetrics struct {
	*pkgmetrics.Recorder

	analyses    *prometheus.CounterVec
	scores      prometheus.Histogram
	historySize prometheus.Gauge
}

func NewFraudMetrics(rec *pkgmetrics.Recorder) *FraudMetrics {
	f := promauto.With(rec.Registerer())
	return &FraudMetrics{
		Recorder: rec,
		analyses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: pkgmetrics.Namespace,
				Subsystem: "detector",
				Name:      "analyses_total",
				Help:      "Scored transactions by recommendation",
			},
			[]string{"recommendation"},
		),
		scores: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: pkgmetrics.Namespace,
			Subsystem: "detector",
			Name:      "anomaly_score",
			Help:      "Distribution of composite anomaly scores",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		historySize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: pkgmetrics.Namespace,
			Subsystem: "history",
			Name:      "window_size",
			Help:      "Transactions currently held in the history window",
		}),
	}
}

func (m *FraudMetrics) RecordAnalysis(recommendation string, score float64) {
	m.analyses.WithLabelValues(recommendation).Inc()
	m.scores.Observe(score)
}

func (m *FraudMetrics) RecordHistorySize(n int) {
	m.historySize.Set(float64(n))
}

var _ domrepo.Metrics = (*FraudMetrics)(nil)
