package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "heimdall"

// Recorder holds process-wide Prometheus collectors shared by every component.
type Recorder struct {
	reg         prometheus.Registerer
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	wsClients   prometheus.Gauge
}

// New registers the shared collectors on reg; nil means the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "errors_total",
				Help:      "Errors by kind",
			},
			[]string{"kind"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ws_clients",
			Help:      "Connected websocket clients",
		}),
	}
}

// Registerer returns the registry the recorder writes to.
func (r *Recorder) Registerer() prometheus.Registerer { return r.reg }

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// WSClients is the gauge handed to the websocket hub.
func (r *Recorder) WSClients() prometheus.Gauge { return r.wsClients }
