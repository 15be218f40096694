package stats

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the live Prometheus mirrors of a Collector. Virtual-time
// quantities keep their virtual units; only the scrape happens in real
// time.
type Metrics struct {
	Timeouts      prometheus.Counter
	QueueLen      *prometheus.GaugeVec
	QueueWait     prometheus.Histogram
	ClientOps     *prometheus.CounterVec
	ClientLatency prometheus.Histogram
	ClientHops    prometheus.Histogram

	reg *prometheus.Registry
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhtsim_timeouts_total",
			Help: "Timed-out request waits.",
		}),
		QueueLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dhtsim_queue_len",
			Help: "Inbound service queue length.",
		}, []string{"node"}),
		QueueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dhtsim_queue_wait",
			Help:    "Virtual time spent waiting for a service slot.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		ClientOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dhtsim_client_ops_total",
			Help: "Client operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ClientLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dhtsim_client_latency",
			Help:    "Virtual time from client send to response.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		ClientHops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dhtsim_client_hops",
			Help:    "Routing hops reported for client operations.",
			Buckets: prometheus.LinearBuckets(0, 1, 16),
		}),
	}
	m.reg = prometheus.NewRegistry()
	m.reg.MustRegister(m.Timeouts, m.QueueLen, m.QueueWait, m.ClientOps, m.ClientLatency, m.ClientHops)
	return m
}

// Registry returns the registry all the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// NewHTTPHandler serves a health check and the metrics for scraping.
func NewHTTPHandler(m *Metrics) http.Handler {
	mux := chi.NewMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("DHTSIM\n"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	return mux
}
