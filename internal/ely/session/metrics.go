package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bdobrica/Ely/internal/ely/memory"
)

const (
	resultOK       = "ok"
	resultFailed   = "failed"
	resultRejected = "rejected"
)

// Metrics counts handled requests and provider latency. A nil *Metrics
// records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics creates the session metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ely",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Chat requests by scope and result (ok, failed, rejected).",
		}, []string{"scope", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ely",
			Subsystem: "session",
			Name:      "provider_seconds",
			Help:      "Time spent waiting for the LLM provider, retries included.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"scope"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.latency)
	}
	return m
}

func (m *Metrics) observe(scope memory.Scope, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(scope), result).Inc()
	if result != resultRejected {
		m.latency.WithLabelValues(string(scope)).Observe(elapsed.Seconds())
	}
}
