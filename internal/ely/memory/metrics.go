package memory

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the failures the Cache absorbs, plus hit/miss and
// truncation counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	lookups    *prometheus.CounterVec
	loadErrors *prometheus.CounterVec
	saveErrors *prometheus.CounterVec
	truncated  *prometheus.CounterVec
}

// NewMetrics creates the memory counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ely",
			Subsystem: "memory",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by scope and result (hit or miss).",
		}, []string{"scope", "result"}),
		loadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ely",
			Subsystem: "memory",
			Name:      "load_errors_total",
			Help:      "Stored histories that could not be loaded and were replaced by an empty record.",
		}, []string{"scope", "reason"}),
		saveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ely",
			Subsystem: "memory",
			Name:      "save_errors_total",
			Help:      "Histories that could not be persisted.",
		}, []string{"scope", "kind"}),
		truncated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ely",
			Subsystem: "memory",
			Name:      "truncated_messages_total",
			Help:      "Messages dropped from the front of a history to respect the retention bound.",
		}, []string{"scope"}),
	}
	if reg != nil {
		reg.MustRegister(m.lookups, m.loadErrors, m.saveErrors, m.truncated)
	}
	return m
}

func (m *Metrics) lookup(scope Scope, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(string(scope), result).Inc()
}

func (m *Metrics) loadError(scope Scope, reason string) {
	if m == nil {
		return
	}
	m.loadErrors.WithLabelValues(string(scope), reason).Inc()
}

func (m *Metrics) saveError(scope Scope, kind SaveErrorKind) {
	if m == nil {
		return
	}
	m.saveErrors.WithLabelValues(string(scope), string(kind)).Inc()
}

func (m *Metrics) truncation(scope Scope, dropped int) {
	if m == nil || dropped <= 0 {
		return
	}
	m.truncated.WithLabelValues(string(scope)).Add(float64(dropped))
}
