package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for the conversation engine.
type EngineMetrics struct {
	turnsTotal        *prometheus.CounterVec
	rejectionsTotal   *prometheus.CounterVec
	shortCircuits     *prometheus.CounterVec
	toolExecutions    *prometheus.CounterVec
	modelFailures     *prometheus.CounterVec
	completionLatency *prometheus.HistogramVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinvoy",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Total conversation turns processed",
		}, []string{"clinic", "outcome"}),
		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinvoy",
			Subsystem: "engine",
			Name:      "rejections_total",
			Help:      "Turns rejected before reaching the model",
		}, []string{"clinic", "reason"}),
		shortCircuits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinvoy",
			Subsystem: "engine",
			Name:      "short_circuits_total",
			Help:      "Turns answered from clinic config without a model call",
		}, []string{"clinic"}),
		toolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinvoy",
			Subsystem: "engine",
			Name:      "tool_executions_total",
			Help:      "Booking tool calls executed against the executor",
		}, []string{"clinic", "tool", "status"}),
		modelFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinvoy",
			Subsystem: "engine",
			Name:      "model_failures_total",
			Help:      "Completion calls that failed after fallback",
		}, []string{"clinic"}),
		completionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinvoy",
			Subsystem: "engine",
			Name:      "completion_latency_seconds",
			Help:      "Latency of model completion calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"clinic"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.rejectionsTotal, m.shortCircuits,
		m.toolExecutions, m.modelFailures, m.completionLatency)
	return m
}

func (m *EngineMetrics) ObserveTurn(clinic, outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(clinic, outcome).Inc()
}

func (m *EngineMetrics) ObserveRejection(clinic, reason string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(clinic, reason).Inc()
}

func (m *EngineMetrics) ObserveShortCircuit(clinic string) {
	if m == nil {
		return
	}
	m.shortCircuits.WithLabelValues(clinic).Inc()
}

func (m *EngineMetrics) ObserveToolExecution(clinic, tool, status string) {
	if m == nil {
		return
	}
	m.toolExecutions.WithLabelValues(clinic, tool, status).Inc()
}

func (m *EngineMetrics) ObserveModelFailure(clinic string) {
	if m == nil {
		return
	}
	m.modelFailures.WithLabelValues(clinic).Inc()
}

func (m *EngineMetrics) ObserveCompletionLatency(clinic string, seconds float64) {
	if m == nil {
		return
	}
	m.completionLatency.WithLabelValues(clinic).Observe(seconds)
}
