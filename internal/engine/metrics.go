package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько заняла защищенная операция (анализ, пересчет порогов)
	OperationDuration *prometheus.HistogramVec

	// Throttling: сколько вызовов отсек Guard и по какой причине
	ThrottledTotal *prometheus.CounterVec

	// Errors: реальные сбои операций
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - ок, 0.5 - half-open, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// History: заполненность буфера срезов
	HistorySize prometheus.Gauge

	// Thresholds: текущие значения порогов алертов
	ThresholdValue *prometheus.GaugeVec

	// Optimizations: исходы применения рекомендаций
	OptimizationsTotal *prometheus.CounterVec

	// HITL: заявки, ожидающие решения
	PendingDecisions prometheus.Gauge

	// Audit: заполненность буфера журнала (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		OperationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optimizer_operation_duration_seconds",
			Help:    "Histogram of guarded operation latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation"}),

		ThrottledTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_throttled_total",
			Help: "Total number of calls short-circuited by the guard.",
		}, []string{"operation", "reason"}), // причины: circuit_open, in_flight, min_interval

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_errors_total",
			Help: "Total number of failed guarded operations.",
		}, []string{"operation"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "optimizer_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 0.5=half-open, 1=open).",
		}, []string{"operation"}),

		HistorySize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "optimizer_history_snapshots",
			Help: "Number of metrics snapshots kept in history.",
		}),

		ThresholdValue: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "optimizer_alert_threshold",
			Help: "Current value of an alert threshold.",
		}, []string{"name"}),

		OptimizationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_optimizations_total",
			Help: "Optimization recommendations by outcome.",
		}, []string{"outcome"}), // applied, skipped, failed, rolled_back

		PendingDecisions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "optimizer_pending_decisions",
			Help: "Decision requests waiting for human approval.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "optimizer_audit_buffer_utilization",
			Help: "Current number of records in audit buffer.",
		}),
	}
}
