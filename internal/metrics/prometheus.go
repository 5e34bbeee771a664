package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stanstork/chartdata-api/internal/models"
)

// PrometheusRecorder records run and row transitions of the coordinator.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	rowsTotal    *prometheus.CounterVec
	rowDuration  *prometheus.HistogramVec
	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runActive    prometheus.Gauge
	lastRunRows  *prometheus.GaugeVec
}

func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartdata_rows_total",
			Help: "Data points executed, by source system and outcome.",
		}, []string{"source", "outcome"}),
		rowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chartdata_row_duration_seconds",
			Help:    "Time spent executing a single data point query.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"source"}),
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartdata_runs_started_total",
			Help: "Runs started, by mode.",
		}, []string{"mode"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartdata_runs_finished_total",
			Help: "Runs finished, by mode and whether they completed or were stopped.",
		}, []string{"mode", "result"}),
		runActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartdata_run_active",
			Help: "1 while a run is in progress.",
		}),
		lastRunRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chartdata_last_run_rows",
			Help: "Row tallies of the most recent finished run, by outcome.",
		}, []string{"outcome"}),
	}
	registry.MustRegister(r.rowsTotal, r.rowDuration, r.runsStarted, r.runsFinished, r.runActive, r.lastRunRows)
	return r
}

func (r *PrometheusRecorder) RunStarted(mode models.RunMode) {
	r.runsStarted.WithLabelValues(string(mode)).Inc()
	r.runActive.Set(1)
}

func (r *PrometheusRecorder) RowFinished(system models.SourceSystem, res models.ExecutionResult) {
	r.rowsTotal.WithLabelValues(string(system), string(res.Outcome)).Inc()
	r.rowDuration.WithLabelValues(string(system)).Observe((time.Duration(res.DurationMs) * time.Millisecond).Seconds())
}

func (r *PrometheusRecorder) RunFinished(state models.RunState) {
	result := "completed"
	if state.Stopped {
		result = "stopped"
	}
	r.runsFinished.WithLabelValues(string(state.Mode), result).Inc()
	r.runActive.Set(0)
	r.lastRunRows.WithLabelValues(string(models.OutcomeSuccess)).Set(float64(state.SuccessCount))
	r.lastRunRows.WithLabelValues(string(models.OutcomeZero)).Set(float64(state.ZeroValueCount))
	r.lastRunRows.WithLabelValues(string(models.OutcomeFailure)).Set(float64(state.FailureCount))
}

// Handler serves the recorder's registry.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
