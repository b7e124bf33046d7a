package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "remind_api_requests_total", Help: "API requests"},
		[]string{"route", "status"},
	)
	Inserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "remind_schedule_inserts_total", Help: "Schedule insert results"},
		[]string{"result"},
	)
	DispatchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "remind_dispatch_attempts_total", Help: "Delivery attempt outcomes"},
		[]string{"result"},
	)
	Terminal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "remind_dispatch_terminal_total", Help: "Terminal transitions"},
		[]string{"status", "reason"},
	)
	StoreInconsistencies = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "remind_store_inconsistency_total", Help: "Sends whose resulting state could not be persisted"},
	)
	CycleSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "remind_cycle_skipped_total", Help: "Ticks skipped because a cycle was still running"},
	)
	CycleErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "remind_cycle_errors_total", Help: "Cycles aborted before dispatch"},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "remind_cycle_duration_seconds", Help: "Dispatch cycle duration"},
	)
	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "remind_send_latency_seconds", Help: "Transport send latency"},
	)
	DispatchConcurrency = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "remind_dispatch_concurrency", Help: "Fan-out bound used by the last cycle"},
	)
	JobsRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "remind_jobqueue_running", Help: "Job queue tasks executing"},
		[]string{"queue"},
	)
	JobsWaiting = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "remind_jobqueue_waiting", Help: "Job queue tasks waiting for a slot or memory"},
		[]string{"queue"},
	)
	JobResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "remind_jobqueue_results_total", Help: "Job queue task outcomes"},
		[]string{"queue", "result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		APIRequests, Inserts,
		DispatchAttempts, Terminal, StoreInconsistencies,
		CycleSkipped, CycleErrors, CycleDuration, SendLatency, DispatchConcurrency,
		JobsRunning, JobsWaiting, JobResults,
	)
}
