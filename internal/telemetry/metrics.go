package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	AnalysesStarted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_started_total", Help: "Analysis jobs accepted for execution"})
	AnalysesCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_completed_total", Help: "Analysis jobs that reached completed"})
	AnalysesFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_failed_total", Help: "Analysis jobs that reached failed"})
	RefundsIssued     = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_refunds_total", Help: "Compensating credit refunds issued"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	StepTransitions   = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_step_transitions_total", Help: "Progress step transitions applied"})
	RunningGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analyses_running", Help: "Analysis jobs currently executing"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			AnalysesStarted,
			AnalysesCompleted,
			AnalysesFailed,
			RefundsIssued,
			RateLimitRejects,
			StepTransitions,
			RunningGauge,
		)
	})
	return promhttp.Handler()
}
