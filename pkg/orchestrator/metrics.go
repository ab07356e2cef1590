package orchestrator

import (
	"errors"

	"github.com/entrhq/portalcap/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portalcap",
		Name:      "runs_started_total",
		Help:      "Number of capture runs started.",
	})
	metricRunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portalcap",
		Name:      "runs_finished_total",
		Help:      "Number of capture runs finished, by outcome.",
	}, []string{"outcome"})
	metricRunBusy = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portalcap",
		Name:      "runs_rejected_busy_total",
		Help:      "Start requests rejected because a run was active.",
	})
	metricRunActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "portalcap",
		Name:      "run_active",
		Help:      "1 while a capture run is in progress.",
	})
	metricRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "portalcap",
		Name:      "run_duration_seconds",
		Help:      "Wall time of capture runs.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
	})
	metricPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portalcap",
		Name:      "pages_total",
		Help:      "Page targets processed, by status.",
	}, []string{"status"})
)

func recordRunStarted() {
	metricRunsStarted.Inc()
	metricRunActive.Set(1)
}

func recordBusy() {
	metricRunBusy.Inc()
}

func recordRunFinished(s *Summary) {
	metricRunActive.Set(0)
	metricRunDuration.Observe(s.Duration().Seconds())
	metricRunsFinished.WithLabelValues(outcome(s)).Inc()
	for _, page := range s.Pages {
		metricPages.WithLabelValues(string(page.Status)).Inc()
	}
}

func outcome(s *Summary) string {
	switch {
	case s.Err == nil && s.Failed() == 0:
		return "ok"
	case s.Err == nil:
		return "partial"
	case errors.Is(s.Err, browser.ErrElementNotFound):
		return "element_not_found"
	case errors.Is(s.Err, browser.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
