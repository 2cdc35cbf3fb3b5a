package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nexconsult/cookie-refresher/internal/refresh"
)

const namespace = "cookie_refresher"

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Refresh runs by outcome and failure cause.",
	}, []string{"outcome", "cause"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of a refresh run, dispatch included.",
		Buckets:   []float64{15, 30, 45, 60, 90, 120, 180, 300, 600},
	}, []string{"outcome"})

	runsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "runs_active",
		Help:      "Refresh runs currently in progress.",
	})

	statesEntered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "states_entered_total",
		Help:      "State machine transitions.",
	}, []string{"state"})

	blockingDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocking_detected_total",
		Help:      "Blocking signatures observed per page and category.",
	}, []string{"page", "category"})

	acquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_acquisitions_total",
		Help:      "Tool page acquisitions by mechanism.",
	}, []string{"kind"})

	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Webhook delivery attempts by payload kind and result.",
	}, []string{"payload", "result"})

	diagnostics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "diagnostics_stored_total",
		Help:      "Diagnostic artifact writes by key and result.",
	}, []string{"key", "result"})

	missingCookies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cookies_missing_total",
		Help:      "Required cookies absent from the jar after a run.",
	}, []string{"cookie"})
)

// Sink records refresh events as Prometheus metrics
type Sink struct{}

// NewSink creates a metrics sink
func NewSink() *Sink {
	return &Sink{}
}

// Emit implements refresh.EventSink
func (Sink) Emit(e refresh.Event) {
	switch ev := e.(type) {
	case refresh.StateEntered:
		statesEntered.WithLabelValues(string(ev.State)).Inc()
		if ev.State == refresh.StateInit {
			runsActive.Inc()
		}

	case refresh.BlockingObserved:
		blockingDetected.WithLabelValues(ev.Label, ev.Category).Inc()

	case refresh.AcquisitionAttempted:
		acquisitions.WithLabelValues(ev.Kind.String()).Inc()

	case refresh.CookiesMissing:
		for _, name := range ev.Names {
			missingCookies.WithLabelValues(name).Inc()
		}

	case refresh.DiagnosticStored:
		diagnostics.WithLabelValues(ev.Key, result(ev.Err)).Inc()

	case refresh.NotificationSent:
		payload := "failure"
		if ev.Success {
			payload = "success"
		}
		deliveries.WithLabelValues(payload, result(ev.Err)).Inc()

	case refresh.RunFinished:
		runsActive.Dec()
		outcome := "failure"
		if ev.Success {
			outcome = "success"
		}
		runsTotal.WithLabelValues(outcome, string(ev.Cause)).Inc()
		runDuration.WithLabelValues(outcome).Observe(ev.Duration.Seconds())
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
