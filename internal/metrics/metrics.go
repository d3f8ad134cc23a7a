// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tippic"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	onboardResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "onboarding",
			Name:      "results_total",
			Help:      "Onboard calls by result and reason.",
		},
		[]string{"result", "reason"},
	)

	paymentSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "submissions_total",
			Help:      "Payments submitted to the network by purpose and outcome.",
		},
		[]string{"purpose", "outcome"},
	)

	settlementCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "callbacks_total",
			Help:      "Settlement callbacks by outcome.",
		},
		[]string{"outcome"},
	)

	settlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "duration_seconds",
			Help:      "Time between payment submission and its settlement callback.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	ledgerRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "records_total",
			Help:      "Ledger inserts by purpose and outcome.",
		},
		[]string{"purpose", "outcome"},
	)

	pushAuthEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pushauth",
			Name:      "events_total",
			Help:      "Push-auth token lifecycle events.",
		},
		[]string{"event"},
	)

	sweepRevoked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pushauth",
			Name:      "sweep_revoked_total",
			Help:      "Identities de-authenticated by the sweep.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		onboardResults,
		paymentSubmissions,
		settlementCallbacks,
		settlementDuration,
		ledgerRecords,
		pushAuthEvents,
		sweepRevoked,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per matched route.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else if status < http.StatusBadRequest {
				status = http.StatusInternalServerError
			}
		}
		route := c.Route().Path
		httpRequests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// ObserveOnboard counts an onboard result.
func ObserveOnboard(result, reason string) {
	onboardResults.WithLabelValues(result, reason).Inc()
}

// ObservePayment counts a network submission.
func ObservePayment(purpose string, ok bool) {
	outcome := "accepted"
	if !ok {
		outcome = "rejected"
	}
	paymentSubmissions.WithLabelValues(purpose, outcome).Inc()
}

// ObserveCallback counts a settlement callback outcome.
func ObserveCallback(outcome string) {
	settlementCallbacks.WithLabelValues(outcome).Inc()
}

// ObserveSettlementDuration records submission-to-settlement latency.
func ObserveSettlementDuration(d time.Duration) {
	if d > 0 {
		settlementDuration.Observe(d.Seconds())
	}
}

// ObserveLedger counts a ledger insert attempt.
func ObserveLedger(purpose, outcome string) {
	ledgerRecords.WithLabelValues(purpose, outcome).Inc()
}

// ObservePushAuth counts a push-auth event such as "sent" or "ack_failed".
func ObservePushAuth(event string) {
	pushAuthEvents.WithLabelValues(event).Inc()
}

// ObserveSweep adds the number of identities revoked by one sweep run.
func ObserveSweep(revoked int) {
	sweepRevoked.Add(float64(revoked))
}
