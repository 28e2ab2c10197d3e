// Package metrics exposes Prometheus counters and histograms for contest
// closures, entries, the lifecycle sweeper and the HTTP API.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/scorepeers/settlement/internal/domain"
)

var (
	closureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorepeers_contest_closures_total",
			Help: "Settlement and refund invocations by kind and result",
		},
		[]string{"kind", "result"},
	)

	closureDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scorepeers_contest_closure_duration_ms",
			Help:    "Settlement and refund duration in milliseconds, lock wait included",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
		[]string{"kind"},
	)

	paidOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorepeers_paid_out_total",
			Help: "Major currency units credited to users by closures",
		},
		[]string{"kind", "currency"},
	)

	entriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorepeers_entries_total",
			Help: "Contest join attempts by result",
		},
		[]string{"result"},
	)

	sweepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorepeers_sweep_transitions_total",
			Help: "Contests moved by the lifecycle sweeper, by target status",
		},
		[]string{"to"},
	)

	httpReqTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scorepeers_http_requests_total",
			Help: "HTTP requests by route pattern, method and status",
		},
		[]string{"route", "method", "status"},
	)

	httpReqDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scorepeers_http_request_duration_ms",
			Help:    "HTTP request duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
		[]string{"route", "method"},
	)
)

// Result buckets an operation error into a low-cardinality label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrPrecondition):
		return "precondition"
	case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrRateLimited):
		return "busy"
	default:
		return "unavailable"
	}
}

// RecordClosure records one settle or refund call. Replays are counted
// separately from fresh closures.
func RecordClosure(kind domain.ClosureKind, replayed bool, err error, started time.Time) {
	res := Result(err)
	if err == nil && replayed {
		res = "replayed"
	}
	closureTotal.WithLabelValues(string(kind), res).Inc()
	closureDuration.WithLabelValues(string(kind)).Observe(float64(time.Since(started).Milliseconds()))
}

// RecordPaidOut adds a committed closure's credits.
func RecordPaidOut(kind domain.ClosureKind, currency domain.Currency, total domain.Amount) {
	paidOut.WithLabelValues(string(kind), string(currency)).Add(total.Decimal().InexactFloat64())
}

// RecordEntry counts a join attempt by result.
func RecordEntry(err error) {
	entriesTotal.WithLabelValues(Result(err)).Inc()
}

// RecordSweep counts a lifecycle transition into to.
func RecordSweep(to domain.AdminStatus) {
	sweepTransitions.WithLabelValues(string(to)).Inc()
}

// RecordHTTP is called by the logging middleware once a response is written.
func RecordHTTP(route, method string, status int, started time.Time) {
	httpReqTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpReqDuration.WithLabelValues(route, method).Observe(float64(time.Since(started).Milliseconds()))
}
