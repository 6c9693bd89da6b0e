package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/stockledger/internal/ledger"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_ledger_appends_total",
		Help: "Total ledger entries appended by action.",
	}, []string{"action"})

	ledgerConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockledger_ledger_conflicts_total",
		Help: "Total conditional appends that lost a race for the chain tail.",
	})

	ledgerVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_ledger_verifications_total",
		Help: "Total chain verifications by outcome.",
	}, []string{"result"})

	unauditedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_unaudited_changes_total",
		Help: "Inventory changes committed without a ledger entry, by action.",
	}, []string{"action"})

	idempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockledger_idempotent_replays_total",
		Help: "Mutating requests answered from a stored idempotent response.",
	})

	ledgerSequence = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockledger_ledger_tail_sequence",
		Help: "Sequence number of the most recently appended entry.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		requestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerAppend is a ledger.WithOnAppend hook.
func RecordLedgerAppend(e *ledger.Entry) {
	ledgerAppendsTotal.WithLabelValues(string(e.Action)).Inc()
	ledgerSequence.Set(float64(e.Sequence))
}

// RecordLedgerConflict is a ledger.WithOnConflict hook.
func RecordLedgerConflict() {
	ledgerConflictsTotal.Inc()
}

// RecordVerification records the outcome of a chain verification.
func RecordVerification(valid bool) {
	if valid {
		ledgerVerificationsTotal.WithLabelValues("valid").Inc()
	} else {
		ledgerVerificationsTotal.WithLabelValues("invalid").Inc()
	}
}

// RecordUnaudited counts an inventory change left without a ledger entry.
func RecordUnaudited(action ledger.Action) {
	unauditedTotal.WithLabelValues(string(action)).Inc()
}

// RecordIdempotentReplay counts a response served from the idempotency store.
func RecordIdempotentReplay() {
	idempotentReplaysTotal.Inc()
}
