// Package health periodically re-verifies the ledger and reports whether
// the chain is intact.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/stockledger/internal/ledger"
)

// Config holds integrity check configuration.
type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	// FullEvery forces a walk from sequence 0 every N checks. In between,
	// only entries appended since the last check are verified.
	FullEvery int
}

// Verifier is the part of *ledger.Ledger the checker needs.
type Verifier interface {
	Len(ctx context.Context) (int64, error)
	VerifyChain(ctx context.Context, from, to int64) (ledger.VerificationResult, error)
}

// MetricsRecordFunc is an optional callback for recording check outcomes.
type MetricsRecordFunc func(valid bool)

// Status is the most recent integrity state.
type Status struct {
	Healthy     bool      `json:"healthy"`
	LastChecked time.Time `json:"last_checked"`
	Entries     int64     `json:"entries"`
	AtSequence  int64     `json:"at_sequence,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Checker runs periodic integrity checks.
type Checker struct {
	verifier  Verifier
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger

	mu       sync.Mutex
	status   Status
	checks   int
	verified int64 // entries [0, verified) passed the last walk
}

// New creates a Checker. The ledger is considered healthy until the first
// check says otherwise.
func New(v Verifier, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = time.Minute
	}
	if cfg.FullEvery <= 0 {
		cfg.FullEvery = 12
	}
	return &Checker{
		verifier: v,
		cfg:      cfg,
		logger:   logger,
		status:   Status{Healthy: true},
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the check loop until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cctx, cancel := context.WithTimeout(ctx, h.cfg.CheckTimeout)
			h.Check(cctx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// Check verifies the chain once and returns the new status. Storage errors
// are recorded but do not mark the chain as compromised.
func (h *Checker) Check(ctx context.Context) Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()
	n, err := h.verifier.Len(ctx)
	if err != nil {
		h.logger.Warn("integrity: count entries", zap.Error(err))
		h.status.Error = err.Error()
		h.status.LastChecked = now
		return h.status
	}

	h.checks++
	from := h.verified
	if !h.status.Healthy || h.checks%h.cfg.FullEvery == 0 || from > n {
		from = 0
	}

	next := Status{Healthy: true, LastChecked: now, Entries: n}
	if from < n {
		res, err := h.verifier.VerifyChain(ctx, from, ledger.ToTail)
		if err != nil {
			h.logger.Warn("integrity: verify chain", zap.Error(err))
			h.status.Error = err.Error()
			h.status.LastChecked = now
			return h.status
		}
		if h.onMetrics != nil {
			h.onMetrics(res.Valid)
		}
		if !res.Valid {
			next.Healthy = false
			next.AtSequence = res.AtSequence
			next.Reason = res.Reason
		} else {
			h.verified = from + res.Checked
		}
	}

	switch {
	case h.status.Healthy && !next.Healthy:
		h.logger.Warn("integrity: ledger compromised",
			zap.Int64("at_sequence", next.AtSequence),
			zap.String("reason", next.Reason),
		)
	case !h.status.Healthy && next.Healthy:
		h.logger.Info("integrity: ledger verified again", zap.Int64("entries", n))
	}
	h.status = next
	return next
}

// Status returns the most recent result without running a check.
func (h *Checker) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// ServeHTTP handles GET /healthz: 200 while the chain is intact, 503 once a
// check has found a divergence.
func (h *Checker) ServeHTTP(c *gin.Context) {
	st := h.Status()
	code := http.StatusOK
	if !st.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}
