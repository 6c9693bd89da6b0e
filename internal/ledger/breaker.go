package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig configures a BreakerStore.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // requests allowed while half-open
	Interval         time.Duration // closed-state count reset period; 0 never resets
	Timeout          time.Duration // open → half-open delay
	FailureThreshold uint32        // consecutive failures that trip the breaker
}

// DefaultBreakerConfig returns the settings used by ledgerd.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "ledger-store",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerStore wraps a Store with a circuit breaker so that a failing
// database is not hammered by retries. Conflicts and not-found results are
// normal outcomes and do not count as failures. While the breaker is open
// every call fails fast, which Ledger reports as a PersistenceError.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps next.
func NewBreakerStore(next Store, cfg BreakerConfig, logger *zap.Logger) *BreakerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrChainConflict) || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ledger store circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State returns the breaker state.
func (s *BreakerStore) State() gobreaker.State { return s.cb.State() }

func (s *BreakerStore) run(fn func() (any, error)) (any, error) {
	v, err := s.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("ledger store unavailable: %w", err)
	}
	return v, err
}

func (s *BreakerStore) entry(fn func() (*Entry, error)) (*Entry, error) {
	v, err := s.run(func() (any, error) { return fn() })
	if err != nil {
		return nil, err
	}
	e, _ := v.(*Entry)
	return e, nil
}

// Tail implements Store.
func (s *BreakerStore) Tail(ctx context.Context) (*Entry, error) {
	return s.entry(func() (*Entry, error) { return s.next.Tail(ctx) })
}

// Append implements Store.
func (s *BreakerStore) Append(ctx context.Context, e *Entry) error {
	_, err := s.run(func() (any, error) { return nil, s.next.Append(ctx, e) })
	return err
}

// ByHash implements Store.
func (s *BreakerStore) ByHash(ctx context.Context, hash string) (*Entry, error) {
	return s.entry(func() (*Entry, error) { return s.next.ByHash(ctx, hash) })
}

// BySequence implements Store.
func (s *BreakerStore) BySequence(ctx context.Context, seq int64) (*Entry, error) {
	return s.entry(func() (*Entry, error) { return s.next.BySequence(ctx, seq) })
}

// Range implements Store.
func (s *BreakerStore) Range(ctx context.Context, from, to int64, limit int) ([]*Entry, error) {
	v, err := s.run(func() (any, error) { return s.next.Range(ctx, from, to, limit) })
	if err != nil {
		return nil, err
	}
	out, _ := v.([]*Entry)
	return out, nil
}

// Count implements Store.
func (s *BreakerStore) Count(ctx context.Context) (int64, error) {
	v, err := s.run(func() (any, error) { return s.next.Count(ctx) })
	if err != nil {
		return 0, err
	}
	n, _ := v.(int64)
	return n, nil
}
