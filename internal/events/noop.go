package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/jmerrifield20/stockledger/internal/ledger"
)

// NoopPublisher logs entries instead of publishing them.
// Use in development or when no broker is configured.
type NoopPublisher struct {
	logger *zap.Logger
}

// NewNoopPublisher creates a NoopPublisher backed by the given logger.
func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

// Publish logs the entry and returns nil.
func (n *NoopPublisher) Publish(_ context.Context, e *ledger.Entry) error {
	n.logger.Debug("ledger event (noop, not published)",
		zap.Int64("seq", e.Sequence),
		zap.String("hash", e.Hash),
	)
	return nil
}

// Close implements Publisher.
func (n *NoopPublisher) Close() error { return nil }
