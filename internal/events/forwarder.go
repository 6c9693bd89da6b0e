package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/stockledger/internal/ledger"
)

// Forwarder decouples publishing from the append path. Entries are queued
// by Hook and published in commit order by a single worker. When the queue
// is full entries are dropped and logged; the ledger itself remains the
// source of truth.
type Forwarder struct {
	pub     Publisher
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex // guards closed and sends on queue
	closed bool
	queue  chan *ledger.Entry
	done   chan struct{}
	once   sync.Once
}

// NewForwarder creates a Forwarder and starts its worker.
func NewForwarder(pub Publisher, buffer int, timeout time.Duration, logger *zap.Logger) *Forwarder {
	if buffer <= 0 {
		buffer = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	f := &Forwarder{
		pub:     pub,
		logger:  logger,
		timeout: timeout,
		queue:   make(chan *ledger.Entry, buffer),
		done:    make(chan struct{}),
	}
	go f.run()
	return f
}

// Hook is a ledger.WithOnAppend callback. Entries appended after Close are
// dropped.
func (f *Forwarder) Hook(e *ledger.Entry) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.logger.Warn("ledger event feed closed, entry not published",
			zap.Int64("seq", e.Sequence),
		)
		return
	}
	select {
	case f.queue <- e:
	default:
		f.logger.Warn("ledger event queue full, entry not published",
			zap.Int64("seq", e.Sequence),
		)
	}
}

func (f *Forwarder) run() {
	defer close(f.done)
	for e := range f.queue {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		if err := f.pub.Publish(ctx, e); err != nil {
			f.logger.Warn("ledger event publish failed",
				zap.Int64("seq", e.Sequence),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close drains queued entries and closes the publisher.
func (f *Forwarder) Close() error {
	var err error
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		close(f.queue)
		f.mu.Unlock()
		<-f.done
		err = f.pub.Close()
	})
	return err
}
