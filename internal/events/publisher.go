// Package events streams committed ledger entries to downstream consumers
// (audit views, reporting) as an at-most-once feed.
package events

import (
	"context"

	"github.com/jmerrifield20/stockledger/internal/ledger"
)

// Publisher delivers a committed ledger entry to an external feed.
type Publisher interface {
	Publish(ctx context.Context, e *ledger.Entry) error
	Close() error
}
