package ledger

import "context"

// Store is the durable backing for a Ledger. Implementations must never
// modify or delete an entry once Append has accepted it.
type Store interface {
	// Tail returns the most recent entry, or (nil, nil) when empty.
	Tail(ctx context.Context) (*Entry, error)

	// Append writes e only if e is the direct successor of the current
	// tail: e.Sequence == tail.Sequence+1 and e.PreviousHash == tail.Hash
	// (or sequence 0 with GenesisHash on an empty store). Otherwise it
	// returns ErrChainConflict and writes nothing.
	Append(ctx context.Context, e *Entry) error

	// ByHash and BySequence return ErrNotFound when nothing matches.
	ByHash(ctx context.Context, hash string) (*Entry, error)
	BySequence(ctx context.Context, seq int64) (*Entry, error)

	// Range returns up to limit entries with from <= seq <= to in
	// ascending order.
	Range(ctx context.Context, from, to int64, limit int) ([]*Entry, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int64, error)
}
