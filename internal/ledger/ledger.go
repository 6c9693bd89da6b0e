package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxConflictRetries bounds how often Append re-reads the tail
	// after losing a conditional write to another writer.
	DefaultMaxConflictRetries = 5

	// DefaultPageSize is the number of entries fetched per storage round
	// trip when iterating a range.
	DefaultPageSize = 256

	// ToTail as the upper bound of VerifyChain means "the current tail".
	ToTail int64 = -1
)

// Clock supplies append timestamps. Callers never supply their own.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// tail is the cached chain tip. It is always re-derivable from the store.
type tail struct {
	seq  int64
	hash string
	ts   time.Time
}

// Ledger maintains a single tamper-evident chain of business events on top
// of a Store. Appends through one Ledger are serialised in submission
// order; appends from other processes are fenced by the store's
// conditional write. Reads never wait on an append.
type Ledger struct {
	store  Store
	logger *zap.Logger

	digest     Digest
	canon      Canonicalizer
	clock      Clock
	maxRetries int
	pageSize   int
	onAppend   []func(*Entry)
	onConflict []func()

	// sem is a one-slot semaphore. Blocked senders on a channel are woken
	// in FIFO order, which gives queued appends submission order.
	sem    chan struct{}
	cached *tail // guarded by sem
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithDigest replaces the SHA-256 digest.
func WithDigest(d Digest) Option { return func(l *Ledger) { l.digest = d } }

// WithCanonicalizer replaces the canonical JSON serialiser.
func WithCanonicalizer(c Canonicalizer) Option { return func(l *Ledger) { l.canon = c } }

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(l *Ledger) { l.clock = c } }

// WithMaxConflictRetries sets the conflict retry bound; n < 0 is ignored.
func WithMaxConflictRetries(n int) Option {
	return func(l *Ledger) {
		if n >= 0 {
			l.maxRetries = n
		}
	}
}

// WithPageSize sets the range paging size; n <= 0 is ignored.
func WithPageSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

// WithOnAppend registers a hook called after every committed append.
// Hooks run outside the append critical section.
func WithOnAppend(fn func(*Entry)) Option {
	return func(l *Ledger) { l.onAppend = append(l.onAppend, fn) }
}

// WithOnConflict registers a hook called whenever a conditional write
// loses to another writer.
func WithOnConflict(fn func()) Option {
	return func(l *Ledger) { l.onConflict = append(l.onConflict, fn) }
}

// New creates a Ledger over store. logger may be nil.
func New(store Store, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		store:      store,
		logger:     logger,
		digest:     SHA256Hex,
		canon:      CanonicalJSON,
		clock:      wallClock{},
		maxRetries: DefaultMaxConflictRetries,
		pageSize:   DefaultPageSize,
		sem:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records a new event at the tail of the chain and returns the
// committed entry. An append abandoned by the caller after the store
// accepted it stays committed.
func (l *Ledger) Append(ctx context.Context, action Action, payload any, signerID string) (*Entry, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	if strings.TrimSpace(signerID) == "" {
		return nil, ErrInvalidSigner
	}
	canonical, err := l.canon(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(canonical) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", ErrInvalidPayload)
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("append: %w", ctx.Err())
	}
	entry, err := l.appendLocked(ctx, action, canonical, signerID)
	<-l.sem
	if err != nil {
		return nil, err
	}

	l.logger.Debug("ledger entry appended",
		zap.Int64("seq", entry.Sequence),
		zap.String("action", string(entry.Action)),
		zap.String("signer", entry.SignerID),
		zap.String("hash", entry.Hash),
	)
	for _, fn := range l.onAppend {
		fn(entry.clone())
	}
	return entry, nil
}

func (l *Ledger) appendLocked(ctx context.Context, action Action, canonical []byte, signerID string) (*Entry, error) {
	payloadHash := l.digest(canonical)

	for attempt := 0; ; attempt++ {
		t, err := l.loadTail(ctx)
		if err != nil {
			return nil, persistErr("read tail", err)
		}

		entry := &Entry{
			Sequence:     0,
			PreviousHash: GenesisHash,
			PayloadHash:  payloadHash,
			Timestamp:    l.clock.Now().UTC(),
			SignerID:     signerID,
			Action:       action,
			Payload:      canonical,
		}
		if t != nil {
			entry.Sequence = t.seq + 1
			entry.PreviousHash = t.hash
			if entry.Timestamp.Before(t.ts) {
				entry.Timestamp = t.ts
			}
		}
		entry.Hash = l.digest(entryPreimage(entry))

		err = l.store.Append(ctx, entry)
		if err == nil {
			l.cached = &tail{seq: entry.Sequence, hash: entry.Hash, ts: entry.Timestamp}
			return entry.clone(), nil
		}

		// The tail is re-read from the store on the next attempt or call.
		l.cached = nil
		if !errors.Is(err, ErrChainConflict) {
			return nil, persistErr("append", err)
		}
		for _, fn := range l.onConflict {
			fn()
		}
		l.logger.Debug("ledger append lost tail race",
			zap.Int64("seq", entry.Sequence),
			zap.Int("attempt", attempt+1),
		)
		if attempt >= l.maxRetries {
			return nil, &PersistenceError{Op: "append", Reason: ReasonConflict, Err: err}
		}
	}
}

func (l *Ledger) loadTail(ctx context.Context) (*tail, error) {
	if l.cached != nil {
		return l.cached, nil
	}
	e, err := l.store.Tail(ctx)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	l.cached = &tail{seq: e.Sequence, hash: e.Hash, ts: e.Timestamp.UTC()}
	return l.cached, nil
}

// Get returns the entry identified by ref, which is either a decimal
// sequence number or an entry hash.
func (l *Ledger) Get(ctx context.Context, ref string) (*Entry, error) {
	ref = strings.TrimSpace(ref)
	if seq, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return l.GetBySequence(ctx, seq)
	}
	return l.GetByHash(ctx, ref)
}

// GetByHash returns the entry whose Hash equals hash.
func (l *Ledger) GetByHash(ctx context.Context, hash string) (*Entry, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	e, err := l.store.ByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, persistErr("get", err)
	}
	return e, nil
}

// GetBySequence returns the entry at seq.
func (l *Ledger) GetBySequence(ctx context.Context, seq int64) (*Entry, error) {
	if seq < 0 {
		return nil, ErrNotFound
	}
	e, err := l.store.BySequence(ctx, seq)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, persistErr("get", err)
	}
	return e, nil
}

// GetRange returns the entries with from <= seq <= to in ascending order.
// The sequence is lazy: entries are paged from the store as it is ranged
// over, and ranging over it again restarts from the store.
func (l *Ledger) GetRange(ctx context.Context, from, to int64) (iter.Seq2[*Entry, error], error) {
	if from < 0 || to < 0 {
		return nil, fmt.Errorf("%w: bounds must be non-negative", ErrInvalidRange)
	}
	if from > to {
		return nil, fmt.Errorf("%w: from %d > to %d", ErrInvalidRange, from, to)
	}
	return func(yield func(*Entry, error) bool) {
		next := from
		for next <= to {
			page, err := l.store.Range(ctx, next, to, l.pageSize)
			if err != nil {
				yield(nil, persistErr("range", err))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				next = max(next, e.Sequence) + 1
			}
			if len(page) < l.pageSize {
				return
			}
		}
	}, nil
}

// Len returns the number of entries in the chain.
func (l *Ledger) Len(ctx context.Context) (int64, error) {
	n, err := l.store.Count(ctx)
	if err != nil {
		return 0, persistErr("count", err)
	}
	return n, nil
}

// Root returns the hash of the tail entry, or GenesisHash for an empty chain.
func (l *Ledger) Root(ctx context.Context) (string, error) {
	e, err := l.store.Tail(ctx)
	if err != nil {
		return "", persistErr("read tail", err)
	}
	if e == nil {
		return GenesisHash, nil
	}
	return e.Hash, nil
}
