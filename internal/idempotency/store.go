// Package idempotency lets clients repeat a mutating request safely. The
// first response for an Idempotency-Key is stored and replayed for every
// later request carrying the same key, so a retry never applies an inventory
// change twice.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Store methods for an unknown key.
var ErrNotFound = errors.New("idempotency key not found")

// Record is the stored state of one key.
type Record struct {
	Key         string
	Fingerprint string
	LockedAt    time.Time
	CompletedAt *time.Time
	Status      int
	Body        []byte
	ExpiresAt   time.Time
}

// IsCompleted reports whether a response has been stored.
func (r *Record) IsCompleted() bool { return r.CompletedAt != nil }

// Store persists idempotency records. Acquire must be atomic: of several
// concurrent callers for a fresh key exactly one may own it.
type Store interface {
	// Acquire returns the record for rec.Key. owned is true when the caller
	// created it, or took over an expired record or a lock older than
	// lockTimeout; otherwise the existing record is returned untouched.
	Acquire(ctx context.Context, rec *Record, lockTimeout time.Duration) (existing *Record, owned bool, err error)
	// Complete stores the response for a key the caller owns.
	Complete(ctx context.Context, key string, status int, body []byte) error
	// Release forgets a key so the request can be retried from scratch.
	Release(ctx context.Context, key string) error
	// Clean removes records that expired before t.
	Clean(ctx context.Context, before time.Time) (int64, error)
}

// MemoryStore is an in-process Store for single-instance deployments and
// tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

// Acquire implements Store.
func (s *MemoryStore) Acquire(_ context.Context, rec *Record, lockTimeout time.Duration) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cur, ok := s.records[rec.Key]; ok {
		expired := now.After(cur.ExpiresAt)
		stale := !cur.IsCompleted() && now.Sub(cur.LockedAt) > lockTimeout
		if !expired && !stale {
			return cur.clone(), false, nil
		}
	}
	cp := rec.clone()
	s.records[rec.Key] = cp
	return cp.clone(), true, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key string, status int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	now := s.now().UTC()
	cur.CompletedAt = &now
	cur.Status = status
	cur.Body = append([]byte(nil), body...)
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Clean implements Store.
func (s *MemoryStore) Clean(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, r := range s.records {
		if r.ExpiresAt.Before(before) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

func (r *Record) clone() *Record {
	cp := *r
	cp.Body = append([]byte(nil), r.Body...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
