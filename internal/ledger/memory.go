package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store. It is useful for tests
// and single-process deployments that do not need durability across
// restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Tail implements Store.
func (s *MemoryStore) Tail(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	return s.entries[len(s.entries)-1].clone(), nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wantSeq, wantPrev := int64(0), GenesisHash
	if n := len(s.entries); n > 0 {
		wantSeq, wantPrev = s.entries[n-1].Sequence+1, s.entries[n-1].Hash
	}
	if e.Sequence != wantSeq || e.PreviousHash != wantPrev {
		return ErrChainConflict
	}
	s.entries = append(s.entries, e.clone())
	return nil
}

// ByHash implements Store.
func (s *MemoryStore) ByHash(_ context.Context, hash string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.Hash == hash {
			return e.clone(), nil
		}
	}
	return nil, ErrNotFound
}

// BySequence implements Store. Entries are addressed by position, which
// Append keeps equal to the sequence number.
func (s *MemoryStore) BySequence(_ context.Context, seq int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq < 0 || seq >= int64(len(s.entries)) {
		return nil, ErrNotFound
	}
	return s.entries[seq].clone(), nil
}

// Range implements Store.
func (s *MemoryStore) Range(_ context.Context, from, to int64, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := int64(len(s.entries))
	if from < 0 || from >= n || from > to {
		return nil, nil
	}
	end := min(to+1, n)
	if limit > 0 {
		end = min(end, from+int64(limit))
	}
	out := make([]*Entry, 0, end-from)
	for _, e := range s.entries[from:end] {
		out = append(out, e.clone())
	}
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// Tamper edits a stored entry in place, bypassing Append. It simulates an
// out-of-band datastore edit and exists for integrity tests and demos.
func (s *MemoryStore) Tamper(seq int64, fn func(*Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < 0 || seq >= int64(len(s.entries)) {
		return false
	}
	fn(s.entries[seq])
	return true
}

// Remove deletes the entry at seq, bypassing the append-only contract.
// Like Tamper it only exists to simulate out-of-band edits.
func (s *MemoryStore) Remove(seq int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < 0 || seq >= int64(len(s.entries)) {
		return false
	}
	s.entries = append(s.entries[:seq], s.entries[seq+1:]...)
	return true
}
