package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/stockledger/internal/ledger"
)

var ctx = context.Background()

func newLedger(t *testing.T, opts ...ledger.Option) (*ledger.Ledger, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	return ledger.New(store, nil, opts...), store
}

func mustAppend(t *testing.T, l *ledger.Ledger, action ledger.Action, payload any, signer string) *ledger.Entry {
	t.Helper()
	e, err := l.Append(ctx, action, payload, signer)
	if err != nil {
		t.Fatalf("Append(%s): %v", action, err)
	}
	return e
}

func appendN(t *testing.T, l *ledger.Ledger, n int) []*ledger.Entry {
	t.Helper()
	out := make([]*ledger.Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, mustAppend(t, l, ledger.ActionCreate, map[string]any{"productId": fmt.Sprintf("p%d", i), "qty": i + 1}, "alice@x.com"))
	}
	return out
}

func TestAppend_firstEntryChainsFromGenesis(t *testing.T) {
	l, _ := newLedger(t)
	e := mustAppend(t, l, ledger.ActionCreate, map[string]any{"productId": "p1", "qty": 10}, "alice@x.com")

	if e.Sequence != 0 {
		t.Errorf("Sequence: got %d, want 0", e.Sequence)
	}
	if e.PreviousHash != ledger.GenesisHash {
		t.Errorf("PreviousHash: got %q, want GenesisHash", e.PreviousHash)
	}
	if len(e.Hash) != 64 || e.Hash == ledger.GenesisHash {
		t.Errorf("unexpected entry hash %q", e.Hash)
	}
	if e.Timestamp.IsZero() || e.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp should be assigned in UTC, got %v", e.Timestamp)
	}
}

func TestAppend_scenarioAliceBob(t *testing.T) {
	l, _ := newLedger(t)
	e0 := mustAppend(t, l, ledger.ActionCreate, map[string]any{"productId": "p1", "qty": 10}, "alice@x.com")
	e1 := mustAppend(t, l, ledger.ActionUpdate, map[string]any{"productId": "p1", "amountPaid": 50}, "bob@x.com")

	if e0.Sequence != 0 || e1.Sequence != 1 {
		t.Fatalf("sequences: got %d,%d want 0,1", e0.Sequence, e1.Sequence)
	}
	if e1.PreviousHash != e0.Hash {
		t.Errorf("chain broken: e1.PreviousHash=%q, want e0.Hash=%q", e1.PreviousHash, e0.Hash)
	}

	res, err := l.VerifyAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Errorf("VerifyAll() = %+v, want valid", res)
	}
}

func TestAppend_linkageAndSequence(t *testing.T) {
	l, _ := newLedger(t)
	entries := appendN(t, l, 20)

	for i := 1; i < len(entries); i++ {
		if entries[i].PreviousHash != entries[i-1].Hash {
			t.Errorf("entry %d: PreviousHash does not match entry %d hash", i, i-1)
		}
		if entries[i].Sequence != int64(i) {
			t.Errorf("entry %d: Sequence=%d", i, entries[i].Sequence)
		}
	}

	res, err := l.VerifyChain(ctx, 0, int64(len(entries)-1))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Checked != 20 {
		t.Errorf("VerifyChain = %+v, want valid with 20 checked", res)
	}
}

func TestAppend_validation(t *testing.T) {
	tests := []struct {
		name    string
		action  ledger.Action
		payload any
		signer  string
		want    error
	}{
		{"empty map", ledger.ActionCreate, map[string]any{}, "alice@x.com", ledger.ErrInvalidPayload},
		{"nil", ledger.ActionCreate, nil, "alice@x.com", ledger.ErrInvalidPayload},
		{"empty slice", ledger.ActionCreate, []int{}, "alice@x.com", ledger.ErrInvalidPayload},
		{"unserializable", ledger.ActionCreate, map[string]any{"ch": make(chan int)}, "alice@x.com", ledger.ErrInvalidPayload},
		{"empty signer", ledger.ActionCreate, map[string]any{"a": 1}, "", ledger.ErrInvalidSigner},
		{"blank signer", ledger.ActionCreate, map[string]any{"a": 1}, "   ", ledger.ErrInvalidSigner},
		{"unknown action", ledger.Action("transfer"), map[string]any{"a": 1}, "alice@x.com", ledger.ErrInvalidAction},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, _ := newLedger(t)
			_, err := l.Append(ctx, tc.action, tc.payload, tc.signer)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			n, _ := l.Len(ctx)
			if n != 0 {
				t.Errorf("ledger length changed to %d", n)
			}
		})
	}
}

func TestAppend_emptyPayloadLeavesLengthUnchanged(t *testing.T) {
	l, _ := newLedger(t)
	appendN(t, l, 2)

	if _, err := l.Append(ctx, ledger.ActionCreate, map[string]any{}, "alice@x.com"); !errors.Is(err, ledger.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	n, _ := l.Len(ctx)
	if n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
}

func TestAppend_canonicalPayloadHashIsOrderIndependent(t *testing.T) {
	l, _ := newLedger(t)
	type stockIn struct {
		Qty       int    `json:"qty"`
		ProductID string `json:"productId"`
	}
	a := mustAppend(t, l, ledger.ActionCreate, stockIn{Qty: 10, ProductID: "p1"}, "alice@x.com")
	b := mustAppend(t, l, ledger.ActionCreate, map[string]any{"productId": "p1", "qty": 10}, "alice@x.com")

	if a.PayloadHash != b.PayloadHash {
		t.Errorf("payload hashes differ for equal payloads: %s vs %s", a.PayloadHash, b.PayloadHash)
	}
	if string(a.Payload) != `{"productId":"p1","qty":10}` {
		t.Errorf("unexpected canonical payload %s", a.Payload)
	}
}

type stepClock struct {
	mu  sync.Mutex
	now []time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now[0]
	if len(c.now) > 1 {
		c.now = c.now[1:]
	}
	return t
}

func TestAppend_timestampsNeverGoBackwards(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := &stepClock{now: []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}}
	l, _ := newLedger(t, ledger.WithClock(clock))

	entries := appendN(t, l, 3)
	if !entries[1].Timestamp.Equal(base) {
		t.Errorf("clock skew should clamp to previous timestamp, got %v", entries[1].Timestamp)
	}
	if !entries[2].Timestamp.Equal(base.Add(time.Second)) {
		t.Errorf("got %v", entries[2].Timestamp)
	}
}

func TestGet_byHashAndSequence(t *testing.T) {
	l, _ := newLedger(t)
	entries := appendN(t, l, 3)
	want := entries[1]

	byHash, err := l.Get(ctx, want.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(byHash, want) {
		t.Errorf("Get(hash) = %+v, want %+v", byHash, want)
	}

	bySeq, err := l.Get(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(bySeq, want) {
		t.Errorf("Get(\"1\") = %+v, want %+v", bySeq, want)
	}
}

func TestGet_notFound(t *testing.T) {
	l, _ := newLedger(t)
	appendN(t, l, 2)

	for _, ref := range []string{ledger.SHA256Hex([]byte("never appended")), "99", "-1", ""} {
		if _, err := l.Get(ctx, ref); !errors.Is(err, ledger.ErrNotFound) {
			t.Errorf("Get(%q): got %v, want ErrNotFound", ref, err)
		}
	}
}

func TestGet_returnsCopy(t *testing.T) {
	l, _ := newLedger(t)
	e := mustAppend(t, l, ledger.ActionCreate, map[string]any{"a": 1}, "alice@x.com")
	e.SignerID = "mallory"
	e.Payload[0] = '['

	res, err := l.VerifyAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Errorf("mutating a returned entry must not affect the store: %+v", res)
	}
}

func TestGetRange(t *testing.T) {
	l, _ := newLedger(t, ledger.WithPageSize(3))
	appendN(t, l, 10)

	seq, err := l.GetRange(ctx, 2, 8)
	if err != nil {
		t.Fatal(err)
	}

	// Ranging twice restarts from the store.
	for pass := 0; pass < 2; pass++ {
		var got []int64
		for e, err := range seq {
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, e.Sequence)
		}
		want := []int64{2, 3, 4, 5, 6, 7, 8}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("pass %d: got %v, want %v", pass, got, want)
		}
	}
}

func TestGetRange_pastTailIsFinite(t *testing.T) {
	l, _ := newLedger(t, ledger.WithPageSize(2))
	appendN(t, l, 5)

	seq, err := l.GetRange(ctx, 3, 1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("got %d entries, want 2", n)
	}
}

func TestGetRange_earlyBreak(t *testing.T) {
	l, _ := newLedger(t)
	appendN(t, l, 5)

	seq, _ := l.GetRange(ctx, 0, 4)
	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("n = %d", n)
	}
}

func TestGetRange_invalid(t *testing.T) {
	l, _ := newLedger(t)
	cases := [][2]int64{{5, 2}, {-1, 3}, {0, -4}}
	for _, c := range cases {
		if _, err := l.GetRange(ctx, c[0], c[1]); !errors.Is(err, ledger.ErrInvalidRange) {
			t.Errorf("GetRange(%d, %d): got %v, want ErrInvalidRange", c[0], c[1], err)
		}
	}
}

func TestLenAndRoot(t *testing.T) {
	l, _ := newLedger(t)

	root, err := l.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != ledger.GenesisHash {
		t.Errorf("Root() on empty chain: got %q, want GenesisHash", root)
	}

	entries := appendN(t, l, 4)
	root, _ = l.Root(ctx)
	if root != entries[3].Hash {
		t.Errorf("Root(): got %q, want %q", root, entries[3].Hash)
	}
	n, _ := l.Len(ctx)
	if n != 4 {
		t.Errorf("Len() = %d, want 4", n)
	}
}

func TestAppend_persistedAcrossLedgerInstances(t *testing.T) {
	store := ledger.NewMemoryStore()
	first := ledger.New(store, nil)
	e0 := mustAppend(t, first, ledger.ActionCreate, map[string]any{"a": 1}, "alice@x.com")

	// A fresh Ledger (e.g. after a restart) derives its tail from storage.
	second := ledger.New(store, nil)
	e1 := mustAppend(t, second, ledger.ActionUpdate, map[string]any{"a": 2}, "alice@x.com")

	if e1.Sequence != 1 || e1.PreviousHash != e0.Hash {
		t.Errorf("restarted ledger did not resume the chain: %+v", e1)
	}
}

func TestAppend_customDigest(t *testing.T) {
	calls := 0
	digest := func(b []byte) string {
		calls++
		return ledger.SHA256Hex(append([]byte("salt:"), b...))
	}
	l, _ := newLedger(t, ledger.WithDigest(digest))
	appendN(t, l, 2)

	res, err := l.VerifyAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || calls == 0 {
		t.Errorf("custom digest not used consistently: %+v calls=%d", res, calls)
	}
}

func TestAppend_cancelledWhileQueued(t *testing.T) {
	store := &blockingStore{MemoryStore: ledger.NewMemoryStore(), release: make(chan struct{}), entered: make(chan struct{}, 1)}
	l := ledger.New(store, nil)

	done := make(chan error, 1)
	go func() {
		_, err := l.Append(ctx, ledger.ActionCreate, map[string]any{"a": 1}, "alice@x.com")
		done <- err
	}()
	<-store.entered

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := l.Append(cctx, ledger.ActionCreate, map[string]any{"a": 2}, "bob@x.com"); !errors.Is(err, context.Canceled) {
		t.Errorf("queued append: got %v, want context.Canceled", err)
	}

	close(store.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	n, _ := l.Len(ctx)
	if n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

// blockingStore holds the first Append until release is closed.
type blockingStore struct {
	*ledger.MemoryStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) Append(ctx context.Context, e *ledger.Entry) error {
	s.once.Do(func() {
		s.entered <- struct{}{}
		<-s.release
	})
	return s.MemoryStore.Append(ctx, e)
}
