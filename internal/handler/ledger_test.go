package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/stockledger/internal/handler"
	"github.com/jmerrifield20/stockledger/internal/ledger"
)

func setupLedgerRouter(t *testing.T, store ledger.Store, n int) (*gin.Engine, *ledger.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	l := ledger.New(store, zap.NewNop())
	for i := 0; i < n; i++ {
		if _, err := l.Append(context.Background(), ledger.ActionCreate, map[string]int{"i": i}, "alice@x.com"); err != nil {
			t.Fatal(err)
		}
	}
	r := gin.New()
	handler.NewLedgerHandler(l, zap.NewNop()).Register(r.Group("/api/v1"))
	return r, l
}

func get(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestLedgerOverview_200(t *testing.T) {
	router, l := setupLedgerRouter(t, ledger.NewMemoryStore(), 3)

	w, resp := get(t, router, "/api/v1/ledger")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if int(resp["entries"].(float64)) != 3 {
		t.Errorf("expected 3 entries, got %v", resp["entries"])
	}
	root, _ := l.Root(context.Background())
	if resp["root"] != root {
		t.Errorf("root = %v, want %s", resp["root"], root)
	}
}

func TestLedgerOverview_emptyRootIsGenesis(t *testing.T) {
	router, _ := setupLedgerRouter(t, ledger.NewMemoryStore(), 0)

	_, resp := get(t, router, "/api/v1/ledger")
	if resp["root"] != ledger.GenesisHash {
		t.Errorf("root = %v, want genesis", resp["root"])
	}
}

func TestLedgerVerify_200(t *testing.T) {
	router, _ := setupLedgerRouter(t, ledger.NewMemoryStore(), 4)

	w, resp := get(t, router, "/api/v1/ledger/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["valid"] != true || resp["checked"].(float64) != 4 {
		t.Errorf("unexpected result %v", resp)
	}
}

func TestLedgerVerify_tamperedStillReturns200(t *testing.T) {
	store := ledger.NewMemoryStore()
	router, _ := setupLedgerRouter(t, store, 4)
	store.Tamper(2, func(e *ledger.Entry) { e.SignerID = "mallory@x.com" })

	w, resp := get(t, router, "/api/v1/ledger/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp["valid"] != false || resp["at_sequence"].(float64) != 2 || resp["reason"] != ledger.ReasonHashMismatch {
		t.Errorf("unexpected result %v", resp)
	}
}

func TestLedgerVerify_400_badRange(t *testing.T) {
	router, _ := setupLedgerRouter(t, ledger.NewMemoryStore(), 4)

	for _, path := range []string{
		"/api/v1/ledger/verify?from=3&to=1",
		"/api/v1/ledger/verify?from=abc",
		"/api/v1/ledger/verify?to=-2",
	} {
		if w, _ := get(t, router, path); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestLedgerGetEntry_bySequenceAndHash(t *testing.T) {
	router, l := setupLedgerRouter(t, ledger.NewMemoryStore(), 3)
	want, _ := l.GetBySequence(context.Background(), 1)

	for _, ref := range []string{"1", want.Hash} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ledger/entries/"+ref, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("ref %s: expected 200, got %d", ref, w.Code)
		}
		var got ledger.Entry
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if got.Hash != want.Hash || got.Sequence != 1 || got.PreviousHash != want.PreviousHash {
			t.Errorf("ref %s: got %+v", ref, got)
		}
	}
}

func TestLedgerGetEntry_404(t *testing.T) {
	router, _ := setupLedgerRouter(t, ledger.NewMemoryStore(), 1)

	for _, ref := range []string{"999", ledger.SHA256Hex([]byte("nope"))} {
		if w, _ := get(t, router, "/api/v1/ledger/entries/"+ref); w.Code != http.StatusNotFound {
			t.Errorf("ref %s: expected 404, got %d", ref, w.Code)
		}
	}
}

func TestLedgerListEntries(t *testing.T) {
	router, _ := setupLedgerRouter(t, ledger.NewMemoryStore(), 6)

	w, resp := get(t, router, "/api/v1/ledger/entries?from=2&to=4")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	entries := resp["entries"].([]any)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, raw := range entries {
		if seq := raw.(map[string]any)["sequence"].(float64); seq != float64(i+2) {
			t.Errorf("entry %d has sequence %v", i, seq)
		}
	}

	_, resp = get(t, router, "/api/v1/ledger/entries")
	if n := len(resp["entries"].([]any)); n != 6 {
		t.Errorf("full listing returned %d entries, want 6", n)
	}

	_, resp = get(t, router, "/api/v1/ledger/entries?from=10")
	if n := len(resp["entries"].([]any)); n != 0 {
		t.Errorf("listing past the tail returned %d entries", n)
	}

	if w, _ := get(t, router, "/api/v1/ledger/entries?from=5&to=2"); w.Code != http.StatusBadRequest {
		t.Errorf("inverted range: expected 400, got %d", w.Code)
	}
}

func TestLedgerVerifyEntry(t *testing.T) {
	store := ledger.NewMemoryStore()
	router, _ := setupLedgerRouter(t, store, 3)

	_, resp := get(t, router, "/api/v1/ledger/entries/1/verify")
	if resp["valid"] != true {
		t.Errorf("expected valid entry, got %v", resp)
	}

	store.Tamper(1, func(e *ledger.Entry) { e.Payload = json.RawMessage(`{"i":42}`) })
	_, resp = get(t, router, "/api/v1/ledger/entries/1/verify")
	if resp["valid"] != false {
		t.Errorf("expected tampered entry to fail, got %v", resp)
	}
}

type unavailableStore struct{ *ledger.MemoryStore }

func (unavailableStore) Count(context.Context) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestLedgerOverview_503_retryable(t *testing.T) {
	router, _ := setupLedgerRouter(t, unavailableStore{ledger.NewMemoryStore()}, 0)

	w, resp := get(t, router, "/api/v1/ledger")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if resp["retryable"] != true {
		t.Errorf("expected retryable=true, got %v", resp)
	}
}
