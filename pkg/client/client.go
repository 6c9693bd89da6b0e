package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ToTail asks Range and Verify to run to the current end of the chain.
const ToTail int64 = -1

// ErrNotFound is returned when the server reports that an entry does not exist.
var ErrNotFound = errors.New("not found")

// Entry is one committed ledger record.
type Entry struct {
	Sequence     int64           `json:"sequence"`
	PreviousHash string          `json:"previous_hash"`
	PayloadHash  string          `json:"payload_hash"`
	Hash         string          `json:"hash"`
	Timestamp    time.Time       `json:"timestamp"`
	SignerID     string          `json:"signer_id"`
	Action       string          `json:"action"`
	Payload      json.RawMessage `json:"payload"`
}

// Overview is the chain length and tail hash.
type Overview struct {
	Entries int64  `json:"entries"`
	Root    string `json:"root"`
}

// VerificationResult mirrors the server's integrity report.
type VerificationResult struct {
	Valid      bool   `json:"valid"`
	AtSequence int64  `json:"at_sequence"`
	Reason     string `json:"reason,omitempty"`
	Checked    int64  `json:"checked"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to a ledger server's HTTP API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
	cache       *entryCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a user token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithCacheTTL caches entries fetched by hash for ttl. Committed entries
// never change on an honest server, so this only bounds how long a
// tampered store can go unnoticed by this client.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		if ttl <= 0 {
			return fmt.Errorf("cache ttl must be positive")
		}
		c.cache = newEntryCache(ttl)
		return nil
	}
}

// New creates a Client for the server at baseURL.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(token),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Overview returns the chain length and root hash.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	if err := c.get(ctx, "/api/v1/ledger", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEntry fetches an entry by sequence number or hash.
func (c *Client) GetEntry(ctx context.Context, ref string) (*Entry, error) {
	if c.cache != nil {
		if e, ok := c.cache.get(ref); ok {
			return e, nil
		}
	}
	var e Entry
	if err := c.get(ctx, "/api/v1/ledger/entries/"+url.PathEscape(ref), nil, &e); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.set(e.Hash, &e)
	}
	return &e, nil
}

// Range returns entries from..to inclusive, following server-side paging.
// Pass ToTail as to for everything from from onwards.
func (c *Client) Range(ctx context.Context, from, to int64) ([]*Entry, error) {
	var all []*Entry
	next := from
	for {
		q := url.Values{"from": {strconv.FormatInt(next, 10)}}
		if to != ToTail {
			q.Set("to", strconv.FormatInt(to, 10))
		}
		var page struct {
			Entries []*Entry `json:"entries"`
			Next    *int64   `json:"next"`
		}
		if err := c.get(ctx, "/api/v1/ledger/entries", q, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Entries...)
		if page.Next == nil || *page.Next <= next {
			return all, nil
		}
		next = *page.Next
	}
}

// Verify asks the server to walk from..to and report the first divergence.
func (c *Client) Verify(ctx context.Context, from, to int64) (*VerificationResult, error) {
	q := url.Values{"from": {strconv.FormatInt(from, 10)}}
	if to != ToTail {
		q.Set("to", strconv.FormatInt(to, 10))
	}
	var out VerificationResult
	if err := c.get(ctx, "/api/v1/ledger/verify", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyEntry asks the server to recompute a single entry's hashes.
func (c *Client) VerifyEntry(ctx context.Context, ref string) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := c.get(ctx, "/api/v1/ledger/entries/"+url.PathEscape(ref)+"/verify", nil, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error     string `json:"error"`
			Retryable bool   `json:"retryable"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg, Retryable: e.Retryable}
	}
	return body, nil
}

// --- entry cache ---

type cacheEntry struct {
	entry     *Entry
	expiresAt time.Time
}

type entryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newEntryCache(ttl time.Duration) *entryCache {
	return &entryCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (ec *entryCache) get(hash string) (*Entry, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	e, ok := ec.entries[hash]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.entry, true
}

func (ec *entryCache) set(hash string, e *Entry) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.entries[hash] = &cacheEntry{entry: e, expiresAt: time.Now().Add(ec.ttl)}
}
