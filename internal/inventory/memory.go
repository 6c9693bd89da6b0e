package inventory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used with the memory ledger
// backend and in tests. Returned values are copies.
type MemoryRepository struct {
	mu       sync.RWMutex
	products map[uuid.UUID]*Product
	stock    map[uuid.UUID]*StockItem
	sales    map[uuid.UUID]*Sale
	requests map[uuid.UUID]*StockRequest
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		products: make(map[uuid.UUID]*Product),
		stock:    make(map[uuid.UUID]*StockItem),
		sales:    make(map[uuid.UUID]*Sale),
		requests: make(map[uuid.UUID]*StockRequest),
	}
}

func (r *MemoryRepository) CreateProduct(_ context.Context, p *Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nameTaken(p.Name, uuid.Nil) {
		return ErrDuplicate
	}
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	r.products[p.ID] = &cp
	r.stock[p.ID] = &StockItem{ProductID: p.ID, UpdatedAt: now}
	return nil
}

func (r *MemoryRepository) nameTaken(name string, except uuid.UUID) bool {
	for id, p := range r.products {
		if id != except && strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) UpdateProduct(_ context.Context, p *Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.products[p.ID]
	if !ok {
		return ErrNotFound
	}
	if r.nameTaken(p.Name, p.ID) {
		return ErrDuplicate
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	r.products[p.ID] = &cp
	return nil
}

func (r *MemoryRepository) DeleteProduct(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return ErrNotFound
	}
	delete(r.products, id)
	delete(r.stock, id)
	return nil
}

func (r *MemoryRepository) GetProduct(_ context.Context, id uuid.UUID) (*Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) ListProducts(_ context.Context, limit, offset int) ([]*Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Product, 0, len(r.products))
	for _, p := range r.products {
		cp := *p
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *Product) int { return strings.Compare(a.Name, b.Name) })
	return page(out, limit, offset), nil
}

func (r *MemoryRepository) AddStock(_ context.Context, productID uuid.UUID, delta int64) (*StockItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stock[productID]
	if !ok {
		return nil, ErrNotFound
	}
	q, ok := addInt64(s.Quantity, delta)
	if !ok {
		return nil, fmt.Errorf("%w: stock quantity is out of range", ErrInvalidInput)
	}
	s.Quantity = q
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) GetStock(_ context.Context, productID uuid.UUID) (*StockItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stock[productID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) ListStock(_ context.Context) ([]*StockItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*StockItem, 0, len(r.stock))
	for _, s := range r.stock {
		cp := *s
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *StockItem) int { return strings.Compare(a.ProductID.String(), b.ProductID.String()) })
	return out, nil
}

func (r *MemoryRepository) CreateSale(_ context.Context, s *Sale) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check every line before touching stock so a short line changes nothing.
	need := make(map[uuid.UUID]int64)
	for _, it := range s.Items {
		need[it.ProductID] += it.Quantity
	}
	for id, qty := range need {
		st, ok := r.stock[id]
		if !ok || st.Quantity < qty {
			return fmt.Errorf("%w: product %s", ErrInsufficientStock, id)
		}
	}

	now := time.Now().UTC()
	for id, qty := range need {
		r.stock[id].Quantity -= qty
		r.stock[id].UpdatedAt = now
	}
	s.ID = uuid.New()
	s.CreatedAt = now
	s.UpdatedAt = now
	r.sales[s.ID] = copySale(s)
	return nil
}

func (r *MemoryRepository) GetSale(_ context.Context, id uuid.UUID) (*Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sales[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySale(s), nil
}

func (r *MemoryRepository) ListSales(_ context.Context, limit, offset int) ([]*Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Sale, 0, len(r.sales))
	for _, s := range r.sales {
		out = append(out, copySale(s))
	}
	slices.SortFunc(out, func(a, b *Sale) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return page(out, limit, offset), nil
}

func (r *MemoryRepository) AddPayment(_ context.Context, id uuid.UUID, amount int64) (*Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sales[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.AmountPaid += min(amount, s.Total-s.AmountPaid)
	s.UpdatedAt = time.Now().UTC()
	return copySale(s), nil
}

func (r *MemoryRepository) CreateStockRequest(_ context.Context, sr *StockRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sr.ID = uuid.New()
	sr.CreatedAt = time.Now().UTC()
	sr.Status = StockRequestPending
	cp := *sr
	r.requests[sr.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetStockRequest(_ context.Context, id uuid.UUID) (*StockRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sr, ok := r.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sr
	return &cp, nil
}

func (r *MemoryRepository) ListStockRequests(_ context.Context, status StockRequestStatus) ([]*StockRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*StockRequest
	for _, sr := range r.requests {
		if status != "" && sr.Status != status {
			continue
		}
		cp := *sr
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *StockRequest) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) VerifyStockRequest(_ context.Context, id uuid.UUID, verifier string, at time.Time) (*StockRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sr, ok := r.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sr.Status == StockRequestVerified {
		return nil, fmt.Errorf("%w: stock request already verified", ErrDuplicate)
	}
	st, ok := r.stock[sr.ProductID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, sr.ProductID)
	}
	st.Quantity += sr.Quantity
	st.UpdatedAt = at
	sr.Status = StockRequestVerified
	sr.VerifiedBy = verifier
	sr.VerifiedAt = &at
	cp := *sr
	return &cp, nil
}

func copySale(s *Sale) *Sale {
	cp := *s
	cp.Items = slices.Clone(s.Items)
	return &cp
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(items) {
		return []T{}
	}
	return items[offset:min(len(items), offset+limit)]
}
