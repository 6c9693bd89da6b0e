package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/stockledger/internal/ledger"
)

// appender is the slice of *ledger.Ledger the service needs.
type appender interface {
	Append(ctx context.Context, action ledger.Action, payload any, signerID string) (*ledger.Entry, error)
}

// UnauditedError reports an inventory change that was committed but whose
// ledger entry could not be written. Repeating the request would apply the
// change a second time, so callers must not treat it as retryable.
type UnauditedError struct {
	Action   ledger.Action
	ObjectID uuid.UUID
	Err      error
}

func (e *UnauditedError) Error() string {
	return fmt.Sprintf("%s %s committed without a ledger entry: %v", e.Action, e.ObjectID, e.Err)
}

func (e *UnauditedError) Unwrap() error { return e.Err }

// Service applies inventory mutations and records each one as exactly one
// ledger entry signed by the caller. The repository change happens first;
// if the ledger append then fails the caller gets an *UnauditedError and the
// gap is logged with the object ID so it can be reconciled.
type Service struct {
	repo   Repository
	ledger appender
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a Service.
func NewService(repo Repository, l appender, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, ledger: l, logger: logger, now: time.Now}
}

func (s *Service) record(ctx context.Context, action ledger.Action, signer string, object uuid.UUID, payload map[string]any) (*ledger.Entry, error) {
	e, err := s.ledger.Append(ctx, action, payload, signer)
	if err != nil {
		s.logger.Error("ledger append failed after inventory change",
			zap.String("action", string(action)),
			zap.String("object_id", object.String()),
			zap.String("signer", signer),
			zap.Any("payload", payload),
			zap.Error(err),
		)
		return nil, &UnauditedError{Action: action, ObjectID: object, Err: err}
	}
	return e, nil
}

// IsUnaudited reports whether err carries an *UnauditedError.
func IsUnaudited(err error) bool {
	var ue *UnauditedError
	return errors.As(err, &ue)
}

func validateProduct(in ProductInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}
	if in.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	return nil
}

// ── Products ─────────────────────────────────────────────────────────────

// CreateProduct adds a product with zero stock.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput, signer string) (*Product, *ledger.Entry, error) {
	if err := validateProduct(in); err != nil {
		return nil, nil, err
	}
	p := &Product{Name: strings.TrimSpace(in.Name), Category: in.Category, Price: in.Price}
	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return nil, nil, err
	}
	e, err := s.record(ctx, ledger.ActionCreate, signer, p.ID, map[string]any{
		"type":      "product",
		"productId": p.ID.String(),
		"name":      p.Name,
		"category":  p.Category,
		"price":     p.Price,
	})
	if err != nil {
		return p, nil, err
	}
	return p, e, nil
}

// UpdateProduct replaces the mutable fields of a product.
func (s *Service) UpdateProduct(ctx context.Context, id uuid.UUID, in ProductInput, signer string) (*Product, *ledger.Entry, error) {
	if err := validateProduct(in); err != nil {
		return nil, nil, err
	}
	p := &Product{ID: id, Name: strings.TrimSpace(in.Name), Category: in.Category, Price: in.Price}
	if err := s.repo.UpdateProduct(ctx, p); err != nil {
		return nil, nil, err
	}
	e, err := s.record(ctx, ledger.ActionUpdate, signer, p.ID, map[string]any{
		"type":      "product",
		"productId": p.ID.String(),
		"name":      p.Name,
		"category":  p.Category,
		"price":     p.Price,
	})
	if err != nil {
		return p, nil, err
	}
	return p, e, nil
}

// DeleteProduct removes a product and its stock level.
func (s *Service) DeleteProduct(ctx context.Context, id uuid.UUID, signer string) (*ledger.Entry, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return nil, err
	}
	return s.record(ctx, ledger.ActionDelete, signer, id, map[string]any{
		"type":      "product",
		"productId": id.String(),
		"name":      p.Name,
	})
}

// GetProduct returns a product by ID.
func (s *Service) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts returns products ordered by name.
func (s *Service) ListProducts(ctx context.Context, limit, offset int) ([]*Product, error) {
	return s.repo.ListProducts(ctx, limit, offset)
}

// ── Stock ────────────────────────────────────────────────────────────────

// ReceiveStock adds qty units of a product to stock.
func (s *Service) ReceiveStock(ctx context.Context, productID uuid.UUID, qty int64, signer string) (*StockItem, *ledger.Entry, error) {
	if qty <= 0 {
		return nil, nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	st, err := s.repo.AddStock(ctx, productID, qty)
	if err != nil {
		return nil, nil, err
	}
	e, err := s.record(ctx, ledger.ActionUpdate, signer, productID, map[string]any{
		"type":      "stock",
		"productId": productID.String(),
		"received":  qty,
		"quantity":  st.Quantity,
	})
	if err != nil {
		return st, nil, err
	}
	return st, e, nil
}

// GetStock returns the stock level of a product.
func (s *Service) GetStock(ctx context.Context, productID uuid.UUID) (*StockItem, error) {
	return s.repo.GetStock(ctx, productID)
}

// ListStock returns every stock level.
func (s *Service) ListStock(ctx context.Context) ([]*StockItem, error) {
	return s.repo.ListStock(ctx)
}

// ── Sales ────────────────────────────────────────────────────────────────

// Checkout prices every line at the current product price, decrements stock
// and records the sale. Lines for the same product are merged.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput, signer string) (*Sale, *ledger.Entry, error) {
	if len(in.Items) == 0 {
		return nil, nil, fmt.Errorf("%w: checkout needs at least one item", ErrInvalidInput)
	}
	if in.AmountPaid < 0 {
		return nil, nil, fmt.Errorf("%w: amount paid must not be negative", ErrInvalidInput)
	}

	var (
		items []SaleItem
		index = make(map[uuid.UUID]int)
		total int64
	)
	for _, line := range in.Items {
		if line.Quantity <= 0 {
			return nil, nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
		}
		p, err := s.repo.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, nil, err
		}
		amount, ok := mulInt64(p.Price, line.Quantity)
		if !ok {
			return nil, nil, fmt.Errorf("%w: line total for %s is out of range", ErrInvalidInput, p.ID)
		}
		if total, ok = addInt64(total, amount); !ok {
			return nil, nil, fmt.Errorf("%w: sale total is out of range", ErrInvalidInput)
		}
		if i, seen := index[p.ID]; seen {
			if items[i].Quantity, ok = addInt64(items[i].Quantity, line.Quantity); !ok {
				return nil, nil, fmt.Errorf("%w: quantity for %s is out of range", ErrInvalidInput, p.ID)
			}
		} else {
			index[p.ID] = len(items)
			items = append(items, SaleItem{ProductID: p.ID, Quantity: line.Quantity, UnitPrice: p.Price})
		}
	}
	if in.AmountPaid > total {
		return nil, nil, fmt.Errorf("%w: amount paid exceeds total", ErrInvalidInput)
	}

	sale := &Sale{Items: items, Total: total, AmountPaid: in.AmountPaid, Customer: in.Customer}
	if err := s.repo.CreateSale(ctx, sale); err != nil {
		return nil, nil, err
	}

	lines := make([]map[string]any, len(items))
	for i, it := range items {
		lines[i] = map[string]any{
			"productId": it.ProductID.String(),
			"quantity":  it.Quantity,
			"unitPrice": it.UnitPrice,
		}
	}
	e, err := s.record(ctx, ledger.ActionCreate, signer, sale.ID, map[string]any{
		"type":       "sale",
		"saleId":     sale.ID.String(),
		"items":      lines,
		"total":      sale.Total,
		"amountPaid": sale.AmountPaid,
		"customer":   sale.Customer,
	})
	if err != nil {
		return sale, nil, err
	}
	return sale, e, nil
}

// RecordPayment adds amount to the sale's AmountPaid, capped at its total.
func (s *Service) RecordPayment(ctx context.Context, saleID uuid.UUID, amount int64, signer string) (*Sale, *ledger.Entry, error) {
	if amount <= 0 {
		return nil, nil, fmt.Errorf("%w: payment must be positive", ErrInvalidInput)
	}
	sale, err := s.repo.AddPayment(ctx, saleID, amount)
	if err != nil {
		return nil, nil, err
	}
	e, err := s.record(ctx, ledger.ActionUpdate, signer, saleID, map[string]any{
		"type":       "payment",
		"saleId":     saleID.String(),
		"amount":     amount,
		"amountPaid": sale.AmountPaid,
	})
	if err != nil {
		return sale, nil, err
	}
	return sale, e, nil
}

// GetSale returns a sale by ID.
func (s *Service) GetSale(ctx context.Context, id uuid.UUID) (*Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// ListSales returns sales, newest first.
func (s *Service) ListSales(ctx context.Context, limit, offset int) ([]*Sale, error) {
	return s.repo.ListSales(ctx, limit, offset)
}

// ── Stock requests ───────────────────────────────────────────────────────

// RequestStock opens a pending request for qty units of a product.
func (s *Service) RequestStock(ctx context.Context, productID uuid.UUID, qty int64, signer string) (*StockRequest, *ledger.Entry, error) {
	if qty <= 0 {
		return nil, nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, nil, err
	}
	sr := &StockRequest{ProductID: productID, Quantity: qty, RequestedBy: signer}
	if err := s.repo.CreateStockRequest(ctx, sr); err != nil {
		return nil, nil, err
	}
	e, err := s.record(ctx, ledger.ActionCreate, signer, sr.ID, map[string]any{
		"type":      "stock_request",
		"requestId": sr.ID.String(),
		"productId": productID.String(),
		"quantity":  qty,
	})
	if err != nil {
		return sr, nil, err
	}
	return sr, e, nil
}

// VerifyStockRequest approves a pending request and applies its quantity.
// The verifier must differ from the requester.
func (s *Service) VerifyStockRequest(ctx context.Context, id uuid.UUID, signer string) (*StockRequest, *ledger.Entry, error) {
	pending, err := s.repo.GetStockRequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if strings.EqualFold(pending.RequestedBy, signer) {
		return nil, nil, fmt.Errorf("%w: a stock request cannot be verified by its requester", ErrInvalidInput)
	}
	sr, err := s.repo.VerifyStockRequest(ctx, id, signer, s.now().UTC())
	if err != nil {
		return nil, nil, err
	}
	e, err := s.record(ctx, ledger.ActionVerify, signer, sr.ID, map[string]any{
		"type":        "stock_request",
		"requestId":   sr.ID.String(),
		"productId":   sr.ProductID.String(),
		"quantity":    sr.Quantity,
		"requestedBy": sr.RequestedBy,
	})
	if err != nil {
		return sr, nil, err
	}
	return sr, e, nil
}

// GetStockRequest returns a stock request by ID.
func (s *Service) GetStockRequest(ctx context.Context, id uuid.UUID) (*StockRequest, error) {
	return s.repo.GetStockRequest(ctx, id)
}

// ListStockRequests returns requests with the given status, or all of them.
func (s *Service) ListStockRequests(ctx context.Context, status StockRequestStatus) ([]*StockRequest, error) {
	switch status {
	case "", StockRequestPending, StockRequestVerified:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.repo.ListStockRequests(ctx, status)
}

// IsClientError reports whether err is caused by the caller's input rather
// than by storage or the ledger.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicate) || errors.Is(err, ErrInsufficientStock)
}

// addInt64 returns a+b for non-negative operands and false when the sum
// does not fit in an int64.
func addInt64(a, b int64) (int64, bool) {
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// mulInt64 returns a*b for non-negative operands and false on overflow.
func mulInt64(a, b int64) (int64, bool) {
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}
