package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists inventory state. Implementations set IDs and
// timestamps on create and return ErrNotFound, ErrDuplicate and
// ErrInsufficientStock where documented.
type Repository interface {
	// CreateProduct inserts p and a zero stock row for it. A name that is
	// already taken yields ErrDuplicate.
	CreateProduct(ctx context.Context, p *Product) error
	UpdateProduct(ctx context.Context, p *Product) error
	// DeleteProduct removes the product and its stock row.
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	ListProducts(ctx context.Context, limit, offset int) ([]*Product, error)

	// AddStock adjusts the quantity on hand by delta and returns the new level.
	AddStock(ctx context.Context, productID uuid.UUID, delta int64) (*StockItem, error)
	GetStock(ctx context.Context, productID uuid.UUID) (*StockItem, error)
	ListStock(ctx context.Context) ([]*StockItem, error)

	// CreateSale decrements stock for every line and inserts the sale in one
	// unit of work. Nothing changes if any line is short (ErrInsufficientStock).
	CreateSale(ctx context.Context, s *Sale) error
	GetSale(ctx context.Context, id uuid.UUID) (*Sale, error)
	ListSales(ctx context.Context, limit, offset int) ([]*Sale, error)
	// AddPayment increases AmountPaid by amount, capped at Total.
	AddPayment(ctx context.Context, id uuid.UUID, amount int64) (*Sale, error)

	CreateStockRequest(ctx context.Context, r *StockRequest) error
	GetStockRequest(ctx context.Context, id uuid.UUID) (*StockRequest, error)
	// ListStockRequests filters by status; an empty status lists all.
	ListStockRequests(ctx context.Context, status StockRequestStatus) ([]*StockRequest, error)
	// VerifyStockRequest marks a pending request verified and applies its
	// quantity to stock. A request that is already verified yields ErrDuplicate.
	VerifyStockRequest(ctx context.Context, id uuid.UUID, verifier string, at time.Time) (*StockRequest, error)
}
