// Package inventory holds the business objects whose changes are recorded
// in the ledger: products, stock levels, sales and stock requests.
package inventory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a product, sale or stock request does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an object already exists.
	ErrDuplicate = errors.New("already exists")
	// ErrInsufficientStock is returned by Checkout when a line item exceeds
	// the quantity on hand.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidInput is returned for malformed or out-of-range input.
	ErrInvalidInput = errors.New("invalid input")
)

// Product is a sellable item. Price is in cents.
type Product struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Price     int64     `json:"price"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StockItem is the quantity on hand for one product.
type StockItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaleItem is one line of a sale. UnitPrice is captured at checkout.
type SaleItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
}

// Sale is a completed checkout. Total and AmountPaid are in cents.
type Sale struct {
	ID         uuid.UUID  `json:"id"`
	Items      []SaleItem `json:"items"`
	Total      int64      `json:"total"`
	AmountPaid int64      `json:"amount_paid"`
	Customer   string     `json:"customer"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Balance returns the amount still owed.
func (s *Sale) Balance() int64 { return s.Total - s.AmountPaid }

// StockRequestStatus is the lifecycle state of a StockRequest.
type StockRequestStatus string

const (
	StockRequestPending  StockRequestStatus = "pending"
	StockRequestVerified StockRequestStatus = "verified"
)

// StockRequest asks for stock to be added to a product. The quantity is
// applied only once the request is verified by a second user.
type StockRequest struct {
	ID          uuid.UUID          `json:"id"`
	ProductID   uuid.UUID          `json:"product_id"`
	Quantity    int64              `json:"quantity"`
	Status      StockRequestStatus `json:"status"`
	RequestedBy string             `json:"requested_by"`
	VerifiedBy  string             `json:"verified_by,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	VerifiedAt  *time.Time         `json:"verified_at,omitempty"`
}

// ProductInput carries the mutable fields of a Product.
type ProductInput struct {
	Name     string `json:"name"     binding:"required"`
	Category string `json:"category"`
	Price    int64  `json:"price"`
}

// CheckoutLine is one requested line of a checkout.
type CheckoutLine struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int64     `json:"quantity"   binding:"required"`
}

// CheckoutInput is the body of a checkout.
type CheckoutInput struct {
	Customer   string         `json:"customer"`
	Items      []CheckoutLine `json:"items"       binding:"required"`
	AmountPaid int64          `json:"amount_paid"`
}
