package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation        = "23505"
	numericValueOutOfRange = "22003"
)

// PostgresRepository implements Repository against PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ── Products ─────────────────────────────────────────────────────────────

func (r *PostgresRepository) CreateProduct(ctx context.Context, p *Product) error {
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	q := `
		WITH p AS (
			INSERT INTO products (id, name, category, price, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		)
		INSERT INTO stock (product_id, quantity, updated_at)
		SELECT id, 0, $6 FROM p`
	_, err := r.db.Exec(ctx, q, p.ID, p.Name, p.Category, p.Price, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateProduct(ctx context.Context, p *Product) error {
	p.UpdatedAt = time.Now().UTC()
	tag, err := r.db.Exec(ctx,
		`UPDATE products SET name = $2, category = $3, price = $4, updated_at = $5 WHERE id = $1`,
		p.ID, p.Name, p.Category, p.Price, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	// stock rows cascade
	tag, err := r.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	p := &Product{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, category, price, created_at, updated_at FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) ListProducts(ctx context.Context, limit, offset int) ([]*Product, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, name, category, price, created_at, updated_at
		 FROM products ORDER BY name LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Product, error) {
		p := &Product{}
		err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.CreatedAt, &p.UpdatedAt)
		return p, err
	})
}

// ── Stock ────────────────────────────────────────────────────────────────

func (r *PostgresRepository) AddStock(ctx context.Context, productID uuid.UUID, delta int64) (*StockItem, error) {
	s := &StockItem{}
	err := r.db.QueryRow(ctx,
		`UPDATE stock SET quantity = quantity + $2, updated_at = $3
		 WHERE product_id = $1
		 RETURNING product_id, quantity, updated_at`,
		productID, delta, time.Now().UTC(),
	).Scan(&s.ProductID, &s.Quantity, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == numericValueOutOfRange {
			return nil, fmt.Errorf("%w: stock quantity is out of range", ErrInvalidInput)
		}
		return nil, fmt.Errorf("add stock: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) GetStock(ctx context.Context, productID uuid.UUID) (*StockItem, error) {
	s := &StockItem{}
	err := r.db.QueryRow(ctx,
		`SELECT product_id, quantity, updated_at FROM stock WHERE product_id = $1`, productID,
	).Scan(&s.ProductID, &s.Quantity, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get stock: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) ListStock(ctx context.Context) ([]*StockItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT product_id, quantity, updated_at FROM stock ORDER BY product_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list stock: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*StockItem, error) {
		s := &StockItem{}
		err := row.Scan(&s.ProductID, &s.Quantity, &s.UpdatedAt)
		return s, err
	})
}

// ── Sales ────────────────────────────────────────────────────────────────

const saleColumns = `id, items, total, amount_paid, customer, created_at, updated_at`

func (r *PostgresRepository) CreateSale(ctx context.Context, s *Sale) error {
	s.ID = uuid.New()
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	items, err := json.Marshal(s.Items)
	if err != nil {
		return fmt.Errorf("marshal sale items: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, it := range s.Items {
		tag, err := tx.Exec(ctx,
			`UPDATE stock SET quantity = quantity - $2, updated_at = $3
			 WHERE product_id = $1 AND quantity >= $2`,
			it.ProductID, it.Quantity, now,
		)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: product %s", ErrInsufficientStock, it.ProductID)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO sales (`+saleColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, items, s.Total, s.AmountPaid, s.Customer, s.CreatedAt, s.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetSale(ctx context.Context, id uuid.UUID) (*Sale, error) {
	s, err := scanSale(r.db.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get sale: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) ListSales(ctx context.Context, limit, offset int) ([]*Sale, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+saleColumns+` FROM sales ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Sale, error) {
		return scanSale(row)
	})
}

func (r *PostgresRepository) AddPayment(ctx context.Context, id uuid.UUID, amount int64) (*Sale, error) {
	s, err := scanSale(r.db.QueryRow(ctx,
		`UPDATE sales SET amount_paid = amount_paid + LEAST($2, total - amount_paid), updated_at = $3
		 WHERE id = $1
		 RETURNING `+saleColumns,
		id, amount, time.Now().UTC(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("add payment: %w", err)
	}
	return s, nil
}

func scanSale(row pgx.Row) (*Sale, error) {
	s := &Sale{}
	var items []byte
	if err := row.Scan(&s.ID, &items, &s.Total, &s.AmountPaid, &s.Customer, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &s.Items); err != nil {
		return nil, fmt.Errorf("decode sale items: %w", err)
	}
	return s, nil
}

// ── Stock requests ───────────────────────────────────────────────────────

const requestColumns = `id, product_id, quantity, status, requested_by, verified_by, created_at, verified_at`

func (r *PostgresRepository) CreateStockRequest(ctx context.Context, sr *StockRequest) error {
	sr.ID = uuid.New()
	sr.CreatedAt = time.Now().UTC()
	sr.Status = StockRequestPending

	_, err := r.db.Exec(ctx,
		`INSERT INTO stock_requests (id, product_id, quantity, status, requested_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sr.ID, sr.ProductID, sr.Quantity, sr.Status, sr.RequestedBy, sr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create stock request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetStockRequest(ctx context.Context, id uuid.UUID) (*StockRequest, error) {
	sr, err := scanRequest(r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM stock_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get stock request: %w", err)
	}
	return sr, nil
}

func (r *PostgresRepository) ListStockRequests(ctx context.Context, status StockRequestStatus) ([]*StockRequest, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+requestColumns+` FROM stock_requests
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at`, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list stock requests: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*StockRequest, error) {
		return scanRequest(row)
	})
}

func (r *PostgresRepository) VerifyStockRequest(ctx context.Context, id uuid.UUID, verifier string, at time.Time) (*StockRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	sr, err := scanRequest(tx.QueryRow(ctx,
		`UPDATE stock_requests SET status = 'verified', verified_by = $2, verified_at = $3
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+requestColumns,
		id, verifier, at,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("lookup stock request: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("%w: stock request already verified", ErrDuplicate)
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("verify stock request: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE stock SET quantity = quantity + $2, updated_at = $3 WHERE product_id = $1`,
		sr.ProductID, sr.Quantity, at,
	)
	if err != nil {
		return nil, fmt.Errorf("apply stock request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, sr.ProductID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return sr, nil
}

func scanRequest(row pgx.Row) (*StockRequest, error) {
	sr := &StockRequest{}
	var verifiedBy *string
	if err := row.Scan(&sr.ID, &sr.ProductID, &sr.Quantity, &sr.Status, &sr.RequestedBy,
		&verifiedBy, &sr.CreatedAt, &sr.VerifiedAt); err != nil {
		return nil, err
	}
	if verifiedBy != nil {
		sr.VerifiedBy = *verifiedBy
	}
	return sr, nil
}
