package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a row does not exist or is not visible to the caller
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert
	ErrDuplicate = errors.New("duplicate")
)

const productColumns = `id, name, description, price, stock_count, category, brand, image_url, created_at, updated_at`

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an existing connection
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, used by /ready
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "product %d", id)
	}
	return &product, nil
}

// ListProducts returns one page of products, newest first
func (s *Store) ListProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Brand != "" {
		args = append(args, f.Brand)
		where = append(where, fmt.Sprintf("brand = $%d", len(args)))
	}
	if f.MaxPrice != nil {
		args = append(args, *f.MaxPrice)
		where = append(where, fmt.Sprintf("price <= $%d", len(args)))
	}

	query := "SELECT " + productColumns + " FROM products"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset())
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// ListLowStockProducts returns products at or below the threshold, lowest stock first
func (s *Store) ListLowStockProducts(ctx context.Context, threshold int) ([]models.Product, error) {
	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products,
		"SELECT "+productColumns+" FROM products WHERE stock_count <= $1 ORDER BY stock_count ASC, id ASC", threshold)
	return products, err
}

// CreateProduct inserts a product
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (name, description, price, stock_count, category, brand, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, p, query,
		p.Name, p.Description, p.Price, p.StockCount, p.Category, p.Brand, p.ImageURL)
}

// UpdateProduct overwrites the editable product fields
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	query := `
		UPDATE products
		SET name = $1, description = $2, price = $3, stock_count = $4, category = $5, brand = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING image_url, created_at, updated_at`

	err := s.db.GetContext(ctx, p, query,
		p.Name, p.Description, p.Price, p.StockCount, p.Category, p.Brand, p.ID)
	return notFound(err, "product %d", p.ID)
}

// UpdateProductImage stores a new image URL
func (s *Store) UpdateProductImage(ctx context.Context, id int64, url string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET image_url = $1, updated_at = NOW() WHERE id = $2", url, id)
	if err != nil {
		return err
	}
	return requireRow(res, "product %d", id)
}

// DecrementStock subtracts quantity from a product's stock, clamped at zero.
// It returns the stock count after the update.
func (s *Store) DecrementStock(ctx context.Context, productID int64, quantity int) (int, error) {
	var remaining int
	err := s.db.GetContext(ctx, &remaining,
		"UPDATE products SET stock_count = GREATEST(stock_count - $1, 0), updated_at = NOW() WHERE id = $2 RETURNING stock_count",
		quantity, productID)
	if err != nil {
		return 0, notFound(err, "product %d", productID)
	}
	return remaining, nil
}

// DeleteProduct removes a product together with every cart and order line that references it.
// Carts that lost a line get their grand total recomputed in the same transaction.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var cartIDs []int64
	err = tx.SelectContext(ctx, &cartIDs,
		"DELETE FROM cart_items WHERE product_id = $1 RETURNING cart_id", id)
	if err != nil {
		return fmt.Errorf("failed to delete cart items: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM order_items WHERE product_id = $1", id); err != nil {
		return fmt.Errorf("failed to delete order items: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if err := requireRow(res, "product %d", id); err != nil {
		return err
	}

	if len(cartIDs) > 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE carts c
			SET grand_total = COALESCE((
				SELECT SUM(ci.quantity * p.price)
				FROM cart_items ci JOIN products p ON p.id = ci.product_id
				WHERE ci.cart_id = c.id), 0),
				updated_at = NOW()
			WHERE c.id = ANY($1)`, pq.Array(cartIDs))
		if err != nil {
			return fmt.Errorf("failed to recompute cart totals: %w", err)
		}
	}

	return tx.Commit()
}

func requireRow(res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return nil
}
