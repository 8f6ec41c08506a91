package store

import (
	"context"
	"fmt"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

// GetOrCreateCart returns the user's cart, creating it if needed.
// The unique index on carts.user_id makes concurrent first accesses converge on one row.
func (s *Store) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	query := `
		INSERT INTO carts (user_id, grand_total)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, grand_total, created_at, updated_at`

	var cart models.Cart
	if err := s.db.GetContext(ctx, &cart, query, userID); err != nil {
		return nil, fmt.Errorf("failed to get or create cart: %w", err)
	}
	return &cart, nil
}

// ListCartLines returns the cart's items joined with live product data
func (s *Store) ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	query := `
		SELECT ci.id, ci.cart_id, ci.product_id, ci.quantity, ci.created_at,
		       p.name AS product_name, p.image_url AS product_image,
		       p.price AS unit_price, p.stock_count
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.id`

	lines := []models.CartLine{}
	err := s.db.SelectContext(ctx, &lines, query, cartID)
	return lines, err
}

// AddCartItem inserts a new cart line
func (s *Store) AddCartItem(ctx context.Context, item *models.CartItem) error {
	query := `
		INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, item, query, item.CartID, item.ProductID, item.Quantity)
}

// GetCartItem fetches a line scoped to a cart
func (s *Store) GetCartItem(ctx context.Context, cartID, itemID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.GetContext(ctx, &item,
		"SELECT id, cart_id, product_id, quantity, created_at FROM cart_items WHERE id = $1 AND cart_id = $2",
		itemID, cartID)
	if err != nil {
		return nil, notFound(err, "cart item %d", itemID)
	}
	return &item, nil
}

// UpdateCartItemQuantity sets the quantity of a line scoped to a cart
func (s *Store) UpdateCartItemQuantity(ctx context.Context, cartID, itemID int64, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1 WHERE id = $2 AND cart_id = $3",
		quantity, itemID, cartID)
	if err != nil {
		return err
	}
	return requireRow(res, "cart item %d", itemID)
}

// DeleteCartItem removes a line scoped to a cart
func (s *Store) DeleteCartItem(ctx context.Context, cartID, itemID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE id = $1 AND cart_id = $2", itemID, cartID)
	if err != nil {
		return err
	}
	return requireRow(res, "cart item %d", itemID)
}

// SetCartTotal stores a freshly computed grand total
func (s *Store) SetCartTotal(ctx context.Context, cartID int64, total decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE carts SET grand_total = $1, updated_at = NOW() WHERE id = $2", total, cartID)
	return err
}

// ClearCart deletes every line of the user's cart and resets its total
func (s *Store) ClearCart(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM cart_items WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1)", userID)
	if err != nil {
		return fmt.Errorf("failed to delete cart items: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE carts SET grand_total = 0, updated_at = NOW() WHERE user_id = $1", userID)
	if err != nil {
		return fmt.Errorf("failed to reset cart total: %w", err)
	}

	return tx.Commit()
}
