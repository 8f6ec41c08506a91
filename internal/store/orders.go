package store

import (
	"context"
	"fmt"

	"storefront/internal/models"
)

const orderColumns = `id, user_id, total_amount, status, created_at, updated_at`

// CreateOrder creates an order and its items in one transaction
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, order, `
		INSERT INTO orders (user_id, total_amount, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		order.UserID, order.TotalAmount, order.Status)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		err = tx.GetContext(ctx, &items[i].ID, `
			INSERT INTO order_items (order_id, product_id, quantity, price_at_order)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			items[i].OrderID, items[i].ProductID, items[i].Quantity, items[i].PriceAtOrder)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderForUser retrieves an order owned by the user
func (s *Store) GetOrderForUser(ctx context.Context, userID, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return nil, notFound(err, "order %d", id)
	}
	return &order, nil
}

// ListOrdersByUser retrieves a user's orders, newest first. An empty status matches all.
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64, status string) ([]models.Order, error) {
	orders := []models.Order{}
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	} else {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 AND status = $2 ORDER BY created_at DESC, id DESC",
			userID, status)
	}
	return orders, err
}

// ListOrderItems retrieves all items for an order with the product name when it still exists
func (s *Store) ListOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.db.SelectContext(ctx, &items, `
		SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.price_at_order,
		       COALESCE(p.name, '') AS product_name
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.id`, orderID)
	return items, err
}

// TransitionOrderStatus moves a user's order from one status to another in a single conditional update.
// It reports false when the order was not in the expected status, which is how duplicate deliveries surface.
func (s *Store) TransitionOrderStatus(ctx context.Context, orderID, userID int64, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND user_id = $3 AND status = $4",
		to, orderID, userID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetOrderStatus overwrites the status unconditionally
func (s *Store) SetOrderStatus(ctx context.Context, orderID int64, status string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING "+orderColumns,
		status, orderID)
	if err != nil {
		return nil, notFound(err, "order %d", orderID)
	}
	return &order, nil
}

// CreatePaymentReference appends an audit row for a processed gateway event
func (s *Store) CreatePaymentReference(ctx context.Context, ref *models.PaymentReference) error {
	query := `
		INSERT INTO payment_references (user_id, order_id, reference, amount, channel, currency, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, ref, query,
		ref.UserID, ref.OrderID, ref.Reference, ref.Amount, ref.Channel, ref.Currency, ref.Status, ref.PaidAt)
}
