package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderService turns carts into orders and serves order reads
type OrderService struct {
	orders OrderRepository
	carts  CartRepository
	events OrderEvents
	logger *zap.Logger
}

// NewOrderService creates a new order service. events may be nil.
func NewOrderService(orders OrderRepository, carts CartRepository, events OrderEvents) *OrderService {
	return &OrderService{
		orders: orders,
		carts:  carts,
		events: events,
		logger: util.GetLogger(),
	}
}

// OrderDetail is an order with its items
type OrderDetail struct {
	*models.Order
	Items []models.OrderItem `json:"items"`
}

// PlaceOrder snapshots the caller's cart into a pending order. The cart is left intact.
func (s *OrderService) PlaceOrder(ctx context.Context, userID int64) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder", attribute.Int64("user_id", userID))
	defer span.End()

	cart, err := s.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	lines, err := s.carts.ListCartLines(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	order, items := snapshot(userID, lines)
	if err := s.orders.CreateOrder(ctx, order, items); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.String("total", order.TotalAmount.String()))

	s.publishPlaced(ctx, order, items)

	return &OrderDetail{Order: order, Items: items}, nil
}

// snapshot freezes the current line prices into a pending order
func snapshot(userID int64, lines []models.CartLine) (*models.Order, []models.OrderItem) {
	total := decimal.Zero
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		items = append(items, models.OrderItem{
			ProductID:    line.ProductID,
			Quantity:     line.Quantity,
			PriceAtOrder: line.UnitPrice,
			ProductName:  line.ProductName,
		})
	}
	return &models.Order{
		UserID:      userID,
		TotalAmount: total,
		Status:      models.OrderStatusPending,
	}, items
}

func (s *OrderService) publishPlaced(ctx context.Context, order *models.Order, items []models.OrderItem) {
	if s.events == nil {
		return
	}
	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Items:       itemData(items),
	}
	if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

// ListOrders returns all of the caller's orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders", attribute.Int64("user_id", userID))
	defer span.End()

	return s.orders.ListOrdersByUser(ctx, userID, "")
}

// OrderHistory returns the caller's paid orders, newest first
func (s *OrderService) OrderHistory(ctx context.Context, userID int64) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.OrderHistory", attribute.Int64("user_id", userID))
	defer span.End()

	return s.orders.ListOrdersByUser(ctx, userID, models.OrderStatusPaid)
}

// GetOrder returns one of the caller's orders. Orders of other users are reported as not found.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID int64) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder",
		attribute.Int64("user_id", userID), attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.orders.GetOrderForUser(ctx, userID, orderID)
	if err != nil {
		return nil, translate(err, "order")
	}
	items, err := s.orders.ListOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}
	return &OrderDetail{Order: order, Items: items}, nil
}

// SetStatus force-sets an order's status (admin only)
func (s *OrderService) SetStatus(ctx context.Context, actor Actor, orderID int64, status string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SetStatus", attribute.Int64("order_id", orderID))
	defer span.End()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !models.ValidOrderStatus(status) {
		return nil, fmt.Errorf("unknown status %q: %w", status, ErrBadRequest)
	}

	order, err := s.orders.SetOrderStatus(ctx, orderID, status)
	if err != nil {
		return nil, translate(err, "order")
	}

	s.logger.Info("Order status overridden",
		zap.Int64("order_id", orderID),
		zap.String("status", status),
		zap.Int64("by", actor.UserID))
	return order, nil
}

func itemData(items []models.OrderItem) []models.OrderItemData {
	out := make([]models.OrderItemData, 0, len(items))
	for _, it := range items {
		out = append(out, models.OrderItemData{
			ProductID: it.ProductID,
			Name:      it.ProductName,
			Quantity:  it.Quantity,
			UnitPrice: it.PriceAtOrder,
		})
	}
	return out
}
