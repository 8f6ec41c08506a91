package service

import (
	"context"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CartService owns the per-user basket and its grand total
type CartService struct {
	carts    CartRepository
	products ProductRepository
	logger   *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(carts CartRepository, products ProductRepository) *CartService {
	return &CartService{
		carts:    carts,
		products: products,
		logger:   util.GetLogger(),
	}
}

// CartView is a cart with its enriched lines
type CartView struct {
	CartID     int64             `json:"cart_id"`
	Items      []models.CartLine `json:"items"`
	GrandTotal decimal.Decimal   `json:"grand_total"`
}

// ItemResult is returned by item mutations
type ItemResult struct {
	Item       *models.CartLine `json:"item,omitempty"`
	GrandTotal decimal.Decimal  `json:"grand_total"`
}

// GetOrCreateCart returns the user's only cart
func (s *CartService) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetOrCreateCart", attribute.Int64("user_id", userID))
	defer span.End()

	cart, err := s.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return cart, nil
}

// GetCart returns the user's cart with its lines
func (s *CartService) GetCart(ctx context.Context, userID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart", attribute.Int64("user_id", userID))
	defer span.End()

	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	lines, err := s.carts.ListCartLines(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", err)
	}
	total := priceLines(lines)

	return &CartView{CartID: cart.ID, Items: lines, GrandTotal: total}, nil
}

// AddItem puts a product into the cart
func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int) (*ItemResult, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem",
		attribute.Int64("user_id", userID), attribute.Int64("product_id", productID))
	defer span.End()

	if err := s.checkStock(ctx, productID, quantity); err != nil {
		util.CartMutationsTotal.WithLabelValues("add", "rejected").Inc()
		return nil, err
	}

	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	lines, err := s.carts.ListCartLines(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", err)
	}
	for _, line := range lines {
		if line.ProductID != productID {
			continue
		}
		// A repeat add grows the existing line; stock covers the combined quantity.
		merged := line.Quantity + quantity
		if err := s.checkStock(ctx, productID, merged); err != nil {
			util.CartMutationsTotal.WithLabelValues("add", "rejected").Inc()
			return nil, err
		}
		if err := s.carts.UpdateCartItemQuantity(ctx, cart.ID, line.ID, merged); err != nil {
			return nil, translate(err, "cart item")
		}
		util.CartMutationsTotal.WithLabelValues("add", "ok").Inc()
		return s.refresh(ctx, cart.ID, line.ID)
	}

	item := &models.CartItem{CartID: cart.ID, ProductID: productID, Quantity: quantity}
	if err := s.carts.AddCartItem(ctx, item); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to add cart item: %w", err)
	}

	util.CartMutationsTotal.WithLabelValues("add", "ok").Inc()
	return s.refresh(ctx, cart.ID, item.ID)
}

// UpdateItem changes the quantity of a line in the caller's cart
func (s *CartService) UpdateItem(ctx context.Context, userID, itemID int64, quantity int) (*ItemResult, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItem",
		attribute.Int64("user_id", userID), attribute.Int64("item_id", itemID))
	defer span.End()

	if quantity <= 0 {
		util.CartMutationsTotal.WithLabelValues("update", "rejected").Inc()
		return nil, fmt.Errorf("quantity must be a positive integer: %w", ErrBadRequest)
	}

	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	item, err := s.carts.GetCartItem(ctx, cart.ID, itemID)
	if err != nil {
		return nil, translate(err, "cart item")
	}
	if err := s.checkStock(ctx, item.ProductID, quantity); err != nil {
		util.CartMutationsTotal.WithLabelValues("update", "rejected").Inc()
		return nil, err
	}

	if err := s.carts.UpdateCartItemQuantity(ctx, cart.ID, itemID, quantity); err != nil {
		return nil, translate(err, "cart item")
	}

	util.CartMutationsTotal.WithLabelValues("update", "ok").Inc()
	return s.refresh(ctx, cart.ID, itemID)
}

// RemoveItem deletes a line from the caller's cart
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID int64) (*ItemResult, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem",
		attribute.Int64("user_id", userID), attribute.Int64("item_id", itemID))
	defer span.End()

	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.carts.DeleteCartItem(ctx, cart.ID, itemID); err != nil {
		return nil, translate(err, "cart item")
	}

	util.CartMutationsTotal.WithLabelValues("remove", "ok").Inc()
	return s.refresh(ctx, cart.ID, 0)
}

// Clear empties the user's cart and resets its total. Only payment reconciliation calls this.
func (s *CartService) Clear(ctx context.Context, userID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.Clear", attribute.Int64("user_id", userID))
	defer span.End()

	if err := s.carts.ClearCart(ctx, userID); err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	util.CartMutationsTotal.WithLabelValues("clear", "ok").Inc()
	return nil
}

func (s *CartService) checkStock(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be a positive integer: %w", ErrBadRequest)
	}
	product, err := s.products.GetProductByID(ctx, productID)
	if err != nil {
		return translate(err, "product")
	}
	if quantity > product.StockCount {
		return fmt.Errorf("product %d has %d in stock, requested %d: %w",
			productID, product.StockCount, quantity, ErrInsufficientStock)
	}
	return nil
}

// refresh recomputes the grand total from the authoritative lines, persists it and
// returns the enriched line identified by itemID (if any).
func (s *CartService) refresh(ctx context.Context, cartID, itemID int64) (*ItemResult, error) {
	lines, err := s.carts.ListCartLines(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", err)
	}

	total := priceLines(lines)
	if err := s.carts.SetCartTotal(ctx, cartID, total); err != nil {
		return nil, fmt.Errorf("failed to store cart total: %w", err)
	}

	result := &ItemResult{GrandTotal: total}
	for i := range lines {
		if lines[i].ID == itemID {
			result.Item = &lines[i]
			break
		}
	}
	return result, nil
}

// priceLines fills each line's total and returns the sum over all lines
func priceLines(lines []models.CartLine) decimal.Decimal {
	total := decimal.Zero
	for i := range lines {
		lines[i].TotalPrice = lines[i].UnitPrice.Mul(decimal.NewFromInt(int64(lines[i].Quantity)))
		total = total.Add(lines[i].TotalPrice)
	}
	return total
}
