package service

import (
	"context"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

// ProductRepository is the catalog part of *store.Store
type ProductRepository interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, error)
	ListLowStockProducts(ctx context.Context, threshold int) ([]models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error
	UpdateProductImage(ctx context.Context, id int64, url string) error
	DeleteProduct(ctx context.Context, id int64) error
	DecrementStock(ctx context.Context, productID int64, quantity int) (int, error)
}

// CartRepository is the cart part of *store.Store
type CartRepository interface {
	GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error)
	ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error)
	AddCartItem(ctx context.Context, item *models.CartItem) error
	GetCartItem(ctx context.Context, cartID, itemID int64) (*models.CartItem, error)
	UpdateCartItemQuantity(ctx context.Context, cartID, itemID int64, quantity int) error
	DeleteCartItem(ctx context.Context, cartID, itemID int64) error
	SetCartTotal(ctx context.Context, cartID int64, total decimal.Decimal) error
	ClearCart(ctx context.Context, userID int64) error
}

// OrderRepository is the order and payment audit part of *store.Store
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderForUser(ctx context.Context, userID, id int64) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64, status string) ([]models.Order, error)
	ListOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	TransitionOrderStatus(ctx context.Context, orderID, userID int64, from, to string) (bool, error)
	SetOrderStatus(ctx context.Context, orderID int64, status string) (*models.Order, error)
	CreatePaymentReference(ctx context.Context, ref *models.PaymentReference) error
}

// UserRepository is the account part of *store.Store
type UserRepository interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUserName(ctx context.Context, id int64, name string) error
	UpdateUserAvatar(ctx context.Context, id int64, url string) error
	UpdateUserPassword(ctx context.Context, id int64, hash string) error
}

// Repository is everything the services need from storage
type Repository interface {
	ProductRepository
	CartRepository
	OrderRepository
	UserRepository
}

// ProductCache is an optional read-through cache for single products
type ProductCache interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	SetProduct(ctx context.Context, p *models.Product) error
	InvalidateProducts(ctx context.Context, ids ...int64) error
}

// PaymentNotifier delivers payment outcomes to the customer
type PaymentNotifier interface {
	PaymentSucceeded(ctx context.Context, r models.Receipt) error
	PaymentFailed(ctx context.Context, r models.Receipt) error
}

// OrderEvents receives order lifecycle events
type OrderEvents interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
}

// Actor is the verified caller of a privileged operation
type Actor struct {
	UserID int64
	Email  string
	Role   string
}

// IsAdmin reports whether the actor may perform admin-only operations
func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

func requireAdmin(a Actor) error {
	if !a.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
