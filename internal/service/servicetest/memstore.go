// Package servicetest provides in-memory collaborators for exercising the services
// without Postgres, Redis, Kafka, SMTP or the payment gateway.
package servicetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/shopspring/decimal"
)

// MemStore mirrors the semantics of *store.Store, including the unique cart per user
// and the conditional order status transition.
type MemStore struct {
	mu sync.Mutex

	products   map[int64]*models.Product
	users      map[int64]*models.User
	carts      map[int64]*models.Cart // by user id
	cartItems  map[int64]*models.CartItem
	orders     map[int64]*models.Order
	orderItems map[int64]*models.OrderItem
	references []models.PaymentReference

	nextID int64
	clock  time.Time
	fail   map[string]error
	calls  map[string]int
}

func NewMemStore() *MemStore {
	return &MemStore{
		products:   map[int64]*models.Product{},
		users:      map[int64]*models.User{},
		carts:      map[int64]*models.Cart{},
		cartItems:  map[int64]*models.CartItem{},
		orders:     map[int64]*models.Order{},
		orderItems: map[int64]*models.OrderItem{},
		clock:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		fail:       map[string]error{},
		calls:      map[string]int{},
	}
}

// FailOn makes the named method return err until cleared with a nil err
func (m *MemStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, method)
		return
	}
	m.fail[method] = err
}

// Calls returns how many times the named method was invoked
func (m *MemStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// enter records the call and returns an injected failure; callers hold m.mu
func (m *MemStore) enter(method string) error {
	m.calls[method]++
	return m.fail[method]
}

func (m *MemStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func notFound(what string, id interface{}) error {
	return fmt.Errorf("%s %v: %w", what, id, store.ErrNotFound)
}

// SeedProduct adds a product and returns its id
func (m *MemStore) SeedProduct(name string, price string, stock int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	p := &models.Product{
		ID:         m.id(),
		Name:       name,
		Price:      decimal.RequireFromString(price),
		StockCount: stock,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.products[p.ID] = p
	return p.ID
}

// SeedUser adds a user and returns its id
func (m *MemStore) SeedUser(email, name, role string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	u := &models.User{ID: m.id(), Email: strings.ToLower(email), Name: name, Role: role, CreatedAt: now, UpdatedAt: now}
	m.users[u.ID] = u
	return u.ID
}

// Product returns a copy of a product, or nil
func (m *MemStore) Product(id int64) *models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// Order returns a copy of an order, or nil
func (m *MemStore) Order(id int64) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		cp := *o
		return &cp
	}
	return nil
}

// CartCount returns how many carts exist for the user
func (m *MemStore) CartCount(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[userID]; ok {
		return 1
	}
	return 0
}

// Cart returns a copy of the user's cart, or nil
func (m *MemStore) Cart(userID int64) *models.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[userID]; ok {
		cp := *c
		return &cp
	}
	return nil
}

// CartItemCount returns the number of lines in the user's cart
func (m *MemStore) CartItemCount(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return 0
	}
	n := 0
	for _, it := range m.cartItems {
		if it.CartID == c.ID {
			n++
		}
	}
	return n
}

// PaymentReferences returns every audit row written
func (m *MemStore) PaymentReferences() []models.PaymentReference {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PaymentReference(nil), m.references...)
}

// OrderItemCount returns the total number of order lines stored
func (m *MemStore) OrderItemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orderItems)
}

// --- products ---

func (m *MemStore) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetProductByID"); err != nil {
		return nil, err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, notFound("product", id)
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) ListProducts(_ context.Context, f models.ProductFilter) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListProducts"); err != nil {
		return nil, err
	}
	out := []models.Product{}
	for _, p := range m.products {
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		if f.Brand != "" && p.Brand != f.Brand {
			continue
		}
		if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	start := f.Offset()
	if start > len(out) {
		start = len(out)
	}
	end := start + f.Limit
	if f.Limit <= 0 || end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func (m *MemStore) ListLowStockProducts(_ context.Context, threshold int) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Product{}
	for _, p := range m.products {
		if p.StockCount <= threshold {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StockCount == out[j].StockCount {
			return out[i].ID < out[j].ID
		}
		return out[i].StockCount < out[j].StockCount
	})
	return out, nil
}

func (m *MemStore) CreateProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateProduct"); err != nil {
		return err
	}
	now := m.tick()
	p.ID, p.CreatedAt, p.UpdatedAt = m.id(), now, now
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *MemStore) UpdateProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.products[p.ID]
	if !ok {
		return notFound("product", p.ID)
	}
	p.ImageURL, p.CreatedAt, p.UpdatedAt = existing.ImageURL, existing.CreatedAt, m.tick()
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *MemStore) UpdateProductImage(_ context.Context, id int64, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return notFound("product", id)
	}
	p.ImageURL = url
	return nil
}

func (m *MemStore) DeleteProduct(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return notFound("product", id)
	}
	touched := map[int64]bool{}
	for itemID, it := range m.cartItems {
		if it.ProductID == id {
			touched[it.CartID] = true
			delete(m.cartItems, itemID)
		}
	}
	for itemID, it := range m.orderItems {
		if it.ProductID == id {
			delete(m.orderItems, itemID)
		}
	}
	delete(m.products, id)
	for _, c := range m.carts {
		if touched[c.ID] {
			c.GrandTotal = m.cartTotal(c.ID)
		}
	}
	return nil
}

func (m *MemStore) DecrementStock(_ context.Context, productID int64, quantity int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DecrementStock"); err != nil {
		return 0, err
	}
	p, ok := m.products[productID]
	if !ok {
		return 0, notFound("product", productID)
	}
	p.StockCount -= quantity
	if p.StockCount < 0 {
		p.StockCount = 0
	}
	return p.StockCount, nil
}

// --- carts ---

func (m *MemStore) GetOrCreateCart(_ context.Context, userID int64) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetOrCreateCart"); err != nil {
		return nil, err
	}
	c, ok := m.carts[userID]
	if !ok {
		now := m.tick()
		c = &models.Cart{ID: m.id(), UserID: userID, GrandTotal: decimal.Zero, CreatedAt: now, UpdatedAt: now}
		m.carts[userID] = c
	}
	cp := *c
	return &cp, nil
}

func (m *MemStore) ListCartLines(_ context.Context, cartID int64) ([]models.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListCartLines"); err != nil {
		return nil, err
	}
	return m.cartLines(cartID), nil
}

func (m *MemStore) cartLines(cartID int64) []models.CartLine {
	lines := []models.CartLine{}
	for _, it := range m.cartItems {
		if it.CartID != cartID {
			continue
		}
		p, ok := m.products[it.ProductID]
		if !ok {
			continue
		}
		lines = append(lines, models.CartLine{
			CartItem:     *it,
			ProductName:  p.Name,
			ProductImage: p.ImageURL,
			UnitPrice:    p.Price,
			StockCount:   p.StockCount,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines
}

func (m *MemStore) cartTotal(cartID int64) decimal.Decimal {
	total := decimal.Zero
	for _, l := range m.cartLines(cartID) {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

func (m *MemStore) AddCartItem(_ context.Context, item *models.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AddCartItem"); err != nil {
		return err
	}
	item.ID, item.CreatedAt = m.id(), m.tick()
	cp := *item
	m.cartItems[item.ID] = &cp
	return nil
}

func (m *MemStore) GetCartItem(_ context.Context, cartID, itemID int64) (*models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.cartItems[itemID]
	if !ok || it.CartID != cartID {
		return nil, notFound("cart item", itemID)
	}
	cp := *it
	return &cp, nil
}

func (m *MemStore) UpdateCartItemQuantity(_ context.Context, cartID, itemID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.cartItems[itemID]
	if !ok || it.CartID != cartID {
		return notFound("cart item", itemID)
	}
	it.Quantity = quantity
	return nil
}

func (m *MemStore) DeleteCartItem(_ context.Context, cartID, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.cartItems[itemID]
	if !ok || it.CartID != cartID {
		return notFound("cart item", itemID)
	}
	delete(m.cartItems, itemID)
	return nil
}

func (m *MemStore) SetCartTotal(_ context.Context, cartID int64, total decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetCartTotal"); err != nil {
		return err
	}
	for _, c := range m.carts {
		if c.ID == cartID {
			c.GrandTotal = total
			c.UpdatedAt = m.tick()
		}
	}
	return nil
}

func (m *MemStore) ClearCart(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ClearCart"); err != nil {
		return err
	}
	c, ok := m.carts[userID]
	if !ok {
		return nil
	}
	for id, it := range m.cartItems {
		if it.CartID == c.ID {
			delete(m.cartItems, id)
		}
	}
	c.GrandTotal = decimal.Zero
	return nil
}

// --- orders ---

func (m *MemStore) CreateOrder(_ context.Context, order *models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateOrder"); err != nil {
		return err
	}
	now := m.tick()
	order.ID, order.CreatedAt, order.UpdatedAt = m.id(), now, now
	cp := *order
	m.orders[order.ID] = &cp
	for i := range items {
		items[i].ID, items[i].OrderID = m.id(), order.ID
		it := items[i]
		m.orderItems[it.ID] = &it
	}
	return nil
}

func (m *MemStore) GetOrderForUser(_ context.Context, userID, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.UserID != userID {
		return nil, notFound("order", id)
	}
	cp := *o
	return &cp, nil
}

func (m *MemStore) ListOrdersByUser(_ context.Context, userID int64, status string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.orders {
		if o.UserID == userID && (status == "" || o.Status == status) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemStore) ListOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListOrderItems"); err != nil {
		return nil, err
	}
	out := []models.OrderItem{}
	for _, it := range m.orderItems {
		if it.OrderID == orderID {
			cp := *it
			if p, ok := m.products[it.ProductID]; ok {
				cp.ProductName = p.Name
			}
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) TransitionOrderStatus(_ context.Context, orderID, userID int64, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("TransitionOrderStatus"); err != nil {
		return false, err
	}
	o, ok := m.orders[orderID]
	if !ok || o.UserID != userID || o.Status != from {
		return false, nil
	}
	o.Status, o.UpdatedAt = to, m.tick()
	return true, nil
}

func (m *MemStore) SetOrderStatus(_ context.Context, orderID int64, status string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, notFound("order", orderID)
	}
	o.Status, o.UpdatedAt = status, m.tick()
	cp := *o
	return &cp, nil
}

func (m *MemStore) CreatePaymentReference(_ context.Context, ref *models.PaymentReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreatePaymentReference"); err != nil {
		return err
	}
	ref.ID, ref.CreatedAt = m.id(), m.tick()
	m.references = append(m.references, *ref)
	return nil
}

// --- users ---

func (m *MemStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(u.Email)
	for _, existing := range m.users {
		if existing.Email == email {
			return fmt.Errorf("email %s: %w", u.Email, store.ErrDuplicate)
		}
	}
	now := m.tick()
	u.ID, u.Email, u.CreatedAt, u.UpdatedAt = m.id(), email, now, now
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (m *MemStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetUserByEmail"); err != nil {
		return nil, err
	}
	email = strings.ToLower(email)
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, notFound("user", email)
}

func (m *MemStore) UpdateUserName(_ context.Context, id int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return notFound("user", id)
	}
	u.Name = name
	return nil
}

func (m *MemStore) UpdateUserAvatar(_ context.Context, id int64, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return notFound("user", id)
	}
	u.ProfileImageURL = url
	return nil
}

func (m *MemStore) UpdateUserPassword(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return notFound("user", id)
	}
	u.PasswordHash = hash
	return nil
}
