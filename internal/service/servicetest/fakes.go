package servicetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"storefront/internal/gateway"
	"storefront/internal/imagestore"
	"storefront/internal/models"
)

// Cache is an in-memory product cache
type Cache struct {
	mu          sync.Mutex
	items       map[int64]models.Product
	Invalidated []int64
	Hits        int
}

func NewCache() *Cache {
	return &Cache{items: map[int64]models.Product{}}
}

func (c *Cache) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.items[id]
	if !ok {
		return nil, nil
	}
	c.Hits++
	return &p, nil
}

func (c *Cache) SetProduct(_ context.Context, p *models.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[p.ID] = *p
	return nil
}

func (c *Cache) InvalidateProducts(_ context.Context, ids ...int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.items, id)
	}
	c.Invalidated = append(c.Invalidated, ids...)
	return nil
}

// Cached reports whether the product is currently cached
func (c *Cache) Cached(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	return ok
}

// Notifier records payment and reset notices
type Notifier struct {
	mu        sync.Mutex
	Succeeded []models.Receipt
	Failed    []models.Receipt
	Resets    []string
	Err       error
	resetCh   chan string
}

func NewNotifier() *Notifier {
	return &Notifier{resetCh: make(chan string, 16)}
}

func (n *Notifier) PaymentSucceeded(_ context.Context, r models.Receipt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Succeeded = append(n.Succeeded, r)
	return n.Err
}

func (n *Notifier) PaymentFailed(_ context.Context, r models.Receipt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Failed = append(n.Failed, r)
	return n.Err
}

func (n *Notifier) PasswordReset(_ context.Context, email, _, link string) error {
	n.mu.Lock()
	n.Resets = append(n.Resets, email)
	n.mu.Unlock()
	n.resetCh <- link
	return n.Err
}

// ResetLinks delivers each reset link as it is sent
func (n *Notifier) ResetLinks() <-chan string {
	return n.resetCh
}

// Counts returns the number of success and failure notices
func (n *Notifier) Counts() (succeeded, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Succeeded), len(n.Failed)
}

// Gateway records initialization requests
type Gateway struct {
	mu       sync.Mutex
	Requests []gateway.InitializeRequest
	Err      error
}

func (g *Gateway) InitializeTransaction(_ context.Context, req gateway.InitializeRequest) (*gateway.InitializeResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	g.Requests = append(g.Requests, req)
	ref := fmt.Sprintf("ref-%d", len(g.Requests))
	return &gateway.InitializeResponse{
		AuthorizationURL: "https://checkout.test/" + ref,
		AccessCode:       "code-" + ref,
		Reference:        ref,
	}, nil
}

// Events records published OrderPlaced events
type Events struct {
	mu     sync.Mutex
	Placed []models.OrderPlacedEvent
	Err    error
}

func (e *Events) PublishOrderPlaced(_ context.Context, event *models.OrderPlacedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Placed = append(e.Placed, *event)
	return e.Err
}

// Images stores uploads in memory
type Images struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

var _ imagestore.Store = (*Images)(nil)

func NewImages() *Images {
	return &Images{Objects: map[string][]byte{}}
}

func (im *Images) Put(_ context.Context, u imagestore.Upload) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, u.Body); err != nil {
		return "", err
	}
	key := u.Folder + "/" + u.Filename
	im.mu.Lock()
	defer im.mu.Unlock()
	im.Objects[key] = buf.Bytes()
	return "https://images.test/" + key, nil
}
