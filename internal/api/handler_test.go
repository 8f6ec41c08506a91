package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/internal/auth"
	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/service/servicetest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "sk_test_api"

func init() {
	gin.SetMode(gin.TestMode)
}

type failingCheck struct{}

func (failingCheck) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	router   *gin.Engine
	mem      *servicetest.MemStore
	notifier *servicetest.Notifier
	tokens   *auth.TokenManager
}

func newTestServer(t *testing.T, checks map[string]Checker) *testServer {
	t.Helper()
	mem := servicetest.NewMemStore()
	notifier := servicetest.NewNotifier()
	tokens := auth.NewTokenManager("api-secret", "storefront", time.Hour, 15*time.Minute)
	images := servicetest.NewImages()
	cache := servicetest.NewCache()

	carts := service.NewCartService(mem, mem)
	h := NewHandler(Deps{
		Catalog:  service.NewCatalogService(mem, cache, images, 20, 5),
		Carts:    carts,
		Orders:   service.NewOrderService(mem, mem, nil),
		Payments: service.NewPaymentService(mem, carts, cache, notifier, &servicetest.Gateway{}, service.PaymentConfig{WebhookSecret: webhookSecret, Currency: "NGN"}),
		Accounts: service.NewAccountService(mem, mem, tokens, images, notifier, "https://shop.test/reset?token=%s"),
		Tokens:   tokens,
		Checks:   checks,
	})

	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{router: router, mem: mem, notifier: notifier, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) tokenFor(t *testing.T, userID int64, email, role string) string {
	t.Helper()
	token, err := s.tokens.IssueAccessToken(auth.Identity{UserID: userID, Email: email, Name: "Test", Role: role})
	require.NoError(t, err)
	return token
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", "", nil).Code)

	down := newTestServer(t, map[string]Checker{"postgres": failingCheck{}})
	w := down.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "postgres")
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/cart", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/cart", "not-a-jwt", nil).Code)

	reset, err := s.tokens.IssueResetToken(auth.Identity{UserID: 1, Email: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/cart", reset, nil).Code)
}

func TestRegisterLoginAndProfile(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"name": "Ada", "email": "ada@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password_hash")

	w = s.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"name": "Ada", "email": "ada@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "ada@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "ada@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code)
	var session service.Session
	decode(t, w, &session)

	w = s.do(t, http.MethodPut, "/api/v1/users/me", session.Token, gin.H{"name": "Ada L."})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/users/me", session.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var user models.User
	decode(t, w, &user)
	assert.Equal(t, "Ada L.", user.Name)

	w = s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", "", gin.H{"email": "ghost@example.com"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckoutAndWebhookFlow(t *testing.T) {
	s := newTestServer(t, nil)
	userID := s.mem.SeedUser("ada@example.com", "Ada", models.RoleCustomer)
	token := s.tokenFor(t, userID, "ada@example.com", models.RoleCustomer)
	shirt := s.mem.SeedProduct("Shirt", "10.00", 10)
	socks := s.mem.SeedProduct("Socks", "5.00", 10)

	w := s.do(t, http.MethodPost, "/api/v1/orders", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "empty cart")

	w = s.do(t, http.MethodPost, "/api/v1/cart", token, gin.H{"product_id": shirt, "quantity": 11})
	assert.Equal(t, http.StatusBadRequest, w.Code, "insufficient stock")

	w = s.do(t, http.MethodPost, "/api/v1/cart", token, gin.H{"product_id": shirt, "quantity": 2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, "/api/v1/cart", token, gin.H{"product_id": socks, "quantity": 1})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/cart", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view service.CartView
	decode(t, w, &view)
	assert.Equal(t, "25", view.GrandTotal.String())
	assert.Len(t, view.Items, 2)

	w = s.do(t, http.MethodPost, "/api/v1/orders", token, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var placed service.OrderDetail
	decode(t, w, &placed)
	assert.Equal(t, models.OrderStatusPending, placed.Status)

	w = s.do(t, http.MethodPost, "/api/v1/payments/initiate", token, gin.H{"order_id": placed.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "authorization_url")

	body := []byte(fmt.Sprintf(`{"event":"charge.success","data":{"reference":"T1","amount":2500,"channel":"card","currency":"NGN","status":"success","paid_at":"2024-03-01T10:00:00Z","customer":{"email":"ada@example.com"},"metadata":{"order_id":%d}}}`, placed.ID))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(body))
	req.Header.Set(gateway.SignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, models.OrderStatusPending, s.mem.Order(placed.ID).Status)

	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(body))
		req.Header.Set(gateway.SignatureHeader, gateway.Sign(webhookSecret, body))
		rec = httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	assert.Contains(t, rec.Body.String(), service.OutcomeDuplicate)

	assert.Eventually(t, func() bool {
		succeeded, _ := s.notifier.Counts()
		return succeeded == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.OrderStatusPaid, s.mem.Order(placed.ID).Status)
	assert.Equal(t, 8, s.mem.Product(shirt).StockCount)

	w = s.do(t, http.MethodGet, "/api/v1/orders/history", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = s.do(t, http.MethodGet, "/api/v1/cart", token, nil)
	decode(t, w, &view)
	assert.Empty(t, view.Items)
}

func TestWebhookMalformedPayload(t *testing.T) {
	s := newTestServer(t, nil)
	body := []byte(`{"event":"charge.success","data":{"amount":"lots"}}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(body))
	req.Header.Set(gateway.SignatureHeader, gateway.Sign(webhookSecret, body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookOversizedBody(t *testing.T) {
	s := newTestServer(t, nil)
	body := bytes.Repeat([]byte("a"), maxWebhookBody+1)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(body))
	req.Header.Set(gateway.SignatureHeader, gateway.Sign(webhookSecret, body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, s.mem.Calls("GetUserByEmail"))
}

func TestOrderAccessRules(t *testing.T) {
	s := newTestServer(t, nil)
	ada := s.mem.SeedUser("ada@example.com", "Ada", models.RoleCustomer)
	bob := s.mem.SeedUser("bob@example.com", "Bob", models.RoleCustomer)
	admin := s.mem.SeedUser("root@example.com", "Root", models.RoleAdmin)
	adaToken := s.tokenFor(t, ada, "ada@example.com", models.RoleCustomer)
	bobToken := s.tokenFor(t, bob, "bob@example.com", models.RoleCustomer)
	adminToken := s.tokenFor(t, admin, "root@example.com", models.RoleAdmin)

	product := s.mem.SeedProduct("Mug", "4.00", 3)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/cart", adaToken, gin.H{"product_id": product, "quantity": 1}).Code)
	w := s.do(t, http.MethodPost, "/api/v1/orders", adaToken, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var placed service.OrderDetail
	decode(t, w, &placed)
	path := fmt.Sprintf("/api/v1/orders/%d", placed.ID)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, adaToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, bobToken, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/orders/abc", adaToken, nil).Code)

	w = s.do(t, http.MethodPut, path+"/status", adaToken, gin.H{"status": "paid"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, models.OrderStatusPending, s.mem.Order(placed.ID).Status)

	w = s.do(t, http.MethodPut, path+"/status", adminToken, gin.H{"status": "paid"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OrderStatusPaid, s.mem.Order(placed.ID).Status)
}

func TestProductEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	admin := s.mem.SeedUser("root@example.com", "Root", models.RoleAdmin)
	customer := s.mem.SeedUser("ada@example.com", "Ada", models.RoleCustomer)
	adminToken := s.tokenFor(t, admin, "root@example.com", models.RoleAdmin)
	customerToken := s.tokenFor(t, customer, "ada@example.com", models.RoleCustomer)

	input := gin.H{"name": "Kettle", "price": "30.50", "stock_count": 2, "category": "kitchen"}
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/v1/products", customerToken, input).Code)

	w := s.do(t, http.MethodPost, "/api/v1/products", adminToken, input)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.Product
	decode(t, w, &created)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/products/%d", created.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/products/9999", "", nil).Code)

	w = s.do(t, http.MethodGet, "/api/v1/products?category=kitchen&max_price=40", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/products?max_price=cheap", "", nil).Code)

	w = s.do(t, http.MethodGet, "/api/v1/products/low-stock", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Kettle")
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/v1/products/low-stock", customerToken, nil).Code)

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile("image", "kettle.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/products/%d/image", created.ID), &form)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "images.test/products/")

	w = s.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/products/%d", created.ID), adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, s.mem.Product(created.ID))
}

func TestCORSAllowedOrigin(t *testing.T) {
	h := NewHandler(Deps{AllowedOrigins: []string{"https://shop.example.com"}})
	router := gin.New()
	h.SetupRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
