package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/service/servicetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "sk_test_secret"

type paymentFixture struct {
	mem      *servicetest.MemStore
	cache    *servicetest.Cache
	notifier *servicetest.Notifier
	gw       *servicetest.Gateway
	carts    *CartService
	orders   *OrderService
	payments *PaymentService

	userID  int64
	email   string
	shirt   int64
	socks   int64
	orderID int64
}

// newPaymentFixture places a pending order of 2 x 10.00 + 1 x 5.00 for one customer
func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	ctx := context.Background()

	f := &paymentFixture{
		mem:      servicetest.NewMemStore(),
		cache:    servicetest.NewCache(),
		notifier: servicetest.NewNotifier(),
		gw:       &servicetest.Gateway{},
		email:    "ada@example.com",
	}
	f.carts = NewCartService(f.mem, f.mem)
	f.orders = NewOrderService(f.mem, f.mem, nil)
	f.payments = NewPaymentService(f.mem, f.carts, f.cache, f.notifier, f.gw, PaymentConfig{
		WebhookSecret: testWebhookSecret,
		CallbackURL:   "https://shop.test/checkout/done",
		Currency:      "NGN",
	})

	f.userID = f.mem.SeedUser(f.email, "Ada", models.RoleCustomer)
	f.shirt = f.mem.SeedProduct("Shirt", "10.00", 10)
	f.socks = f.mem.SeedProduct("Socks", "5.00", 10)

	_, err := f.carts.AddItem(ctx, f.userID, f.shirt, 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, f.userID, f.socks, 1)
	require.NoError(t, err)

	placed, err := f.orders.PlaceOrder(ctx, f.userID)
	require.NoError(t, err)
	f.orderID = placed.ID
	return f
}

func chargeBody(t *testing.T, event, email string, orderID interface{}, amount int64) []byte {
	t.Helper()
	data := map[string]interface{}{
		"reference": "T123456",
		"amount":    amount,
		"channel":   "card",
		"currency":  "NGN",
		"status":    "success",
		"customer":  map[string]interface{}{"email": email},
		"metadata":  map[string]interface{}{"order_id": orderID},
	}
	if event == EventChargeSuccess {
		data["paid_at"] = "2024-03-01T10:00:00Z"
	} else {
		data["status"] = "failed"
	}
	body, err := json.Marshal(map[string]interface{}{"event": event, "data": data})
	require.NoError(t, err)
	return body
}

func (f *paymentFixture) deliver(body []byte) (*WebhookOutcome, error) {
	return f.payments.HandleWebhook(context.Background(), body, gateway.Sign(testWebhookSecret, body))
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	f := newPaymentFixture(t)
	body := chargeBody(t, EventChargeSuccess, f.email, f.orderID, 2500)

	_, err := f.payments.HandleWebhook(context.Background(), body, gateway.Sign("wrong", body))
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.payments.HandleWebhook(context.Background(), body, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, models.OrderStatusPending, f.mem.Order(f.orderID).Status)
	assert.Equal(t, 0, f.mem.Calls("GetUserByEmail"))
	assert.Equal(t, 0, f.mem.Calls("TransitionOrderStatus"))
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	f := newPaymentFixture(t)

	bodies := map[string][]byte{
		"not json":      []byte(`{"event":`),
		"no event":      []byte(`{"data":{}}`),
		"no data":       []byte(`{"event":"charge.success"}`),
		"no email":      []byte(`{"event":"charge.success","data":{"reference":"r","amount":100,"channel":"card","currency":"NGN","status":"success","paid_at":"2024-03-01T10:00:00Z","metadata":{"order_id":1}}}`),
		"no order id":   []byte(`{"event":"charge.success","data":{"reference":"r","amount":100,"channel":"card","currency":"NGN","status":"success","paid_at":"2024-03-01T10:00:00Z","customer":{"email":"ada@example.com"}}}`),
		"bad order id":  []byte(`{"event":"charge.success","data":{"metadata":{"order_id":"abc"}}}`),
		"no paid_at":    []byte(`{"event":"charge.success","data":{"reference":"r","amount":100,"channel":"card","currency":"NGN","status":"success","customer":{"email":"ada@example.com"},"metadata":{"order_id":1}}}`),
		"no channel":    []byte(`{"event":"charge.success","data":{"reference":"r","amount":100,"currency":"NGN","status":"success","paid_at":"2024-03-01T10:00:00Z","customer":{"email":"ada@example.com"},"metadata":{"order_id":1}}}`),
		"string amount": []byte(`{"event":"charge.success","data":{"reference":"r","amount":"1.00","channel":"card","currency":"NGN","status":"success","paid_at":"2024-03-01T10:00:00Z","customer":{"email":"ada@example.com"},"metadata":{"order_id":1}}}`),
		"negative cash": []byte(`{"event":"charge.failed","data":{"reference":"r","amount":-1,"channel":"card","currency":"NGN","status":"failed","customer":{"email":"ada@example.com"},"metadata":{"order_id":1}}}`),
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := f.deliver(body)
			assert.ErrorIs(t, err, ErrBadRequest)
		})
	}
	assert.Equal(t, 0, f.mem.Calls("TransitionOrderStatus"))
}

func TestWebhookAcknowledgesOtherEventsWhateverTheirData(t *testing.T) {
	f := newPaymentFixture(t)

	bodies := []string{
		`{"event":"transfer.success","data":{"amount":"1000.00","metadata":""}}`,
		`{"event":"transfer.failed","data":{"metadata":{"order_id":"TRF-9"}}}`,
		`{"event":"subscription.create","data":"opaque"}`,
		`{"event":"invoice.update"}`,
	}
	for _, body := range bodies {
		out, err := f.deliver([]byte(body))
		require.NoError(t, err, body)
		assert.Equal(t, OutcomeIgnored, out.Outcome, body)
	}
	assert.Equal(t, 0, f.mem.Calls("GetUserByEmail"))
	assert.Equal(t, models.OrderStatusPending, f.mem.Order(f.orderID).Status)
}

func TestWebhookAcknowledgesUnknownEvent(t *testing.T) {
	f := newPaymentFixture(t)

	out, err := f.deliver([]byte(`{"event":"transfer.success","data":{"anything":true}}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out.Outcome)
	assert.False(t, out.HasNotice())
	assert.Equal(t, models.OrderStatusPending, f.mem.Order(f.orderID).Status)
}

func TestWebhookAcknowledgesUnknownCustomer(t *testing.T) {
	f := newPaymentFixture(t)

	out, err := f.deliver(chargeBody(t, EventChargeSuccess, "ghost@example.com", f.orderID, 2500))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownUser, out.Outcome)
	assert.Equal(t, models.OrderStatusPending, f.mem.Order(f.orderID).Status)
	assert.Empty(t, f.mem.PaymentReferences())
}

func TestWebhookUnknownOrderIsNotFound(t *testing.T) {
	f := newPaymentFixture(t)
	other := f.mem.SeedUser("bob@example.com", "Bob", models.RoleCustomer)
	require.NotEqual(t, f.userID, other)

	_, err := f.deliver(chargeBody(t, EventChargeSuccess, f.email, 98765, 2500))
	assert.ErrorIs(t, err, ErrNotFound)

	// an order that belongs to somebody else is not found either
	_, err = f.deliver(chargeBody(t, EventChargeSuccess, "bob@example.com", f.orderID, 2500))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, models.OrderStatusPending, f.mem.Order(f.orderID).Status)
}

func TestChargeSuccessSettlesOrder(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	// warm the cache so invalidation is observable
	catalog := NewCatalogService(f.mem, f.cache, nil, 20, 5)
	_, err := catalog.Get(ctx, f.shirt)
	require.NoError(t, err)
	require.True(t, f.cache.Cached(f.shirt))

	out, err := f.deliver(chargeBody(t, EventChargeSuccess, f.email, f.orderID, 2500))
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, out.Outcome)
	assert.Equal(t, f.orderID, out.OrderID)
	assert.True(t, out.HasNotice())

	assert.Equal(t, models.OrderStatusPaid, f.mem.Order(f.orderID).Status)
	assert.Equal(t, 0, f.mem.CartItemCount(f.userID))
	assert.True(t, f.mem.Cart(f.userID).GrandTotal.IsZero())
	assert.Equal(t, 8, f.mem.Product(f.shirt).StockCount)
	assert.Equal(t, 9, f.mem.Product(f.socks).StockCount)
	assert.False(t, f.cache.Cached(f.shirt))
	assert.ElementsMatch(t, []int64{f.shirt, f.socks}, f.cache.Invalidated)

	refs := f.mem.PaymentReferences()
	require.Len(t, refs, 1)
	assert.Equal(t, "T123456", refs[0].Reference)
	assert.True(t, dec("25").Equal(refs[0].Amount))
	assert.Equal(t, "card", refs[0].Channel)
	require.NotNil(t, refs[0].PaidAt)
	assert.True(t, refs[0].PaidAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))

	f.payments.Dispatch(ctx, out)
	succeeded, failed := f.notifier.Counts()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, failed)
	receipt := f.notifier.Succeeded[0]
	assert.Equal(t, f.email, receipt.Email)
	assert.True(t, dec("25").Equal(receipt.Amount))
	assert.Len(t, receipt.Items, 2)
}

func TestChargeOrderIDForms(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.deliver(chargeBody(t, EventChargeSuccess, f.email, "  ", 2500))
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = f.deliver(chargeBody(t, EventChargeSuccess, f.email, 0, 2500))
	assert.ErrorIs(t, err, ErrBadRequest)

	out, err := f.deliver(chargeBody(t, EventChargeSuccess, "ADA@example.com", strconv.FormatInt(f.orderID, 10), 2500))
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, out.Outcome)
}

func TestDuplicateChargeSuccessIsAcknowledged(t *testing.T) {
	f := newPaymentFixture(t)
	body := chargeBody(t, EventChargeSuccess, f.email, f.orderID, 2500)

	first, err := f.deliver(body)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, first.Outcome)

	second, err := f.deliver(body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.False(t, second.HasNotice())

	assert.Equal(t, 8, f.mem.Product(f.shirt).StockCount)
	assert.Equal(t, 9, f.mem.Product(f.socks).StockCount)
	assert.Len(t, f.mem.PaymentReferences(), 1)
	assert.Equal(t, 1, f.mem.Calls("ClearCart"))
}

func TestConcurrentDuplicateDeliveryAppliesOnce(t *testing.T) {
	f := newPaymentFixture(t)
	body := chargeBody(t, EventChargeSuccess, f.email, f.orderID, 2500)

	const deliveries = 16
	outcomes := make([]string, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.deliver(body)
			if assert.NoError(t, err) {
				outcomes[i] = out.Outcome
			}
		}(i)
	}
	wg.Wait()

	paid := 0
	for _, o := range outcomes {
		if o == OutcomePaid {
			paid++
		} else {
			assert.Equal(t, OutcomeDuplicate, o)
		}
	}
	assert.Equal(t, 1, paid)
	assert.Equal(t, 1, f.mem.Calls("ClearCart"))
	assert.Equal(t, 2, f.mem.Calls("DecrementStock"))
	assert.Equal(t, 8, f.mem.Product(f.shirt).StockCount)
	assert.Len(t, f.mem.PaymentReferences(), 1)
}

func TestChargeFailedLeavesCartAndStock(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	out, err := f.deliver(chargeBody(t, EventChargeFailed, f.email, f.orderID, 2500))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Outcome)

	assert.Equal(t, models.OrderStatusFailed, f.mem.Order(f.orderID).Status)
	assert.Equal(t, 2, f.mem.CartItemCount(f.userID))
	assert.Equal(t, 10, f.mem.Product(f.shirt).StockCount)
	assert.Equal(t, 0, f.mem.Calls("DecrementStock"))

	refs := f.mem.PaymentReferences()
	require.Len(t, refs, 1)
	assert.Equal(t, "failed", refs[0].Status)
	assert.Nil(t, refs[0].PaidAt)

	f.payments.Dispatch(ctx, out)
	succeeded, failed := f.notifier.Counts()
	assert.Equal(t, 0, succeeded)
	assert.Equal(t, 1, failed)

	// a late success for an already failed order changes nothing
	late, err := f.deliver(chargeBody(t, EventChargeSuccess, f.email, f.orderID, 2500))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, late.Outcome)
	assert.Equal(t, models.OrderStatusFailed, f.mem.Order(f.orderID).Status)
}

func TestStockDecrementClampsAtZero(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	admin := Actor{UserID: 99, Role: models.RoleAdmin}
	catalog := NewCatalogService(f.mem, f.cache, nil, 20, 5)
	_, err := catalog.Update(ctx, admin, f.shirt, ProductInput{Name: "Shirt", Price: dec("10.00"), StockCount: 1})
	require.NoError(t, err)

	out, err := f.deliver(chargeBody(t, EventChargeSuccess, f.email, f.orderID, 2500))
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, out.Outcome)
	assert.Equal(t, 0, f.mem.Product(f.shirt).StockCount)
}

func TestSideEffectFailuresDoNotFailWebhook(t *testing.T) {
	f := newPaymentFixture(t)
	boom := errors.New("db hiccup")
	f.mem.FailOn("ClearCart", boom)
	f.mem.FailOn("CreatePaymentReference", boom)

	out, err := f.deliver(chargeBody(t, EventChargeSuccess, f.email, f.orderID, 2500))
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, out.Outcome)
	assert.Equal(t, models.OrderStatusPaid, f.mem.Order(f.orderID).Status)
	assert.Equal(t, 8, f.mem.Product(f.shirt).StockCount, "later steps still run")
	assert.Equal(t, 2, f.mem.CartItemCount(f.userID))
}

func TestAmountMismatchIsOnlyLogged(t *testing.T) {
	f := newPaymentFixture(t)

	out, err := f.deliver(chargeBody(t, EventChargeSuccess, f.email, f.orderID, 100))
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, out.Outcome)
}

func TestDispatchSwallowsNotifierErrors(t *testing.T) {
	f := newPaymentFixture(t)
	f.notifier.Err = errors.New("smtp down")

	out, err := f.deliver(chargeBody(t, EventChargeSuccess, f.email, f.orderID, 2500))
	require.NoError(t, err)

	assert.NotPanics(t, func() { f.payments.Dispatch(context.Background(), out) })
	succeeded, _ := f.notifier.Counts()
	assert.Equal(t, 1, succeeded)

	assert.NotPanics(t, func() { f.payments.Dispatch(context.Background(), nil) })
}

func TestInitiate(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	actor := Actor{UserID: f.userID, Email: f.email, Role: models.RoleCustomer}

	resp, err := f.payments.Initiate(ctx, actor, f.orderID)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AuthorizationURL)
	require.Len(t, f.gw.Requests, 1)
	req := f.gw.Requests[0]
	assert.Equal(t, int64(2500), req.Amount)
	assert.Equal(t, f.email, req.Email)
	assert.Equal(t, "NGN", req.Currency)
	assert.Equal(t, strconv.FormatInt(f.orderID, 10), req.Metadata["order_id"])

	_, err = f.payments.Initiate(ctx, Actor{UserID: 777, Email: "x@example.com"}, f.orderID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.deliver(chargeBody(t, EventChargeSuccess, f.email, f.orderID, 2500))
	require.NoError(t, err)
	_, err = f.payments.Initiate(ctx, actor, f.orderID)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestInitiateGatewayError(t *testing.T) {
	f := newPaymentFixture(t)
	f.gw.Err = gateway.ErrGateway

	_, err := f.payments.Initiate(context.Background(), Actor{UserID: f.userID, Email: f.email}, f.orderID)
	assert.ErrorIs(t, err, gateway.ErrGateway)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(2500), minorUnits(dec("25")))
	assert.Equal(t, int64(1999), minorUnits(dec("19.99")))
	assert.Equal(t, int64(1), minorUnits(dec("0.005")))
}
