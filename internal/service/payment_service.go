package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Webhook outcomes
const (
	OutcomePaid        = "paid"
	OutcomeFailed      = "failed"
	OutcomeDuplicate   = "duplicate"
	OutcomeIgnored     = "ignored"
	OutcomeUnknownUser = "unknown_user"
)

// TransactionInitializer starts a hosted checkout at the gateway
type TransactionInitializer interface {
	InitializeTransaction(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResponse, error)
}

// PaymentConfig holds the gateway settings the reconciler needs
type PaymentConfig struct {
	WebhookSecret string
	CallbackURL   string
	Currency      string
}

// PaymentService initiates gateway checkouts and reconciles gateway notifications
type PaymentService struct {
	orders   OrderRepository
	users    UserRepository
	products ProductRepository
	carts    *CartService
	cache    ProductCache
	notifier PaymentNotifier
	gateway  TransactionInitializer
	cfg      PaymentConfig
	logger   *zap.Logger
}

// NewPaymentService creates a new payment service. cache may be nil.
func NewPaymentService(
	repo Repository,
	carts *CartService,
	cache ProductCache,
	notifier PaymentNotifier,
	gw TransactionInitializer,
	cfg PaymentConfig,
) *PaymentService {
	return &PaymentService{
		orders:   repo,
		users:    repo,
		products: repo,
		carts:    carts,
		cache:    cache,
		notifier: notifier,
		gateway:  gw,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}
}

// WebhookOutcome describes what a notification did. A non-nil receipt is waiting to be dispatched.
type WebhookOutcome struct {
	Event   string `json:"event"`
	Outcome string `json:"outcome"`
	OrderID int64  `json:"order_id,omitempty"`

	receipt *models.Receipt
}

// HasNotice reports whether Dispatch has anything to send
func (o *WebhookOutcome) HasNotice() bool {
	return o != nil && o.receipt != nil
}

// Initiate starts a gateway checkout for one of the caller's pending orders
func (s *PaymentService) Initiate(ctx context.Context, actor Actor, orderID int64) (*gateway.InitializeResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Initiate", attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.orders.GetOrderForUser(ctx, actor.UserID, orderID)
	if err != nil {
		return nil, translate(err, "order")
	}
	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("order %d is %s: %w", orderID, order.Status, ErrBadRequest)
	}

	resp, err := s.gateway.InitializeTransaction(ctx, gateway.InitializeRequest{
		Email:       actor.Email,
		Amount:      minorUnits(order.TotalAmount),
		Currency:    s.cfg.Currency,
		CallbackURL: s.cfg.CallbackURL,
		Metadata:    map[string]string{"order_id": strconv.FormatInt(order.ID, 10)},
	})
	if err != nil {
		util.PaymentInitiationsTotal.WithLabelValues("error").Inc()
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to initialize payment: %w", err)
	}

	util.PaymentInitiationsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("Payment initiated",
		zap.Int64("order_id", order.ID),
		zap.String("reference", resp.Reference))
	return resp, nil
}

// HandleWebhook verifies and applies one gateway notification.
// body must be the exact bytes received; signature is the hex HMAC-SHA512 header value.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookOutcome, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	if !gateway.VerifySignature(s.cfg.WebhookSecret, body, signature) {
		util.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		s.logger.Warn("Rejected webhook with invalid signature")
		return nil, fmt.Errorf("invalid webhook signature: %w", ErrUnauthorized)
	}

	payload, err := parseWebhook(body)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("unknown", "malformed").Inc()
		return nil, err
	}
	span.SetAttributes(attribute.String("event", payload.Event))

	var outcome *WebhookOutcome
	switch payload.Event {
	case EventChargeSuccess, EventChargeFailed:
		if err := payload.validateCharge(); err != nil {
			util.WebhookEventsTotal.WithLabelValues(payload.Event, "malformed").Inc()
			s.logger.Warn("Rejected malformed charge event", zap.String("event", payload.Event), zap.Error(err))
			return nil, err
		}
		outcome, err = s.reconcileCharge(ctx, payload)
		if err != nil {
			util.RecordError(span, err)
			util.WebhookEventsTotal.WithLabelValues(payload.Event, "error").Inc()
			return nil, err
		}
	default:
		outcome = &WebhookOutcome{Event: payload.Event, Outcome: OutcomeIgnored}
	}

	util.WebhookEventsTotal.WithLabelValues(payload.Event, outcome.Outcome).Inc()
	return outcome, nil
}

func (s *PaymentService) reconcileCharge(ctx context.Context, p *webhookPayload) (*WebhookOutcome, error) {
	d := p.Data
	orderID := int64(d.Metadata.OrderID)
	outcome := &WebhookOutcome{Event: p.Event, OrderID: orderID}

	user, err := s.users.GetUserByEmail(ctx, d.Customer.Email)
	if err != nil {
		if errors.Is(translate(err, "user"), ErrNotFound) {
			s.logger.Warn("Webhook for unknown customer acknowledged",
				zap.String("event", p.Event),
				zap.Int64("order_id", orderID))
			outcome.Outcome = OutcomeUnknownUser
			return outcome, nil
		}
		return nil, fmt.Errorf("failed to resolve customer: %w", err)
	}

	order, err := s.orders.GetOrderForUser(ctx, user.ID, orderID)
	if err != nil {
		return nil, translate(err, "order")
	}
	if order.Status != models.OrderStatusPending {
		return s.duplicate(outcome, order.Status), nil
	}

	target := models.OrderStatusPaid
	if p.Event == EventChargeFailed {
		target = models.OrderStatusFailed
	}

	// the conditional update is the only idempotency guard: a concurrent duplicate loses here
	moved, err := s.orders.TransitionOrderStatus(ctx, order.ID, user.ID, models.OrderStatusPending, target)
	if err != nil {
		return nil, fmt.Errorf("failed to transition order %d: %w", order.ID, err)
	}
	if !moved {
		return s.duplicate(outcome, "changed concurrently"), nil
	}

	logger := s.logger.With(
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", user.ID),
		zap.String("reference", d.Reference))

	if expected := minorUnits(order.TotalAmount); expected != *d.Amount {
		logger.Warn("Gateway amount differs from order total",
			zap.Int64("expected_minor", expected),
			zap.Int64("received_minor", *d.Amount))
	}

	if target == models.OrderStatusPaid {
		util.OrdersPaidTotal.Inc()
		if err := s.carts.Clear(ctx, user.ID); err != nil {
			s.sideEffectFailed(logger, "cart_clear", err)
		}
	} else {
		util.OrdersFailedTotal.Inc()
	}

	s.recordReference(ctx, logger, user.ID, order.ID, d)

	items, err := s.orders.ListOrderItems(ctx, order.ID)
	if err != nil {
		s.sideEffectFailed(logger, "list_items", err)
	}
	if target == models.OrderStatusPaid {
		s.decrementStock(ctx, logger, items)
	}

	outcome.Outcome = target
	outcome.receipt = &models.Receipt{
		OrderID:   order.ID,
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Reference: d.Reference,
		Amount:    d.majorAmount(),
		Currency:  d.Currency,
		Channel:   d.Channel,
		PaidAt:    d.PaidAt,
		Items:     itemData(items),
	}

	logger.Info("Order payment reconciled", zap.String("status", target))
	return outcome, nil
}

func (s *PaymentService) duplicate(outcome *WebhookOutcome, status string) *WebhookOutcome {
	s.logger.Info("Duplicate payment notification acknowledged",
		zap.String("event", outcome.Event),
		zap.Int64("order_id", outcome.OrderID),
		zap.String("order_status", status))
	outcome.Outcome = OutcomeDuplicate
	return outcome
}

func (s *PaymentService) recordReference(ctx context.Context, logger *zap.Logger, userID, orderID int64, d *chargeData) {
	ref := &models.PaymentReference{
		UserID:    userID,
		OrderID:   orderID,
		Reference: d.Reference,
		Amount:    d.majorAmount(),
		Channel:   d.Channel,
		Currency:  d.Currency,
		Status:    d.Status,
		PaidAt:    d.PaidAt,
	}
	if err := s.orders.CreatePaymentReference(ctx, ref); err != nil {
		s.sideEffectFailed(logger, "payment_reference", err)
	}
}

// decrementStock attempts every item even when an earlier one fails
func (s *PaymentService) decrementStock(ctx context.Context, logger *zap.Logger, items []models.OrderItem) {
	touched := make([]int64, 0, len(items))
	for _, item := range items {
		remaining, err := s.products.DecrementStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			s.sideEffectFailed(logger.With(zap.Int64("product_id", item.ProductID)), "stock_decrement", err)
			continue
		}
		touched = append(touched, item.ProductID)
		if remaining == 0 {
			logger.Warn("Product sold out", zap.Int64("product_id", item.ProductID))
		}
	}

	if s.cache != nil && len(touched) > 0 {
		if err := s.cache.InvalidateProducts(ctx, touched...); err != nil {
			logger.Warn("Product cache invalidation failed", zap.Error(err))
		}
	}
}

func (s *PaymentService) sideEffectFailed(logger *zap.Logger, step string, err error) {
	util.SideEffectFailuresTotal.WithLabelValues(step).Inc()
	logger.Error("Payment side effect failed", zap.String("step", step), zap.Error(err))
}

// Dispatch sends the customer notice for an outcome. Failures are logged, never returned:
// by the time this runs the gateway has already been answered.
func (s *PaymentService) Dispatch(ctx context.Context, outcome *WebhookOutcome) {
	if !outcome.HasNotice() || s.notifier == nil {
		return
	}
	ctx, span := util.StartSpan(ctx, "PaymentService.Dispatch", attribute.Int64("order_id", outcome.OrderID))
	defer span.End()

	var err error
	switch outcome.Outcome {
	case OutcomePaid:
		err = s.notifier.PaymentSucceeded(ctx, *outcome.receipt)
	case OutcomeFailed:
		err = s.notifier.PaymentFailed(ctx, *outcome.receipt)
	default:
		return
	}
	if err != nil {
		util.RecordError(span, err)
		s.logger.Error("Payment notice dispatch failed",
			zap.Int64("order_id", outcome.OrderID),
			zap.String("outcome", outcome.Outcome),
			zap.Error(err))
	}
}
