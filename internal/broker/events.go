package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher is satisfied by *Producer
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher publishes order lifecycle events. It doubles as the payment notifier
// when notices are delivered by the worker instead of in-process.
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderPlaced publishes ORDER_PLACED
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PaymentSucceeded publishes ORDER_PAID with the receipt
func (ep *EventPublisher) PaymentSucceeded(ctx context.Context, r models.Receipt) error {
	return ep.publishOutcome(ctx, models.EventTypeOrderPaid, r)
}

// PaymentFailed publishes ORDER_PAYMENT_FAILED with the receipt
func (ep *EventPublisher) PaymentFailed(ctx context.Context, r models.Receipt) error {
	return ep.publishOutcome(ctx, models.EventTypeOrderPaymentFailed, r)
}

func (ep *EventPublisher) publishOutcome(ctx context.Context, eventType string, r models.Receipt) error {
	event := &models.PaymentOutcomeEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
		Receipt: r,
	}
	return ep.producer.PublishEvent(ctx, orderKey(r.OrderID), event)
}

// EventHandler routes incoming events to registered callbacks
type EventHandler struct {
	onOrderPaid     func(context.Context, *models.PaymentOutcomeEvent) error
	onPaymentFailed func(context.Context, *models.PaymentOutcomeEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderPaid registers a handler for ORDER_PAID events
func (eh *EventHandler) OnOrderPaid(handler func(context.Context, *models.PaymentOutcomeEvent) error) {
	eh.onOrderPaid = handler
}

// OnPaymentFailed registers a handler for ORDER_PAYMENT_FAILED events
func (eh *EventHandler) OnPaymentFailed(handler func(context.Context, *models.PaymentOutcomeEvent) error) {
	eh.onPaymentFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	var handler func(context.Context, *models.PaymentOutcomeEvent) error
	switch baseEvent.EventType {
	case models.EventTypeOrderPaid:
		handler = eh.onOrderPaid
	case models.EventTypeOrderPaymentFailed:
		handler = eh.onPaymentFailed
	default:
		return nil
	}
	if handler == nil {
		return nil
	}

	var event models.PaymentOutcomeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
	}
	return handler(ctx, &event)
}
