package worker

import (
	"context"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// Source is satisfied by *broker.Consumer
type Source interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// Notifier delivers payment notices; *mailer.Notifier implements it
type Notifier interface {
	PaymentSucceeded(ctx context.Context, r models.Receipt) error
	PaymentFailed(ctx context.Context, r models.Receipt) error
}

// NotificationWorker consumes payment outcome events and mails the customer
type NotificationWorker struct {
	source   Source
	handler  *broker.EventHandler
	notifier Notifier
	logger   *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(source Source, notifier Notifier) *NotificationWorker {
	w := &NotificationWorker{
		source:   source,
		handler:  broker.NewEventHandler(),
		notifier: notifier,
		logger:   util.GetLogger(),
	}
	w.handler.OnOrderPaid(w.orderPaid)
	w.handler.OnPaymentFailed(w.paymentFailed)
	return w
}

// Start blocks until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.source.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.source.Close()
}

func (w *NotificationWorker) orderPaid(ctx context.Context, e *models.PaymentOutcomeEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationWorker.OrderPaid")
	defer span.End()

	if err := w.notifier.PaymentSucceeded(ctx, e.Receipt); err != nil {
		util.RecordError(span, err)
		w.logger.Error("Failed to send payment receipt",
			zap.String("event_id", e.EventID),
			zap.Int64("order_id", e.Receipt.OrderID),
			zap.Error(err))
		return err
	}
	return nil
}

func (w *NotificationWorker) paymentFailed(ctx context.Context, e *models.PaymentOutcomeEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationWorker.PaymentFailed")
	defer span.End()

	if err := w.notifier.PaymentFailed(ctx, e.Receipt); err != nil {
		util.RecordError(span, err)
		w.logger.Error("Failed to send payment failure notice",
			zap.String("event_id", e.EventID),
			zap.Int64("order_id", e.Receipt.OrderID),
			zap.Error(err))
		return err
	}
	return nil
}
