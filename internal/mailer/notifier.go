package mailer

import (
	"context"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/util"
)

// Notifier turns payment outcomes and account events into mail
type Notifier struct {
	mailer *Mailer
}

func NewNotifier(m *Mailer) *Notifier {
	return &Notifier{mailer: m}
}

// PaymentSucceeded mails the receipt
func (n *Notifier) PaymentSucceeded(ctx context.Context, r models.Receipt) error {
	html, err := RenderReceipt(r)
	if err != nil {
		return err
	}
	return n.deliver(ctx, "receipt", Message{
		To:      r.Email,
		Subject: fmt.Sprintf("Payment received for order #%d", r.OrderID),
		HTML:    html,
	})
}

// PaymentFailed mails the failure notice
func (n *Notifier) PaymentFailed(ctx context.Context, r models.Receipt) error {
	html, err := RenderPaymentFailed(r)
	if err != nil {
		return err
	}
	return n.deliver(ctx, "payment_failed", Message{
		To:      r.Email,
		Subject: fmt.Sprintf("Payment failed for order #%d", r.OrderID),
		HTML:    html,
	})
}

// PasswordReset mails a reset link
func (n *Notifier) PasswordReset(ctx context.Context, email, name, link string) error {
	html, err := RenderPasswordReset(name, link)
	if err != nil {
		return err
	}
	return n.deliver(ctx, "password_reset", Message{
		To:      email,
		Subject: "Reset your password",
		HTML:    html,
	})
}

func (n *Notifier) deliver(ctx context.Context, kind string, msg Message) error {
	if err := n.mailer.Send(ctx, msg); err != nil {
		util.NotificationsTotal.WithLabelValues(kind, "error").Inc()
		return err
	}
	util.NotificationsTotal.WithLabelValues(kind, "sent").Inc()
	return nil
}
