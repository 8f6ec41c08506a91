package mailer

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

func testMailer(sent *[]*mail.Msg, fail error) *Mailer {
	return &Mailer{
		from: "shop@example.com",
		send: func(_ context.Context, msg *mail.Msg) error {
			if fail != nil {
				return fail
			}
			*sent = append(*sent, msg)
			return nil
		},
	}
}

func sampleReceipt() models.Receipt {
	return models.Receipt{
		OrderID:   9,
		Email:     "ada@example.com",
		Name:      "Ada",
		Reference: "ref-9",
		Amount:    decimal.NewFromInt(25),
		Currency:  "NGN",
		Items: []models.OrderItemData{
			{ProductID: 1, Name: "Widget", Quantity: 2, UnitPrice: decimal.NewFromInt(10)},
			{ProductID: 2, Quantity: 1, UnitPrice: decimal.NewFromInt(5)},
		},
	}
}

func TestRenderReceipt(t *testing.T) {
	html, err := RenderReceipt(sampleReceipt())
	require.NoError(t, err)

	assert.Contains(t, html, "order #9")
	assert.Contains(t, html, "Widget")
	assert.Contains(t, html, "Product #2")
	assert.Contains(t, html, "20.00")
	assert.Contains(t, html, "NGN 25.00")
	assert.Contains(t, html, "ref-9")
}

func TestRenderEscapesNames(t *testing.T) {
	r := sampleReceipt()
	r.Name = "<script>x</script>"

	html, err := RenderPaymentFailed(r)
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
}

func TestNotifierPaymentSucceeded(t *testing.T) {
	var sent []*mail.Msg
	n := NewNotifier(testMailer(&sent, nil))

	require.NoError(t, n.PaymentSucceeded(context.Background(), sampleReceipt()))
	require.Len(t, sent, 1)

	assert.Equal(t, []string{"Payment received for order #9"}, sent[0].GetGenHeader(mail.HeaderSubject))
	rcpts, err := sent[0].GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"ada@example.com"}, rcpts)
}

func TestNotifierPropagatesSendError(t *testing.T) {
	var sent []*mail.Msg
	n := NewNotifier(testMailer(&sent, errors.New("relay down")))

	err := n.PasswordReset(context.Background(), "ada@example.com", "Ada", "https://x/reset?token=t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay down")
}

func TestSendRejectsBadRecipient(t *testing.T) {
	var sent []*mail.Msg
	m := testMailer(&sent, nil)

	err := m.Send(context.Background(), Message{To: "not an address", Subject: "x", HTML: "<p>x</p>"})
	require.Error(t, err)
	assert.Empty(t, sent)
}
