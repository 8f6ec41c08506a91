package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway event names
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// orderRef accepts the order id as either a JSON number or a numeric string
type orderRef int64

func (r *orderRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order_id %s", b)
	}
	*r = orderRef(n)
	return nil
}

type webhookPayload struct {
	Event   string          `json:"event"`
	RawData json.RawMessage `json:"data"`
	Data    *chargeData     `json:"-"`
}

type chargeData struct {
	Reference string     `json:"reference"`
	Amount    *int64     `json:"amount"`
	Channel   string     `json:"channel"`
	Currency  string     `json:"currency"`
	Status    string     `json:"status"`
	PaidAt    *time.Time `json:"paid_at"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
	Metadata struct {
		OrderID orderRef `json:"order_id"`
	} `json:"metadata"`
}

// parseWebhook decodes the envelope. Only the event name is required at this stage.
func parseWebhook(body []byte) (*webhookPayload, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("malformed payload: %v: %w", err, ErrBadRequest)
	}
	if strings.TrimSpace(p.Event) == "" {
		return nil, fmt.Errorf("event is required: %w", ErrBadRequest)
	}
	return &p, nil
}

// validateCharge decodes data into a charge and checks the fields a charge event must carry.
// Other events keep their data undecoded since its shape varies per event.
func (p *webhookPayload) validateCharge() error {
	raw := bytes.TrimSpace(p.RawData)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("data is required: %w", ErrBadRequest)
	}
	var d chargeData
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("malformed charge data: %v: %w", err, ErrBadRequest)
	}
	p.Data = &d

	var missing []string
	if strings.TrimSpace(d.Customer.Email) == "" {
		missing = append(missing, "data.customer.email")
	}
	if d.Metadata.OrderID <= 0 {
		missing = append(missing, "data.metadata.order_id")
	}
	if d.Amount == nil || *d.Amount < 0 {
		missing = append(missing, "data.amount")
	}
	if d.Reference == "" {
		missing = append(missing, "data.reference")
	}
	if d.Channel == "" {
		missing = append(missing, "data.channel")
	}
	if d.Currency == "" {
		missing = append(missing, "data.currency")
	}
	if d.Status == "" {
		missing = append(missing, "data.status")
	}
	if p.Event == EventChargeSuccess && d.PaidAt == nil {
		missing = append(missing, "data.paid_at")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s: %w", strings.Join(missing, ", "), ErrBadRequest)
	}
	return nil
}

// majorAmount converts the gateway's minor units into the store's currency units
func (d *chargeData) majorAmount() decimal.Decimal {
	return decimal.New(*d.Amount, -2)
}

// minorUnits converts an order total into the gateway's minor units
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
