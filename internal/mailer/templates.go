package mailer

import (
	"bytes"
	"fmt"
	"html/template"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

var receiptTmpl = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"lineTotal": func(it models.OrderItemData) string {
		return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).StringFixed(2)
	},
}).Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background-color: #f9f9f9; padding: 20px;">
  <div style="max-width: 600px; margin: auto; background-color: white; padding: 20px; border-radius: 8px;">
    <h2>Thank you for your order{{if .Name}}, {{.Name}}{{end}}</h2>
    <p>We received your payment for order #{{.OrderID}}.</p>
    <table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
      <thead>
        <tr><th align="left">Product</th><th align="left">Qty</th><th align="left">Unit price</th><th align="left">Total</th></tr>
      </thead>
      <tbody>
      {{range .Items}}
        <tr><td>{{if .Name}}{{.Name}}{{else}}Product #{{.ProductID}}{{end}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice.StringFixed 2}}</td><td>{{lineTotal .}}</td></tr>
      {{end}}
      </tbody>
    </table>
    <p><strong>Amount paid:</strong> {{.Currency}} {{.Amount.StringFixed 2}}</p>
    <p><strong>Reference:</strong> {{.Reference}}{{if .Channel}} ({{.Channel}}){{end}}</p>
  </div>
</body>
</html>`))

var failureTmpl = template.Must(template.New("failure").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; padding: 20px;">
  <h2>Your payment did not go through</h2>
  <p>{{if .Name}}Hi {{.Name}}, w{{else}}W{{end}}e could not confirm the payment of {{.Currency}} {{.Amount.StringFixed 2}} for order #{{.OrderID}}.</p>
  <p>Your cart has been kept, so you can check out again at any time.</p>
  <p>Reference: {{.Reference}}</p>
</body>
</html>`))

var resetTmpl = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; padding: 20px;">
  <h2>Reset your password</h2>
  <p>Hi {{.Name}}, use the link below to choose a new password. It expires in 15 minutes.</p>
  <p><a href="{{.Link}}">Reset password</a></p>
  <p>If you did not ask for this you can ignore this mail.</p>
</body>
</html>`))

// RenderReceipt renders the payment confirmation body
func RenderReceipt(r models.Receipt) (string, error) {
	return render(receiptTmpl, r)
}

// RenderPaymentFailed renders the failed payment notice body
func RenderPaymentFailed(r models.Receipt) (string, error) {
	return render(failureTmpl, r)
}

// RenderPasswordReset renders the reset link mail body
func RenderPasswordReset(name, link string) (string, error) {
	return render(resetTmpl, struct{ Name, Link string }{name, link})
}

func render(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
