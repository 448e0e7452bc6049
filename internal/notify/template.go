package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"fulfillment-service/internal/models"
)

var confirmationTmpl = template.Must(template.New("confirmation").Funcs(template.FuncMap{
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
}).Parse(`Hi {{if .Order.CustomerName}}{{.Order.CustomerName}}{{else}}there{{end}},

Thank you for your order #{{.Order.ID}}. We have received it and will let you know when it ships.

{{range .Items}}- {{.Name}} x{{.Quantity}} @ {{.Price.StringFixed 2}} = {{.LineTotal.StringFixed 2}}
{{end}}
Subtotal: {{.Order.Subtotal.StringFixed 2}}
{{- if .Order.Discount.IsPositive}}
Discount: -{{.Order.Discount.StringFixed 2}}{{if .Order.VoucherCode}} ({{deref .Order.VoucherCode}}){{end}}
{{- end}}
Tax: {{.Order.Tax.StringFixed 2}}
Shipping: {{.Order.Shipping.StringFixed 2}}
Total: {{.Order.Total.StringFixed 2}}
{{if .Order.ShippingAddress}}
Shipping to: {{.Order.ShippingAddress.String}}
{{end}}
Status: {{.Order.Status}}
`))

type confirmationData struct {
	Order *models.Order
	Items []models.OrderItem
}

// RenderConfirmation builds the confirmation email for an order
func RenderConfirmation(order *models.Order, items []models.OrderItem) (Message, error) {
	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, confirmationData{Order: order, Items: items}); err != nil {
		return Message{}, fmt.Errorf("render confirmation: %w", err)
	}

	return Message{
		ToEmail: order.CustomerEmail,
		ToName:  order.CustomerName,
		Subject: fmt.Sprintf("Order #%d confirmation", order.ID),
		Text:    buf.String(),
	}, nil
}
