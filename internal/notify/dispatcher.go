// Package notify renders and sends transactional email. Every send is
// best-effort: a failure is logged and dropped, never surfaced to the
// business operation that triggered it.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/adili-jewels/storefront/internal/domain"
)

var orderCustomerTmpl = template.Must(template.New("order-customer").Parse(
	`Hello {{.CustomerName}},

Thank you for shopping with {{.ShopName}}. Your order {{.OrderID}} has been received.

{{range .Items}}  {{.Quantity}} x {{.Name}}{{if .Variant}} ({{.Variant}}){{end}} — {{.Price}} each
{{end}}
Items total: {{.Total}}
Delivery to {{.City}}: {{.ShippingFee}}
Amount due: {{.GrandTotal}}

We will notify you when your order ships.
`))

var orderAdminTmpl = template.Must(template.New("order-admin").Parse(
	`New order {{.OrderID}} from {{.CustomerName}} <{{.CustomerEmail}}>.

{{.ItemCount}} item(s), total {{.Total}}, paying by {{.PaymentMethod}}, delivering to {{.City}}.
`))

var contactAckTmpl = template.Must(template.New("contact-ack").Parse(
	`Hello {{.Name}},

We received your message and will get back to you shortly.

— {{.ShopName}}
`))

var contactAdminTmpl = template.Must(template.New("contact-admin").Parse(
	`Message from {{.Name}} <{{.Email}}>:

{{.Message}}
`))

var newsletterTmpl = template.Must(template.New("newsletter").Parse(
	`Welcome to the {{.ShopName}} newsletter. You will hear from us when new pieces arrive.
`))

// OrderPlaced carries everything the order emails need; it is a snapshot,
// not a live reference to the order row.
type OrderPlaced struct {
	OrderID       string
	CustomerName  string
	CustomerEmail string
	City          string
	Items         []domain.OrderItem
	Total         int64
	ShippingFee   int64
	PaymentMethod domain.PaymentMethod
}

type ContactMessage struct {
	Name    string
	Email   string
	Message string
}

type Dispatcher struct {
	sender     Sender
	adminEmail string
	shopName   string
	logger     *slog.Logger
}

// Sender hands a rendered message to the email collaborator.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

func NewDispatcher(sender Sender, adminEmail, shopName string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:     sender,
		adminEmail: adminEmail,
		shopName:   shopName,
		logger:     logger,
	}
}

// OrderPlaced sends the customer confirmation and the back-office alert.
// Neither failure propagates; the order is already committed.
func (d *Dispatcher) OrderPlaced(ctx context.Context, event OrderPlaced) {
	customerData := struct {
		OrderPlaced
		ShopName   string
		GrandTotal int64
		ItemCount  int
	}{event, d.shopName, event.Total + event.ShippingFee, countItems(event.Items)}

	d.deliver(ctx, event.CustomerEmail,
		fmt.Sprintf("Order confirmation %s", event.OrderID),
		orderCustomerTmpl, customerData)
	d.deliver(ctx, d.adminEmail,
		fmt.Sprintf("New order %s", event.OrderID),
		orderAdminTmpl, customerData)
}

// ContactMessage acknowledges the sender and forwards the message to the
// back-office.
func (d *Dispatcher) ContactMessage(ctx context.Context, msg ContactMessage) {
	data := struct {
		ContactMessage
		ShopName string
	}{msg, d.shopName}

	d.deliver(ctx, msg.Email, "We received your message", contactAckTmpl, data)
	d.deliver(ctx, d.adminEmail, "New contact message from "+msg.Name, contactAdminTmpl, data)
}

// NewsletterSubscribed welcomes a new subscriber.
func (d *Dispatcher) NewsletterSubscribed(ctx context.Context, email string) {
	data := struct{ ShopName string }{d.shopName}
	d.deliver(ctx, email, "Welcome to "+d.shopName, newsletterTmpl, data)
}

func (d *Dispatcher) deliver(ctx context.Context, to, subject string, tmpl *template.Template, data any) {
	if strings.TrimSpace(to) == "" {
		d.logger.Warn("skipping notification with no recipient", "subject", subject)
		return
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		d.logger.Error("failed to render notification", "error", err, "template", tmpl.Name())
		return
	}

	if err := d.sender.Send(ctx, to, subject, body.String()); err != nil {
		d.logger.Error("failed to send notification", "error", err, "to", to, "subject", subject)
	}
}

func countItems(items []domain.OrderItem) int {
	var n int
	for _, item := range items {
		n += item.Quantity
	}
	return n
}
