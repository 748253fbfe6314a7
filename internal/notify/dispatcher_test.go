package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adili-jewels/storefront/internal/domain"
)

type captureSender struct {
	mu    sync.Mutex
	sent  []capturedEmail
	fails bool
}

type capturedEmail struct {
	to, subject, body string
}

func (s *captureSender) Send(_ context.Context, to, subject, body string) error {
	if s.fails {
		return errors.New("smtp unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, capturedEmail{to, subject, body})
	return nil
}

func testDispatcher(sender Sender) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDispatcher(sender, "orders@adilijewels.co.ke", "Adili Jewels", logger)
}

func TestOrderPlacedNotifications(t *testing.T) {
	sender := &captureSender{}
	d := testDispatcher(sender)

	d.OrderPlaced(context.Background(), OrderPlaced{
		OrderID:       "order-1",
		CustomerName:  "Wanjiru Kamau",
		CustomerEmail: "wanjiru@example.com",
		City:          "Nairobi",
		Items: []domain.OrderItem{
			{ProductID: "ring-01", Name: "Signet Ring", Price: 900, Quantity: 2},
		},
		Total:         1800,
		ShippingFee:   300,
		PaymentMethod: domain.PaymentMethodMpesa,
	})

	require.Len(t, sender.sent, 2)

	customer := sender.sent[0]
	assert.Equal(t, "wanjiru@example.com", customer.to)
	assert.Contains(t, customer.subject, "order-1")
	assert.Contains(t, customer.body, "2 x Signet Ring")
	assert.Contains(t, customer.body, "Items total: 1800")
	assert.Contains(t, customer.body, "Amount due: 2100")

	admin := sender.sent[1]
	assert.Equal(t, "orders@adilijewels.co.ke", admin.to)
	assert.Contains(t, admin.body, "Wanjiru Kamau")
	assert.Contains(t, admin.body, "mpesa")
}

func TestContactMessageNotifications(t *testing.T) {
	sender := &captureSender{}
	d := testDispatcher(sender)

	d.ContactMessage(context.Background(), ContactMessage{
		Name:    "Otieno",
		Email:   "otieno@example.com",
		Message: "Do you resize rings?",
	})

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "otieno@example.com", sender.sent[0].to)
	assert.Equal(t, "orders@adilijewels.co.ke", sender.sent[1].to)
	assert.Contains(t, sender.sent[1].body, "Do you resize rings?")
}

func TestNewsletterNotification(t *testing.T) {
	sender := &captureSender{}
	d := testDispatcher(sender)

	d.NewsletterSubscribed(context.Background(), "new@example.com")

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "new@example.com", sender.sent[0].to)
	assert.True(t, strings.Contains(sender.sent[0].body, "Adili Jewels"))
}

func TestSendFailureIsSwallowed(t *testing.T) {
	sender := &captureSender{fails: true}
	d := testDispatcher(sender)

	// must not panic or propagate anything
	d.OrderPlaced(context.Background(), OrderPlaced{
		OrderID:       "order-1",
		CustomerEmail: "wanjiru@example.com",
	})
	d.NewsletterSubscribed(context.Background(), "new@example.com")

	assert.Empty(t, sender.sent)
}

func TestMissingRecipientIsSkipped(t *testing.T) {
	sender := &captureSender{}
	d := testDispatcher(sender)

	d.NewsletterSubscribed(context.Background(), "   ")
	assert.Empty(t, sender.sent)
}
