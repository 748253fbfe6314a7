package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrBadSignature means a webhook payload failed signature verification
// and must be rejected without any state change.
var ErrBadSignature = errors.New("invalid webhook signature")

// Intent is the provider-side object the card flow hands to the client.
// The client secret is confirmed by the provider's own client library;
// raw card data never reaches this service.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

type CardGateway struct {
	webhookSecret string
	currency      string
}

func NewCardGateway(apiKey, webhookSecret, currency string) *CardGateway {
	stripe.Key = apiKey
	return &CardGateway{webhookSecret: webhookSecret, currency: currency}
}

// CreateIntent registers an authorized-but-unconfirmed charge bound to an
// order id through metadata, so the client cannot tamper with the amount
// or attach the confirmation to a different order.
func (g *CardGateway) CreateIntent(ctx context.Context, amount int64, orderID string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(g.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("order_id", orderID)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// ParseWebhook verifies a provider event against the endpoint secret and,
// for payment_intent.succeeded, extracts the bound order id. Other event
// types verify fine but return an empty order id.
func (g *CardGateway) ParseWebhook(payload []byte, sigHeader string) (eventType string, orderID string, err error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	if event.Type != "payment_intent.succeeded" {
		return string(event.Type), "", nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return string(event.Type), "", fmt.Errorf("decode payment intent: %w", err)
	}

	return string(event.Type), pi.Metadata["order_id"], nil
}
