package checkout

import (
	"context"

	"github.com/adili-jewels/storefront/internal/domain"
	"github.com/adili-jewels/storefront/internal/shipping"
)

type CardIntentRequest struct {
	// OrderID references an already-created pending order. When empty,
	// the order is created first from the checkout fields below, since an
	// intent must be bound to an order id.
	OrderID string
	Order   PlaceOrderRequest
}

type CardIntentResult struct {
	OrderID      string `json:"order_id"`
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
}

// CreateCardIntent returns the client secret the provider's client library
// confirms out of band. The charged amount is the stored total plus the
// resolved delivery fee. At most one intent may be pending per order.
func (s *Service) CreateCardIntent(ctx context.Context, req CardIntentRequest) (*CardIntentResult, error) {
	orderID := req.OrderID
	if orderID == "" {
		req.Order.PaymentMethod = domain.PaymentMethodCard
		req.Order.PaymentConfirmed = false
		placed, err := s.PlaceOrder(ctx, req.Order)
		if err != nil {
			return nil, err
		}
		orderID = placed.OrderID
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.PaymentIntentID != "" {
		return nil, ErrIntentPending
	}

	amount := order.Total
	if fee, err := shipping.Resolve(order.City); err == nil {
		amount += fee
	}

	intent, err := s.intents.CreateIntent(ctx, amount, order.ID)
	if err != nil {
		s.logger.Error("failed to create payment intent", "error", err, "order_id", order.ID)
		return nil, err
	}

	bound, err := s.orders.SetPaymentIntent(ctx, order.ID, intent.ID)
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}
	if !bound {
		// a concurrent request won the race; its intent stands
		return nil, ErrIntentPending
	}

	s.logger.Info("payment intent created", "order_id", order.ID, "intent_id", intent.ID, "amount", amount)

	return &CardIntentResult{
		OrderID:      order.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}
