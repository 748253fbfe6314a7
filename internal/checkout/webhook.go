package checkout

import (
	"context"

	"github.com/adili-jewels/storefront/internal/domain"
)

// HandleWebhook reconciles a provider-signed payment event with the order
// it is bound to. A bad signature is the only error returned; everything
// after verification is answered 200 so the provider does not retry-storm,
// with mismatches logged instead.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	eventType, orderID, err := s.webhooks.ParseWebhook(payload, sigHeader)
	if err != nil {
		return err
	}

	if eventType != "payment_intent.succeeded" {
		s.logger.Info("ignoring webhook event", "type", eventType)
		return nil
	}
	if orderID == "" {
		s.logger.Warn("payment event carries no order id")
		return nil
	}

	moved, err := s.orders.AdvanceStatus(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusProcessing)
	if err != nil {
		s.logger.Error("failed to reconcile paid order", "error", err, "order_id", orderID)
		return nil
	}

	if !moved {
		// redelivery, or an order id we never issued
		s.logger.Warn("payment event did not advance order", "order_id", orderID)
		return nil
	}

	s.logger.Info("order confirmed by payment webhook", "order_id", orderID)
	return nil
}
