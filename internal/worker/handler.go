// Package worker consumes order.placed events and raises the back-office
// alert. Customer-facing mail is sent inline by the storefront; this path
// only has to keep the fulfillment team informed.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/adili-jewels/storefront/internal/domain"
)

type AlertHandler struct {
	emailServiceURL string
	alertEmail      string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewAlertHandler(emailServiceURL, alertEmail string, client *http.Client, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{
		emailServiceURL: emailServiceURL,
		alertEmail:      alertEmail,
		httpClient:      client,
		logger:          logger,
	}
}

// Handle turns one order.placed event into a fulfillment alert. A payload
// that does not decode is dropped: redelivering it would fail the same way
// forever.
func (h *AlertHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("dropping undecodable event", "error", err)
		return nil
	}

	h.logger.Info("processing order placed event", "order_id", event.OrderID)

	body := map[string]string{
		"to":      h.alertEmail,
		"subject": "Fulfillment needed: order " + event.OrderID,
		"body": fmt.Sprintf("Order %s from %s <%s>: %d item(s), total %d, paid by %s.",
			event.OrderID, event.CustomerName, event.CustomerEmail,
			event.ItemCount, event.Total, event.PaymentMethod),
	}

	if err := h.sendEmail(ctx, body); err != nil {
		h.logger.Error("failed to send fulfillment alert", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send fulfillment alert: %w", err)
	}

	h.logger.Info("fulfillment alert sent", "order_id", event.OrderID)
	return nil
}

func (h *AlertHandler) sendEmail(ctx context.Context, body map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
