// Package checkout orchestrates the path from a populated cart to a
// durably recorded, paid order. It is the only writer of order rows; the
// webhook reconciler in webhook.go is its only other entry point.
package checkout

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/adili-jewels/storefront/internal/domain"
	"github.com/adili-jewels/storefront/internal/notify"
	"github.com/adili-jewels/storefront/internal/payments"
	"github.com/adili-jewels/storefront/internal/shipping"
)

type CartReader interface {
	Get(ctx context.Context, sessionID string) (*domain.Cart, error)
	Clear(ctx context.Context, sessionID string) error
}

type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	AdvanceStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error)
	SetPaymentIntent(ctx context.Context, id, intentID string) (bool, error)
}

type AddressStore interface {
	UpsertDefault(ctx context.Context, addr *domain.Address) error
}

type Notifier interface {
	OrderPlaced(ctx context.Context, event notify.OrderPlaced)
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type IntentCreator interface {
	CreateIntent(ctx context.Context, amount int64, orderID string) (*payments.Intent, error)
}

type WebhookParser interface {
	ParseWebhook(payload []byte, sigHeader string) (eventType, orderID string, err error)
}

type Service struct {
	carts     CartReader
	orders    OrderStore
	addresses AddressStore
	notifier  Notifier
	publisher EventPublisher
	intents   IntentCreator
	webhooks  WebhookParser
	logger    *slog.Logger

	ordersPlaced metric.Int64Counter
}

func NewService(
	carts CartReader,
	orders OrderStore,
	addresses AddressStore,
	notifier Notifier,
	publisher EventPublisher,
	intents IntentCreator,
	webhooks WebhookParser,
	logger *slog.Logger,
) *Service {
	meter := otel.Meter("checkout")
	ordersPlaced, err := meter.Int64Counter("orders_placed_total",
		metric.WithDescription("Orders durably recorded, by payment method"))
	if err != nil {
		logger.Warn("failed to create orders counter", "error", err)
	}

	return &Service{
		carts:        carts,
		orders:       orders,
		addresses:    addresses,
		notifier:     notifier,
		publisher:    publisher,
		intents:      intents,
		webhooks:     webhooks,
		logger:       logger,
		ordersPlaced: ordersPlaced,
	}
}

type PlaceOrderRequest struct {
	SessionID     string
	UserID        string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Street        string
	City          string
	PostalCode    string
	PaymentMethod domain.PaymentMethod

	// PaymentConfirmed is set on the mpesa rail once the push adapter
	// reports a terminal success; it advances the order to processing in
	// the same call. The card rail leaves it false and relies on the
	// webhook.
	PaymentConfirmed bool
}

type PlaceOrderResult struct {
	OrderID     string             `json:"order_id"`
	Status      domain.OrderStatus `json:"status"`
	Total       int64              `json:"total"`
	ShippingFee int64              `json:"shipping_fee"`
	GrandTotal  int64              `json:"grand_total"`
}

// PlaceOrder validates readiness, freezes the cart into a denormalized
// order, writes it, and then runs the post-commit side tasks. Only the
// validation and the insert can fail the call; everything after the
// commit is best-effort.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	cart, err := s.carts.Get(ctx, req.SessionID)
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}

	fee, err := s.validate(req, cart)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Street:        strings.TrimSpace(req.Street),
		City:          strings.TrimSpace(req.City),
		PostalCode:    strings.TrimSpace(req.PostalCode),
		Items:         snapshotItems(cart),
		PaymentMethod: req.PaymentMethod,
		Status:        domain.OrderStatusPending,
		UserID:        req.UserID,
		CreatedAt:     time.Now().UTC(),
	}
	for _, item := range order.Items {
		order.Total += item.Price * int64(item.Quantity)
	}

	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.Error("failed to insert order", "error", err)
		return nil, &PersistenceError{Err: err}
	}

	status := domain.OrderStatusPending
	if req.PaymentMethod == domain.PaymentMethodMpesa && req.PaymentConfirmed {
		moved, err := s.orders.AdvanceStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusProcessing)
		if err != nil {
			s.logger.Error("failed to advance paid order", "error", err, "order_id", order.ID)
		} else if moved {
			status = domain.OrderStatusProcessing
		}
	}

	if s.ordersPlaced != nil {
		s.ordersPlaced.Add(ctx, 1, metric.WithAttributes(
			attribute.String("payment_method", string(req.PaymentMethod))))
	}

	s.runPostCommit(ctx, order, req.SessionID, fee)

	s.logger.Info("order placed", "order_id", order.ID, "status", status,
		"total", order.Total, "payment_method", order.PaymentMethod)

	return &PlaceOrderResult{
		OrderID:     order.ID,
		Status:      status,
		Total:       order.Total,
		ShippingFee: fee,
		GrandTotal:  order.Total + fee,
	}, nil
}

// Precheck runs placement validation without writing anything. The push
// payment flow calls it before charging, so a checkout that could never be
// recorded is rejected before money moves. It returns the cart total and
// the resolved delivery fee.
func (s *Service) Precheck(ctx context.Context, req PlaceOrderRequest) (total, fee int64, err error) {
	cart, err := s.carts.Get(ctx, req.SessionID)
	if err != nil {
		return 0, 0, &PersistenceError{Err: err}
	}

	fee, err = s.validate(req, cart)
	if err != nil {
		return 0, 0, err
	}

	return cart.Total(), fee, nil
}

func (s *Service) validate(req PlaceOrderRequest, cart *domain.Cart) (int64, error) {
	if len(cart.Items) == 0 {
		return 0, &ValidationError{Field: "cart", Message: "cart is empty"}
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		return 0, &ValidationError{Field: "name", Message: "name is required"}
	}
	if strings.TrimSpace(req.CustomerEmail) == "" {
		return 0, &ValidationError{Field: "email", Message: "email is required"}
	}
	if strings.TrimSpace(req.CustomerPhone) == "" {
		return 0, &ValidationError{Field: "phone", Message: "phone is required"}
	}
	if strings.TrimSpace(req.Street) == "" {
		return 0, &ValidationError{Field: "street", Message: "delivery address is required"}
	}
	if strings.TrimSpace(req.City) == "" {
		return 0, &ValidationError{Field: "city", Message: "delivery city is required"}
	}
	if req.PaymentMethod != domain.PaymentMethodMpesa && req.PaymentMethod != domain.PaymentMethodCard {
		return 0, &ValidationError{Field: "payment_method", Message: "unsupported payment method"}
	}

	fee, err := shipping.Resolve(req.City)
	if err != nil {
		return 0, &ValidationError{Field: "city", Message: "select a deliverable city"}
	}

	return fee, nil
}

// snapshotItems freezes the cart lines, with the discount already applied
// to the stored unit price. Later catalog changes never touch the order.
func snapshotItems(cart *domain.Cart) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		image := line.Image
		if line.VariantImage != "" {
			image = line.VariantImage
		}
		items = append(items, domain.OrderItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Price:     line.DiscountedUnitPrice(),
			Quantity:  line.Quantity,
			Image:     image,
			Variant:   line.Variant,
		})
	}
	return items
}

// runPostCommit dispatches the independent side tasks that follow a
// committed order. Each is wrapped so its failure is logged and cannot
// unwind the order.
func (s *Service) runPostCommit(ctx context.Context, order *domain.Order, sessionID string, fee int64) {
	if order.UserID != "" {
		s.runTask("address upsert", order.ID, func() error {
			return s.addresses.UpsertDefault(ctx, &domain.Address{
				UserID:     order.UserID,
				Street:     order.Street,
				City:       order.City,
				PostalCode: order.PostalCode,
			})
		})
	}

	s.notifier.OrderPlaced(ctx, notify.OrderPlaced{
		OrderID:       order.ID,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		City:          order.City,
		Items:         order.Items,
		Total:         order.Total,
		ShippingFee:   fee,
		PaymentMethod: order.PaymentMethod,
	})

	if s.publisher != nil {
		s.runTask("event publish", order.ID, func() error {
			return s.publisher.Publish(ctx, order.ID, domain.OrderPlacedEvent{
				OrderID:       order.ID,
				CustomerName:  order.CustomerName,
				CustomerEmail: order.CustomerEmail,
				Total:         order.Total,
				ItemCount:     len(order.Items),
				PaymentMethod: order.PaymentMethod,
				Timestamp:     order.CreatedAt,
			})
		})
	}

	s.runTask("cart clear", order.ID, func() error {
		return s.carts.Clear(ctx, sessionID)
	})
}

func (s *Service) runTask(name, orderID string, task func() error) {
	if err := task(); err != nil {
		s.logger.Error("post-commit task failed", "task", name, "error", err, "order_id", orderID)
	}
}
