package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/adili-jewels/storefront/internal/domain"
	"github.com/adili-jewels/storefront/internal/orders"
	"github.com/adili-jewels/storefront/internal/payments"
)

// memOrders backs both the checkout service and the back-office views in
// handler tests.
type memOrders struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func newMemOrders() *memOrders {
	return &memOrders{orders: make(map[string]*domain.Order)}
}

func (s *memOrders) Create(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order.ID = uuid.New().String()
	stored := *order
	stored.Items = append([]domain.OrderItem(nil), order.Items...)
	s.orders[order.ID] = &stored
	return nil
}

func (s *memOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	snapshot := *order
	return &snapshot, nil
}

func (s *memOrders) AdvanceStatus(_ context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	if !domain.CanAdvance(from, to) {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	return true, nil
}

func (s *memOrders) SetPaymentIntent(_ context.Context, id, intentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok || order.PaymentIntentID != "" {
		return false, nil
	}
	order.PaymentIntentID = intentID
	return true, nil
}

func (s *memOrders) List(_ context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		result = append(result, *order)
	}
	return result, nil
}

func (s *memOrders) UpdateStatus(_ context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	if order.Status == to {
		snapshot := *order
		return &snapshot, nil
	}
	if !domain.CanAdvance(order.Status, to) {
		return nil, orders.ErrIllegalStatusChange
	}
	order.Status = to
	snapshot := *order
	return &snapshot, nil
}

func (s *memOrders) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type memAddresses struct{}

func (memAddresses) UpsertDefault(context.Context, *domain.Address) error { return nil }

type stubCatalog struct {
	products []domain.Product
}

func (s *stubCatalog) List(context.Context) ([]domain.Product, error) {
	return s.products, nil
}

func (s *stubCatalog) GetFeatured(context.Context) ([]domain.Product, error) {
	var featured []domain.Product
	for _, p := range s.products {
		if p.Featured {
			featured = append(featured, p)
		}
	}
	return featured, nil
}

func (s *stubCatalog) GetByCategory(_ context.Context, category string) ([]domain.Product, error) {
	var matched []domain.Product
	for _, p := range s.products {
		if p.Category == category {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func (s *stubCatalog) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	for _, p := range s.products {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, nil
}

type captureSender struct {
	mu    sync.Mutex
	sends []sentMail
}

type sentMail struct {
	to      string
	subject string
	body    string
}

func (s *captureSender) Send(_ context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

type stubIntents struct {
	mu      sync.Mutex
	created int
}

func (s *stubIntents) CreateIntent(_ context.Context, _ int64, _ string) (*payments.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	return &payments.Intent{
		ID:           fmt.Sprintf("pi_%d", s.created),
		ClientSecret: fmt.Sprintf("pi_%d_secret", s.created),
	}, nil
}

type stubWebhookParser struct {
	mu        sync.Mutex
	eventType string
	orderID   string
	err       error
}

func (p *stubWebhookParser) ParseWebhook(_ []byte, _ string) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eventType, p.orderID, p.err
}
