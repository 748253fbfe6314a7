package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/adili-jewels/storefront/internal/domain"
	"github.com/adili-jewels/storefront/internal/notify"
	"github.com/adili-jewels/storefront/internal/payments"
)

type memOrderStore struct {
	mu         sync.Mutex
	orders     map[string]*domain.Order
	failCreate bool
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[string]*domain.Order)}
}

func (s *memOrderStore) Create(_ context.Context, order *domain.Order) error {
	if s.failCreate {
		return errors.New("connection refused")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order.ID = uuid.New().String()
	stored := *order
	stored.Items = append([]domain.OrderItem(nil), order.Items...)
	s.orders[order.ID] = &stored
	return nil
}

func (s *memOrderStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	snapshot := *order
	snapshot.Items = append([]domain.OrderItem(nil), order.Items...)
	return &snapshot, nil
}

func (s *memOrderStore) AdvanceStatus(_ context.Context, id string, from, to domain.OrderStatus) (bool, error) {
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

func (s *memOrderStore) SetPaymentIntent(_ context.Context, id, intentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok || order.PaymentIntentID != "" {
		return false, nil
	}
	order.PaymentIntentID = intentID
	return true, nil
}

type memAddressStore struct {
	mu      sync.Mutex
	rows    []*domain.Address
	upserts int
	fail    bool
}

func (s *memAddressStore) UpsertDefault(_ context.Context, addr *domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upserts++
	if s.fail {
		return errors.New("addresses table unavailable")
	}

	for _, row := range s.rows {
		if row.UserID == addr.UserID {
			row.IsDefault = false
		}
	}
	for _, row := range s.rows {
		if row.UserID == addr.UserID && row.Street == addr.Street && row.City == addr.City {
			row.IsDefault = true
			row.PostalCode = addr.PostalCode
			return nil
		}
	}

	stored := *addr
	stored.ID = uuid.New().String()
	stored.IsDefault = true
	s.rows = append(s.rows, &stored)
	return nil
}

func (s *memAddressStore) defaults(userID string) []*domain.Address {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.Address
	for _, row := range s.rows {
		if row.UserID == userID && row.IsDefault {
			result = append(result, row)
		}
	}
	return result
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.OrderPlaced
}

func (n *captureNotifier) OrderPlaced(_ context.Context, event notify.OrderPlaced) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []any
	fail   bool
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unreachable")
	}
	p.events = append(p.events, event)
	return nil
}

type stubIntents struct {
	mu      sync.Mutex
	created int
	amounts []int64
	fail    bool
}

func (s *stubIntents) CreateIntent(_ context.Context, amount int64, orderID string) (*payments.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("provider rejected the request")
	}
	s.created++
	s.amounts = append(s.amounts, amount)
	return &payments.Intent{
		ID:           fmt.Sprintf("pi_%d", s.created),
		ClientSecret: fmt.Sprintf("pi_%d_secret", s.created),
	}, nil
}

type stubWebhookParser struct {
	eventType string
	orderID   string
	err       error
}

func (p *stubWebhookParser) ParseWebhook(_ []byte, _ string) (string, string, error) {
	return p.eventType, p.orderID, p.err
}
