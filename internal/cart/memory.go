package cart

import (
	"context"
	"sync"

	"github.com/adili-jewels/storefront/internal/domain"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]domain.Cart)}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	return &cart, nil
}

func (s *MemoryStore) Save(_ context.Context, cart *domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *cart
	stored.Items = append([]domain.CartItem(nil), cart.Items...)
	s.carts[cart.SessionID] = stored
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, sessionID)
	return nil
}
