// Package cart holds the session cart aggregate and its durable stores.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/adili-jewels/storefront/internal/domain"
)

// Service mutates session carts. Each mutation loads the current cart,
// applies the change, and writes the whole cart back, so the last writer
// wins across tabs.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns the session cart, empty if none has been saved yet.
func (s *Service) Get(ctx context.Context, sessionID string) (*domain.Cart, error) {
	cart, err := s.store.Load(ctx, sessionID)
	if err == ErrNotFound {
		return &domain.Cart{SessionID: sessionID}, nil
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// Add appends a line item, or increments the quantity of an existing line
// with the same product and variant. The quantity must be positive; the
// HTTP layer rejects anything else before it gets here.
func (s *Service) Add(ctx context.Context, sessionID string, item domain.CartItem) (*domain.Cart, error) {
	if item.Quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1, got %d", item.Quantity)
	}

	cart, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	merged := false
	for i := range cart.Items {
		if cart.Items[i].Key() == item.Key() {
			cart.Items[i].Quantity += item.Quantity
			merged = true
			break
		}
	}
	if !merged {
		cart.Items = append(cart.Items, item)
	}

	return cart, s.persist(ctx, cart)
}

// Remove drops the matching line item; removing an absent line is a no-op.
func (s *Service) Remove(ctx context.Context, sessionID, productID, variant string) (*domain.Cart, error) {
	cart, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	key := productID + "|" + variant
	kept := cart.Items[:0]
	for _, item := range cart.Items {
		if item.Key() != key {
			kept = append(kept, item)
		}
	}
	cart.Items = kept

	return cart, s.persist(ctx, cart)
}

// SetQuantity replaces a line's quantity; zero or negative removes the line.
func (s *Service) SetQuantity(ctx context.Context, sessionID, productID, variant string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return s.Remove(ctx, sessionID, productID, variant)
	}

	cart, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	key := productID + "|" + variant
	for i := range cart.Items {
		if cart.Items[i].Key() == key {
			cart.Items[i].Quantity = quantity
			break
		}
	}

	return cart, s.persist(ctx, cart)
}

// Clear destroys the session cart, as happens after a successful order.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, sessionID)
}

func (s *Service) persist(ctx context.Context, cart *domain.Cart) error {
	cart.UpdatedAt = time.Now().UTC()
	if err := s.store.Save(ctx, cart); err != nil {
		return fmt.Errorf("persist cart: %w", err)
	}
	return nil
}
