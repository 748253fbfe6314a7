package cart

import (
	"context"
	"errors"

	"github.com/adili-jewels/storefront/internal/domain"
)

// ErrNotFound means no cart has been saved for the session yet.
var ErrNotFound = errors.New("cart not found")

// Store is the durable session storage behind the cart aggregate. The
// cart is written back after every mutation; concurrent writers are
// last-write-wins.
type Store interface {
	Load(ctx context.Context, sessionID string) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, sessionID string) error
}
