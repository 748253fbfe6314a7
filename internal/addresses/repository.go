// Package addresses stores each identified customer's saved delivery
// addresses, with at most one default per user.
package addresses

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/adili-jewels/storefront/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertDefault makes addr the user's default address. Clearing the old
// default and writing the new one happen in one transaction, so exactly
// one row per user ever holds is_default.
func (r *Repository) UpsertDefault(ctx context.Context, addr *domain.Address) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE addresses SET is_default = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND is_default
	`, addr.UserID)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE addresses
		SET is_default = TRUE, postal_code = $4, updated_at = NOW()
		WHERE user_id = $1 AND street = $2 AND city = $3
	`, addr.UserID, addr.Street, addr.City, addr.PostalCode)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		addr.ID = uuid.New().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO addresses (id, user_id, street, city, postal_code, is_default, updated_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, NOW())
		`, addr.ID, addr.UserID, addr.Street, addr.City, addr.PostalCode)
		if err != nil {
			return err
		}
	}

	addr.IsDefault = true
	return tx.Commit()
}

// GetDefault returns the user's default address, or nil if none is saved.
func (r *Repository) GetDefault(ctx context.Context, userID string) (*domain.Address, error) {
	addr := &domain.Address{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, street, city, postal_code, is_default, updated_at
		FROM addresses
		WHERE user_id = $1 AND is_default
	`, userID).Scan(&addr.ID, &addr.UserID, &addr.Street, &addr.City,
		&addr.PostalCode, &addr.IsDefault, &addr.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return addr, nil
}
