// Package orders persists the order records created by checkout. It is
// written to by exactly two paths: the synchronous placement flow and the
// webhook reconciler, both of which only move status forward.
package orders

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/adili-jewels/storefront/internal/domain"
)

// ErrIllegalStatusChange rejects a back-office move the status lattice
// forbids, such as reopening a delivered order.
var ErrIllegalStatusChange = errors.New("illegal order status change")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts the order and its line-item snapshot in one transaction
// and assigns the server-generated id.
func (r *Repository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_name, customer_email, customer_phone,
			street, city, postal_code, total, payment_method, status, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12)
	`, order.ID, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		order.Street, order.City, order.PostalCode, order.Total,
		order.PaymentMethod, order.Status, order.UserID, order.CreatedAt)
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, name, price, quantity, image, variant)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.New().String(), order.ID, item.ProductID, item.Name, item.Price,
			item.Quantity, item.Image, item.Variant)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order := &domain.Order{}
	var userID, intentID sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, customer_name, customer_email, customer_phone, street, city,
			postal_code, total, payment_method, payment_intent_id, status, user_id, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.CustomerName, &order.CustomerEmail, &order.CustomerPhone,
		&order.Street, &order.City, &order.PostalCode, &order.Total,
		&order.PaymentMethod, &intentID, &order.Status, &userID, &order.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	order.UserID = userID.String
	order.PaymentIntentID = intentID.String

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, price, quantity, image, variant
		FROM order_items
		WHERE order_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Price,
			&item.Quantity, &item.Image, &item.Variant); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

// AdvanceStatus moves an order from one status to the next with a
// compare-and-set, so a replayed webhook or a racing writer cannot
// downgrade it. It reports whether the row actually moved.
func (r *Repository) AdvanceStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	if !domain.CanAdvance(from, to) {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// SetPaymentIntent records the intent bound to an order, but only once;
// a second intent for the same order reports false.
func (r *Repository) SetPaymentIntent(ctx context.Context, id, intentID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET payment_intent_id = $1, updated_at = NOW()
		WHERE id = $2 AND payment_intent_id IS NULL
	`, intentID, id)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// UpdateStatus is the back-office override. It still respects the lattice:
// forward moves and cancellation only. It returns the updated order, or
// nil when the order does not exist.
func (r *Repository) UpdateStatus(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	order, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, nil
	}
	if order.Status == to {
		return order, nil
	}
	if !domain.CanAdvance(order.Status, to) {
		return nil, ErrIllegalStatusChange
	}

	moved, err := r.AdvanceStatus(ctx, id, order.Status, to)
	if err != nil {
		return nil, err
	}
	if !moved {
		// a concurrent writer changed the row; report what is there now
		return r.GetByID(ctx, id)
	}

	order.Status = to
	return order, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, customer_name, customer_email, customer_phone, street, city,
			postal_code, total, payment_method, payment_intent_id, status, user_id, created_at
		FROM orders
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		var userID, intentID sql.NullString
		if err := rows.Scan(&order.ID, &order.CustomerName, &order.CustomerEmail,
			&order.CustomerPhone, &order.Street, &order.City, &order.PostalCode,
			&order.Total, &order.PaymentMethod, &intentID, &order.Status,
			&userID, &order.CreatedAt); err != nil {
			return nil, err
		}
		order.UserID = userID.String
		order.PaymentIntentID = intentID.String
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, price, quantity, image, variant
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Name, &item.Price,
			&item.Quantity, &item.Image, &item.Variant); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}
