// Package catalog reads the product table. The checkout flow never writes
// here; product CRUD belongs to the back-office.
package catalog

import (
	"context"
	"database/sql"

	"github.com/adili-jewels/storefront/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	product := &domain.Product{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, price, discount_percentage, in_stock, featured, category, image
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Price, &product.DiscountPercentage,
		&product.InStock, &product.Featured, &product.Category, &product.Image)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return product, nil
}

func (r *Repository) GetFeatured(ctx context.Context) ([]domain.Product, error) {
	return r.query(ctx, `
		SELECT id, name, price, discount_percentage, in_stock, featured, category, image
		FROM products
		WHERE featured
		ORDER BY name
	`)
}

func (r *Repository) GetByCategory(ctx context.Context, category string) ([]domain.Product, error) {
	return r.query(ctx, `
		SELECT id, name, price, discount_percentage, in_stock, featured, category, image
		FROM products
		WHERE category = $1
		ORDER BY name
	`, category)
}

func (r *Repository) List(ctx context.Context) ([]domain.Product, error) {
	return r.query(ctx, `
		SELECT id, name, price, discount_percentage, in_stock, featured, category, image
		FROM products
		ORDER BY name
	`)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.DiscountPercentage,
			&p.InStock, &p.Featured, &p.Category, &p.Image); err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}
