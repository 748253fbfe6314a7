package domain

import "time"

// Address is a saved delivery address. At most one address per user may
// hold IsDefault; the repository upsert enforces that in one transaction.
type Address struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Street     string    `json:"street"`
	City       string    `json:"city"`
	PostalCode string    `json:"postal_code,omitempty"`
	IsDefault  bool      `json:"is_default"`
	UpdatedAt  time.Time `json:"updated_at"`
}
