package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusProcessing: 1,
	OrderStatusShipped:    2,
	OrderStatusDelivered:  3,
}

// CanAdvance reports whether an order may move from one status to another.
// Statuses only move forward; cancelled is reachable from any non-terminal
// status and is itself terminal.
func CanAdvance(from, to OrderStatus) bool {
	if from == OrderStatusCancelled || from == OrderStatusDelivered {
		return false
	}
	if to == OrderStatusCancelled {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

type PaymentMethod string

const (
	PaymentMethodMpesa PaymentMethod = "mpesa"
	PaymentMethodCard  PaymentMethod = "card"
)

// OrderItem is a denormalized snapshot of a catalog product at placement
// time. Later catalog edits never alter it.
type OrderItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Image     string `json:"image,omitempty"`
	Variant   string `json:"variant,omitempty"`
}

type Order struct {
	ID              string        `json:"id"`
	CustomerName    string        `json:"customer_name"`
	CustomerEmail   string        `json:"customer_email"`
	CustomerPhone   string        `json:"customer_phone"`
	Street          string        `json:"street"`
	City            string        `json:"city"`
	PostalCode      string        `json:"postal_code,omitempty"`
	Items           []OrderItem   `json:"items"`
	Total           int64         `json:"total"`
	PaymentMethod   PaymentMethod `json:"payment_method"`
	PaymentIntentID string        `json:"payment_intent_id,omitempty"`
	Status          OrderStatus   `json:"status"`
	UserID          string        `json:"user_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}
