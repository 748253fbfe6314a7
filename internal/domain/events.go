package domain

import "time"

// OrderPlacedEvent is published on the order.placed topic once an order
// row is durably written. Consumers must tolerate redelivery.
type OrderPlacedEvent struct {
	OrderID       string        `json:"order_id"`
	CustomerName  string        `json:"customer_name"`
	CustomerEmail string        `json:"customer_email"`
	Total         int64         `json:"total"`
	ItemCount     int           `json:"item_count"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Timestamp     time.Time     `json:"timestamp"`
}
