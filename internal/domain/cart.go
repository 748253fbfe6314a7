package domain

import "time"

// CartItem is one line of a session cart. Unit price and discount are
// copied from the catalog when the item is added; Total applies the
// discount at read time.
type CartItem struct {
	ProductID          string `json:"product_id"`
	Name               string `json:"name"`
	Price              int64  `json:"price"`
	DiscountPercentage int    `json:"discount_percentage,omitempty"`
	Quantity           int    `json:"quantity"`
	Image              string `json:"image,omitempty"`
	Variant            string `json:"variant,omitempty"`
	VariantImage       string `json:"variant_image,omitempty"`
}

// Key identifies a line item: same product with different variants are
// distinct lines.
func (i CartItem) Key() string {
	return i.ProductID + "|" + i.Variant
}

// DiscountedUnitPrice rounds half-up to the nearest whole currency unit.
func (i CartItem) DiscountedUnitPrice() int64 {
	if i.DiscountPercentage <= 0 {
		return i.Price
	}
	return (i.Price*int64(100-i.DiscountPercentage) + 50) / 100
}

type Cart struct {
	SessionID string     `json:"session_id"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Total is the discount-aware sum over all line items.
func (c *Cart) Total() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.DiscountedUnitPrice() * int64(item.Quantity)
	}
	return total
}

// Count is the sum of quantities, not the number of distinct lines.
func (c *Cart) Count() int {
	var count int
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}
