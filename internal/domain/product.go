package domain

// Product is the catalog-facing subset the checkout flow needs. Prices are
// integer minor units of the operating currency.
type Product struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Price              int64  `json:"price"`
	DiscountPercentage int    `json:"discount_percentage,omitempty"`
	InStock            bool   `json:"in_stock"`
	Featured           bool   `json:"featured,omitempty"`
	Category           string `json:"category"`
	Image              string `json:"image,omitempty"`
}

// DiscountedPrice applies the product's discount to its price, rounding
// half-up to the nearest whole unit. A non-positive discount leaves the
// price untouched.
func (p Product) DiscountedPrice() int64 {
	if p.DiscountPercentage <= 0 {
		return p.Price
	}
	return (p.Price*int64(100-p.DiscountPercentage) + 50) / 100
}
