// Package shipping resolves delivery fees from the destination city.
package shipping

import (
	"errors"
	"strings"
)

// ErrUnknownCity means the city is not in the fee table. Checkout must not
// proceed to payment until the fee resolves.
var ErrUnknownCity = errors.New("unknown delivery city")

// Fees are integer shillings keyed by normalized city name.
var cityFees = map[string]int64{
	"nairobi":  300,
	"kiambu":   400,
	"thika":    450,
	"machakos": 500,
	"nakuru":   600,
	"eldoret":  700,
	"kisumu":   700,
	"mombasa":  800,
	"nyeri":    550,
	"kakamega": 750,
}

// Resolve returns the delivery fee for a city. Matching is
// case-insensitive and ignores surrounding whitespace.
func Resolve(city string) (int64, error) {
	fee, ok := cityFees[strings.ToLower(strings.TrimSpace(city))]
	if !ok {
		return 0, ErrUnknownCity
	}
	return fee, nil
}

// Cities lists the deliverable city names, for the checkout city picker.
func Cities() []string {
	names := make([]string, 0, len(cityFees))
	for name := range cityFees {
		names = append(names, name)
	}
	return names
}
