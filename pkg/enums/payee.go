package enums

import "fmt"

// Payee identifies which side of an order a payout batch settles.
type Payee string

const (
	PayeeRestaurant Payee = "restaurant"
	PayeeCourier    Payee = "courier"
)

var validPayees = []Payee{
	PayeeRestaurant,
	PayeeCourier,
}

// String implements fmt.Stringer.
func (p Payee) String() string {
	return string(p)
}

// IsValid reports whether the value is a known Payee.
func (p Payee) IsValid() bool {
	for _, candidate := range validPayees {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePayee converts raw input into a Payee.
func ParsePayee(value string) (Payee, error) {
	for _, candidate := range validPayees {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payee %q", value)
}
