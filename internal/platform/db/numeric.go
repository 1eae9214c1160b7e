package db

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Numeric columns travel as text (`col::text` on read, `$n::numeric` on write)
// so values keep their full precision without a pgtype round trip.

// NullNumeric converts an optional decimal into a nullable text argument.
func NullNumeric(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// ParseNumeric reads a numeric column selected as text.
func ParseNumeric(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("platform/db: numeric %q: %w", s, err)
	}
	return d, nil
}

// ParseNullNumeric reads a nullable numeric column selected as text.
func ParseNullNumeric(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := ParseNumeric(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
