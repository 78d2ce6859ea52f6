package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Venue prices are integer cents; the audit columns carry dollars.
var centsPerDollar = decimal.NewFromInt(100)

// centsToDollars converts an integer cent price into a NUMERIC(18,2) value.
func centsToDollars(cents int64) (pgtype.Numeric, error) {
	return numericFromDecimal(decimal.NewFromInt(cents).Div(centsPerDollar))
}

// notionalDollars is price*quantity expressed in dollars.
func notionalDollars(priceCents, quantity int64) (pgtype.Numeric, error) {
	notional := decimal.NewFromInt(priceCents).Mul(decimal.NewFromInt(quantity)).Div(centsPerDollar)
	return numericFromDecimal(notional)
}

func numericFromDecimal(value decimal.Decimal) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	text := value.StringFixed(2)
	if err := out.Scan(text); err != nil {
		return out, fmt.Errorf("parse numeric %q: %w", text, err)
	}
	return out, nil
}
