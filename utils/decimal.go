package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var currencyMarks = []string{"MMK", "mmk", "Ks", "ks", "USD", "usd", "$"}

// ParseMoney accepts user-formatted amounts like "150.00", "1,500", "MMK 20,000"
// or "$ 99.5" as well as JSON numbers.
func ParseMoney(i interface{}) (decimal.Decimal, error) {
	switch v := i.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s != "" {
			s = strings.ReplaceAll(s, ",", "")
			for _, mark := range currencyMarks {
				s = strings.ReplaceAll(s, mark, "")
			}
			s = strings.TrimSpace(s)
		}
		neg := false
		if strings.HasPrefix(s, "-") {
			neg = true
			s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
		}
		// Only digits and '.' survive.
		var b strings.Builder
		b.Grow(len(s) + 1)
		for _, r := range s {
			if (r >= '0' && r <= '9') || r == '.' {
				b.WriteRune(r)
			} else if r != ' ' {
				return decimal.Zero, InvalidInput(fmt.Sprintf("invalid amount %q", v))
			}
		}
		clean := b.String()
		if clean == "" {
			return decimal.Zero, InvalidInput(fmt.Sprintf("invalid amount %q", v))
		}
		if neg {
			clean = "-" + clean
		}
		return decimal.NewFromString(clean)
	case json.Number:
		return decimal.NewFromString(v.String())
	case float64:
		return decimal.NewFromFloat(v), nil
	case decimal.Decimal:
		return v, nil
	default:
		return decimal.Zero, InvalidInput("invalid amount")
	}
}

// ParseOptionalMoney treats nil and blank strings as "not set".
func ParseOptionalMoney(s *string) (decimal.NullDecimal, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := ParseMoney(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
