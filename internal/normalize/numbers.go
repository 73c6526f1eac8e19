package normalize

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// placeholders upstreams use for "no value"
var emptyTokens = map[string]bool{
	"":    true,
	"n/a": true,
	"na":  true,
	"-":   true,
	"nan": true,
}

// ToDecimal converts a loosely typed upstream value into a decimal.
// Strings may carry currency symbols, thousands separators (Western or Indian
// grouping) and surrounding whitespace. Anything unparseable becomes zero.
func ToDecimal(v interface{}) decimal.Decimal {
	switch n := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return n
	case *decimal.Decimal:
		if n == nil {
			return decimal.Zero
		}
		return *n
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(n)
	case float32:
		return ToDecimal(float64(n))
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	case int32:
		return decimal.NewFromInt(int64(n))
	case json.Number:
		return parseDecimalString(string(n))
	case string:
		return parseDecimalString(n)
	default:
		return decimal.Zero
	}
}

func parseDecimalString(s string) decimal.Decimal {
	t := strings.ToLower(strings.TrimSpace(s))
	if emptyTokens[t] {
		return decimal.Zero
	}

	negative := false
	if strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")") {
		negative = true
		t = strings.Trim(t, "()")
	}

	t = strings.NewReplacer(
		",", "",
		"₹", "",
		"rs.", "",
		"rs", "",
		"inr", "",
		"$", "",
		" ", "",
	).Replace(t)

	d, err := decimal.NewFromString(t)
	if err != nil {
		return decimal.Zero
	}
	if negative {
		return d.Neg()
	}
	return d
}

// ToFloat is ToDecimal for callers that only need an approximate ratio.
func ToFloat(v interface{}) float64 {
	return ToDecimal(v).InexactFloat64()
}

// ToInt64 converts counters such as clicks or impressions, truncating fractions.
func ToInt64(v interface{}) int64 {
	return ToDecimal(v).IntPart()
}
