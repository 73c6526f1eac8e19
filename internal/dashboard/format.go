package dashboard

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatINR renders whole rupees with Indian digit grouping: the last three
// digits, then groups of two (₹47,86,863). Negative values become -₹1,234.
func FormatINR(v decimal.Decimal) string {
	rounded := v.Round(0)
	neg := rounded.IsNegative()
	digits := rounded.Abs().String()

	var b strings.Builder
	if neg {
		b.WriteString("-")
	}
	b.WriteString("₹")
	b.WriteString(groupIndian(digits))
	return b.String()
}

func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]

	var groups []string
	for len(head) > 2 {
		groups = append([]string{head[len(head)-2:]}, groups...)
		head = head[:len(head)-2]
	}
	if head != "" {
		groups = append([]string{head}, groups...)
	}
	return strings.Join(groups, ",") + "," + tail
}

// FormatPercent renders a percentage with two decimals ("12.34%")
func FormatPercent(v decimal.Decimal) string {
	return v.StringFixed(2) + "%"
}

// FormatRatio renders a ratio with two decimals ("7.72")
func FormatRatio(v decimal.Decimal) string {
	return v.StringFixed(2)
}

// FormatCount renders an integer count
func FormatCount(n int64) string {
	return decimal.NewFromInt(n).String()
}
