package forecast

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	defaultGrowth = decimal.RequireFromString("0.05")
	minGrowth     = decimal.RequireFromString("-0.2")
	maxGrowth     = decimal.RequireFromString("0.3")
	dampening     = decimal.RequireFromString("0.8")
)

// GrowthRate is the average month-over-month revenue growth, clamped to
// [-20%, +30%]. Transitions from a zero-revenue month contribute nothing.
func GrowthRate(history []MonthlyMetrics) decimal.Decimal {
	if len(history) < 2 {
		return defaultGrowth
	}

	total := decimal.Zero
	for i := 1; i < len(history); i++ {
		prev := history[i-1].Values.Revenue
		if !prev.IsPositive() {
			continue
		}
		curr := history[i].Values.Revenue
		total = total.Add(curr.Sub(prev).Div(prev))
	}
	avg := total.Div(decimal.NewFromInt(int64(len(history) - 1)))

	if avg.LessThan(minGrowth) {
		return minGrowth
	}
	if avg.GreaterThan(maxGrowth) {
		return maxGrowth
	}
	return avg
}

// Statistical extrapolates the last month by a linearly diminishing growth
// factor 1 + g*i*0.8 for month i of the horizon.
func Statistical(history []MonthlyMetrics, horizon int, now time.Time) []MonthlyMetrics {
	g := GrowthRate(history)

	var last MonthlyMetrics
	if len(history) > 0 {
		last = history[len(history)-1]
	}
	base := nextMonthBase(history, now)

	out := make([]MonthlyMetrics, 0, horizon)
	for i := 1; i <= horizon; i++ {
		factor := decimal.NewFromInt(1).Add(g.Mul(decimal.NewFromInt(int64(i))).Mul(dampening))

		revenue := last.Values.Revenue.Mul(factor)
		orders := last.Values.Orders.Mul(factor)
		cogs := last.Values.COGS.Mul(factor)
		ads := last.Values.Ads.Mul(factor)
		shipping := last.Values.Shipping.Mul(factor)

		aov := last.Values.AOV
		if orders.IsPositive() {
			aov = revenue.Div(orders)
		}
		gross := revenue.Sub(cogs)
		net := gross.Sub(ads).Sub(shipping)

		month := base.AddDate(0, i-1, 0)
		out = append(out, MonthlyMetrics{
			Key:   MonthKey(month),
			Start: month,
			Values: MonthValues{
				Revenue:     revenue.Round(0),
				Orders:      orders.Round(0),
				AOV:         aov.Round(0),
				COGS:        cogs.Round(0),
				GrossProfit: gross.Round(0),
				Ads:         ads.Round(0),
				Shipping:    shipping.Round(0),
				NetProfit:   net.Round(0),
			},
			IsPrediction: true,
		})
	}
	return out
}

// nextMonthBase is the first month after the history, or next month when
// there is none.
func nextMonthBase(history []MonthlyMetrics, now time.Time) time.Time {
	if n := len(history); n > 0 && !history[n-1].Start.IsZero() {
		s := history[n-1].Start
		return time.Date(s.Year(), s.Month(), 1, 0, 0, 0, 0, s.Location()).AddDate(0, 1, 0)
	}
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
}
