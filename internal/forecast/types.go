package forecast

import (
	"time"

	"github.com/shopspring/decimal"
)

// Method tags how a forecast was produced
type Method string

const (
	MethodStatistical   Method = "statistical"
	MethodModelAssisted Method = "model_assisted"
)

// DefaultHorizon is the number of months predicted
const DefaultHorizon = 3

// MonthValues are the financial figures of one calendar month
type MonthValues struct {
	Revenue     decimal.Decimal `json:"revenue"`
	Orders      decimal.Decimal `json:"orders"`
	AOV         decimal.Decimal `json:"aov"`
	COGS        decimal.Decimal `json:"cogs"`
	GrossProfit decimal.Decimal `json:"grossProfit"`
	Ads         decimal.Decimal `json:"ads"`
	Shipping    decimal.Decimal `json:"shipping"`
	NetProfit   decimal.Decimal `json:"netProfit"`
}

// OtherExpenses is ad spend plus shipping
func (v MonthValues) OtherExpenses() decimal.Decimal {
	return v.Ads.Add(v.Shipping)
}

// ROAS is revenue per unit of ad spend, 0 without spend
func (v MonthValues) ROAS() decimal.Decimal {
	if v.Ads.IsZero() {
		return decimal.Zero
	}
	return v.Revenue.Div(v.Ads)
}

// MonthlyMetrics is one month of history or prediction
type MonthlyMetrics struct {
	Key          string      `json:"key"`
	Start        time.Time   `json:"-"`
	Values       MonthValues `json:"values"`
	IsPrediction bool        `json:"isPrediction"`
}

// Forecast holds predicted months and the method that produced them
type Forecast struct {
	Method Method           `json:"method"`
	Months []MonthlyMetrics `json:"months"`
}

// NewMonthValues derives AOV, gross and net profit from the base figures.
func NewMonthValues(revenue, orders, cogs, ads, shipping decimal.Decimal) MonthValues {
	aov := decimal.Zero
	if !orders.IsZero() {
		aov = revenue.Div(orders)
	}
	gross := revenue.Sub(cogs)
	return MonthValues{
		Revenue:     revenue,
		Orders:      orders,
		AOV:         aov,
		COGS:        cogs,
		GrossProfit: gross,
		Ads:         ads,
		Shipping:    shipping,
		NetProfit:   gross.Sub(ads).Sub(shipping),
	}
}

// MonthKey labels a month by its full English name ("January")
func MonthKey(t time.Time) string {
	return t.Format("January")
}
