package dashboard

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aniket17200/Profitfirst/internal/forecast"
)

const sparklinePoints = 7

var (
	thousand = decimal.NewFromInt(1000)
	hundred  = decimal.NewFromInt(100)
)

// SparkPoint is one point of a card's mini chart
type SparkPoint struct {
	V float64 `json:"v"`
}

// MonthCard is one metric tile of a forecast month
type MonthCard struct {
	Title      string       `json:"title"`
	Value      string       `json:"value"`
	Raw        float64      `json:"raw"`
	Change     string       `json:"change"`
	ChangeType string       `json:"changeType"`
	Label      string       `json:"label"`
	ChartData  []SparkPoint `json:"chartData"`
}

// MonthBreakdown is one month of the cost breakdown table
type MonthBreakdown struct {
	Month           string  `json:"month"`
	COGS            float64 `json:"cogs"`
	GrossProfit     float64 `json:"grossProfit"`
	OperatingCosts  float64 `json:"operatingCosts"`
	NetProfit       float64 `json:"netProfit"`
	NetProfitMargin string  `json:"netProfitMargin"`
	IsPrediction    bool    `json:"isPrediction"`
}

// Brand identifies the store
type Brand struct {
	Name string `json:"name"`
}

// ForecastDashboardData is the side panel of the forecast view
type ForecastDashboardData struct {
	Brand              Brand            `json:"brand"`
	UpcomingEvents     []string         `json:"upcomingEvents"`
	ActionableInsights []string         `json:"actionableInsights"`
	FinancialBreakdown []MonthBreakdown `json:"financialBreakdown"`
}

// ChartPoint is one month in thousands; exactly one of Actual and
// Predicted is set.
type ChartPoint struct {
	Name      string `json:"name"`
	Actual    *int64 `json:"Actual"`
	Predicted *int64 `json:"Predicted"`
}

// MainCharts are the actual-vs-predicted series
type MainCharts struct {
	Revenue   []ChartPoint `json:"Revenue"`
	NetProfit []ChartPoint `json:"NetProfit"`
	COGS      []ChartPoint `json:"COGS"`
}

// ForecastView is the response body of the forecast endpoint
type ForecastView struct {
	Method         forecast.Method        `json:"method"`
	Months         []string               `json:"months"`
	MetricsByMonth map[string][]MonthCard `json:"metricsByMonth"`
	DashboardData  ForecastDashboardData  `json:"dashboardData"`
	MainChartsData MainCharts             `json:"mainChartsData"`
	Sources        []SourceStatus         `json:"sources"`
	GeneratedAt    time.Time              `json:"generatedAt"`
}

var defaultInsights = []string{"Focus on AOV growth", "Optimize ROAS"}

// AssembleForecast shapes history followed by predicted months
func AssembleForecast(brand string, history []forecast.MonthlyMetrics, f forecast.Forecast, sources []SourceStatus, generatedAt time.Time) *ForecastView {
	all := make([]forecast.MonthlyMetrics, 0, len(history)+len(f.Months))
	all = append(all, history...)
	all = append(all, f.Months...)

	if sources == nil {
		sources = []SourceStatus{}
	}
	view := &ForecastView{
		Method:         f.Method,
		Months:         make([]string, 0, len(all)),
		MetricsByMonth: make(map[string][]MonthCard, len(all)),
		DashboardData: ForecastDashboardData{
			Brand:              Brand{Name: brand},
			UpcomingEvents:     []string{},
			ActionableInsights: defaultInsights,
			FinancialBreakdown: make([]MonthBreakdown, 0, len(all)),
		},
		MainChartsData: MainCharts{
			Revenue:   make([]ChartPoint, 0, len(all)),
			NetProfit: make([]ChartPoint, 0, len(all)),
			COGS:      make([]ChartPoint, 0, len(all)),
		},
		Sources:     sources,
		GeneratedAt: generatedAt,
	}

	for i, m := range all {
		var prev *forecast.MonthValues
		if i > 0 {
			prev = &all[i-1].Values
		}
		view.Months = append(view.Months, m.Key)
		view.MetricsByMonth[m.Key] = monthCards(m.Values, prev)

		v := m.Values
		view.DashboardData.FinancialBreakdown = append(view.DashboardData.FinancialBreakdown, MonthBreakdown{
			Month:           m.Key,
			COGS:            v.COGS.InexactFloat64(),
			GrossProfit:     v.GrossProfit.InexactFloat64(),
			OperatingCosts:  v.OtherExpenses().InexactFloat64(),
			NetProfit:       v.NetProfit.InexactFloat64(),
			NetProfitMargin: marginLabel(v),
			IsPrediction:    m.IsPrediction,
		})

		view.MainChartsData.Revenue = append(view.MainChartsData.Revenue, chartPoint(m, v.Revenue))
		view.MainChartsData.NetProfit = append(view.MainChartsData.NetProfit, chartPoint(m, v.NetProfit))
		view.MainChartsData.COGS = append(view.MainChartsData.COGS, chartPoint(m, v.COGS))
	}
	return view
}

func monthCards(v forecast.MonthValues, prev *forecast.MonthValues) []MonthCard {
	var p forecast.MonthValues
	if prev != nil {
		p = *prev
	}

	roasValue := "0x"
	if !v.Ads.IsZero() {
		roasValue = FormatRatio(v.ROAS()) + "x"
	}

	return []MonthCard{
		monthCard("Revenue", FormatINR(v.Revenue), v.Revenue, p.Revenue, "Shopify"),
		monthCard("Orders", v.Orders.Round(0).String(), v.Orders, p.Orders, "Shopify"),
		monthCard("AOV", FormatINR(v.AOV), v.AOV, p.AOV, "Shopify"),
		monthCard("COGS", FormatINR(v.COGS), v.COGS, p.COGS, "Profit First"),
		monthCard("Gross Profit", FormatINR(v.GrossProfit), v.GrossProfit, p.GrossProfit, "Profit First"),
		monthCard("Other Expenses", FormatINR(v.OtherExpenses()), v.OtherExpenses(), p.OtherExpenses(), "Meta+Shipping"),
		monthCard("ROAS", roasValue, v.ROAS(), p.ROAS(), "Meta"),
		monthCard("Net Profit", FormatINR(v.NetProfit), v.NetProfit, p.NetProfit, "Profit First"),
	}
}

func monthCard(title, value string, curr, prev decimal.Decimal, label string) MonthCard {
	change, changeType := PercentChange(curr, prev)
	return MonthCard{
		Title:      title,
		Value:      value,
		Raw:        curr.InexactFloat64(),
		Change:     change,
		ChangeType: changeType,
		Label:      label,
		ChartData:  sparkline(curr),
	}
}

// PercentChange formats the change from prev to curr ("+12.5%"). A zero
// previous value reports no change.
func PercentChange(curr, prev decimal.Decimal) (string, string) {
	if prev.IsZero() {
		return "+0.0%", "increase"
	}
	diff := curr.Sub(prev).Div(prev.Abs()).Mul(hundred)
	if diff.IsNegative() {
		return diff.StringFixed(1) + "%", "decrease"
	}
	return "+" + diff.StringFixed(1) + "%", "increase"
}

func sparkline(v decimal.Decimal) []SparkPoint {
	points := make([]SparkPoint, sparklinePoints)
	for i := range points {
		points[i] = SparkPoint{V: v.Round(2).InexactFloat64()}
	}
	return points
}

func marginLabel(v forecast.MonthValues) string {
	if v.Revenue.IsZero() {
		return "0%"
	}
	return v.NetProfit.Div(v.Revenue).Mul(hundred).StringFixed(1) + "%"
}

func chartPoint(m forecast.MonthlyMetrics, v decimal.Decimal) ChartPoint {
	k := v.Div(thousand).Round(0).IntPart()
	if m.IsPrediction {
		return ChartPoint{Name: m.Key, Predicted: &k}
	}
	return ChartPoint{Name: m.Key, Actual: &k}
}
