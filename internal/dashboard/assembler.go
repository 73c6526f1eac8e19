package dashboard

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aniket17200/Profitfirst/internal/aggregate"
	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/normalize"
)

// Breakdown colors
const (
	colorRevenue  = "#16A34A"
	colorGross    = "#2563EB"
	colorNet      = "#FBBF24"
	colorCOGS     = "#F43F5E"
	colorAds      = "#A855F7"
	colorShipping = "#6366F1"
)

// Source availability states
const (
	SourceFresh       = "fresh"
	SourceCached      = "cached"
	SourceStaleCache  = "stale_cache"
	SourceNarrowed    = "narrowed"
	SourceUnavailable = "unavailable"
)

// Card is one metric tile: a display string plus the number behind it.
type Card struct {
	Title   string  `json:"title"`
	Value   string  `json:"value"`
	Raw     float64 `json:"raw"`
	Formula string  `json:"formula"`
}

// PerformancePoint is one day of the performance chart
type PerformancePoint struct {
	Name            string  `json:"name"`
	Date            string  `json:"date"`
	Revenue         float64 `json:"revenue"`
	COGS            float64 `json:"cogs"`
	TotalCosts      float64 `json:"totalCosts"`
	NetProfit       float64 `json:"netProfit"`
	NetProfitMargin float64 `json:"netProfitMargin"`
}

// ProductRow is one entry of a ranking list
type ProductRow struct {
	ID        int     `json:"id"`
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Sales     int     `json:"sales"`
	Total     string  `json:"total"`
	TotalRaw  float64 `json:"totalRaw"`
}

// Products holds both ranking lists
type Products struct {
	BestSelling  []ProductRow `json:"bestSelling"`
	LeastSelling []ProductRow `json:"leastSelling"`
}

// Slice is one colored segment of a breakdown chart
type Slice struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

// FinancialsBreakdown feeds the revenue waterfall and cost pie
type FinancialsBreakdown struct {
	Revenue float64 `json:"revenue"`
	List    []Slice `json:"list"`
	PieData []Slice `json:"pieData"`
}

// NameValue is a labelled count
type NameValue struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// CustomerDay is one day of the new/returning split
type CustomerDay struct {
	Name               string `json:"name"`
	NewCustomers       int    `json:"newCustomers"`
	ReturningCustomers int    `json:"returningCustomers"`
}

// MarketingPoint is one day of ad delivery
type MarketingPoint struct {
	Name       string  `json:"name"`
	Reach      int64   `json:"reach"`
	Spend      float64 `json:"spend"`
	ROAS       float64 `json:"roas"`
	LinkClicks int64   `json:"linkClicks"`
}

// Charts groups the secondary chart series
type Charts struct {
	WebsiteTraffic    []NameValue      `json:"websiteTraffic"`
	CustomerTypeByDay []CustomerDay    `json:"customerTypeByDay"`
	Marketing         []MarketingPoint `json:"marketing"`
	ShipmentStatus    []NameValue      `json:"shipmentStatus"`
}

// SourceStatus explains where a source's data came from for this response
type SourceStatus struct {
	Source       string     `json:"source"`
	Status       string     `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

// RangeInfo reports the requested and effective ranges
type RangeInfo struct {
	StartDate          string `json:"startDate"`
	EndDate            string `json:"endDate"`
	Days               int    `json:"days"`
	RequestedStartDate string `json:"requestedStartDate"`
	RequestedEndDate   string `json:"requestedEndDate"`
	Narrowed           bool   `json:"narrowed"`
}

// Dashboard is the response body of the dashboard endpoint
type Dashboard struct {
	Summary                 []Card                   `json:"summary"`
	Marketing               []Card                   `json:"marketing"`
	Website                 []Card                   `json:"website"`
	Shipping                []models.RawShipment     `json:"shipping"`
	ShippingStatus          aggregate.ShipmentCounts `json:"shippingStatus"`
	Products                Products                 `json:"products"`
	PerformanceChartData    []PerformancePoint       `json:"performanceChartData"`
	FinancialsBreakdownData FinancialsBreakdown      `json:"financialsBreakdownData"`
	Charts                  Charts                   `json:"charts"`
	Metrics                 aggregate.Summary        `json:"metrics"`
	Sources                 []SourceStatus           `json:"sources"`
	Range                   RangeInfo                `json:"range"`
	GeneratedAt             time.Time                `json:"generatedAt"`
}

// Meta is request context the aggregation result does not carry
type Meta struct {
	Requested   normalize.DateRange
	Sources     []SourceStatus
	GeneratedAt time.Time
}

// Assemble shapes an aggregation result for display. Numbers are only
// reformatted, never recomputed.
func Assemble(res *aggregate.Result, meta Meta) *Dashboard {
	s := res.Summary
	sources := meta.Sources
	if sources == nil {
		sources = []SourceStatus{}
	}

	return &Dashboard{
		Summary:        summaryCards(s),
		Marketing:      marketingCards(s, res.Marketing),
		Website:        websiteCards(s, res.Customers),
		Shipping:       res.ShipmentList,
		ShippingStatus: res.Shipments,
		Products: Products{
			BestSelling:  productRows(res.BestSelling),
			LeastSelling: productRows(res.LeastSelling),
		},
		PerformanceChartData:    performance(res.Daily),
		FinancialsBreakdownData: breakdown(s),
		Charts:                  charts(res),
		Metrics:                 s,
		Sources:                 sources,
		Range: RangeInfo{
			StartDate:          res.Range.StartDate(),
			EndDate:            res.Range.EndDate(),
			Days:               res.Range.Len(),
			RequestedStartDate: meta.Requested.StartDate(),
			RequestedEndDate:   meta.Requested.EndDate(),
			Narrowed:           !meta.Requested.Equal(res.Range),
		},
		GeneratedAt: meta.GeneratedAt,
	}
}

func money(title string, v decimal.Decimal, formula string) Card {
	return Card{Title: title, Value: FormatINR(v), Raw: v.InexactFloat64(), Formula: formula}
}

func pct(title string, v decimal.Decimal, formula string) Card {
	return Card{Title: title, Value: FormatPercent(v), Raw: v.InexactFloat64(), Formula: formula}
}

func ratioCard(title string, v decimal.Decimal, formula string) Card {
	return Card{Title: title, Value: FormatRatio(v), Raw: v.InexactFloat64(), Formula: formula}
}

func count(title string, n int64, formula string) Card {
	return Card{Title: title, Value: FormatCount(n), Raw: float64(n), Formula: formula}
}

func summaryCards(s aggregate.Summary) []Card {
	return []Card{
		count("Total Orders", int64(s.TotalOrders), "Total Sales"),
		money("Revenue", s.TotalRevenue, "Total revenue"),
		money("COGS", s.TotalCOGS, "Cost of Goods Sold"),
		money("Ads Spend", s.AdSpend, "Ad spend"),
		money("Shipping Cost", s.ShippingCost, "Shipping costs"),
		money("Net Profit", s.NetProfit, "Revenue - costs"),
		money("Gross Profit", s.GrossProfit, "Revenue - COGS"),
		pct("Gross Profit Margin", s.GrossMargin, "(Gross / Revenue) * 100"),
		pct("Net Profit Margin", s.NetMargin, "(Net / Revenue) * 100"),
		ratioCard("ROAS", s.ROAS, "Return On Ad Spend"),
		ratioCard("POAS", s.POAS, "Net Profit / Ads Spend"),
		money("Avg. Order Value", s.AOV, "Rev / Orders"),
	}
}

func marketingCards(s aggregate.Summary, m aggregate.Marketing) []Card {
	return []Card{
		money("Amount Spent", s.AdSpend, "Ad spend"),
		money("CPP", s.CPP, "Spend / Orders"),
		ratioCard("ROAS", s.ROAS, "Return On Ad Spend"),
		count("Link Clicks", m.Clicks, "Ad clicks"),
		money("CPC", m.CPC, "Spend / Clicks"),
		pct("CTR", decimal.NewFromFloat(m.CTR), "Clicks / Impressions"),
		count("Impressions", m.Impressions, "Ad impressions"),
		money("CPM", m.CPM, "Spend per 1000 Impr"),
		count("Reach", m.Reach, "Unique reach"),
	}
}

func websiteCards(s aggregate.Summary, c aggregate.CustomerBreakdown) []Card {
	return []Card{
		money("Total Sales", s.TotalRevenue, "Total sales"),
		count("Total Orders", int64(s.TotalOrders), "Order count"),
		count("Total Customers", int64(c.Total), "New + Returning"),
		pct("Returning Rate", c.ReturningRate, "Returning / Total"),
	}
}

func productRows(list []aggregate.ProductSales) []ProductRow {
	rows := make([]ProductRow, 0, len(list))
	for _, p := range list {
		rows = append(rows, ProductRow{
			ID:        p.Rank,
			ProductID: p.ProductID,
			Name:      p.Name,
			Sales:     p.UnitsSold,
			Total:     FormatINR(p.Revenue),
			TotalRaw:  p.Revenue.InexactFloat64(),
		})
	}
	return rows
}

func performance(days []aggregate.DailyBucket) []PerformancePoint {
	points := make([]PerformancePoint, 0, len(days))
	for _, d := range days {
		points = append(points, PerformancePoint{
			Name:            d.Label,
			Date:            d.Date,
			Revenue:         d.Revenue.InexactFloat64(),
			COGS:            d.COGS.InexactFloat64(),
			TotalCosts:      d.TotalCosts.InexactFloat64(),
			NetProfit:       d.NetProfit.InexactFloat64(),
			NetProfitMargin: d.NetProfitMargin.InexactFloat64(),
		})
	}
	return points
}

func breakdown(s aggregate.Summary) FinancialsBreakdown {
	fb := FinancialsBreakdown{
		Revenue: s.TotalRevenue.InexactFloat64(),
		List: []Slice{
			{Name: "Revenue", Value: s.TotalRevenue.InexactFloat64(), Color: colorRevenue},
			{Name: "Gross Profit", Value: s.GrossProfit.InexactFloat64(), Color: colorGross},
			{Name: "Net Profit", Value: s.NetProfit.InexactFloat64(), Color: colorNet},
			{Name: "COGS", Value: s.TotalCOGS.InexactFloat64(), Color: colorCOGS},
			{Name: "Ads Spend", Value: s.AdSpend.InexactFloat64(), Color: colorAds},
			{Name: "Shipping", Value: s.ShippingCost.InexactFloat64(), Color: colorShipping},
		},
		PieData: []Slice{
			{Name: "COGS", Value: s.TotalCOGS.InexactFloat64(), Color: colorCOGS},
			{Name: "Ads Spend", Value: s.AdSpend.InexactFloat64(), Color: colorAds},
			{Name: "Shipping", Value: s.ShippingCost.InexactFloat64(), Color: colorShipping},
		},
	}
	// A loss has no slice of its own.
	if s.NetProfit.IsPositive() {
		fb.PieData = append(fb.PieData, Slice{Name: "Net Profit", Value: s.NetProfit.InexactFloat64(), Color: colorNet})
	}
	return fb
}

func charts(res *aggregate.Result) Charts {
	c := Charts{
		WebsiteTraffic: []NameValue{
			{Name: "New Customers", Value: res.Customers.New},
			{Name: "Returning Customers", Value: res.Customers.Returning},
		},
		CustomerTypeByDay: make([]CustomerDay, 0, len(res.Daily)),
		Marketing:         make([]MarketingPoint, 0, len(res.Marketing.Daily)),
		ShipmentStatus: []NameValue{
			{Name: "Delivered", Value: res.Shipments.Delivered},
			{Name: "In Transit", Value: res.Shipments.InTransit},
			{Name: "RTO", Value: res.Shipments.RTO},
			{Name: "NDR", Value: res.Shipments.NDR},
			{Name: "Other", Value: res.Shipments.Other},
		},
	}
	for _, d := range res.Daily {
		c.CustomerTypeByDay = append(c.CustomerTypeByDay, CustomerDay{
			Name:               d.Label,
			NewCustomers:       d.NewCustomers,
			ReturningCustomers: d.ReturningCustomers,
		})
	}
	for _, d := range res.Marketing.Daily {
		name := d.Date
		if t, err := normalize.ParseTimestamp(d.Date); err == nil {
			name = normalize.DayLabel(t)
		}
		c.Marketing = append(c.Marketing, MarketingPoint{
			Name:       name,
			Reach:      d.Reach,
			Spend:      d.Spend.InexactFloat64(),
			ROAS:       d.ROAS,
			LinkClicks: d.LinkClicks,
		})
	}
	return c
}
