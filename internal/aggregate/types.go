package aggregate

import (
	"github.com/shopspring/decimal"

	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/normalize"
)

// RankingSize is the length of the best and least selling lists.
const RankingSize = 10

// Input is one snapshot of everything the fold needs. Nil or empty fields
// stand for a source that returned nothing.
type Input struct {
	Range        normalize.DateRange
	Orders       []models.RawOrder
	Ads          *models.AdReport
	Shipments    []models.RawShipment
	ProductCosts map[string]decimal.Decimal
}

// DailyBucket holds one IST day of the range
type DailyBucket struct {
	Date               string          `json:"date"`
	Label              string          `json:"label"`
	Orders             int             `json:"orders"`
	Revenue            decimal.Decimal `json:"revenue"`
	COGS               decimal.Decimal `json:"cogs"`
	AdSpend            decimal.Decimal `json:"adSpend"`
	ShippingCost       decimal.Decimal `json:"shippingCost"`
	TotalCosts         decimal.Decimal `json:"totalCosts"`
	NetProfit          decimal.Decimal `json:"netProfit"`
	NetProfitMargin    decimal.Decimal `json:"netProfitMargin"`
	NewCustomers       int             `json:"newCustomers"`
	ReturningCustomers int             `json:"returningCustomers"`
}

// Summary holds the range totals and derived ratios. Margins are percentages.
type Summary struct {
	TotalOrders  int             `json:"totalOrders"`
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
	TotalCOGS    decimal.Decimal `json:"totalCogs"`
	GrossProfit  decimal.Decimal `json:"grossProfit"`
	AdSpend      decimal.Decimal `json:"adSpend"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
	NetProfit    decimal.Decimal `json:"netProfit"`
	GrossMargin  decimal.Decimal `json:"grossMargin"`
	NetMargin    decimal.Decimal `json:"netMargin"`
	ROAS         decimal.Decimal `json:"roas"`
	POAS         decimal.Decimal `json:"poas"`
	AOV          decimal.Decimal `json:"aov"`
	CPP          decimal.Decimal `json:"cpp"`
}

// ProductSales is one ranked product. Revenue is the total of the orders the
// product appeared in.
type ProductSales struct {
	Rank      int             `json:"rank"`
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitsSold int             `json:"unitsSold"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// CustomerBreakdown splits identified customers into new and returning
type CustomerBreakdown struct {
	New           int             `json:"new"`
	Returning     int             `json:"returning"`
	Total         int             `json:"total"`
	ReturningRate decimal.Decimal `json:"returningRate"`
}

// ShipmentCounts tallies in-range shipments by normalized status
type ShipmentCounts struct {
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
	InTransit int `json:"inTransit"`
	RTO       int `json:"rto"`
	NDR       int `json:"ndr"`
	Other     int `json:"other"`
}

// Marketing carries the ad metrics the summary does not
type Marketing struct {
	Clicks      int64               `json:"clicks"`
	Impressions int64               `json:"impressions"`
	Reach       int64               `json:"reach"`
	CPC         decimal.Decimal     `json:"cpc"`
	CPM         decimal.Decimal     `json:"cpm"`
	CTR         float64             `json:"ctr"`
	Daily       []models.RawAdDaily `json:"daily"`
}

// Result is the output of Aggregate
type Result struct {
	Range         normalize.DateRange  `json:"-"`
	Summary       Summary              `json:"summary"`
	Daily         []DailyBucket        `json:"daily"`
	BestSelling   []ProductSales       `json:"bestSelling"`
	LeastSelling  []ProductSales       `json:"leastSelling"`
	Customers     CustomerBreakdown    `json:"customers"`
	Shipments     ShipmentCounts       `json:"shipments"`
	Marketing     Marketing            `json:"marketing"`
	ShipmentList  []models.RawShipment `json:"shipmentList"`
	IgnoredOrders int                  `json:"ignoredOrders"`
}
