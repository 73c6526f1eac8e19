package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Credentials holds an owner's upstream access details
type Credentials struct {
	OwnerID        string `db:"owner_id" json:"owner_id"`
	StoreURL       string `db:"store_url" json:"store_url"`
	StoreToken     string `db:"store_token" json:"-"`
	AdAccountID    string `db:"ad_account_id" json:"ad_account_id"`
	AdToken        string `db:"ad_token" json:"-"`
	LogisticsToken string `db:"logistics_token" json:"-"`
}

// RawOrder is a storefront order as fetched
type RawOrder struct {
	ID          string          `json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency,omitempty"`
	CustomerID  string          `json:"customer_id,omitempty"`
	LineItems   []LineItem      `json:"line_items"`
}

// LineItem represents one product line of an order
type LineItem struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
}

// RawAdDaily is one day of ad insights
type RawAdDaily struct {
	Date       string          `json:"date"`
	Spend      decimal.Decimal `json:"spend"`
	Reach      int64           `json:"reach"`
	LinkClicks int64           `json:"link_clicks"`
	ROAS       float64         `json:"roas"`
}

// RawAdOverview aggregates ad insights over the whole range
type RawAdOverview struct {
	Spend        decimal.Decimal `json:"spend"`
	Clicks       int64           `json:"clicks"`
	Impressions  int64           `json:"impressions"`
	Reach        int64           `json:"reach"`
	CPC          decimal.Decimal `json:"cpc"`
	CPM          decimal.Decimal `json:"cpm"`
	CTR          float64         `json:"ctr"`
	PurchaseROAS *float64        `json:"purchase_roas,omitempty"`
}

// AdReport bundles the two ad-source views of one range
type AdReport struct {
	Overview *RawAdOverview `json:"overview,omitempty"`
	Daily    []RawAdDaily   `json:"daily"`
}

// ShipmentStatus is the normalized logistics status
type ShipmentStatus string

// Shipment statuses
const (
	ShipmentDelivered ShipmentStatus = "delivered"
	ShipmentInTransit ShipmentStatus = "in_transit"
	ShipmentRTO       ShipmentStatus = "rto"
	ShipmentNDR       ShipmentStatus = "ndr"
	ShipmentOther     ShipmentStatus = "other"
)

// RawShipment is a logistics record as fetched
type RawShipment struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	AWB           string          `json:"awb,omitempty"`
	Courier       string          `json:"courier,omitempty"`
	OrderDate     time.Time       `json:"order_date"`
	Status        ShipmentStatus  `json:"status"`
	FreightCharge decimal.Decimal `json:"freight_charge"`
	CODCharge     decimal.Decimal `json:"cod_charge"`
}

// Cost is what the shipment contributes to shipping cost
func (s RawShipment) Cost() decimal.Decimal {
	return s.FreightCharge.Add(s.CODCharge)
}

// ProductCost is one row of owner-scoped reference cost data
type ProductCost struct {
	OwnerID   string          `db:"owner_id" json:"owner_id"`
	ProductID string          `db:"product_id" json:"product_id"`
	Cost      decimal.Decimal `db:"cost" json:"cost"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// DataType names a cached upstream payload
type DataType string

// Cached data types
const (
	DataTypeOrders    DataType = "orders"
	DataTypeAds       DataType = "ads"
	DataTypeLogistics DataType = "logistics"
	DataTypeForecast  DataType = "forecast"
)

// SyncStatus records how complete a cached payload is
type SyncStatus string

// Sync statuses
const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusFailed  SyncStatus = "failed"
)

// CacheEntry is one freshness cache record
type CacheEntry struct {
	OwnerID      string          `json:"owner_id"`
	DataType     DataType        `json:"data_type"`
	StartDate    string          `json:"start_date"`
	EndDate      string          `json:"end_date"`
	Payload      json.RawMessage `json:"payload"`
	LastSyncedAt time.Time       `json:"last_synced_at"`
	Status       SyncStatus      `json:"status"`
}

// DailyMetric is one persisted day of computed metrics
type DailyMetric struct {
	OwnerID      string          `db:"owner_id" json:"owner_id"`
	Day          time.Time       `db:"day" json:"day"`
	Orders       int             `db:"orders" json:"orders"`
	Revenue      decimal.Decimal `db:"revenue" json:"revenue"`
	COGS         decimal.Decimal `db:"cogs" json:"cogs"`
	AdSpend      decimal.Decimal `db:"ad_spend" json:"ad_spend"`
	ShippingCost decimal.Decimal `db:"shipping_cost" json:"shipping_cost"`
	NetProfit    decimal.Decimal `db:"net_profit" json:"net_profit"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}
