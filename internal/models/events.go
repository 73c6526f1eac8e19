package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeMetricsSnapshot = "METRICS_SNAPSHOT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// MetricsSnapshotEvent published after an aggregation built from fresh upstream data
type MetricsSnapshotEvent struct {
	BaseEvent
	OwnerID      string              `json:"owner_id"`
	StartDate    string              `json:"start_date"`
	EndDate      string              `json:"end_date"`
	TotalOrders  int                 `json:"total_orders"`
	TotalRevenue decimal.Decimal     `json:"total_revenue"`
	NetProfit    decimal.Decimal     `json:"net_profit"`
	Daily        []DailyMetricRecord `json:"daily"`
}

// DailyMetricRecord represents one day in a snapshot event
type DailyMetricRecord struct {
	Date         string          `json:"date"`
	Orders       int             `json:"orders"`
	Revenue      decimal.Decimal `json:"revenue"`
	COGS         decimal.Decimal `json:"cogs"`
	AdSpend      decimal.Decimal `json:"ad_spend"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	NetProfit    decimal.Decimal `json:"net_profit"`
}
