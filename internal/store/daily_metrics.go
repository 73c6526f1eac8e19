package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Aniket17200/Profitfirst/internal/models"
)

// UpsertDailyMetrics writes one row per owner and day, replacing older values.
// Days are stored as the calendar date of Day in its own location.
func (s *Store) UpsertDailyMetrics(ctx context.Context, metrics []models.DailyMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO daily_metrics (owner_id, day, orders, revenue, cogs, ad_spend, shipping_cost, net_profit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_id, day) DO UPDATE SET
			orders = EXCLUDED.orders,
			revenue = EXCLUDED.revenue,
			cogs = EXCLUDED.cogs,
			ad_spend = EXCLUDED.ad_spend,
			shipping_cost = EXCLUDED.shipping_cost,
			net_profit = EXCLUDED.net_profit,
			updated_at = NOW()`

	for _, m := range metrics {
		day := m.Day.Format("2006-01-02")
		_, err := tx.ExecContext(ctx, query,
			m.OwnerID, day, m.Orders, m.Revenue, m.COGS, m.AdSpend, m.ShippingCost, m.NetProfit)
		if err != nil {
			return fmt.Errorf("failed to upsert daily metric %s: %w", day, err)
		}
	}

	return tx.Commit()
}

// GetDailyMetrics retrieves an owner's stored days in [from, to], oldest first
func (s *Store) GetDailyMetrics(ctx context.Context, ownerID string, from, to time.Time) ([]models.DailyMetric, error) {
	metrics := []models.DailyMetric{}
	err := s.db.SelectContext(ctx, &metrics, `
		SELECT owner_id, day, orders, revenue, cogs, ad_spend, shipping_cost, net_profit, updated_at
		FROM daily_metrics
		WHERE owner_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day`,
		ownerID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to load daily metrics: %w", err)
	}
	return metrics, nil
}
