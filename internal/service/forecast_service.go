package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Aniket17200/Profitfirst/internal/aggregate"
	"github.com/Aniket17200/Profitfirst/internal/cache"
	"github.com/Aniket17200/Profitfirst/internal/dashboard"
	"github.com/Aniket17200/Profitfirst/internal/forecast"
	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/normalize"
	"github.com/Aniket17200/Profitfirst/internal/util"
)

// ForecastConfig controls history depth and response caching
type ForecastConfig struct {
	HistoryMonths int
	CacheTTL      time.Duration
}

// DefaultForecastConfig returns production defaults
func DefaultForecastConfig() ForecastConfig {
	return ForecastConfig{HistoryMonths: 2, CacheTTL: 60 * time.Minute}
}

// cachedForecast is the forecast payload kept in the freshness cache
type cachedForecast struct {
	UseModel bool                    `json:"use_model"`
	View     *dashboard.ForecastView `json:"view"`
}

// ForecastService predicts the coming months from complete past months
type ForecastService struct {
	credentials CredentialStore
	pipeline    *Pipeline
	estimator   *forecast.Estimator
	cache       *cache.Freshness
	cfg         ForecastConfig
	now         func() time.Time
	logger      *zap.Logger
}

// NewForecastService creates a new forecast service
func NewForecastService(
	credentials CredentialStore,
	pipeline *Pipeline,
	estimator *forecast.Estimator,
	freshness *cache.Freshness,
	cfg ForecastConfig,
) *ForecastService {
	if cfg.HistoryMonths < 1 {
		cfg.HistoryMonths = 1
	}
	return &ForecastService{
		credentials: credentials,
		pipeline:    pipeline,
		estimator:   estimator,
		cache:       freshness,
		cfg:         cfg,
		now:         time.Now,
		logger:      util.ComponentLogger("forecast_service"),
	}
}

// WithClock overrides the time source
func (s *ForecastService) WithClock(now func() time.Time) *ForecastService {
	s.now = now
	return s
}

// GetForecast returns a cached forecast when one for the same history
// window and strategy is fresh, otherwise builds a new one.
func (s *ForecastService) GetForecast(ctx context.Context, ownerID string, useModel bool) (*dashboard.ForecastView, error) {
	ctx, span := util.StartSpan(ctx, "ForecastService.GetForecast",
		attribute.String("owner_id", ownerID),
		attribute.Bool("use_model", useModel))
	defer span.End()

	window := HistoryRange(s.now(), s.cfg.HistoryMonths)
	key := cache.Key{OwnerID: ownerID, DataType: models.DataTypeForecast, Range: window}

	if cached, _, fresh := lookup[cachedForecast](ctx, s.cache, key, s.cfg.CacheTTL); fresh && cached.View != nil && cached.UseModel == useModel {
		return cached.View, nil
	}

	creds, err := s.credentials.GetCredentials(ctx, ownerID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	snap, err := s.pipeline.Run(ctx, ownerID, *creds, window)
	if err != nil {
		return nil, err
	}

	if !snap.Result.Range.Equal(window) {
		err := fmt.Errorf("%w: history %s unavailable, orders only for %s",
			ErrTotalFailure, window.String(), snap.Result.Range.String())
		util.RecordError(span, err)
		return nil, err
	}

	history := MonthlyHistory(snap.Result, window, s.cfg.HistoryMonths)
	f := s.estimator.Estimate(ctx, history, useModel)

	view := dashboard.AssembleForecast(BrandName(creds.StoreURL), history, f, snap.Sources, s.now())
	if snap.Complete() {
		s.cache.SetAsync(key, cachedForecast{UseModel: useModel, View: view}, models.SyncStatusSuccess)
	}

	s.logger.Info("Forecast generated",
		zap.String("owner_id", ownerID),
		zap.String("method", string(f.Method)),
		zap.String("history", window.String()))
	return view, nil
}

// HistoryRange covers the months complete IST months before now's month.
func HistoryRange(now time.Time, months int) normalize.DateRange {
	current := normalize.MonthRange(now).Start
	return normalize.DateRange{
		Start: current.AddDate(0, -months, 0),
		End:   current.AddDate(0, 0, -1),
	}
}

// MonthlyHistory folds daily buckets into one entry per calendar month of
// window, oldest first. Months without buckets are zero.
func MonthlyHistory(res *aggregate.Result, window normalize.DateRange, months int) []forecast.MonthlyMetrics {
	type sums struct {
		revenue, orders, cogs, ads, shipping decimal.Decimal
	}
	byMonth := make(map[string]*sums, months)
	for _, b := range res.Daily {
		if len(b.Date) < 7 {
			continue
		}
		m, ok := byMonth[b.Date[:7]]
		if !ok {
			m = &sums{}
			byMonth[b.Date[:7]] = m
		}
		m.revenue = m.revenue.Add(b.Revenue)
		m.orders = m.orders.Add(decimal.NewFromInt(int64(b.Orders)))
		m.cogs = m.cogs.Add(b.COGS)
		m.ads = m.ads.Add(b.AdSpend)
		m.shipping = m.shipping.Add(b.ShippingCost)
	}

	out := make([]forecast.MonthlyMetrics, 0, months)
	for i := 0; i < months; i++ {
		start := window.Start.AddDate(0, i, 0)
		m := byMonth[start.Format("2006-01")]
		if m == nil {
			m = &sums{}
		}
		out = append(out, forecast.MonthlyMetrics{
			Key:    forecast.MonthKey(start),
			Start:  start,
			Values: forecast.NewMonthValues(m.revenue, m.orders, m.cogs, m.ads, m.shipping),
		})
	}
	return out
}

// BrandName is the first label of the store host ("acme" for acme.myshopify.com)
func BrandName(storeURL string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(storeURL, "https://"), "http://")
	if i := strings.IndexAny(host, "./"); i >= 0 {
		host = host[:i]
	}
	return host
}
