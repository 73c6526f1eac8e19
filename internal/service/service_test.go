package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aniket17200/Profitfirst/internal/cache"
	"github.com/Aniket17200/Profitfirst/internal/forecast"
	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/normalize"
)

var errUnknownOwner = errors.New("owner not found")

type fakeCredentials struct{}

func (fakeCredentials) GetCredentials(_ context.Context, ownerID string) (*models.Credentials, error) {
	if ownerID != "owner-1" {
		return nil, errUnknownOwner
	}
	return &models.Credentials{OwnerID: ownerID, StoreURL: "acme.myshopify.com"}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.MetricsSnapshotEvent
	err    error
}

func (f *fakePublisher) PublishMetricsSnapshot(_ context.Context, e *models.MetricsSnapshotEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

func TestDashboardService_GetDashboard(t *testing.T) {
	f := cache.NewFreshness(cache.NewMemoryStore())
	pub := &fakePublisher{}
	p := newTestPipeline(succeedingOrders(), &fakeAds{report: &models.AdReport{}}, &fakeShipments{}, nil, f)
	svc := NewDashboardService(fakeCredentials{}, p, pub)

	d, err := svc.GetDashboard(context.Background(), "owner-1", testRange())
	require.NoError(t, err)
	svc.Flush()
	f.Flush()

	assert.True(t, d.Metrics.TotalRevenue.Equal(decimal.NewFromInt(1000)))
	assert.Len(t, d.Sources, 3)
	assert.Equal(t, 30, d.Range.Days)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, "owner-1", ev.OwnerID)
	assert.Equal(t, models.EventTypeMetricsSnapshot, ev.EventType)
	assert.NotEmpty(t, ev.EventID)
	assert.Len(t, ev.Daily, 30)
	assert.Equal(t, testRange().StartDate(), ev.StartDate)

	// served from cache: nothing new to publish
	_, err = svc.GetDashboard(context.Background(), "owner-1", testRange())
	require.NoError(t, err)
	svc.Flush()
	assert.Len(t, pub.events, 1)
}

func TestDashboardService_Errors(t *testing.T) {
	failing := &fakeOrders{fn: func(context.Context, normalize.DateRange) ([]models.RawOrder, error) {
		return nil, errors.New("down")
	}}
	p := newTestPipeline(failing, &fakeAds{}, &fakeShipments{}, nil, cache.NewFreshness(cache.NewMemoryStore()))
	svc := NewDashboardService(fakeCredentials{}, p, &fakePublisher{err: errors.New("broker down")})

	_, err := svc.GetDashboard(context.Background(), "stranger", testRange())
	assert.ErrorIs(t, err, errUnknownOwner)

	_, err = svc.GetDashboard(context.Background(), "owner-1", testRange())
	assert.ErrorIs(t, err, ErrTotalFailure)
}

func TestDashboardService_PublishFailureIsNotSurfaced(t *testing.T) {
	p := newTestPipeline(succeedingOrders(), &fakeAds{report: &models.AdReport{}}, &fakeShipments{}, nil, cache.NewFreshness(cache.NewMemoryStore()))
	svc := NewDashboardService(fakeCredentials{}, p, &fakePublisher{err: errors.New("broker down")})

	d, err := svc.GetDashboard(context.Background(), "owner-1", testRange())
	require.NoError(t, err)
	svc.Flush()
	assert.NotNil(t, d)
}

func TestHistoryRange(t *testing.T) {
	r := HistoryRange(testNow, 2)
	assert.Equal(t, "2025-08-01", r.StartDate())
	assert.Equal(t, "2025-09-30", r.EndDate())

	jan := time.Date(2026, time.January, 5, 0, 0, 0, 0, normalize.IST)
	r = HistoryRange(jan, 2)
	assert.Equal(t, "2025-11-01", r.StartDate())
	assert.Equal(t, "2025-12-31", r.EndDate())
}

func TestBrandName(t *testing.T) {
	assert.Equal(t, "acme", BrandName("acme.myshopify.com"))
	assert.Equal(t, "acme", BrandName("https://acme.myshopify.com/"))
	assert.Equal(t, "shop", BrandName("shop"))
}

func historyOrders() *fakeOrders {
	return &fakeOrders{fn: func(_ context.Context, r normalize.DateRange) ([]models.RawOrder, error) {
		aug := time.Date(2025, time.August, 10, 12, 0, 0, 0, normalize.IST)
		sep := time.Date(2025, time.September, 10, 12, 0, 0, 0, normalize.IST)
		return []models.RawOrder{
			{ID: "1", CreatedAt: aug, TotalAmount: decimal.NewFromInt(100000)},
			{ID: "2", CreatedAt: sep, TotalAmount: decimal.NewFromInt(60000)},
			{ID: "3", CreatedAt: sep, TotalAmount: decimal.NewFromInt(50000)},
		}, nil
	}}
}

func TestForecastService_GetForecast(t *testing.T) {
	f := cache.NewFreshness(cache.NewMemoryStore())
	orders := historyOrders()
	p := newTestPipeline(orders, &fakeAds{report: &models.AdReport{}}, &fakeShipments{}, nil, f)
	est := forecast.NewEstimator(nil)
	svc := NewForecastService(fakeCredentials{}, p, est, f, DefaultForecastConfig()).
		WithClock(func() time.Time { return testNow })

	view, err := svc.GetForecast(context.Background(), "owner-1", false)
	require.NoError(t, err)
	f.Flush()

	assert.Equal(t, forecast.MethodStatistical, view.Method)
	assert.Equal(t, []string{"August", "September", "October", "November", "December"}, view.Months)
	assert.Equal(t, "acme", view.DashboardData.Brand.Name)

	require.Len(t, orders.calls, 1)
	assert.Equal(t, "2025-08-01", orders.calls[0].StartDate())
	assert.Equal(t, "2025-09-30", orders.calls[0].EndDate())

	sep := view.MetricsByMonth["September"]
	require.Len(t, sep, 8)
	assert.Equal(t, "Revenue", sep[0].Title)
	assert.Equal(t, "₹1,10,000", sep[0].Value)
	assert.Equal(t, "+10.0%", sep[0].Change)
	assert.Equal(t, "2", sep[1].Value)

	rev := view.MainChartsData.Revenue
	require.Len(t, rev, 5)
	require.NotNil(t, rev[1].Actual)
	assert.Equal(t, int64(110), *rev[1].Actual)
	assert.Nil(t, rev[1].Predicted)
	require.NotNil(t, rev[2].Predicted)
	assert.Equal(t, int64(119), *rev[2].Predicted)

	_, err = svc.GetForecast(context.Background(), "owner-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, orders.callCount())
}

func TestForecastService_StrategyChangeBypassesCache(t *testing.T) {
	f := cache.NewFreshness(cache.NewMemoryStore())
	orders := historyOrders()
	p := newTestPipeline(orders, &fakeAds{report: &models.AdReport{}}, &fakeShipments{}, nil, f)
	svc := NewForecastService(fakeCredentials{}, p, forecast.NewEstimator(nil), f, DefaultForecastConfig()).
		WithClock(func() time.Time { return testNow })

	_, err := svc.GetForecast(context.Background(), "owner-1", false)
	require.NoError(t, err)
	f.Flush()

	view, err := svc.GetForecast(context.Background(), "owner-1", true)
	require.NoError(t, err)
	assert.Equal(t, forecast.MethodStatistical, view.Method)
	// history orders come from the orders cache on the second build
	assert.Equal(t, 1, orders.callCount())
}

func TestDashboardService_DegradedSnapshotIsNotPublished(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestPipeline(succeedingOrders(), &fakeAds{err: errors.New("meta 503")}, &fakeShipments{}, nil,
		cache.NewFreshness(cache.NewMemoryStore()))
	svc := NewDashboardService(fakeCredentials{}, p, pub)

	d, err := svc.GetDashboard(context.Background(), "owner-1", testRange())
	require.NoError(t, err)
	svc.Flush()

	assert.True(t, d.Metrics.TotalRevenue.Equal(decimal.NewFromInt(1000)))
	assert.Empty(t, pub.events, "ad spend would be stored as zero")
}

func TestDashboardService_StaleOrdersAreNotPublished(t *testing.T) {
	clock := testNow.Add(-time.Hour)
	f := cache.NewFreshness(cache.NewMemoryStore(), cache.WithClock(func() time.Time { return clock }))
	key := cache.Key{OwnerID: "owner-1", DataType: models.DataTypeOrders, Range: testRange()}
	require.NoError(t, f.Set(context.Background(), key, ordersIn(testRange()), models.SyncStatusSuccess))
	clock = testNow

	failing := &fakeOrders{fn: func(context.Context, normalize.DateRange) ([]models.RawOrder, error) {
		return nil, errors.New("down")
	}}
	pub := &fakePublisher{}
	p := newTestPipeline(failing, &fakeAds{report: &models.AdReport{}}, &fakeShipments{}, nil, f)
	svc := NewDashboardService(fakeCredentials{}, p, pub)

	_, err := svc.GetDashboard(context.Background(), "owner-1", testRange())
	require.NoError(t, err)
	svc.Flush()
	f.Flush()
	assert.Empty(t, pub.events)
}

func TestForecastService_NarrowedOrdersFail(t *testing.T) {
	f := cache.NewFreshness(cache.NewMemoryStore())
	window := HistoryRange(testNow, 2)
	orders := &fakeOrders{fn: func(_ context.Context, r normalize.DateRange) ([]models.RawOrder, error) {
		if r.Equal(window) {
			return nil, errors.New("shopify down")
		}
		return ordersIn(r), nil
	}}
	p := newTestPipeline(orders, &fakeAds{report: &models.AdReport{}}, &fakeShipments{}, nil, f)
	svc := NewForecastService(fakeCredentials{}, p, forecast.NewEstimator(nil), f, DefaultForecastConfig()).
		WithClock(func() time.Time { return testNow })

	view, err := svc.GetForecast(context.Background(), "owner-1", false)
	assert.ErrorIs(t, err, ErrTotalFailure)
	assert.Nil(t, view)
	f.Flush()

	var cached cachedForecast
	key := cache.Key{OwnerID: "owner-1", DataType: models.DataTypeForecast, Range: window}
	assert.False(t, f.Get(context.Background(), key, &cached))
}

func TestForecastService_DegradedForecastIsNotCached(t *testing.T) {
	f := cache.NewFreshness(cache.NewMemoryStore())
	orders := historyOrders()
	p := newTestPipeline(orders, &fakeAds{err: errors.New("meta 503")}, &fakeShipments{}, nil, f)
	svc := NewForecastService(fakeCredentials{}, p, forecast.NewEstimator(nil), f, DefaultForecastConfig()).
		WithClock(func() time.Time { return testNow })

	view, err := svc.GetForecast(context.Background(), "owner-1", false)
	require.NoError(t, err)
	require.NotNil(t, view)
	f.Flush()

	var cached cachedForecast
	key := cache.Key{OwnerID: "owner-1", DataType: models.DataTypeForecast, Range: HistoryRange(testNow, 2)}
	assert.False(t, f.Get(context.Background(), key, &cached))
}
