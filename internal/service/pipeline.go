package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aniket17200/Profitfirst/internal/aggregate"
	"github.com/Aniket17200/Profitfirst/internal/cache"
	"github.com/Aniket17200/Profitfirst/internal/dashboard"
	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/normalize"
	"github.com/Aniket17200/Profitfirst/internal/sources"
	"github.com/Aniket17200/Profitfirst/internal/util"
)

// ErrTotalFailure means the order source and every fallback failed
var ErrTotalFailure = errors.New("orders unavailable from source and fallbacks")

const sourceProductCosts = "product_costs"

// OrderFetcher fetches storefront orders
type OrderFetcher interface {
	FetchOrders(ctx context.Context, creds models.Credentials, r normalize.DateRange) ([]models.RawOrder, error)
}

// AdFetcher fetches ad insights
type AdFetcher interface {
	FetchAds(ctx context.Context, creds models.Credentials, r normalize.DateRange) (*models.AdReport, error)
}

// ShipmentFetcher fetches logistics records
type ShipmentFetcher interface {
	FetchShipments(ctx context.Context, creds models.Credentials, r normalize.DateRange) ([]models.RawShipment, error)
}

// CostLoader loads an owner's per-unit product costs
type CostLoader interface {
	GetProductCosts(ctx context.Context, ownerID string) (map[string]decimal.Decimal, error)
}

// PipelineConfig holds cache and timeout settings
type PipelineConfig struct {
	CacheTTL         time.Duration
	OrdersTimeout    time.Duration
	AdsTimeout       time.Duration
	LogisticsTimeout time.Duration
	CostsTimeout     time.Duration
	FallbackDays     int
}

// DefaultPipelineConfig returns production defaults
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		CacheTTL:         15 * time.Minute,
		OrdersTimeout:    30 * time.Second,
		AdsTimeout:       10 * time.Second,
		LogisticsTimeout: 10 * time.Second,
		CostsTimeout:     5 * time.Second,
		FallbackDays:     7,
	}
}

// Snapshot is one aggregation together with where its inputs came from
type Snapshot struct {
	OwnerID   string
	Requested normalize.DateRange
	Result    *aggregate.Result
	Sources   []dashboard.SourceStatus
	// Fetched is true when at least one source was read from upstream.
	Fetched bool
}

// Complete reports whether every input came from upstream or a fresh cache
// entry for the requested range.
func (s *Snapshot) Complete() bool {
	for _, st := range s.Sources {
		if st.Status != dashboard.SourceFresh && st.Status != dashboard.SourceCached {
			return false
		}
	}
	return true
}

// Pipeline runs cache check, concurrent fetch, degradation and aggregation
type Pipeline struct {
	orders    OrderFetcher
	ads       AdFetcher
	shipments ShipmentFetcher
	costs     CostLoader
	cache     *cache.Freshness
	cfg       PipelineConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewPipeline creates a new pipeline. costs may be nil.
func NewPipeline(
	orders OrderFetcher,
	ads AdFetcher,
	shipments ShipmentFetcher,
	costs CostLoader,
	freshness *cache.Freshness,
	cfg PipelineConfig,
) *Pipeline {
	return &Pipeline{
		orders:    orders,
		ads:       ads,
		shipments: shipments,
		costs:     costs,
		cache:     freshness,
		cfg:       cfg,
		now:       time.Now,
		logger:    util.ComponentLogger("pipeline"),
	}
}

// WithClock overrides the time source used for the fallback window
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

type orderOutcome struct {
	orders []models.RawOrder
	rng    normalize.DateRange
	status dashboard.SourceStatus
	synced bool
	err    error
}

type adOutcome struct {
	report *models.AdReport
	status dashboard.SourceStatus
	synced bool
}

type shipmentOutcome struct {
	shipments []models.RawShipment
	status    dashboard.SourceStatus
	synced    bool
}

// Run aggregates one owner's data for r. The only error it returns is
// ErrTotalFailure; every other source failure degrades to empty input.
func (p *Pipeline) Run(ctx context.Context, ownerID string, creds models.Credentials, r normalize.DateRange) (*Snapshot, error) {
	ctx, span := util.StartSpan(ctx, "Pipeline.Run",
		attribute.String("owner_id", ownerID),
		attribute.String("range", r.Key()))
	defer span.End()

	var (
		oo    orderOutcome
		ao    adOutcome
		so    shipmentOutcome
		costs map[string]decimal.Decimal
		cs    *dashboard.SourceStatus
	)

	// settle-all: every task records its own outcome and returns nil
	var g errgroup.Group
	g.Go(func() error {
		oo = p.loadOrders(ctx, ownerID, creds, r)
		return nil
	})
	g.Go(func() error {
		ao = p.loadAds(ctx, ownerID, creds, r)
		return nil
	})
	g.Go(func() error {
		so = p.loadShipments(ctx, ownerID, creds, r)
		return nil
	})
	g.Go(func() error {
		costs, cs = p.loadCosts(ctx, ownerID)
		return nil
	})
	_ = g.Wait()

	if oo.err != nil {
		util.RecordError(span, oo.err)
		p.logger.Error("Aggregation aborted, no order data",
			zap.String("owner_id", ownerID),
			zap.String("range", r.String()),
			zap.Error(oo.err))
		return nil, oo.err
	}

	start := time.Now()
	res := aggregate.Aggregate(aggregate.Input{
		Range:        oo.rng,
		Orders:       oo.orders,
		Ads:          ao.report,
		Shipments:    so.shipments,
		ProductCosts: costs,
	})
	util.AggregationLatency.Observe(time.Since(start).Seconds())

	statuses := []dashboard.SourceStatus{oo.status, ao.status, so.status}
	if cs != nil {
		statuses = append(statuses, *cs)
	}

	p.logger.Info("Aggregation complete",
		zap.String("owner_id", ownerID),
		zap.String("range", oo.rng.String()),
		zap.Int("orders", res.Summary.TotalOrders),
		zap.Int("ignored_orders", res.IgnoredOrders))

	return &Snapshot{
		OwnerID:   ownerID,
		Requested: r,
		Result:    res,
		Sources:   statuses,
		Fetched:   oo.synced || ao.synced || so.synced,
	}, nil
}

// loadOrders walks the fallback chain: fresh cache, upstream, cached copy of
// any age, upstream for the last FallbackDays days, then ErrTotalFailure.
func (p *Pipeline) loadOrders(ctx context.Context, ownerID string, creds models.Credentials, r normalize.DateRange) orderOutcome {
	key := cache.Key{OwnerID: ownerID, DataType: models.DataTypeOrders, Range: r}
	cached, entry, fresh := lookup[[]models.RawOrder](ctx, p.cache, key, p.cfg.CacheTTL)
	if fresh {
		return orderOutcome{orders: cached, rng: r, status: cachedStatus(sources.SourceShopify, entry)}
	}

	orders, err := fetch(ctx, sources.SourceShopify, p.cfg.OrdersTimeout, func(ctx context.Context) ([]models.RawOrder, error) {
		return p.orders.FetchOrders(ctx, creds, r)
	})
	if err == nil {
		p.cache.SetAsync(key, orders, models.SyncStatusSuccess)
		return orderOutcome{orders: orders, rng: r, status: freshStatus(sources.SourceShopify), synced: true}
	}

	if entry != nil {
		util.OrderFallbacksTotal.WithLabelValues("cache").Inc()
		p.logger.Warn("Order fetch failed, serving cached orders",
			zap.String("owner_id", ownerID),
			zap.Time("last_synced_at", entry.LastSyncedAt),
			zap.Error(err))
		status := cachedStatus(sources.SourceShopify, entry)
		status.Status = dashboard.SourceStaleCache
		status.Reason = failureReason(err)
		return orderOutcome{orders: cached, rng: r, status: status}
	}

	narrow := normalize.LastNDays(p.now(), p.cfg.FallbackDays)
	if !narrow.Equal(r) {
		util.OrderFallbacksTotal.WithLabelValues("narrow_window").Inc()
		p.logger.Warn("Order fetch failed, retrying with a narrower window",
			zap.String("owner_id", ownerID),
			zap.String("window", narrow.String()),
			zap.Error(err))

		orders, nerr := fetch(ctx, sources.SourceShopify, p.cfg.OrdersTimeout, func(ctx context.Context) ([]models.RawOrder, error) {
			return p.orders.FetchOrders(ctx, creds, narrow)
		})
		if nerr == nil {
			p.cache.SetAsync(cache.Key{OwnerID: ownerID, DataType: models.DataTypeOrders, Range: narrow}, orders, models.SyncStatusSuccess)
			return orderOutcome{
				orders: orders,
				rng:    narrow,
				status: dashboard.SourceStatus{
					Source: sources.SourceShopify,
					Status: dashboard.SourceNarrowed,
					Reason: failureReason(err),
				},
				synced: true,
			}
		}
		err = fmt.Errorf("%v; narrowed window: %w", err, nerr)
	}

	util.OrderFallbacksTotal.WithLabelValues("exhausted").Inc()
	util.DegradedSourcesTotal.WithLabelValues(sources.SourceShopify, failureReason(err)).Inc()
	return orderOutcome{err: fmt.Errorf("%w: %v", ErrTotalFailure, err)}
}

func (p *Pipeline) loadAds(ctx context.Context, ownerID string, creds models.Credentials, r normalize.DateRange) adOutcome {
	key := cache.Key{OwnerID: ownerID, DataType: models.DataTypeAds, Range: r}
	cached, entry, fresh := lookup[*models.AdReport](ctx, p.cache, key, p.cfg.CacheTTL)
	if fresh {
		return adOutcome{report: cached, status: cachedStatus(sources.SourceMeta, entry)}
	}

	report, err := fetch(ctx, sources.SourceMeta, p.cfg.AdsTimeout, func(ctx context.Context) (*models.AdReport, error) {
		return p.ads.FetchAds(ctx, creds, r)
	})
	if err != nil {
		return adOutcome{status: p.unavailable(ownerID, sources.SourceMeta, err)}
	}

	status := models.SyncStatusSuccess
	if report == nil || report.Overview == nil {
		status = models.SyncStatusPartial
	}
	p.cache.SetAsync(key, report, status)
	return adOutcome{report: report, status: freshStatus(sources.SourceMeta), synced: true}
}

func (p *Pipeline) loadShipments(ctx context.Context, ownerID string, creds models.Credentials, r normalize.DateRange) shipmentOutcome {
	key := cache.Key{OwnerID: ownerID, DataType: models.DataTypeLogistics, Range: r}
	cached, entry, fresh := lookup[[]models.RawShipment](ctx, p.cache, key, p.cfg.CacheTTL)
	if fresh {
		return shipmentOutcome{shipments: cached, status: cachedStatus(sources.SourceShiprocket, entry)}
	}

	shipments, err := fetch(ctx, sources.SourceShiprocket, p.cfg.LogisticsTimeout, func(ctx context.Context) ([]models.RawShipment, error) {
		return p.shipments.FetchShipments(ctx, creds, r)
	})
	if err != nil {
		return shipmentOutcome{status: p.unavailable(ownerID, sources.SourceShiprocket, err)}
	}

	p.cache.SetAsync(key, shipments, models.SyncStatusSuccess)
	return shipmentOutcome{shipments: shipments, status: freshStatus(sources.SourceShiprocket), synced: true}
}

// loadCosts returns an empty map on failure; the status is only set then.
func (p *Pipeline) loadCosts(ctx context.Context, ownerID string) (map[string]decimal.Decimal, *dashboard.SourceStatus) {
	if p.costs == nil {
		return map[string]decimal.Decimal{}, nil
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CostsTimeout)
	defer cancel()

	costs, err := p.costs.GetProductCosts(cctx, ownerID)
	if err != nil {
		st := p.unavailable(ownerID, sourceProductCosts, err)
		return map[string]decimal.Decimal{}, &st
	}
	if costs == nil {
		costs = map[string]decimal.Decimal{}
	}
	return costs, nil
}

func (p *Pipeline) unavailable(ownerID, source string, err error) dashboard.SourceStatus {
	reason := failureReason(err)
	util.DegradedSourcesTotal.WithLabelValues(source, reason).Inc()
	p.logger.Warn("Source unavailable, continuing without it",
		zap.String("owner_id", ownerID),
		zap.String("source", source),
		zap.String("reason", reason),
		zap.Error(err))
	return dashboard.SourceStatus{Source: source, Status: dashboard.SourceUnavailable, Reason: reason}
}

// lookup decodes the cached payload for key. An undecodable entry counts as
// a miss.
func lookup[T any](ctx context.Context, f *cache.Freshness, key cache.Key, ttl time.Duration) (T, *models.CacheEntry, bool) {
	var v T
	entry, fresh := f.Lookup(ctx, key, ttl)
	if entry == nil {
		return v, nil, false
	}
	if err := cache.Decode(entry, &v); err != nil {
		var zero T
		return zero, nil, false
	}
	return v, entry, fresh
}

// fetch runs fn with its own timeout on a context detached from the
// request's cancellation.
func fetch[T any](ctx context.Context, source string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	fctx, span := util.StartSpan(fctx, "fetch."+source)
	defer span.End()

	start := time.Now()
	v, err := fn(fctx)
	util.SourceFetchLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())

	if err != nil {
		util.RecordError(span, err)
		util.SourceFetchTotal.WithLabelValues(source, failureReason(err)).Inc()
		return v, err
	}
	util.SourceFetchTotal.WithLabelValues(source, "success").Inc()
	return v, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, sources.ErrBulkBusy):
		return "bulk_busy"
	case sources.IsFatal(err):
		return "fatal"
	case sources.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

func freshStatus(source string) dashboard.SourceStatus {
	return dashboard.SourceStatus{Source: source, Status: dashboard.SourceFresh}
}

func cachedStatus(source string, entry *models.CacheEntry) dashboard.SourceStatus {
	synced := entry.LastSyncedAt
	return dashboard.SourceStatus{Source: source, Status: dashboard.SourceCached, LastSyncedAt: &synced}
}
