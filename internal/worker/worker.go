package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Aniket17200/Profitfirst/internal/broker"
	"github.com/Aniket17200/Profitfirst/internal/cache"
	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/normalize"
	"github.com/Aniket17200/Profitfirst/internal/util"
)

// MetricsSink persists daily metrics
type MetricsSink interface {
	UpsertDailyMetrics(ctx context.Context, metrics []models.DailyMetric) error
}

// SnapshotWorker stores snapshot events as daily metric history
type SnapshotWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	sink         MetricsSink
	logger       *zap.Logger
}

// NewSnapshotWorker creates a new snapshot worker
func NewSnapshotWorker(consumer *broker.Consumer, sink MetricsSink) *SnapshotWorker {
	w := &SnapshotWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		sink:         sink,
		logger:       util.ComponentLogger("snapshot_worker"),
	}
	w.eventHandler.OnMetricsSnapshot(w.HandleSnapshot)
	return w
}

// Start starts the worker
func (w *SnapshotWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting snapshot worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *SnapshotWorker) Stop() error {
	w.logger.Info("Stopping snapshot worker")
	return w.consumer.Close()
}

// HandleSnapshot converts one event into daily rows and upserts them
func (w *SnapshotWorker) HandleSnapshot(ctx context.Context, event *models.MetricsSnapshotEvent) error {
	util.SnapshotEventsTotal.WithLabelValues("consumed").Inc()

	metrics, err := DailyMetricsFromEvent(event)
	if err != nil {
		// malformed dates will never succeed; drop the event
		w.logger.Error("Dropping malformed snapshot event",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return nil
	}

	if err := w.sink.UpsertDailyMetrics(ctx, metrics); err != nil {
		util.SnapshotEventsTotal.WithLabelValues("store_failed").Inc()
		return fmt.Errorf("store snapshot %s: %w", event.EventID, err)
	}

	w.logger.Info("Stored metrics snapshot",
		zap.String("owner_id", event.OwnerID),
		zap.String("event_id", event.EventID),
		zap.Int("days", len(metrics)))
	return nil
}

// DailyMetricsFromEvent maps event days to storage rows
func DailyMetricsFromEvent(event *models.MetricsSnapshotEvent) ([]models.DailyMetric, error) {
	out := make([]models.DailyMetric, 0, len(event.Daily))
	for _, d := range event.Daily {
		day, err := time.ParseInLocation(normalize.DateLayout, d.Date, normalize.IST)
		if err != nil {
			return nil, fmt.Errorf("invalid day %q: %w", d.Date, err)
		}
		out = append(out, models.DailyMetric{
			OwnerID:      event.OwnerID,
			Day:          day,
			Orders:       d.Orders,
			Revenue:      d.Revenue,
			COGS:         d.COGS,
			AdSpend:      d.AdSpend,
			ShippingCost: d.ShippingCost,
			NetProfit:    d.NetProfit,
		})
	}
	return out, nil
}

// CachePurgeWorker periodically removes cache entries past retention
type CachePurgeWorker struct {
	purger    cache.Purger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewCachePurgeWorker creates a new purge worker
func NewCachePurgeWorker(purger cache.Purger, interval, retention time.Duration) *CachePurgeWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &CachePurgeWorker{
		purger:    purger,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		logger:    util.ComponentLogger("cache_purge_worker"),
	}
}

// Start runs until ctx is cancelled
func (w *CachePurgeWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Starting cache purge worker",
		zap.Duration("interval", w.interval),
		zap.Duration("retention", w.retention))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Cache purge worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce purges once; a panic is logged and swallowed
func (w *CachePurgeWorker) RunOnce(ctx context.Context) int {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Panic while purging cache, will retry next tick", zap.Any("panic", r))
		}
	}()

	n, err := w.purger.Purge(ctx, w.now().Add(-w.retention))
	if err != nil {
		w.logger.Warn("Cache purge failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		util.CacheEntriesPurged.Add(float64(n))
		w.logger.Info("Purged cache entries", zap.Int("count", n))
	}
	return n
}
